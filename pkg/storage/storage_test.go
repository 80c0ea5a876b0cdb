package storage

import (
	"testing"

	"github.com/voxmesh/voxmesh/pkg/config"
)

func TestGetCloudStorage(t *testing.T) {
	tests := []struct {
		name    string
		conf    config.Storage
		noop    bool
		wantErr bool
	}{
		{"unset", config.Storage{}, true, false},
		{"explicit none", config.Storage{Provider: "none"}, true, false},
		{"oracle without key", config.Storage{Provider: "oracle"}, true, true},
		{"gcs without bucket", config.Storage{Provider: "gcs"}, true, true},
		{"unknown provider", config.Storage{Provider: "s3"}, true, true},
		{"oracle", config.Storage{Provider: "oracle", Key: "https://x/p/"}, false, false},
	}
	for _, tc := range tests {
		st, err := GetCloudStorage(tc.conf)
		if st == nil {
			t.Fatalf("%v: nil storage", tc.name)
		}
		if st.IsNoop() != tc.noop {
			t.Errorf("%v: noop = %v, want %v", tc.name, st.IsNoop(), tc.noop)
		}
		if (err != nil) != tc.wantErr {
			t.Errorf("%v: err = %v, want error %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestNoopStorage(t *testing.T) {
	st := NewNoopCloudStorage()
	if err := st.Save("a", "b"); err != nil {
		t.Errorf("noop save: %v", err)
	}
	if _, err := st.Load("a"); err == nil {
		t.Error("noop load returned data")
	}
}

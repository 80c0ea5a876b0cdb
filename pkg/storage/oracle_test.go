package storage

import (
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type rtFunc func(req *http.Request) *http.Response

func (f rtFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req), nil }

func newTestClient(fn rtFunc) *http.Client {
	return &http.Client{
		Transport: fn,
	}
}

func checksum(data []byte) string {
	return base64.StdEncoding.EncodeToString(md5Hash(data))
}

func TestOracleSave(t *testing.T) {
	payload := []byte("call audio")
	file := filepath.Join(t.TempDir(), "mix.wav")
	if err := os.WriteFile(file, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	var gotURL string
	client, err := NewOracleDataStorageClient("test-url/")
	if err != nil {
		t.Fatal(err)
	}
	client.client = newTestClient(func(req *http.Request) *http.Response {
		gotURL = req.URL.String()
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(strings.NewReader("")),
			Header: map[string][]string{
				"Opc-Content-Md5": {checksum(payload)},
			},
		}
	})

	if err = client.Save("rec/mix.wav", file); err != nil {
		t.Errorf("save: %v", err)
	}
	if gotURL != "test-url/rec/mix.wav" {
		t.Errorf("request URL = %v, want test-url/rec/mix.wav", gotURL)
	}
}

func TestOracleSaveChecksumMismatch(t *testing.T) {
	file := filepath.Join(t.TempDir(), "mix.wav")
	if err := os.WriteFile(file, []byte("call audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	client, _ := NewOracleDataStorageClient("test-url/")
	client.client = newTestClient(func(req *http.Request) *http.Response {
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(strings.NewReader("")),
			Header: map[string][]string{
				"Opc-Content-Md5": {checksum([]byte("something else"))},
			},
		}
	})

	if err := client.Save("rec/mix.wav", file); err == nil {
		t.Error("save with a corrupted upload succeeded")
	}
}

func TestOracleLoad(t *testing.T) {
	payload := []byte("stored recording")
	client, _ := NewOracleDataStorageClient("test-url/")
	client.client = newTestClient(func(req *http.Request) *http.Response {
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(strings.NewReader(string(payload))),
			Header: map[string][]string{
				"Content-Md5": {checksum(payload)},
			},
		}
	})

	data, err := client.Load("rec/mix.wav")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("data = %q, want %q", data, payload)
	}
}

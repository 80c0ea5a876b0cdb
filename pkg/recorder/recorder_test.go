package recorder

import (
	"archive/zip"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxmesh/voxmesh/pkg/audio"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/storage"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []string
}

func (f *fakeStore) Save(name, _ string) error {
	f.mu.Lock()
	f.saved = append(f.saved, name)
	f.mu.Unlock()
	return nil
}
func (f *fakeStore) Load(string) ([]byte, error) { return nil, nil }
func (f *fakeStore) IsNoop() bool                { return false }

func (f *fakeStore) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saved...)
}

func testRecording(t *testing.T, opts Options, store *fakeStore) *Recording {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	if opts.MixRate == 0 {
		opts.MixRate = 48000
	}
	if opts.MicRate == 0 {
		opts.MicRate = 44100
	}
	if opts.Channels == 0 {
		opts.Channels = 1
	}
	var st storage.CloudStorage = storage.NewNoopCloudStorage()
	if store != nil {
		st = store
	}
	r, err := NewRecording(Meta{Room: "dev", User: "ann"}, st, logger.Default(), opts)
	if err != nil {
		t.Fatalf("new recording: %v", err)
	}
	return r
}

func frame(amplitude int16, n int) audio.Samples {
	s := make(audio.Samples, n)
	for i := range s {
		s[i] = amplitude
	}
	return s
}

func waitFor(t *testing.T, what string, ok func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !ok() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %v", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		room, user string
		want       string
	}{
		{"room and user", "%room%-%user%", "dev", "ann", "dev-ann"},
		{"id", "call-%id%", "dev", "ann", "call-abc123"},
		{"plain", "fixed", "dev", "ann", "fixed"},
		{"separators stripped", "%room%", "a/b", "", "a_b"},
	}
	for _, tc := range tests {
		if got := parseName(tc.in, tc.room, tc.user, "abc123"); got != tc.want {
			t.Errorf("%v: parseName = %q, want %q", tc.name, got, tc.want)
		}
	}

	if got := parseName("%date:2006%", "", "", ""); got != time.Now().Format("2006") {
		t.Errorf("date token = %q", got)
	}
	if got := parseName("%rand:4%", "", "", ""); len(got) != 4 {
		t.Errorf("rand token = %q, want 4 letters", got)
	}
}

func TestRecordingWav(t *testing.T) {
	dir := t.TempDir()
	r := testRecording(t, Options{Dir: dir, Name: "take"}, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !r.Enabled() {
		t.Fatal("not enabled after start")
	}

	for i := 0; i < 3; i++ {
		r.WriteMix(frame(2500, 960))
	}
	r.WriteMic(frame(1200, 441))

	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mix, err := os.ReadFile(filepath.Join(dir, "take", mixFile))
	if err != nil {
		t.Fatalf("mix file: %v", err)
	}
	if string(mix[0:4]) != "RIFF" || string(mix[8:12]) != "WAVE" {
		t.Fatal("mix file has no RIFF header")
	}
	if rate := binary.LittleEndian.Uint32(mix[24:28]); rate != 48000 {
		t.Errorf("mix rate = %v, want 48000", rate)
	}
	if size := binary.LittleEndian.Uint32(mix[40:44]); size != 3*960*2 {
		t.Errorf("mix payload = %v bytes, want %v", size, 3*960*2)
	}
	if got := int16(binary.LittleEndian.Uint16(mix[44:46])); got != 2500 {
		t.Errorf("first mix sample = %v, want 2500", got)
	}

	mic, err := os.ReadFile(filepath.Join(dir, "take", micFile))
	if err != nil {
		t.Fatalf("mic file: %v", err)
	}
	if rate := binary.LittleEndian.Uint32(mic[24:28]); rate != 44100 {
		t.Errorf("mic rate = %v, want 44100", rate)
	}
	if size := binary.LittleEndian.Uint32(mic[40:44]); size != 441*2 {
		t.Errorf("mic payload = %v bytes, want %v", size, 441*2)
	}
}

func TestConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	r := testRecording(t, Options{Dir: dir, Name: "storm"}, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	const writers, frames = 8, 25
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < frames; i++ {
				r.WriteMix(frame(100, 960))
			}
		}()
	}
	wg.Wait()
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mix, err := os.ReadFile(filepath.Join(dir, "storm", mixFile))
	if err != nil {
		t.Fatalf("mix file: %v", err)
	}
	want := uint32(writers * frames * 960 * 2)
	if size := binary.LittleEndian.Uint32(mix[40:44]); size != want {
		t.Errorf("payload = %v bytes, want %v", size, want)
	}
}

func TestStopUploads(t *testing.T) {
	store := &fakeStore{}
	r := testRecording(t, Options{Name: "up-%id%"}, store)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.WriteMix(frame(1, 960))
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	waitFor(t, "uploads", func() bool { return len(store.names()) == 2 })
	for _, n := range store.names() {
		if !strings.HasPrefix(n, "up-") || !strings.HasSuffix(n, ".wav") {
			t.Errorf("unexpected object name %q", n)
		}
	}
}

func TestStopZipsTake(t *testing.T) {
	dir := t.TempDir()
	r := testRecording(t, Options{Dir: dir, Name: "ziptake", Zip: true}, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.WriteMix(frame(1, 960))
	r.WriteMic(frame(1, 441))
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	archive := filepath.Join(dir, "ziptake.zip")
	waitFor(t, "zip file", func() bool {
		_, err := os.Stat(archive)
		return err == nil
	})
	waitFor(t, "take dir cleanup", func() bool {
		_, err := os.Stat(filepath.Join(dir, "ziptake"))
		return os.IsNotExist(err)
	})

	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer func() { _ = zr.Close() }()
	wavs := 0
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".wav") {
			wavs++
		}
	}
	if wavs != 2 {
		t.Errorf("zip holds %v wav file(s), want 2", wavs)
	}
}

func TestStopWithoutStart(t *testing.T) {
	r := testRecording(t, Options{}, nil)
	if err := r.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
	r.WriteMix(frame(1, 960))
	r.WriteMic(frame(1, 441))

	if err := r.Set(true, Meta{Room: "dev", User: "bo"}); err != nil {
		t.Fatalf("set on: %v", err)
	}
	if !r.Enabled() {
		t.Error("set on did not start")
	}
	if err := r.Set(false, Meta{}); err != nil {
		t.Fatalf("set off: %v", err)
	}
	if r.Enabled() {
		t.Error("set off did not stop")
	}
}

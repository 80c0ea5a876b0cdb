// Package settings keeps the user's mutable preferences on disk.
// The config tree belongs to the operator and is read once at boot,
// settings.json belongs to the user and may change at any time,
// from this process or from an editor.
package settings

import (
	"bytes"
	"path/filepath"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/event"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/os"
)

const fileName = "settings.json"

// Settings is the user-mutable slice of the configuration, plus the
// per-user volume levels.
type Settings struct {
	Media   config.Media       `json:"media"`
	Screen  config.Screen      `json:"screen"`
	Volumes map[string]float64 `json:"volumes,omitempty"`
}

// clone returns a copy safe to hand out.
func (s Settings) clone() Settings {
	if s.Volumes != nil {
		v := make(map[string]float64, len(s.Volumes))
		for k, vol := range s.Volumes {
			v[k] = vol
		}
		s.Volumes = v
	}
	return s
}

// Store reads and writes the settings file. Values present in the
// file override the defaults, everything else keeps them. Top-level
// keys the build doesn't know survive a save untouched, so a newer
// client's file is safe to edit with an older one.
type Store struct {
	log      *logger.Logger
	path     string
	defaults Settings

	mu   sync.Mutex
	conf Settings
	raw  map[string]json.RawMessage
	last []byte

	watcher *fsnotify.Watcher
	done    chan struct{}

	// OnChange fires when an external edit has been loaded. Updates
	// through this Store do not echo.
	OnChange event.Emitter[Settings]
}

func NewStore(defaults Settings, dir string, log *logger.Logger) (*Store, error) {
	s := &Store{
		log:      log.Extend(log.With().Str("s", "set")),
		path:     filepath.Join(dir, fileName),
		defaults: defaults,
		conf:     defaults,
		raw:      map[string]json.RawMessage{},
	}
	if err := os.CheckCreateDir(dir); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err == nil {
		if err = s.merge(data); err != nil {
			// a broken file must not brick the client
			s.log.Warn().Err(err).Msg("settings file is not valid json, using defaults")
		}
	}
	return s, nil
}

// merge loads file data over the defaults. Callers hold no lock.
func (s *Store) merge(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	conf := s.defaults.clone()
	if err := json.Unmarshal(data, &conf); err != nil {
		return err
	}
	s.mu.Lock()
	s.raw = raw
	s.conf = conf
	s.last = data
	s.mu.Unlock()
	return nil
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf.clone()
}

// Update mutates the settings and persists them atomically.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conf := s.conf.clone()
	fn(&conf)
	s.conf = conf

	for key, part := range map[string]any{
		"media":   conf.Media,
		"screen":  conf.Screen,
		"volumes": conf.Volumes,
	} {
		blob, err := json.Marshal(part)
		if err != nil {
			return err
		}
		s.raw[key] = blob
	}
	if conf.Volumes == nil {
		delete(s.raw, "volumes")
	}
	data, err := json.MarshalIndent(s.raw, "", "  ")
	if err != nil {
		return err
	}
	s.last = data
	return os.WriteFileAtomic(s.path, data, 0o644)
}

// Watch starts following external edits of the settings file. The
// directory is watched, not the file, because atomic saves swap the
// inode out from under a file watch.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err = watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return err
	}
	s.watcher = watcher
	s.done = make(chan struct{})
	go s.follow(watcher, s.done)
	return nil
}

func (s *Store) follow(watcher *fsnotify.Watcher, done chan struct{}) {
	// editors fire bursts of events per save
	settle := debounce.New(200 * time.Millisecond)
	for {
		select {
		case <-done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != fileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			settle(s.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("settings watch")
		}
	}
}

// reload picks up an externally edited file. The client's own saves
// are recognized by content and skipped.
func (s *Store) reload() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Debug().Err(err).Msg("settings reload")
		return
	}
	s.mu.Lock()
	same := bytes.Equal(data, s.last)
	s.mu.Unlock()
	if same {
		return
	}
	if err = s.merge(data); err != nil {
		s.log.Warn().Err(err).Msg("edited settings are not valid json, keeping current")
		return
	}
	s.log.Info().Msg("settings reloaded from disk")
	s.OnChange.Emit(s.Get())
}

// Close stops the watcher, the store itself stays usable.
func (s *Store) Close() {
	if s.watcher != nil {
		close(s.done)
		_ = s.watcher.Close()
		s.watcher = nil
	}
}

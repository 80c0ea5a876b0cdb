// Package recorder writes calls to disk as wav files, one for the
// room mix and one for the local microphone, and optionally ships
// the result to cloud storage when the call ends.
package recorder

import (
	"math/rand"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/voxmesh/voxmesh/pkg/audio"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/os"
	"github.com/voxmesh/voxmesh/pkg/storage"
)

type Recording struct {
	sync.Mutex

	enabled bool

	mix *wavStream
	mic *wavStream

	dir     string
	saveDir string
	meta    Meta
	opts    Options
	store   storage.CloudStorage
	log     *logger.Logger
}

// naming regexp
var (
	reDate = regexp.MustCompile(`%date:(.*?)%`)
	reUser = regexp.MustCompile(`%user%`)
	reRoom = regexp.MustCompile(`%room%`)
	reRand = regexp.MustCompile(`%rand:(\d+)%`)
	reId   = regexp.MustCompile(`%id%`)
)

const (
	mixFile = "mix.wav"
	micFile = "mic.wav"

	defaultName = "%date:20060102-150405%-%id%"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

func NewRecording(meta Meta, store storage.CloudStorage, log *logger.Logger, opts Options) (*Recording, error) {
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Join(os.HomeDir(), "recordings")
	}
	savePath, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.CheckCreateDir(savePath); err != nil {
		return nil, err
	}
	return &Recording{
		dir:   savePath,
		meta:  meta,
		opts:  opts,
		store: store,
		log:   log.Extend(log.With().Str("s", "rec")),
	}, nil
}

// Start opens a fresh take. Calling it while one is already running
// is a no-op, the running take keeps going.
func (r *Recording) Start() error {
	r.Lock()
	defer r.Unlock()
	if r.enabled {
		return nil
	}

	name := r.opts.Name
	if name == "" {
		name = defaultName
	}
	id := uuid.Must(uuid.NewV4()).String()[:8]
	r.saveDir = parseName(name, r.meta.Room, r.meta.User, id)
	path := filepath.Join(r.dir, r.saveDir)

	r.log.Info().Msgf("recording to [%v]", path)

	if err := os.CheckCreateDir(path); err != nil {
		return err
	}

	mix, err := newWavStream(path, mixFile, r.opts.MixRate, r.opts.Channels)
	if err != nil {
		return err
	}
	mic, err := newWavStream(path, micFile, r.opts.MicRate, r.opts.Channels)
	if err != nil {
		_ = mix.Close()
		return err
	}
	r.mix, r.mic = mix, mic
	r.enabled = true
	return nil
}

// Stop finalizes both wav files and hands the take off for optional
// compression and upload in the background. Safe to call twice.
func (r *Recording) Stop() error {
	r.Lock()
	defer r.Unlock()
	if !r.enabled {
		return nil
	}
	r.enabled = false

	var result *multierror.Error
	result = multierror.Append(result, r.mix.Close())
	result = multierror.Append(result, r.mic.Close())
	r.mix, r.mic = nil, nil

	err := result.ErrorOrNil()
	if err == nil && r.saveDir != "" {
		go r.finalize(filepath.Join(r.dir, r.saveDir), r.saveDir)
	}
	r.saveDir = ""
	return err
}

// Set flips recording at runtime, updating the room and user names
// used for the next take.
func (r *Recording) Set(enable bool, meta Meta) error {
	r.Lock()
	r.meta = meta
	r.Unlock()
	if enable {
		return r.Start()
	}
	return r.Stop()
}

func (r *Recording) Enabled() bool {
	r.Lock()
	defer r.Unlock()
	return r.enabled
}

// WriteMix appends a frame of the speaker mix, what the user hears.
func (r *Recording) WriteMix(pcm audio.Samples) {
	r.Lock()
	s := r.mix
	r.Unlock()
	if s != nil {
		if err := s.Write(pcm); err != nil {
			r.log.Error().Err(err).Msg("mix write failed")
		}
	}
}

// WriteMic appends a frame of the outgoing microphone signal.
func (r *Recording) WriteMic(pcm audio.Samples) {
	r.Lock()
	s := r.mic
	r.Unlock()
	if s != nil {
		if err := s.Write(pcm); err != nil {
			r.log.Error().Err(err).Msg("mic write failed")
		}
	}
}

func (r *Recording) finalize(dir, save string) {
	if r.opts.Zip {
		dst := filepath.Join(dir, "..", save)
		if err := compress(dir, dst); err != nil {
			r.log.Error().Err(err).Msg("recording compress failed")
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			r.log.Error().Err(err).Msg("recording cleanup failed")
		}
		r.upload(save+".zip", dst+".zip")
		return
	}
	r.upload(save+"/"+mixFile, filepath.Join(dir, mixFile))
	r.upload(save+"/"+micFile, filepath.Join(dir, micFile))
}

func (r *Recording) upload(name, path string) {
	if r.store == nil || r.store.IsNoop() {
		return
	}
	if err := r.store.Save(name, path); err != nil {
		r.log.Error().Err(err).Msgf("recording upload failed for %v", name)
		return
	}
	r.log.Info().Msgf("recording uploaded: %v", name)
}

func parseName(name, room, user, id string) (out string) {
	if d := reDate.FindStringSubmatch(name); d != nil {
		out = reDate.ReplaceAllString(name, time.Now().Format(d[1]))
	} else {
		out = name
	}
	if rnd := reRand.FindStringSubmatch(out); rnd != nil {
		out = reRand.ReplaceAllString(out, random(rnd[1]))
	}
	out = reUser.ReplaceAllString(out, sanitize(user))
	out = reRoom.ReplaceAllString(out, sanitize(room))
	out = reId.ReplaceAllString(out, id)
	return
}

// path separators and dots can't leak into the folder name
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func random(num string) string {
	n, err := strconv.Atoi(num)
	if err != nil {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Int63()%int64(len(letterBytes))]
	}
	return string(b)
}

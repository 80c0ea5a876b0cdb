// Package sounds keeps a bank of short notification clips and pushes
// them into the speaker mix on call events.
package sounds

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cavaliercoder/grab"

	"github.com/voxmesh/voxmesh/pkg/audio"
	"github.com/voxmesh/voxmesh/pkg/audio/opus"
	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/os"
)

// Clip names for the call events the client announces.
const (
	Connected    = "connected"
	Disconnected = "disconnected"
	Joined       = "joined"
	Left         = "left"
	Muted        = "muted"
	Unmuted      = "unmuted"
)

// stock lists the clips Sync fetches when they are missing locally.
var stock = []string{Connected, Disconnected, Joined, Left, Muted, Unmuted}

// clipRate matches the speaker mix. Clips are conditioned to it up
// front so playback is a plain buffer handoff.
const clipRate = 48000

// Chimer mixes a one-shot clip into the speaker output.
type Chimer interface {
	Chime(clip []audio.Samples)
}

type Bank struct {
	conf     config.Sounds
	dir      string
	frame    int // samples per mixer frame, channels included
	channels int
	out      Chimer
	dl       *grab.Client
	log      *logger.Logger

	mu    sync.Mutex
	clips map[string][]audio.Samples
}

func NewBank(conf config.Sounds, media config.Media, out Chimer, log *logger.Logger) *Bank {
	dir := conf.Dir
	if dir == "" {
		dir = filepath.Join(os.HomeDir(), "sounds")
	}
	return &Bank{
		conf:     conf,
		dir:      dir,
		frame:    clipRate * media.Frame / 1000 * media.Channels,
		channels: media.Channels,
		out:      out,
		dl:       grab.NewClient(),
		log:      log.Extend(log.With().Str("s", "snd")),
	}
}

// Sync fetches stock clips missing from the bank directory, then
// loads whatever the directory holds. Failed downloads are logged
// and skipped, with no URL configured only the local files load.
func (b *Bank) Sync() error {
	if !b.conf.Enabled {
		return nil
	}
	if err := os.CheckCreateDir(b.dir); err != nil {
		return fmt.Errorf("sounds: couldn't make the bank dir, %w", err)
	}
	if base := strings.TrimSuffix(b.conf.URL, "/"); base != "" {
		var reqs []*grab.Request
		for _, name := range stock {
			dest := filepath.Join(b.dir, name+".wav")
			if os.Exists(dest) {
				continue
			}
			req, err := grab.NewRequest(dest, base+"/"+name+".wav")
			if err != nil {
				b.log.Warn().Err(err).Msgf("bad clip URL for %v", name)
				continue
			}
			reqs = append(reqs, req)
		}
		if len(reqs) > 0 {
			for resp := range b.dl.DoBatch(3, reqs...) {
				if err := resp.Err(); err != nil {
					b.log.Warn().Err(err).Msgf("clip download failed: %v", resp.Filename)
				} else {
					b.log.Debug().Msgf("downloaded %v", resp.Filename)
				}
			}
		}
	}
	return b.Load()
}

// Load decodes every wav file in the bank directory, keyed by file
// name. Files that don't parse are skipped.
func (b *Bank) Load() error {
	files, err := filepath.Glob(filepath.Join(b.dir, "*.wav"))
	if err != nil {
		return err
	}
	clips := make(map[string][]audio.Samples, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			b.log.Warn().Err(err).Msgf("couldn't read %v", f)
			continue
		}
		pcm, channels, rate, err := decodeWav(data)
		if err != nil {
			b.log.Warn().Err(err).Msgf("skipping %v", f)
			continue
		}
		name := strings.TrimSuffix(filepath.Base(f), ".wav")
		clips[name] = b.condition(pcm, channels, rate)
	}
	b.mu.Lock()
	b.clips = clips
	b.mu.Unlock()
	b.log.Debug().Msgf("%v clip(s) ready", len(clips))
	return nil
}

// Play queues the named clip into the speaker mix. Unknown names and
// a disabled bank are no-ops, call flow never waits on a sound.
func (b *Bank) Play(name string) {
	if !b.conf.Enabled || b.out == nil {
		return
	}
	b.mu.Lock()
	clip := b.clips[name]
	b.mu.Unlock()
	if len(clip) == 0 {
		b.log.Debug().Msgf("no clip for %v", name)
		return
	}
	b.out.Chime(clip)
}

// condition folds a decoded clip into the mixer's frame format:
// mono mixdown, stretch to the mix rate, fan out to the output
// channel count, split into frames with a zero padded tail.
func (b *Bank) condition(pcm []int16, channels, rate int) []audio.Samples {
	if b.frame <= 0 {
		return nil
	}
	if channels == 2 {
		mono := make([]int16, len(pcm)/2)
		for i := range mono {
			mono[i] = int16((int(pcm[2*i]) + int(pcm[2*i+1])) / 2)
		}
		pcm = mono
	}
	if rate != clipRate && rate > 0 {
		pcm = opus.ResampleStretch(pcm, len(pcm)*clipRate/rate, 1)
	}
	if b.channels > 1 {
		wide := make([]int16, len(pcm)*b.channels)
		for i, s := range pcm {
			for c := 0; c < b.channels; c++ {
				wide[i*b.channels+c] = s
			}
		}
		pcm = wide
	}
	var frames []audio.Samples
	for off := 0; off < len(pcm); off += b.frame {
		frame := make(audio.Samples, b.frame)
		copy(frame, pcm[off:])
		frames = append(frames, frame)
	}
	return frames
}

// PCM format tag of the fmt chunk.
const formatPCM = 1

// decodeWav pulls 16-bit PCM out of a RIFF WAVE file. Only plain PCM
// with one or two channels is accepted.
func decodeWav(data []byte) (pcm []int16, channels, rate int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF WAVE file")
	}
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, errors.New("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body:])
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			rate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != formatPCM || bits != 16 {
				return nil, 0, 0, fmt.Errorf("unsupported encoding (format %v, %v-bit)", format, bits)
			}
			if channels < 1 || channels > 2 {
				return nil, 0, 0, fmt.Errorf("unsupported channel count %v", channels)
			}
		case "data":
			if rate == 0 {
				return nil, 0, 0, errors.New("data chunk before fmt")
			}
			pcm = make([]int16, size/2)
			for i := range pcm {
				pcm[i] = int16(binary.LittleEndian.Uint16(data[body+2*i:]))
			}
			return pcm, channels, rate, nil
		}
		// chunks are word aligned
		if size%2 == 1 {
			size++
		}
		off = body + size
	}
	return nil, 0, 0, errors.New("no data chunk")
}

package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	opus "gopkg.in/hraban/opus.v2"

	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/logger"
)

// Player decodes each peer's voice track and mixes everything into
// one output stream, with per-peer volume and a deafen gate. The
// output always runs at the codec rate, the capture sample rate is
// a device constraint that does not apply here.
type Player struct {
	log  *logger.Logger
	open Opener

	mu       sync.Mutex
	conf     config.Media
	sink     Sink
	master   float64
	streams  map[string]*stream
	volumes  map[string]float64
	chimes   uint64
	tap      func(Samples)
	deafened bool
	started  bool
	done     chan struct{}
}

type stream struct {
	buf chan Samples
	// oneshot streams leave the mix once their buffer runs dry
	oneshot bool
}

func NewPlayer(conf config.Media, open Opener, log *logger.Logger) *Player {
	return &Player{
		log:     log.Extend(log.With().Str("s", "out")),
		open:    open,
		conf:    conf,
		master:  clampVolume(conf.Volume),
		streams: make(map[string]*stream),
		volumes: make(map[string]float64),
	}
}

// Start opens the output device and runs the mix loop.
func (pl *Player) Start() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.started {
		return nil
	}
	frameSize := codecRate * pl.conf.Frame / 1000
	sink, err := pl.open.OpenSink(SinkConfig{
		Device:     pl.conf.OutputDevice,
		SampleRate: codecRate,
		Channels:   pl.conf.Channels,
		FrameSize:  frameSize,
	})
	if err != nil {
		return err
	}
	pl.sink = sink
	pl.started = true
	pl.done = make(chan struct{})
	pl.log.Info().Str("device", pl.conf.OutputDevice).Msg("playback started")
	go pl.mix(sink, pl.done, frameSize*pl.conf.Channels, time.Duration(pl.conf.Frame)*time.Millisecond)
	return nil
}

// Stop closes the output device. Decode loops wind down on their own
// once their tracks die.
func (pl *Player) Stop() {
	pl.mu.Lock()
	if !pl.started {
		pl.mu.Unlock()
		return
	}
	pl.started = false
	close(pl.done)
	sink := pl.sink
	pl.sink = nil
	pl.mu.Unlock()
	if err := sink.Close(); err != nil {
		pl.log.Error().Err(err).Msg("playback close")
	}
	pl.log.Info().Msg("playback stopped")
}

// Play starts decoding a peer's voice track into the mix. Non-audio
// tracks are ignored.
func (pl *Player) Play(peer string, track *webrtc.TrackRemote) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	pl.mu.Lock()
	channels := pl.conf.Channels
	pl.mu.Unlock()
	dec, err := opus.NewDecoder(codecRate, channels)
	if err != nil {
		pl.log.Error().Err(err).Str("p", peer).Msg("voice decoder")
		return
	}
	st := &stream{buf: make(chan Samples, 8)}
	pl.mu.Lock()
	pl.streams[peer] = st
	pl.mu.Unlock()
	pl.log.Debug().Str("p", peer).Msg("voice stream added")
	go pl.decode(peer, st, track, dec, channels)
}

// Drop takes a peer out of the mix.
func (pl *Player) Drop(peer string) {
	pl.mu.Lock()
	delete(pl.streams, peer)
	pl.mu.Unlock()
}

// Chime queues a short one-shot clip into the mix. Notification
// sounds ride the same output as voice, so they follow the master
// volume and the deafen gate like everything else.
func (pl *Player) Chime(clip []Samples) {
	if len(clip) == 0 {
		return
	}
	st := &stream{buf: make(chan Samples, len(clip)), oneshot: true}
	for _, f := range clip {
		st.buf <- f
	}
	pl.mu.Lock()
	pl.chimes++
	key := fmt.Sprintf("chime-%d", pl.chimes)
	pl.streams[key] = st
	pl.mu.Unlock()
}

// drop clears a finished stream only if it is still the current one,
// a reconnected peer may have replaced it already.
func (pl *Player) drop(peer string, st *stream) {
	pl.mu.Lock()
	if cur, ok := pl.streams[peer]; ok && cur == st {
		delete(pl.streams, peer)
	}
	pl.mu.Unlock()
}

func (pl *Player) decode(peer string, st *stream, track *webrtc.TrackRemote, dec *opus.Decoder, channels int) {
	defer pl.drop(peer, st)
	// 60ms at the codec rate is the biggest legal Opus frame
	pcm := make([]int16, codecRate*60/1000*channels)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}
		frame := make(Samples, n*channels)
		copy(frame, pcm[:n*channels])
		select {
		case st.buf <- frame:
		default:
			// backpressure, drop the oldest frame
			select {
			case <-st.buf:
			default:
			}
			select {
			case st.buf <- frame:
			default:
			}
		}
	}
}

func (pl *Player) mix(sink Sink, done chan struct{}, size int, frameDur time.Duration) {
	acc := make([]int32, size)
	out := make(Samples, size)
	tick := time.NewTicker(frameDur)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case <-tick.C:
		}

		pl.mu.Lock()
		deaf := pl.deafened
		master := pl.master
		tap := pl.tap
		frames := make([]Samples, 0, len(pl.streams))
		gains := make([]float64, 0, len(pl.streams))
		for peer, st := range pl.streams {
			select {
			case f := <-st.buf:
				frames = append(frames, f)
				gains = append(gains, pl.volume(peer))
			default:
				if st.oneshot {
					delete(pl.streams, peer)
				}
			}
		}
		pl.mu.Unlock()

		for i := range acc {
			acc[i] = 0
		}
		for n, f := range frames {
			g := gains[n] * master
			for i := 0; i < len(f) && i < size; i++ {
				acc[i] += int32(float64(f[i]) * g)
			}
		}
		for i, v := range acc {
			if deaf {
				v = 0
			}
			if v > math.MaxInt16 {
				v = math.MaxInt16
			} else if v < math.MinInt16 {
				v = math.MinInt16
			}
			out[i] = int16(v)
		}
		if tap != nil {
			tap(out)
		}
		if err := sink.Write(out); err != nil {
			select {
			case <-done:
			default:
				pl.log.Error().Err(err).Msg("playback lost")
			}
			return
		}
	}
}

// volume reads a peer's level under the lock held by the caller.
func (pl *Player) volume(peer string) float64 {
	if v, ok := pl.volumes[peer]; ok {
		return v
	}
	return 1
}

// SetDeafened silences the mix without stopping it, so streams stay
// warm for the moment hearing comes back.
func (pl *Player) SetDeafened(on bool) {
	pl.mu.Lock()
	pl.deafened = on
	pl.mu.Unlock()
}

// SetVolume adjusts one peer's share of the mix.
func (pl *Player) SetVolume(peer string, v float64) {
	pl.mu.Lock()
	pl.volumes[peer] = clampVolume(v)
	pl.mu.Unlock()
}

func (pl *Player) SetMasterVolume(v float64) {
	pl.mu.Lock()
	pl.master = clampVolume(v)
	pl.mu.Unlock()
}

func (pl *Player) Deafened() bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.deafened
}

// SetTap installs an observer for mixed output frames, the call
// recorder hangs off this. The frame is only borrowed for the call,
// nil detaches.
func (pl *Player) SetTap(fn func(Samples)) {
	pl.mu.Lock()
	pl.tap = fn
	pl.mu.Unlock()
}

// Apply retunes playback. Volume applies live, a changed output
// device or frame size restarts the device.
func (pl *Player) Apply(conf config.Media) error {
	pl.mu.Lock()
	restart := pl.started &&
		(conf.OutputDevice != pl.conf.OutputDevice ||
			conf.Channels != pl.conf.Channels ||
			conf.Frame != pl.conf.Frame)
	pl.conf = conf
	pl.master = clampVolume(conf.Volume)
	pl.mu.Unlock()
	if !restart {
		return nil
	}
	pl.Stop()
	return pl.Start()
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}

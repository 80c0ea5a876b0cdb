package audio

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"

	"github.com/voxmesh/voxmesh/pkg/audio/opus"
	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/event"
	"github.com/voxmesh/voxmesh/pkg/logger"
)

// codecRate is the sample rate Opus packets are produced at.
// Capture may run at a different rate and gets stretched to fit.
const codecRate = 48000

// Pipeline drives the outgoing voice track: it pulls PCM frames from
// the capture device, meters and gates them, and encodes whatever
// passes onto a single track shared by every peer session.
//
// The track exists for the whole pipeline lifetime. Acquire and
// Release only swap the capture underneath it, so sessions never see
// the microphone come and go.
type Pipeline struct {
	log   *logger.Logger
	open  Opener
	track *webrtc.TrackLocalStaticSample

	mu       sync.Mutex
	conf     config.Media
	src      Source
	enc      *opus.Encoder
	det      *Detector
	gain     float64
	mode     Mode
	tap      func(Samples)
	muted    bool
	deafened bool
	ptt      bool
	speaking bool
	acquired bool
	done     chan struct{}

	// swap point for tests, the default writes to the track
	writeSample func(data []byte, dur time.Duration) error

	// OnSpeaking fires on every speaking state flip.
	OnSpeaking event.Emitter[bool]
	// OnLevel reports the metered input level for every frame.
	OnLevel event.Emitter[float64]
}

func NewPipeline(conf config.Media, open Opener, log *logger.Logger) (*Pipeline, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "voice",
	)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		log:   log.Extend(log.With().Str("s", "mic")),
		open:  open,
		track: track,
	}
	p.writeSample = func(data []byte, dur time.Duration) error {
		return track.WriteSample(media.Sample{Data: data, Duration: dur})
	}
	p.tune(conf)
	return p, nil
}

// Track is the outgoing voice track shared by every session.
func (p *Pipeline) Track() webrtc.TrackLocal { return p.track }

// Acquire opens the capture device and starts the processing loop.
// Device and permission failures surface to the caller, an already
// running pipeline is left alone.
func (p *Pipeline) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.acquired {
		return nil
	}
	frameSize := p.conf.SampleRate * p.conf.Frame / 1000
	src, err := p.open.OpenSource(SourceConfig{
		Device:        p.conf.InputDevice,
		SampleRate:    p.conf.SampleRate,
		Channels:      p.conf.Channels,
		FrameSize:     frameSize,
		EchoCancel:    p.conf.EchoCancel,
		NoiseSuppress: p.conf.NoiseSuppress,
		AutoGain:      p.conf.AutoGain,
	})
	if err != nil {
		return err
	}
	opts := []func(*opus.Encoder) error{opus.Bitrate(p.conf.Opus.Bitrate)}
	if p.conf.Opus.FEC {
		opts = append(opts, opus.FEC(10))
	}
	enc, err := opus.NewEncoder(p.conf.SampleRate, codecRate, p.conf.Channels, opts...)
	if err != nil {
		_ = src.Close()
		return err
	}
	p.src = src
	p.enc = enc
	p.acquired = true
	p.done = make(chan struct{})
	p.log.Info().
		Str("device", p.conf.InputDevice).
		Int("rate", p.conf.SampleRate).
		Int("frame", p.conf.Frame).
		Msg("capture started")
	go p.pump(src, enc, p.done, time.Duration(p.conf.Frame)*time.Millisecond)
	return nil
}

// Release stops capture and analysis. The track stays attached to
// the sessions and just goes silent. Safe to call at any time.
func (p *Pipeline) Release() {
	p.mu.Lock()
	if !p.acquired {
		p.mu.Unlock()
		return
	}
	p.acquired = false
	close(p.done)
	src := p.src
	p.src = nil
	p.enc = nil
	p.mu.Unlock()
	if err := src.Close(); err != nil {
		p.log.Error().Err(err).Msg("capture close")
	}
	p.setSpeaking(false)
	p.log.Info().Msg("capture stopped")
}

func (p *Pipeline) pump(src Source, enc *opus.Encoder, done chan struct{}, frameDur time.Duration) {
	for {
		select {
		case <-done:
			return
		default:
		}
		frame, err := src.Read()
		if err != nil {
			select {
			case <-done:
			default:
				p.log.Error().Err(err).Msg("capture lost")
			}
			return
		}

		p.mu.Lock()
		gain, mode, muted, ptt, det, tap := p.gain, p.mode, p.muted, p.ptt, p.det, p.tap
		p.mu.Unlock()

		ApplyGain(frame, gain)
		level := Level(frame)
		voice := det.Feed(level)

		var transmit, speaking bool
		switch mode {
		case ModePushToTalk:
			transmit = ptt && !muted
			speaking = transmit
		default:
			// the track stays live while unmuted so the far end
			// keeps timing, the voice flag only drives the indicator
			transmit = !muted
			speaking = voice && !muted
		}

		if transmit {
			if tap != nil {
				tap(frame)
			}
			if data, err := enc.Encode(frame); err != nil {
				p.log.Error().Err(err).Msg("opus encode")
			} else if err = p.writeSample(data, frameDur); err != nil {
				p.log.Error().Err(err).Msg("track write")
			}
		}

		p.setSpeaking(speaking)
		p.OnLevel.Emit(level)
	}
}

func (p *Pipeline) setSpeaking(on bool) {
	p.mu.Lock()
	changed := p.speaking != on
	p.speaking = on
	p.mu.Unlock()
	if changed {
		p.OnSpeaking.Emit(on)
	}
}

// Apply retunes the pipeline with new settings. Gating, gain and
// sensitivity changes take effect on the next frame, a changed
// device or capture format restarts the capture.
func (p *Pipeline) Apply(conf config.Media) error {
	p.mu.Lock()
	restart := p.acquired &&
		(conf.InputDevice != p.conf.InputDevice ||
			conf.SampleRate != p.conf.SampleRate ||
			conf.Channels != p.conf.Channels ||
			conf.Frame != p.conf.Frame ||
			conf.EchoCancel != p.conf.EchoCancel ||
			conf.NoiseSuppress != p.conf.NoiseSuppress ||
			conf.AutoGain != p.conf.AutoGain ||
			conf.Opus != p.conf.Opus)
	p.tune(conf)
	p.mu.Unlock()
	if !restart {
		return nil
	}
	p.Release()
	return p.Acquire()
}

// tune applies the cheap knobs. Callers hold the lock or own p.
func (p *Pipeline) tune(conf config.Media) {
	gain := conf.Gain
	if gain < 0 {
		gain = 0
	} else if gain > 4 {
		gain = 4
	}
	p.conf = conf
	p.gain = gain
	p.mode = ParseMode(conf.Mode)
	p.det = NewDetector(float64(conf.Sensitivity), conf.Debounce, time.Duration(conf.Frame)*time.Millisecond)
}

func (p *Pipeline) SetMuted(on bool) {
	p.mu.Lock()
	p.muted = on
	p.mu.Unlock()
}

// SetDeafened gates playback elsewhere and forces the mute here.
// Leaving deafen keeps the mute on, only an explicit unmute lifts it.
func (p *Pipeline) SetDeafened(on bool) {
	p.mu.Lock()
	p.deafened = on
	if on {
		p.muted = true
	}
	p.mu.Unlock()
}

// PushToTalk tracks the talk key state. It only matters in push to
// talk mode.
func (p *Pipeline) PushToTalk(held bool) {
	p.mu.Lock()
	p.ptt = held
	p.mu.Unlock()
}

func (p *Pipeline) SetMode(m Mode) {
	p.mu.Lock()
	p.mode = m
	p.mu.Unlock()
}

func (p *Pipeline) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	} else if gain > 4 {
		gain = 4
	}
	p.mu.Lock()
	p.gain = gain
	p.mu.Unlock()
}

// SetTap installs an observer for transmitted frames, the call
// recorder hangs off this. Gated frames never reach the tap, so a
// muted mic stays out of the recording. The frame is only borrowed
// for the call, nil detaches.
func (p *Pipeline) SetTap(fn func(Samples)) {
	p.mu.Lock()
	p.tap = fn
	p.mu.Unlock()
}

func (p *Pipeline) Muted() bool    { p.mu.Lock(); defer p.mu.Unlock(); return p.muted }
func (p *Pipeline) Deafened() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.deafened }
func (p *Pipeline) Speaking() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.speaking }
func (p *Pipeline) Acquired() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.acquired }

// Transmitting reports whether frames are currently let through to
// the encoder.
func (p *Pipeline) Transmitting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == ModePushToTalk {
		return p.ptt && !p.muted
	}
	return !p.muted && p.acquired
}

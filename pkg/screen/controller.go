// Package screen runs the display share: capture, scale, VP8 encode
// and per-peer track fan-out with adaptive quality.
package screen

import (
	"image"
	"math"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	xdraw "golang.org/x/image/draw"

	"github.com/voxmesh/voxmesh/pkg/config"
	"github.com/voxmesh/voxmesh/pkg/event"
	"github.com/voxmesh/voxmesh/pkg/logger"
	"github.com/voxmesh/voxmesh/pkg/screen/vpx"
	"github.com/voxmesh/voxmesh/pkg/screen/yuv"
)

// Capturer yields full display frames.
type Capturer interface {
	Frame(display int) (*image.RGBA, error)
}

// Peer is the slice of a voice session the share cares about.
type Peer interface {
	Id() string
	AttachScreen(t webrtc.TrackLocal) error
	DetachScreen()
	OutboundStats() (bitrate float64, bytes uint64)
}

// Peers enumerates the live sessions.
type Peers interface {
	Each(fn func(Peer))
}

// Encoder compresses I420 frames.
type Encoder interface {
	Encode(yuv []byte) []byte
	ForceKeyframe()
	Shutdown() error
}

// EncoderFactory builds an encoder for one tier. The controller
// rebuilds the encoder whenever the tier or source size changes.
type EncoderFactory func(width, height, bitrateKbps, fps int) (Encoder, error)

// DefaultEncoderFactory is the VP8 encoder used outside tests, with
// a keyframe forced every three seconds.
func DefaultEncoderFactory(width, height, bitrateKbps, fps int) (Encoder, error) {
	return vpx.NewEncoder(width, height, vpx.Options{
		Bitrate:     uint(bitrateKbps),
		KeyframeInt: uint(fps * 3),
		FPS:         uint(fps),
	})
}

// Controller owns one outgoing share at a time. Start is collapsed
// while a share runs, Stop is safe to call from anywhere any number
// of times. Attach failures stay with their peer, the share keeps
// going for everyone else.
type Controller struct {
	log     *logger.Logger
	conf    config.Screen
	capture Capturer
	peers   Peers
	factory EncoderFactory

	mu       sync.Mutex
	track    *webrtc.TrackLocalStaticSample
	picker   *TierPicker
	tier     Tier
	sharing  bool
	forceKey bool
	done     chan struct{}

	// swap point for tests, the default writes to the track
	write func(t *webrtc.TrackLocalStaticSample, data []byte, dur time.Duration) error

	// OnTier fires when the adaptive picker switches quality.
	OnTier event.Emitter[Tier]
	// OnEnded fires when the share dies underneath the user, display
	// gone or the encoder failing, never on a requested Stop.
	OnEnded event.Emitter[error]
}

func NewController(conf config.Screen, capture Capturer, peers Peers, log *logger.Logger) *Controller {
	return &Controller{
		log:     log.Extend(log.With().Str("s", "share")),
		conf:    conf,
		capture: capture,
		peers:   peers,
		factory: DefaultEncoderFactory,
		write: func(t *webrtc.TrackLocalStaticSample, data []byte, dur time.Duration) error {
			return t.WriteSample(media.Sample{Data: data, Duration: dur})
		},
	}
}

// Sharing reports whether a share is currently running.
func (c *Controller) Sharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// Tier is the quality the share currently runs at.
func (c *Controller) Tier() Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tier
}

// Apply swaps the share configuration. A display change takes effect
// on the next captured frame, the preset and the adaptive knobs wait
// for the next Start.
func (c *Controller) Apply(conf config.Screen) {
	c.mu.Lock()
	c.conf = conf
	c.mu.Unlock()
}

// Track is handed to sessions created while the share runs, nil
// otherwise.
func (c *Controller) Track() webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sharing || c.track == nil {
		return nil
	}
	return c.track
}

// ForceKeyframe schedules an intra frame, wired to incoming PLI.
func (c *Controller) ForceKeyframe() {
	c.mu.Lock()
	c.forceKey = true
	c.mu.Unlock()
}

// Start begins sharing at the named preset, or the configured one
// when the name is empty. A second Start while sharing is a no-op.
// The first frame is captured synchronously, so a missing display
// fails here instead of killing the share a beat later.
func (c *Controller) Start(preset string) error {
	c.mu.Lock()
	if c.sharing {
		c.mu.Unlock()
		return nil
	}
	if preset == "" {
		preset = c.conf.Preset
	}
	tier := TierByName(preset)

	first, err := c.capture.Frame(c.conf.Display)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "screen",
	)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.track = track
	c.tier = tier
	c.picker = NewTierPicker(tier, c.conf.Adaptive)
	c.sharing = true
	c.forceKey = false
	c.done = make(chan struct{})
	done := c.done
	display := c.conf.Display
	adaptive := c.conf.Adaptive.Enabled
	interval := c.conf.Adaptive.Interval
	c.mu.Unlock()

	c.attachAll(track)
	c.log.Info().Str("tier", tier.Name).Int("display", display).Msg("share started")

	go c.stream(track, first, done)
	if adaptive {
		go c.sample(done, interval)
	}
	return nil
}

// Stop tears the share down. Every caller beyond the first finds
// nothing left to do.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.sharing {
		c.mu.Unlock()
		return
	}
	c.sharing = false
	close(c.done)
	c.track = nil
	c.mu.Unlock()

	c.peers.Each(func(p Peer) { p.DetachScreen() })
	c.log.Info().Msg("share stopped")
}

func (c *Controller) attachAll(track webrtc.TrackLocal) {
	c.peers.Each(func(p Peer) {
		if err := p.AttachScreen(track); err != nil {
			c.log.Error().Err(err).Str("p", p.Id()).Msg("share attach failed")
		}
	})
}

// pipe is one encoder chain, rebuilt when the tier or the source
// size changes.
type pipe struct {
	tier       Tier
	srcW, srcH int
	scaled     *image.RGBA
	conv       *yuv.Converter
	enc        Encoder
}

func (c *Controller) newPipe(tier Tier, srcW, srcH int) (*pipe, error) {
	w, h := tier.Dims(srcW, srcH)
	fps := tier.FPS
	if fps <= 0 {
		fps = 30
	}
	enc, err := c.factory(w, h, tier.Bitrate, fps)
	if err != nil {
		return nil, err
	}
	p := &pipe{tier: tier, srcW: srcW, srcH: srcH, conv: yuv.NewConverter(w, h), enc: enc}
	if w != srcW || h != srcH {
		p.scaled = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return p, nil
}

func (p *pipe) encode(src *image.RGBA) []byte {
	frame := src
	if p.scaled != nil {
		xdraw.ApproxBiLinear.Scale(p.scaled, p.scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		frame = p.scaled
	}
	return p.enc.Encode(p.conv.FromRGBA(frame))
}

func (p *pipe) close() { _ = p.enc.Shutdown() }

func (c *Controller) stream(track *webrtc.TrackLocalStaticSample, first *image.RGBA, done chan struct{}) {
	var chain *pipe
	defer func() {
		if chain != nil {
			chain.close()
		}
	}()

	frame := first
	for {
		c.mu.Lock()
		tier := c.tier
		force := c.forceKey
		display := c.conf.Display
		c.forceKey = false
		c.mu.Unlock()

		b := frame.Bounds()
		srcW, srcH := b.Dx(), b.Dy()
		if chain == nil || chain.tier != tier || chain.srcW != srcW || chain.srcH != srcH {
			if chain != nil {
				chain.close()
				chain = nil
			}
			next, err := c.newPipe(tier, srcW, srcH)
			if err != nil {
				c.fail(err)
				return
			}
			chain = next
			// a fresh decoder on the far side needs an intra frame
			chain.enc.ForceKeyframe()
		}
		if force {
			chain.enc.ForceKeyframe()
		}

		fps := tier.FPS
		if fps <= 0 {
			fps = 30
		}
		dur := time.Second / time.Duration(fps)
		if data := chain.encode(frame); len(data) > 0 {
			if err := c.write(track, data, dur); err != nil {
				c.log.Error().Err(err).Msg("share track write")
			}
		}

		select {
		case <-done:
			return
		case <-time.After(dur):
		}

		var err error
		if frame, err = c.capture.Frame(display); err != nil {
			c.fail(err)
			return
		}
	}
}

// fail ends a share that died underneath the user.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	running := c.sharing
	c.mu.Unlock()
	if !running {
		return
	}
	c.log.Warn().Err(err).Msg("share source lost")
	c.Stop()
	c.OnEnded.Emit(err)
}

func (c *Controller) sample(done chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-done:
			return
		case <-tick.C:
		}
		est := c.weakestLink()
		if est <= 0 {
			continue
		}
		c.mu.Lock()
		tier, changed := c.picker.Feed(est)
		if changed {
			c.tier = tier
		}
		c.mu.Unlock()
		if changed {
			c.log.Info().Str("tier", tier.Name).Int("kbps", int(est)).Msg("share quality switched")
			c.OnTier.Emit(tier)
		}
	}
}

// weakestLink is the lowest available outgoing bandwidth across the
// live peers, in kbps. The slowest link carries the same frames as
// everyone else, so it sets the budget.
func (c *Controller) weakestLink() float64 {
	low := math.MaxFloat64
	n := 0
	c.peers.Each(func(p Peer) {
		if bps, _ := p.OutboundStats(); bps > 0 {
			n++
			if bps < low {
				low = bps
			}
		}
	})
	if n == 0 {
		return 0
	}
	return low / 1000
}

package screen

import "github.com/voxmesh/voxmesh/pkg/config"

// Tier is one share quality preset. Height fixes the vertical
// resolution, the width follows the source aspect ratio.
type Tier struct {
	Name    string
	Height  int
	FPS     int
	Bitrate int // encoder target in kbps
}

// tiers is ordered from cheapest to best. The adaptive picker moves
// along this list, the bucket thresholds sit between neighbours.
var tiers = []Tier{
	{"480p15", 480, 15, 600},
	{"720p15", 720, 15, 1200},
	{"720p30", 720, 30, 2000},
	{"1080p30", 1080, 30, 3500},
}

const defaultPreset = "720p30"

// defaultThresholds are the bucket boundaries in kbps of available
// outgoing bandwidth.
var defaultThresholds = []int{800, 1500, 2500}

// TierIndex is a tier's position on the quality ladder, 0 being the
// cheapest.
func TierIndex(t Tier) int {
	for i, q := range tiers {
		if q.Name == t.Name {
			return i
		}
	}
	return 0
}

// TierByName resolves a preset, falling back to the default for an
// empty or unknown name.
func TierByName(name string) Tier {
	if name == "" {
		name = defaultPreset
	}
	for _, t := range tiers {
		if t.Name == name {
			return t
		}
	}
	return TierByName(defaultPreset)
}

// Dims computes the encode size for a source, keeping its aspect
// ratio, never upscaling, and rounding both sides down to even for
// the I420 planes.
func (t Tier) Dims(srcW, srcH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	h := t.Height
	if srcH < h {
		h = srcH
	}
	w := h * srcW / srcH
	return w &^ 1, h &^ 1
}

// TierPicker maps smoothed bandwidth estimates onto a tier. The
// preset caps how high it may go, the thresholds split the estimate
// range into one bucket per tier. A switch happens only when the
// smoothed estimate lands in a different bucket, so readings moving
// inside the current bucket never flap the encoder.
type TierPicker struct {
	thresholds []int
	window     int
	samples    []float64
	idx        int
	max        int
}

func NewTierPicker(preset Tier, conf config.Adaptive) *TierPicker {
	idx := 0
	for i, t := range tiers {
		if t.Name == preset.Name {
			idx = i
			break
		}
	}
	th := conf.Thresholds
	if len(th) == 0 {
		th = defaultThresholds
	}
	window := conf.Window
	if window < 1 {
		window = 1
	}
	return &TierPicker{thresholds: th, window: window, idx: idx, max: idx}
}

// Current is the tier the picker stands on.
func (p *TierPicker) Current() Tier { return tiers[p.idx] }

// Feed consumes one bandwidth estimate in kbps and reports the tier
// to run at and whether it changed. Nothing moves until the smoothing
// window has filled once.
func (p *TierPicker) Feed(kbps float64) (Tier, bool) {
	p.samples = append(p.samples, kbps)
	if len(p.samples) > p.window {
		p.samples = p.samples[1:]
	}
	if len(p.samples) < p.window {
		return tiers[p.idx], false
	}
	var sum float64
	for _, s := range p.samples {
		sum += s
	}
	avg := sum / float64(len(p.samples))

	want := 0
	for i, th := range p.thresholds {
		if avg >= float64(th) {
			want = i + 1
		}
	}
	if want > p.max {
		want = p.max
	}
	if want >= len(tiers) {
		want = len(tiers) - 1
	}
	if want == p.idx {
		return tiers[p.idx], false
	}
	p.idx = want
	return tiers[p.idx], true
}

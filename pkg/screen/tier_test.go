package screen

import (
	"testing"

	"github.com/voxmesh/voxmesh/pkg/config"
)

func TestTierByName(t *testing.T) {
	if got := TierByName("480p15"); got.Height != 480 || got.FPS != 15 {
		t.Errorf("480p15 resolved to %+v", got)
	}
	if got := TierByName(""); got.Name != defaultPreset {
		t.Errorf("empty preset resolved to %q", got.Name)
	}
	if got := TierByName("4320p120"); got.Name != defaultPreset {
		t.Errorf("unknown preset resolved to %q", got.Name)
	}
}

func TestTierDims(t *testing.T) {
	tests := []struct {
		tier       string
		srcW, srcH int
		w, h       int
	}{
		{"720p30", 1920, 1080, 1280, 720},
		{"480p15", 1280, 720, 852, 480},
		{"1080p30", 1920, 1080, 1920, 1080},
		// a source below the tier is never upscaled
		{"1080p30", 1280, 720, 1280, 720},
		// odd sizes round down to even for the chroma planes
		{"480p15", 1365, 767, 852, 480},
		{"720p30", 0, 0, 0, 0},
	}
	for _, tc := range tests {
		w, h := TierByName(tc.tier).Dims(tc.srcW, tc.srcH)
		if w != tc.w || h != tc.h {
			t.Errorf("%s from %dx%d: got %dx%d, want %dx%d",
				tc.tier, tc.srcW, tc.srcH, w, h, tc.w, tc.h)
		}
	}
}

func TestPickerWarmup(t *testing.T) {
	p := NewTierPicker(TierByName("720p30"), config.Adaptive{Window: 3})
	if _, changed := p.Feed(100); changed {
		t.Error("picker moved before the window filled")
	}
	if _, changed := p.Feed(100); changed {
		t.Error("picker moved before the window filled")
	}
	tier, changed := p.Feed(100)
	if !changed || tier.Name != "480p15" {
		t.Errorf("full window at 100 kbps: tier %q, changed %v", tier.Name, changed)
	}
}

func TestPickerBuckets(t *testing.T) {
	tests := []struct {
		kbps float64
		want string
	}{
		{500, "480p15"},
		{799, "480p15"},
		{800, "720p15"},
		{1499, "720p15"},
		{1500, "720p30"},
		{2500, "1080p30"},
		{9000, "1080p30"},
	}
	for _, tc := range tests {
		p := NewTierPicker(TierByName("1080p30"), config.Adaptive{Window: 1})
		if tier, _ := p.Feed(tc.kbps); tier.Name != tc.want {
			t.Errorf("%v kbps: tier %q, want %q", tc.kbps, tier.Name, tc.want)
		}
	}
}

func TestPickerStableInsideBucket(t *testing.T) {
	p := NewTierPicker(TierByName("720p15"), config.Adaptive{Window: 1})
	for _, kbps := range []float64{900, 1400, 810, 1499} {
		if tier, changed := p.Feed(kbps); changed {
			t.Errorf("%v kbps flapped the tier to %q", kbps, tier.Name)
		}
	}
	if tier, changed := p.Feed(400); !changed || tier.Name != "480p15" {
		t.Errorf("drop below the bucket: tier %q, changed %v", tier.Name, changed)
	}
}

func TestPickerCappedByPreset(t *testing.T) {
	p := NewTierPicker(TierByName("720p15"), config.Adaptive{Window: 1})
	if tier, changed := p.Feed(99999); changed || tier.Name != "720p15" {
		t.Errorf("picker climbed past the preset: %q, changed %v", tier.Name, changed)
	}

	// after a downgrade it may climb back, but only to the preset
	if tier, _ := p.Feed(100); tier.Name != "480p15" {
		t.Fatalf("downgrade failed: %q", tier.Name)
	}
	if tier, changed := p.Feed(99999); !changed || tier.Name != "720p15" {
		t.Errorf("recovery hit %q, want the 720p15 cap", tier.Name)
	}
}

func TestPickerSmoothing(t *testing.T) {
	p := NewTierPicker(TierByName("720p15"), config.Adaptive{Window: 3})
	p.Feed(1200)
	p.Feed(1200)
	// one low spike inside a 3-sample window is not enough to move
	if tier, changed := p.Feed(300); changed {
		t.Errorf("single spike moved the tier to %q", tier.Name)
	}
	// a second low reading drags the average under the boundary
	if tier, changed := p.Feed(300); !changed || tier.Name != "480p15" {
		t.Errorf("sustained low bandwidth: tier %q, changed %v", tier.Name, changed)
	}
}

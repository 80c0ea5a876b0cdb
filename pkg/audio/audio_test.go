package audio

import (
	"math"
	"testing"
)

func constFrame(amplitude int16, n int) Samples {
	s := make(Samples, n)
	for i := range s {
		s[i] = amplitude
	}
	return s
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name  string
		frame Samples
		want  float64
	}{
		{"silence", constFrame(0, 960), 0},
		{"half scale", constFrame(16384, 960), 50},
		{"full scale", constFrame(math.MaxInt16, 960), 99.99},
		{"empty", nil, 0},
	}
	for _, tc := range tests {
		if got := Level(tc.frame); math.Abs(got-tc.want) > 0.01 {
			t.Errorf("%s: level = %.3f, want %.2f", tc.name, got, tc.want)
		}
	}
}

func TestApplyGain(t *testing.T) {
	s := Samples{1000, -1000, 20000}
	ApplyGain(s, 2)
	if s[0] != 2000 || s[1] != -2000 {
		t.Errorf("gain not applied: %v", s)
	}
	if s[2] != math.MaxInt16 {
		t.Errorf("expected clipping at %d, got %d", math.MaxInt16, s[2])
	}

	s = Samples{-20000}
	ApplyGain(s, 3)
	if s[0] != math.MinInt16 {
		t.Errorf("expected clipping at %d, got %d", math.MinInt16, s[0])
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"ptt":          ModePushToTalk,
		"Push-To-Talk": ModePushToTalk,
		"va":           ModeVoiceActivity,
		"":             ModeVoiceActivity,
		"whatever":     ModeVoiceActivity,
	} {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", in, got, want)
		}
	}
}

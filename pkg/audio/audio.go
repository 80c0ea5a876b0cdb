// Package audio implements the local voice path of the client: the
// microphone pipeline with level metering, voice activity gating and
// Opus encoding on the way out, and the per-peer decode and mix loop
// on the way in.
package audio

import (
	"math"
	"strings"
)

// Samples is one frame of interleaved signed 16-bit PCM.
type Samples []int16

// Mode selects how the outgoing voice track is gated.
type Mode uint8

const (
	// ModeVoiceActivity transmits continuously while unmuted and
	// drives the speaking indicator from the level detector.
	ModeVoiceActivity Mode = iota
	// ModePushToTalk transmits only while the talk key is held.
	ModePushToTalk
)

func (m Mode) String() string {
	if m == ModePushToTalk {
		return "ptt"
	}
	return "va"
}

// ParseMode maps a config string onto a gating mode, with voice
// activity as the fallback for anything unknown.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ptt", "push-to-talk", "pushtotalk":
		return ModePushToTalk
	}
	return ModeVoiceActivity
}

// Level measures the RMS loudness of a frame on a 0-100 scale,
// where 100 is a full-scale signal.
func Level(s Samples) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(s))) / 327.68
}

// ApplyGain scales a frame in place, clipping at the int16 bounds.
func ApplyGain(s Samples, gain float64) {
	if gain == 1 {
		return
	}
	for i, v := range s {
		f := float64(v) * gain
		switch {
		case f > math.MaxInt16:
			f = math.MaxInt16
		case f < math.MinInt16:
			f = math.MinInt16
		}
		s[i] = int16(f)
	}
}

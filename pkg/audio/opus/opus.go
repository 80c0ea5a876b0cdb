// Package opus wraps the reference Opus codec with voice-tuned
// defaults for the outgoing track.
package opus

import "gopkg.in/hraban/opus.v2"

type Encoder struct {
	*opus.Encoder

	channels     int
	inFrequency  int
	outFrequency int
}

// NewEncoder builds a voice encoder producing packets at the codec
// rate. Frames arriving at a different capture rate are stretched to
// fit before encoding.
func NewEncoder(inputSampleRate, outputSampleRate, channels int, options ...func(*Encoder) error) (*Encoder, error) {
	encoder, err := opus.NewEncoder(outputSampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	enc := &Encoder{
		Encoder:      encoder,
		channels:     channels,
		inFrequency:  inputSampleRate,
		outFrequency: outputSampleRate,
	}

	_ = enc.SetMaxBandwidth(opus.Fullband)
	_ = enc.SetBitrateToAuto()
	_ = enc.SetComplexity(10)

	for _, option := range options {
		if err = option(enc); err != nil {
			return nil, err
		}
	}
	return enc, nil
}

// Bitrate pins the encoder to a fixed rate in bits per second.
// Zero keeps the automatic rate control.
func Bitrate(bps int) func(*Encoder) error {
	return func(e *Encoder) error {
		if bps <= 0 {
			return nil
		}
		return e.SetBitrate(bps)
	}
}

// FEC enables in-band forward error correction tuned for the given
// expected packet loss percentage.
func FEC(lossPerc int) func(*Encoder) error {
	return func(e *Encoder) error {
		if err := e.SetInBandFEC(true); err != nil {
			return err
		}
		return e.SetPacketLossPerc(lossPerc)
	}
}

func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	if e.inFrequency != e.outFrequency {
		frames := len(pcm) / e.channels * e.outFrequency / e.inFrequency
		pcm = ResampleStretch(pcm, frames, e.channels)
	}
	data := make([]byte, 1024)
	n, err := e.Encoder.Encode(pcm, data)
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

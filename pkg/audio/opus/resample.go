package opus

// ResampleStretch stretches PCM to the given number of frames per
// channel by nearest-frame interpolation. Channels stay interleaved,
// so it works for mono and stereo alike.
func ResampleStretch(pcm []int16, frames, channels int) []int16 {
	if frames <= 0 || channels <= 0 {
		return nil
	}
	out := make([]int16, frames*channels)
	inFrames := len(pcm) / channels
	if inFrames == 0 {
		return out
	}
	ratio := float64(inFrames) / float64(frames)
	for f := 0; f < frames; f++ {
		src := int(float64(f) * ratio)
		if src >= inFrames {
			src = inFrames - 1
		}
		copy(out[f*channels:(f+1)*channels], pcm[src*channels:(src+1)*channels])
	}
	return out
}

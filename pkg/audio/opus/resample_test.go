package opus

import "testing"

func TestResampleStretch(t *testing.T) {
	// 20ms mono at 44100 stretched to the codec rate
	in := make([]int16, 882)
	for i := range in {
		in[i] = int16(i)
	}
	out := ResampleStretch(in, 960, 1)
	if len(out) != 960 {
		t.Fatalf("length = %d, want 960", len(out))
	}
	if out[0] != in[0] || out[959] != in[881] {
		t.Errorf("endpoints not preserved: first %d, last %d", out[0], out[959])
	}
	for i := 1; i < len(out); i++ {
		if out[i] < out[i-1] {
			t.Fatalf("ramp not monotonic at %d: %d < %d", i, out[i], out[i-1])
		}
	}
}

func TestResampleStretchStereo(t *testing.T) {
	// interleaved L/R pairs must stay paired after stretching
	in := []int16{100, -100, 200, -200, 300, -300, 400, -400}
	out := ResampleStretch(in, 8, 2)
	if len(out) != 16 {
		t.Fatalf("length = %d, want 16", len(out))
	}
	for f := 0; f < 8; f++ {
		if out[f*2] != -out[f*2+1] {
			t.Errorf("frame %d lost channel pairing: %d, %d", f, out[f*2], out[f*2+1])
		}
	}
}

func TestResampleStretchDegenerate(t *testing.T) {
	if out := ResampleStretch(nil, 4, 1); len(out) != 4 {
		t.Errorf("empty input: length = %d, want 4", len(out))
	}
	if out := ResampleStretch([]int16{1}, 0, 1); out != nil {
		t.Errorf("zero frames: got %v, want nil", out)
	}
}

package audio

import "time"

// Detector turns raw level readings into a debounced speaking flag.
// The level has to stay above the threshold for the whole debounce
// window before speech is trusted, a single quiet reading ends it
// immediately. That keeps short pops and clicks off the wire while
// cutting the indicator the moment the user stops talking.
type Detector struct {
	threshold float64
	needed    int
	run       int
	active    bool
}

// NewDetector builds a detector for levels sampled every interval.
// The debounce window is rounded up to whole intervals.
func NewDetector(threshold float64, debounce, interval time.Duration) *Detector {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	needed := int((debounce + interval - 1) / interval)
	if needed < 1 {
		needed = 1
	}
	return &Detector{threshold: threshold, needed: needed}
}

// Feed consumes the next level reading and reports whether speech
// is currently active.
func (d *Detector) Feed(level float64) bool {
	if level >= d.threshold {
		if d.run++; d.run >= d.needed {
			d.active = true
		}
	} else {
		d.run = 0
		d.active = false
	}
	return d.active
}

func (d *Detector) Active() bool { return d.active }

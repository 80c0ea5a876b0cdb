// Package display grabs desktop frames for the share pipeline.
package display

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Grabber captures whole displays by index. The zero value is ready.
type Grabber struct{}

// Displays reports how many displays can be captured.
func (Grabber) Displays() int { return screenshot.NumActiveDisplays() }

// Frame captures one full frame of the given display.
func (Grabber) Frame(display int) (*image.RGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays")
	}
	if display < 0 || display >= n {
		return nil, fmt.Errorf("display %d out of range, %d available", display, n)
	}
	return screenshot.CaptureDisplay(display)
}

// Package smoothing provides a time-windowed moving average used to damp per-tick sensor noise
package smoothing

import (
	"math"
	"time"
)

// DefaultWindow is the trailing window length used when none is configured
const DefaultWindow = 5 * time.Second

type sample struct {
	value float64
	at    time.Duration
}

// Window is a moving average over the samples of the trailing window length.
// The window is measured in time rather than sample count because the tick
// rate is not guaranteed constant. It is not safe for concurrent use.
type Window struct {
	length  time.Duration
	samples []sample
}

// NewWindow creates a window of the given length, falling back to DefaultWindow
func NewWindow(length time.Duration) *Window {
	if length <= 0 {
		length = DefaultWindow
	}
	return &Window{length: length}
}

// Length returns the configured window length
func (w *Window) Length() time.Duration {
	return w.length
}

// Add appends a sample taken at time at, then evicts every sample older than the window
func (w *Window) Add(value float64, at time.Duration) {
	w.samples = append(w.samples, sample{value: value, at: at})

	evict := 0
	for evict < len(w.samples) && at-w.samples[evict].at > w.length {
		evict++
	}
	if evict > 0 {
		w.samples = append(w.samples[:0], w.samples[evict:]...)
	}
}

// Average returns the arithmetic mean of the retained samples, or NaN when empty
func (w *Window) Average() float64 {
	if len(w.samples) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, s := range w.samples {
		sum += s.value
	}
	return sum / float64(len(w.samples))
}

// Len returns the number of retained samples
func (w *Window) Len() int {
	return len(w.samples)
}

// Reset discards every sample
func (w *Window) Reset() {
	w.samples = w.samples[:0]
}

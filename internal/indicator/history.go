// Package indicator provides the oscillator sample history and the
// rate-limited client for the external indicator provider.
package indicator

import (
	"errors"
	"math"
)

var (
	// ErrNotEnoughSamples means the history has not yet reached the averaging period.
	ErrNotEnoughSamples = errors.New("indicator: not enough samples for moving average")
	// ErrBadSample means a stored sample was NaN or infinite.
	ErrBadSample = errors.New("indicator: non-finite sample in history")
)

// History is a fixed-capacity FIFO of the most recent oscillator samples.
// The oldest sample is evicted once capacity is reached.
type History struct {
	samples  []float64
	capacity int
}

// NewHistory builds a history holding at most capacity samples.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 16
	}
	return &History{samples: make([]float64, 0, capacity), capacity: capacity}
}

// Add appends a sample, evicting the oldest if the history is full.
func (h *History) Add(value float64) {
	if len(h.samples) == h.capacity {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:h.capacity-1]
	}
	h.samples = append(h.samples, value)
}

// Len reports how many samples are currently held.
func (h *History) Len() int { return len(h.samples) }

// MovingAverage returns the arithmetic mean of the most recent period samples.
// It fails with ErrNotEnoughSamples until period samples exist, and with
// ErrBadSample if any sample in the window is not a finite number.
func (h *History) MovingAverage(period int) (float64, error) {
	if period <= 0 || len(h.samples) < period {
		return 0, ErrNotEnoughSamples
	}
	window := h.samples[len(h.samples)-period:]
	sum := 0.0
	for _, v := range window {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, ErrBadSample
		}
		sum += v
	}
	return sum / float64(period), nil
}

package indicator

import (
	"errors"
	"sync"
	"time"

	"oscibot/internal/util"
)

// ErrCooldown means a fetch was attempted before the shared cooldown elapsed.
// It is expected during normal operation and never queues the request.
var ErrCooldown = errors.New("indicator: fetch cooldown active")

// RateLimiter serializes access to the metered indicator provider. One stamp
// is shared across every indicator kind: fetching any kind starts the window
// for all of them.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	clock  util.Clock
	last   time.Time
}

// NewRateLimiter builds a limiter with the given cooldown window.
func NewRateLimiter(window time.Duration, clock util.Clock) *RateLimiter {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &RateLimiter{window: window, clock: clock}
}

// Allow reports whether a fetch may proceed now. It does not mark the window;
// callers stamp via Stamp only after the upstream call succeeds, so a failed
// fetch leaves the window open for an earlier retry.
func (r *RateLimiter) Allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.last.IsZero() && r.clock.Now().Sub(r.last) < r.window {
		return ErrCooldown
	}
	return nil
}

// Stamp records a successful fetch, opening a fresh cooldown window.
func (r *RateLimiter) Stamp() {
	r.mu.Lock()
	r.last = r.clock.Now()
	r.mu.Unlock()
}

package events

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Throttle caps event delivery with a token bucket. Allow never blocks:
// events over the rate are dropped and counted, keeping a detection storm
// from turning into a collector storm.
type Throttle struct {
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// NewThrottle creates a throttle admitting eventsPerSecond with the given
// burst. A zero or negative rate returns nil, and a nil throttle admits
// everything.
func NewThrottle(eventsPerSecond float64, burst int) *Throttle {
	if eventsPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst)}
}

// Allow reports whether one more event fits the budget.
func (t *Throttle) Allow() bool {
	if t == nil {
		return true
	}
	if t.limiter.Allow() {
		return true
	}
	t.dropped.Add(1)
	return false
}

// Dropped returns how many events the throttle has rejected.
func (t *Throttle) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.dropped.Load()
}

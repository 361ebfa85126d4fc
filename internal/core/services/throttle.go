package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is the global backpressure shared by every worker of a run.
// It combines a proactive token bucket with a cooldown window that is
// tripped whenever the platform signals a rate limit.
type Throttle struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	cooldown time.Duration
	resumeAt time.Time
	trips    int
}

// NewThrottle creates a throttle allowing requestsPerSecond sustained requests.
// cooldown is the minimum pause after a rate limit signal.
func NewThrottle(requestsPerSecond float64, cooldown time.Duration) *Throttle {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		cooldown: cooldown,
	}
}

// Wait blocks until a request can be made.
// It first respects any cooldown window, then the token bucket.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		resumeAt := t.resumeAt
		t.mu.Unlock()

		wait := time.Until(resumeAt)
		if wait <= 0 {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		// Another worker may have extended the window while we slept.
	}
	return t.limiter.Wait(ctx)
}

// Trip opens a cooldown window of max(retryAfter, cooldown).
// An already open window is only ever extended.
func (t *Throttle) Trip(retryAfter time.Duration) {
	pause := t.cooldown
	if retryAfter > pause {
		pause = retryAfter
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.trips++
	if until := time.Now().Add(pause); until.After(t.resumeAt) {
		t.resumeAt = until
	}
}

// Paused returns true while a cooldown window is open.
func (t *Throttle) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Now().Before(t.resumeAt)
}

// Trips returns how many rate limit signals have been recorded.
func (t *Throttle) Trips() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trips
}

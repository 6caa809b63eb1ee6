package enrich

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time for the limiter so tests can drive it
// deterministically.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// minIntervalLimiter enforces a minimum spacing between external lookups
// across every concurrent enrichment job. The external API's quota is
// account-wide, so the limiter is global, not per worker.
type minIntervalLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	clock    Clock
	lastCall time.Time
}

func newMinIntervalLimiter(interval time.Duration, clock Clock) *minIntervalLimiter {
	if clock == nil {
		clock = realClock{}
	}
	return &minIntervalLimiter{
		interval: interval,
		clock:    clock,
	}
}

// Wait blocks until the caller may make the next external call. Callers are
// serialized: the mutex is held across the sleep, which is exactly the
// single-flight behavior the account-wide quota needs.
func (l *minIntervalLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if !l.lastCall.IsZero() {
		if wait := l.interval - now.Sub(l.lastCall); wait > 0 {
			if err := l.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	l.lastCall = l.clock.Now()
	return nil
}

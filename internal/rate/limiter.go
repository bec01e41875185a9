// Package rate provides the sliding-window limiter that sits in front of
// every upstream action.
package rate

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most max actions per rolling window. Acquire blocks the
// caller until a slot frees up. The whole acquire body runs under one mutex,
// so concurrent callers are admitted roughly in arrival order.
type Limiter struct {
	max    int
	window time.Duration

	mu  sync.Mutex
	ts  []time.Time
	now func() time.Time
}

func NewLimiter(maxActions int, window time.Duration) *Limiter {
	if maxActions < 1 {
		maxActions = 1
	}
	if window < time.Second {
		window = time.Second
	}
	return &Limiter{
		max:    maxActions,
		window: window,
		now:    time.Now,
	}
}

// Acquire blocks until an action slot is free, then claims it. When the
// window is full it sleeps until the oldest timestamp ages out, re-trims and
// claims the freed slot. Returns early with the context error on cancel.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.trim(now)

	if len(l.ts) >= l.max {
		wait := l.ts[0].Add(l.window).Sub(now)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		l.trim(l.now())
	}

	l.ts = append(l.ts, l.now())
	return nil
}

// trim drops timestamps that have left the window.
func (l *Limiter) trim(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.ts) && l.ts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.ts = append(l.ts[:0], l.ts[i:]...)
	}
}

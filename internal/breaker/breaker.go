// Package breaker implements the global cooldown gate opened by
// upstream-signalled wait and flood conditions.
package breaker

import (
	"context"
	"sync"
	"time"
)

// Breaker holds a single open-until deadline. Openings only ever extend the
// deadline; waiting callers observe extensions that land mid-sleep.
type Breaker struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func New() *Breaker {
	return &Breaker{now: time.Now}
}

// OpenFor extends the cooldown to now+d unless the current deadline is
// already later. Negative durations count as zero.
func (b *Breaker) OpenFor(d time.Duration) {
	if d < 0 {
		d = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if until := b.now().Add(d); until.After(b.until) {
		b.until = until
	}
}

// Wait blocks until the cooldown has passed. It re-checks the deadline after
// every sleep, so an OpenFor issued while waiting lengthens the wait.
func (b *Breaker) Wait(ctx context.Context) error {
	for {
		remaining := b.Remaining()
		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining reports how much cooldown is left; zero when the gate is closed.
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r := b.until.Sub(b.now()); r > 0 {
		return r
	}
	return 0
}

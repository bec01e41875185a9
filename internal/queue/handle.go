package queue

import (
	"context"
	"sync"
)

// Handle resolves exactly once with the job's terminal result. Any number
// of waiters may observe it.
type Handle struct {
	once sync.Once
	res  Result
	done chan struct{}
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Complete resolves the handle. Calls after the first are ignored.
func (h *Handle) Complete(r Result) {
	h.once.Do(func() {
		h.res = r
		close(h.done)
	})
}

// Wait blocks until the job completes or ctx is canceled.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-h.done:
		return h.res, nil
	}
}

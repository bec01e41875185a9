// Package queue is the bounded hand-off between ingress and the single
// upstream worker.
package queue

import (
	"context"
	"errors"
	"inn-gateway/internal/observability"
	"inn-gateway/internal/result"

	"github.com/google/uuid"
)

// ErrFull is returned on enqueue when the queue is at capacity. The caller
// informs the user instead of blocking.
var ErrFull = errors.New("queue full")

// Job is one admitted lookup. INN and FIO are already validated by the
// ingress side.
type Job struct {
	ID     uuid.UUID
	UserID int64
	ChatID int64
	INN    string
	FIO    string
	Handle *Handle
}

// NewJob builds an admitted lookup with a fresh completion handle.
func NewJob(userID, chatID int64, inn, fio string) *Job {
	return &Job{
		ID:     uuid.New(),
		UserID: userID,
		ChatID: chatID,
		INN:    inn,
		FIO:    fio,
		Handle: newHandle(),
	}
}

// Result is a job's terminal state. Text is always populated with the
// user-facing message; Fields only when Status is OK.
type Result struct {
	Status result.Status
	Text   string
	Fields result.Fields
}

// Queue is a bounded FIFO with non-blocking admission and blocking take.
type Queue struct {
	jobs    chan *Job
	metrics *observability.Metrics
}

func New(capacity int, m *observability.Metrics) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		jobs:    make(chan *Job, capacity),
		metrics: m,
	}
}

// Put admits a job without blocking. A full queue is reported as ErrFull,
// never as a wait.
func (q *Queue) Put(j *Job) error {
	select {
	case q.jobs <- j:
		q.metrics.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return ErrFull
	}
}

// Take blocks until a job is available or ctx is canceled.
func (q *Queue) Take(ctx context.Context) (*Job, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case j := <-q.jobs:
		q.metrics.QueueDepth.Set(float64(len(q.jobs)))
		return j, true
	}
}

// Drain empties the queue without blocking and returns what was waiting.
// Used at shutdown to resolve outstanding handles.
func (q *Queue) Drain() []*Job {
	var out []*Job
	for {
		select {
		case j := <-q.jobs:
			out = append(out, j)
		default:
			q.metrics.QueueDepth.Set(float64(len(q.jobs)))
			return out
		}
	}
}

// Depth reports how many jobs are waiting right now.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

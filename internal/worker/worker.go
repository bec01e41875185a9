// Package worker runs the single drainer that owns all upstream traffic.
// Exactly one worker serves the queue; more would break the upstream's rate
// contract.
package worker

import (
	"context"
	"errors"
	"inn-gateway/internal/breaker"
	"inn-gateway/internal/cache"
	"inn-gateway/internal/observability"
	"inn-gateway/internal/queue"
	"inn-gateway/internal/result"
	"inn-gateway/internal/upstream"
	"time"

	"go.uber.org/zap"
)

// Conversation is the slice of the upstream driver the worker needs.
type Conversation interface {
	SendAndWait(ctx context.Context, text string) (upstream.Message, error)
	WaitEdit(ctx context.Context, msg upstream.Message) upstream.Message
	ClickAndCollect(ctx context.Context, msg upstream.Message, btn upstream.Button) ([]upstream.Message, error)
}

type Worker struct {
	queue   *queue.Queue
	cache   *cache.Store
	conv    Conversation
	breaker *breaker.Breaker
	masker  result.Masker
	metrics *observability.Metrics
	logger  *zap.Logger
}

func New(q *queue.Queue, c *cache.Store, conv Conversation, b *breaker.Breaker, masker result.Masker, m *observability.Metrics, logger *zap.Logger) *Worker {
	if masker == nil {
		masker = result.IdentityMasker{}
	}
	return &Worker{
		queue:   q,
		cache:   c,
		conv:    conv,
		breaker: b,
		masker:  masker,
		metrics: m,
		logger:  logger,
	}
}

// Run drains the queue until ctx is canceled, then resolves whatever is
// still queued with ERROR so no waiter hangs across shutdown.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")

	for {
		job, ok := w.queue.Take(ctx)
		if !ok {
			break
		}
		w.process(ctx, job)
	}

	leftover := w.queue.Drain()
	for _, job := range leftover {
		job.Handle.Complete(queue.Result{
			Status: result.StatusError,
			Text:   textShutdown,
		})
	}
	w.logger.Info("worker stopped", zap.Int("drained", len(leftover)))
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	start := time.Now()
	res := w.lookup(ctx, job)
	job.Handle.Complete(res)

	status := string(res.Status)
	w.metrics.JobsProcessedTotal.WithLabelValues(status).Inc()
	w.metrics.JobDurationSeconds.WithLabelValues(status).Observe(time.Since(start).Seconds())
	w.logger.Info("job done",
		zap.String("job_id", job.ID.String()),
		zap.Int64("user_id", job.UserID),
		zap.String("inn", job.INN),
		zap.String("status", status),
		zap.Duration("took", time.Since(start)))
}

// lookup runs one query end to end: cache, send, edit watch, label match,
// click, classify. Every failure is mapped to a terminal status; nothing
// escapes as a plain error.
func (w *Worker) lookup(ctx context.Context, job *queue.Job) queue.Result {
	key := result.CacheKey(job.INN, job.FIO)

	entry, ok, err := w.cache.Get(ctx, key)
	switch {
	case err != nil:
		// A store failure is not a miss; the lookup still goes upstream.
		w.metrics.CacheErrorsTotal.Inc()
		w.logger.Error("cache get failed", zap.Error(err))
	case ok:
		w.metrics.CacheHitsTotal.Inc()
		return queue.Result{
			Status: result.StatusOK,
			Text:   entry.Value,
			Fields: result.ParseFields(entry.Value),
		}
	default:
		w.metrics.CacheMissesTotal.Inc()
	}

	first, err := w.conv.SendAndWait(ctx, "/inn "+job.INN)
	if err != nil {
		return w.failure(err)
	}

	// The first reply may already be terminal: an explicit no-match, the
	// daily cap notice, or even the summary itself.
	if out := result.Classify(first.Text, nil, w.masker); out.Status != result.StatusError {
		return w.terminal(ctx, key, out)
	}

	edited := w.conv.WaitEdit(ctx, first)

	btn, ok := upstream.FindButton(edited, job.FIO)
	if !ok {
		return queue.Result{
			Status: result.StatusNotFound,
			Text:   notFoundLabelsText(job.FIO, edited.Labels()),
		}
	}

	collected, err := w.conv.ClickAndCollect(ctx, edited, btn)
	if err != nil {
		return w.failure(err)
	}

	texts := make([]string, 0, len(collected))
	for _, m := range collected {
		texts = append(texts, m.Text)
	}
	return w.terminal(ctx, key, result.Classify(first.Text, texts, w.masker))
}

// terminal finishes classification: OK results are written to the cache,
// everything else gets its explanatory text.
func (w *Worker) terminal(ctx context.Context, key string, out result.Outcome) queue.Result {
	switch out.Status {
	case result.StatusOK:
		if err := w.cache.Set(ctx, key, out.Text); err != nil {
			w.metrics.CacheErrorsTotal.Inc()
			w.logger.Error("cache set failed", zap.Error(err))
		}
		return queue.Result{Status: result.StatusOK, Text: out.Text, Fields: out.Fields}
	case result.StatusLimit:
		return queue.Result{Status: result.StatusLimit, Text: textLimit}
	case result.StatusNotFound:
		return queue.Result{Status: result.StatusNotFound, Text: textNotFound}
	default:
		return queue.Result{Status: result.StatusError, Text: textError}
	}
}

// failure maps driver errors onto terminal statuses. Breaker side effects
// already happened inside the driver; the remaining cooldown is read back
// for the user message.
func (w *Worker) failure(err error) queue.Result {
	var wait *upstream.WaitError
	var flood *upstream.AccountFloodError
	if errors.As(err, &wait) || errors.As(err, &flood) {
		return queue.Result{
			Status: result.StatusFlood,
			Text:   floodText(w.breaker.Remaining()),
		}
	}

	var forbidden *upstream.ForbiddenError
	if errors.As(err, &forbidden) {
		w.logger.Warn("upstream forbids the conversation", zap.Error(err))
		return queue.Result{Status: result.StatusForbidden, Text: textForbidden}
	}

	w.logger.Warn("lookup failed", zap.Error(err))
	return queue.Result{Status: result.StatusError, Text: textError}
}

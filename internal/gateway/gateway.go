// Package gateway is the service layer behind the ingress: it validates
// user input, charges the quota, consults the cache and hands work to the
// queue or the batch executor.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"inn-gateway/internal/batch"
	"inn-gateway/internal/cache"
	"inn-gateway/internal/ingress"
	"inn-gateway/internal/observability"
	"inn-gateway/internal/queue"
	"inn-gateway/internal/quota"
	"inn-gateway/internal/result"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Service implements ingress.Handler. Handlers may run concurrently; they
// share state only through the quota, the cache and the queue.
type Service struct {
	replier     ingress.Replier
	quota       *quota.Quota
	cache       *cache.Store
	queue       *queue.Queue
	batch       *batch.Executor
	metrics     *observability.Metrics
	logger      *zap.Logger
	privateOnly bool
}

var _ ingress.Handler = (*Service)(nil)

func NewService(
	replier ingress.Replier,
	q *quota.Quota,
	c *cache.Store,
	jobs *queue.Queue,
	exec *batch.Executor,
	m *observability.Metrics,
	logger *zap.Logger,
	privateOnly bool,
) *Service {
	return &Service{
		replier:     replier,
		quota:       q,
		cache:       c,
		queue:       jobs,
		batch:       exec,
		metrics:     m,
		logger:      logger,
		privateOnly: privateOnly,
	}
}

// OnText handles one user text message: commands, then the "ИНН; ФИО"
// lookup format.
func (s *Service) OnText(ctx context.Context, from ingress.Sender, text string) {
	if s.ignored(from) {
		return
	}

	text = strings.TrimSpace(text)
	switch text {
	case "/start", "/help":
		s.reply(ctx, from.ChatID, textHelp)
		return
	case "/whoami":
		s.reply(ctx, from.ChatID, fmt.Sprintf("Ваш ID: %d", from.UserID))
		return
	}

	inn, fio, ok := parseQuery(text)
	if !ok {
		s.reply(ctx, from.ChatID, textBadFormat)
		return
	}

	if !s.admit(ctx, from) {
		return
	}

	// A cached answer costs no upstream action at all.
	key := result.CacheKey(inn, fio)
	if entry, hit, err := s.cache.Get(ctx, key); err != nil {
		s.metrics.CacheErrorsTotal.Inc()
		s.logger.Error("cache get failed", zap.Error(err))
	} else if hit {
		s.metrics.CacheHitsTotal.Inc()
		s.reply(ctx, from.ChatID, entry.Value)
		return
	}

	s.reply(ctx, from.ChatID, sendingText(inn, fio))

	job := queue.NewJob(from.UserID, from.ChatID, inn, fio)
	if err := s.queue.Put(job); err != nil {
		s.metrics.JobsRejectedTotal.WithLabelValues("queue_full").Inc()
		s.logger.Warn("queue full, lookup rejected",
			zap.Int64("user_id", from.UserID))
		s.reply(ctx, from.ChatID, textQueueFull)
		return
	}

	res, err := job.Handle.Wait(ctx)
	if err != nil {
		s.logger.Warn("abandoned waiting for job",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	s.reply(ctx, from.ChatID, res.Text)
}

// OnDocument handles one uploaded file. Only .xlsx documents enter the
// batch path; the quota is charged once per file, not per row.
func (s *Service) OnDocument(ctx context.Context, from ingress.Sender, file ingress.FileRef) {
	if s.ignored(from) {
		return
	}

	if !strings.HasSuffix(strings.ToLower(file.Name), ".xlsx") {
		s.reply(ctx, from.ChatID, textBadDocument)
		return
	}

	if !s.admit(ctx, from) {
		return
	}

	data, err := s.replier.FetchBytes(ctx, file)
	if err != nil {
		s.logger.Error("file fetch failed",
			zap.String("file", file.Name), zap.Error(err))
		s.reply(ctx, from.ChatID, textFileFetch)
		return
	}

	progressRef, progressErr := s.replier.SendText(ctx, from.ChatID, textProcessingFile)
	progress := func(done, total int) {
		if progressErr != nil {
			return
		}
		if err := s.replier.EditText(ctx, progressRef, progressText(done, total)); err != nil {
			s.logger.Warn("progress edit failed", zap.Error(err))
		}
	}

	report, err := s.batch.Run(ctx, from.UserID, from.ChatID, data, progress)
	if err != nil {
		if errors.Is(err, batch.ErrColumns) {
			s.reply(ctx, from.ChatID, textBadColumns)
			return
		}
		s.logger.Error("batch run failed",
			zap.String("file", file.Name), zap.Error(err))
		s.reply(ctx, from.ChatID, textBatchFailed)
		return
	}

	s.reply(ctx, from.ChatID, batchDoneText(report.Processed, report.Pending))
	s.sendReportFile(ctx, from.ChatID, report.OutputPath, report.OutputName)
	if report.PendingPath != "" {
		s.reply(ctx, from.ChatID, textBatchLimited)
		s.sendReportFile(ctx, from.ChatID, report.PendingPath, report.PendingName)
	}
}

// ignored applies the private-only visibility filter: non-private chats are
// dropped without a reply.
func (s *Service) ignored(from ingress.Sender) bool {
	if s.privateOnly && !from.Private {
		s.logger.Debug("non-private chat ignored", zap.Int64("chat_id", from.ChatID))
		return true
	}
	return false
}

// admit charges the per-user quota and tells the user when they are over it.
func (s *Service) admit(ctx context.Context, from ingress.Sender) bool {
	ok, retry := s.quota.Allow(from.UserID)
	if ok {
		return true
	}
	s.metrics.QuotaRejectedTotal.Inc()
	s.logger.Info("quota exceeded",
		zap.Int64("user_id", from.UserID),
		zap.Duration("retry_after", retry))
	s.reply(ctx, from.ChatID, quotaText(retry))
	return false
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if _, err := s.replier.SendText(ctx, chatID, text); err != nil {
		s.logger.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// sendReportFile delivers a workbook and removes its temp file afterwards.
func (s *Service) sendReportFile(ctx context.Context, chatID int64, path, name string) {
	if err := s.replier.SendFile(ctx, chatID, path, name); err != nil {
		s.logger.Warn("file delivery failed",
			zap.Int64("chat_id", chatID),
			zap.String("filename", name),
			zap.Error(err))
	}
	if err := os.Remove(path); err != nil {
		s.logger.Warn("temp file cleanup failed", zap.String("path", path), zap.Error(err))
	}
}

// parseQuery splits the "ИНН; ФИО" input format. Both parts must be
// non-empty after trimming.
func parseQuery(text string) (inn, fio string, ok bool) {
	parts := strings.SplitN(text, ";", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	inn = strings.TrimSpace(parts[0])
	fio = strings.TrimSpace(parts[1])
	return inn, fio, inn != "" && fio != ""
}

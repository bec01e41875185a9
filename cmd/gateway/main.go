package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inn-gateway/internal/batch"
	"inn-gateway/internal/breaker"
	"inn-gateway/internal/cache"
	"inn-gateway/internal/config"
	"inn-gateway/internal/gateway"
	"inn-gateway/internal/ingress"
	"inn-gateway/internal/observability"
	"inn-gateway/internal/ops"
	"inn-gateway/internal/queue"
	"inn-gateway/internal/quota"
	"inn-gateway/internal/rate"
	"inn-gateway/internal/result"
	"inn-gateway/internal/telegram"
	"inn-gateway/internal/upstream"
	"inn-gateway/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// purgeInterval is how often expired cache entries and idle quota windows
// are swept in the background.
const purgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.GetLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting inn-gateway",
		zap.String("bot", cfg.BotUsername),
		zap.String("log_level", cfg.LogLevel))

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	if cfg.MetricsEnabled {
		shutdownOtel, err := observability.SetupOpenTelemetry("inn-gateway", logger)
		if err != nil {
			logger.Fatal("failed to set up OpenTelemetry", zap.Error(err))
		}
		defer shutdownOtel()
	}

	store, err := cache.Open(cfg.CacheDBPath, cfg.CacheTTL())
	if err != nil {
		logger.Fatal("failed to open cache", zap.Error(err))
	}
	defer store.Close()

	transport, err := telegram.New(telegram.Options{
		APIID:       cfg.TGAPIID,
		APIHash:     cfg.TGAPIHash,
		SessionName: cfg.TGSessionName,
		BotUsername: cfg.BotUsername,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build telegram transport", zap.Error(err))
	}

	gate := breaker.New()
	limiter := rate.NewLimiter(cfg.RateMaxActions, cfg.RateWindow())
	userQuota := quota.New(cfg.UserQuotaPerHour)
	jobs := queue.New(cfg.QueueMaxSize, metrics)

	delayMin, delayMax := cfg.SendDelayBounds()
	driver := upstream.NewDriver(transport, gate, limiter, metrics, logger.Named("driver"), upstream.Config{
		Timeout:           cfg.DefaultTimeout(),
		SendDelayMin:      delayMin,
		SendDelayMax:      delayMax,
		FloodWaitBuffer:   cfg.FloodWaitBuffer(),
		PeerFloodCooldown: cfg.PeerFloodCooldown(),
	})

	drainer := worker.New(jobs, store, driver, gate, result.IdentityMasker{}, metrics, logger.Named("worker"))
	executor := batch.NewExecutor(store, jobs, metrics, logger.Named("batch"), "")

	// The control-bot front-end is attached from outside this module; until
	// it is, replies are logged and documents cannot be fetched.
	replier := ingress.LogReplier{Logger: logger.Named("ingress")}
	service := gateway.NewService(replier, userQuota, store, jobs, executor, metrics, logger.Named("gateway"), bool(cfg.ControlPrivateOnly))

	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		gatherer = prometheus.DefaultGatherer
	}
	ready := func() bool {
		select {
		case <-transport.Ready():
			return true
		default:
			return false
		}
	}
	opsServer, err := ops.New(cfg.OpsPort, cfg.OpsAPIKey, ops.Deps{
		Queue:    jobs,
		Breaker:  gate,
		Quota:    userQuota,
		Cache:    store,
		Gatherer: gatherer,
		Ready:    ready,
		Handler:  service,
	}, logger.Named("ops"))
	if err != nil {
		logger.Fatal("failed to build ops server", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		return transport.Run(ctx)
	})

	g.Go(func() error {
		// Jobs would only fail until the session is up, so hold the worker
		// back until the bot peer is resolved.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-transport.Ready():
		}
		drainer.Run(ctx)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if removed, err := store.PurgeExpired(ctx); err != nil {
					logger.Error("cache purge failed", zap.Error(err))
				} else if removed > 0 {
					logger.Info("cache purged", zap.Int64("removed", removed))
				}
				userQuota.Prune()
			}
		}
	})

	g.Go(opsServer.Listen)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("gateway shut down")
}

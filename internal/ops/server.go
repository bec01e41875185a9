// Package ops serves the operational HTTP surface: health and readiness
// probes, a stats snapshot, Prometheus metrics and a key-protected admin
// route to purge the cache.
package ops

import (
	"context"
	"time"

	"inn-gateway/internal/breaker"
	"inn-gateway/internal/cache"
	"inn-gateway/internal/ingress"
	"inn-gateway/internal/queue"
	"inn-gateway/internal/quota"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Server hosts the ops endpoints on its own port, away from user traffic.
type Server struct {
	app    *fiber.App
	logger *zap.Logger
	port   string
}

// Deps are the components the ops surface reports on and administers.
type Deps struct {
	Queue    *queue.Queue
	Breaker  *breaker.Breaker
	Quota    *quota.Quota
	Cache    *cache.Store
	Gatherer prometheus.Gatherer
	// Ready reports whether the upstream session is up.
	Ready func() bool
	// Handler runs admin-injected lookups through the full pipeline.
	Handler ingress.Handler
}

// New assembles the fiber app. A non-empty apiKey arms the admin routes;
// with an empty key they respond 404.
func New(port, apiKey string, deps Deps, logger *zap.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("http_request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Get("X-Request-ID")))
		return err
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "timestamp": time.Now().Unix()})
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		if deps.Ready != nil && !deps.Ready() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "upstream session not ready"})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})

	app.Get("/stats", func(c *fiber.Ctx) error {
		entries, err := deps.Cache.Len(c.Context())
		if err != nil {
			logger.Error("cache len failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache unavailable"})
		}
		return c.JSON(fiber.Map{
			"queue_depth":            deps.Queue.Depth(),
			"breaker_open_seconds":   int(deps.Breaker.Remaining().Seconds()),
			"quota_users_tracked":    deps.Quota.Users(),
			"cache_entries":          entries,
			"upstream_session_ready": deps.Ready == nil || deps.Ready(),
		})
	})

	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(
			deps.Gatherer, promhttp.HandlerOpts{})))
	}

	admin := app.Group("/admin", requireKey(apiKey, logger))
	admin.Post("/cache/purge", func(c *fiber.Ctx) error {
		removed, err := deps.Cache.PurgeExpired(c.Context())
		if err != nil {
			logger.Error("cache purge failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "purge failed"})
		}
		logger.Info("cache purged via admin route", zap.Int64("removed", removed))
		return c.JSON(fiber.Map{"removed": removed})
	})

	// Drives one text update through the pipeline as if a user had sent it.
	// Replies surface wherever the attached front-end delivers them.
	admin.Post("/lookup", func(c *fiber.Ctx) error {
		if deps.Handler == nil {
			return c.SendStatus(fiber.StatusNotFound)
		}
		var req struct {
			UserID int64  `json:"user_id"`
			ChatID int64  `json:"chat_id"`
			Text   string `json:"text"`
		}
		if err := c.BodyParser(&req); err != nil || req.Text == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id, chat_id and text are required"})
		}
		deps.Handler.OnText(c.Context(), ingress.Sender{
			UserID:  req.UserID,
			ChatID:  req.ChatID,
			Private: true,
		}, req.Text)
		return c.JSON(fiber.Map{"status": "done"})
	})

	return &Server{app: app, logger: logger, port: port}, nil
}

// requireKey guards admin routes with a bcrypt-compared API key. The hash
// is computed once here so the plaintext key never sits in the handler
// closure.
func requireKey(apiKey string, logger *zap.Logger) fiber.Handler {
	if apiKey == "" {
		return func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNotFound)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("hashing ops api key failed, admin routes disabled", zap.Error(err))
		return func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNotFound)
		}
	}

	return func(c *fiber.Ctx) error {
		if bcrypt.CompareHashAndPassword(hash, []byte(c.Get("X-API-Key"))) != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid API key"})
		}
		return c.Next()
	}
}

// Listen blocks serving requests until Shutdown is called.
func (s *Server) Listen() error {
	s.logger.Info("ops server listening", zap.String("port", s.port))
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the server, waiting up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return s.app.Shutdown()
	}
	return s.app.ShutdownWithTimeout(time.Until(deadline))
}

// App exposes the underlying fiber app for in-process request tests.
func (s *Server) App() *fiber.App {
	return s.app
}

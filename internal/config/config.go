package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// TruthyBool parses the historical truthy spellings of the control-bot
// flags: 1, true and yes (any case). Everything else is false.
type TruthyBool bool

func (b *TruthyBool) Decode(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		*b = true
	default:
		*b = false
	}
	return nil
}

type Config struct {
	// Upstream account (MTProto)
	TGAPIID       int    `envconfig:"TG_API_ID" required:"true"`
	TGAPIHash     string `envconfig:"TG_API_HASH" required:"true"`
	TGSessionName string `envconfig:"TG_SESSION_NAME" default:"me"`

	// Target bot
	BotUsername string `envconfig:"BOT_USERNAME" required:"true"`

	// Runtime
	DefaultTimeoutSeconds float64 `envconfig:"DEFAULT_TIMEOUT" default:"20"`
	LogLevel              string  `envconfig:"LOG_LEVEL" default:"info"`

	// Jitter before each upstream action (seconds)
	SendDelayMin float64 `envconfig:"SEND_DELAY_MIN" default:"0.15"`
	SendDelayMax float64 `envconfig:"SEND_DELAY_MAX" default:"0.45"`

	// Sliding-window rate limiting of upstream actions
	RateMaxActions    int     `envconfig:"RATE_MAX_ACTIONS" default:"15"`
	RateWindowSeconds float64 `envconfig:"RATE_WINDOW_SECONDS" default:"60"`

	// Cooldowns imposed after upstream wait signals
	FloodWaitBufferSeconds   float64 `envconfig:"FLOODWAIT_BUFFER_SECONDS" default:"2"`
	PeerFloodCooldownSeconds float64 `envconfig:"PEERFLOOD_COOLDOWN_SECONDS" default:"21600"`

	// Result cache
	CacheDBPath     string `envconfig:"CACHE_DB_PATH" default:"./.cache.sqlite3"`
	CacheTTLSeconds int    `envconfig:"CACHE_TTL_SECONDS" default:"21600"`

	// Per-user admission quota (rolling hour)
	UserQuotaPerHour int `envconfig:"USER_QUOTA_PER_HOUR" default:"30"`

	// Job queue
	QueueMaxSize int `envconfig:"QUEUE_MAXSIZE" default:"200"`

	// Control (ingress) bot
	ControlBotToken    string     `envconfig:"CONTROL_BOT_TOKEN" required:"true"`
	ControlPrivateOnly TruthyBool `envconfig:"CONTROL_PRIVATE_ONLY" default:"1"`

	// Ops HTTP server
	OpsPort        string `envconfig:"OPS_PORT" default:"8080"`
	OpsAPIKey      string `envconfig:"OPS_API_KEY"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(cfg.BotUsername, "@") {
		cfg.BotUsername = "@" + cfg.BotUsername
	}

	if cfg.TGAPIID <= 0 {
		return nil, fmt.Errorf("TG_API_ID must be a positive integer, got %d", cfg.TGAPIID)
	}
	if cfg.QueueMaxSize < 1 {
		return nil, fmt.Errorf("QUEUE_MAXSIZE must be at least 1, got %d", cfg.QueueMaxSize)
	}

	return &cfg, nil
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

// DefaultTimeout is the overall deadline T for a single upstream action.
func (c *Config) DefaultTimeout() time.Duration { return seconds(c.DefaultTimeoutSeconds) }

func (c *Config) RateWindow() time.Duration { return seconds(c.RateWindowSeconds) }

func (c *Config) FloodWaitBuffer() time.Duration { return seconds(c.FloodWaitBufferSeconds) }

func (c *Config) PeerFloodCooldown() time.Duration { return seconds(c.PeerFloodCooldownSeconds) }

// CacheTTL of zero or below means cached entries never expire.
func (c *Config) CacheTTL() time.Duration { return seconds(float64(c.CacheTTLSeconds)) }

// SendDelayBounds returns the jitter interval, clamped so the lower bound is
// never negative and never above the upper bound.
func (c *Config) SendDelayBounds() (time.Duration, time.Duration) {
	lo := seconds(c.SendDelayMin)
	hi := seconds(c.SendDelayMax)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

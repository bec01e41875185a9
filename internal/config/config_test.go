package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TG_API_ID", "123456")
	t.Setenv("TG_API_HASH", "abcdef0123456789")
	t.Setenv("BOT_USERNAME", "lookup_bot")
	t.Setenv("CONTROL_BOT_TOKEN", "42:token")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.TGSessionName != "me" {
		t.Errorf("TGSessionName = %q, want %q", cfg.TGSessionName, "me")
	}
	if cfg.DefaultTimeout() != 20*time.Second {
		t.Errorf("DefaultTimeout = %v, want 20s", cfg.DefaultTimeout())
	}
	if cfg.RateMaxActions != 15 {
		t.Errorf("RateMaxActions = %d, want 15", cfg.RateMaxActions)
	}
	if cfg.RateWindow() != time.Minute {
		t.Errorf("RateWindow = %v, want 1m", cfg.RateWindow())
	}
	if cfg.PeerFloodCooldown() != 6*time.Hour {
		t.Errorf("PeerFloodCooldown = %v, want 6h", cfg.PeerFloodCooldown())
	}
	if cfg.CacheTTLSeconds != 21600 {
		t.Errorf("CacheTTLSeconds = %d, want 21600", cfg.CacheTTLSeconds)
	}
	if cfg.UserQuotaPerHour != 30 {
		t.Errorf("UserQuotaPerHour = %d, want 30", cfg.UserQuotaPerHour)
	}
	if cfg.QueueMaxSize != 200 {
		t.Errorf("QueueMaxSize = %d, want 200", cfg.QueueMaxSize)
	}
	if !bool(cfg.ControlPrivateOnly) {
		t.Error("ControlPrivateOnly should default to true")
	}
}

func TestLoadEnsuresAtPrefix(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BotUsername != "@lookup_bot" {
		t.Errorf("BotUsername = %q, want %q", cfg.BotUsername, "@lookup_bot")
	}

	t.Setenv("BOT_USERNAME", "@already")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.BotUsername != "@already" {
		t.Errorf("BotUsername = %q, want %q", cfg.BotUsername, "@already")
	}
}

func TestTruthyBool(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"1", true},
		{"true", true},
		{"True", true},
		{"YES", true},
		{"yes", true},
		{"0", false},
		{"false", false},
		{"no", false},
		{"", false},
		{"2", false},
	}

	for _, tc := range cases {
		var b TruthyBool
		if err := b.Decode(tc.in); err != nil {
			t.Fatalf("Decode(%q) error: %v", tc.in, err)
		}
		if bool(b) != tc.want {
			t.Errorf("Decode(%q) = %v, want %v", tc.in, bool(b), tc.want)
		}
	}
}

func TestSendDelayBoundsClamped(t *testing.T) {
	setRequired(t)
	t.Setenv("SEND_DELAY_MIN", "0.5")
	t.Setenv("SEND_DELAY_MAX", "0.1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	lo, hi := cfg.SendDelayBounds()
	if hi < lo {
		t.Errorf("bounds not clamped: lo=%v hi=%v", lo, hi)
	}
	if lo != 500*time.Millisecond {
		t.Errorf("lo = %v, want 500ms", lo)
	}
}

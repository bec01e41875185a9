package ops

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"inn-gateway/internal/breaker"
	"inn-gateway/internal/cache"
	"inn-gateway/internal/observability"
	"inn-gateway/internal/queue"
	"inn-gateway/internal/quota"
)

func newTestServer(t *testing.T, apiKey string, ready bool) (*Server, *cache.Store) {
	t.Helper()

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.sqlite3"), time.Hour)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	srv, err := New("0", apiKey, Deps{
		Queue:    queue.New(5, m),
		Breaker:  breaker.New(),
		Quota:    quota.New(10),
		Cache:    store,
		Gatherer: reg,
		Ready:    func() bool { return ready },
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, store
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "", true)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/healthz", nil))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestReadyzReflectsSession(t *testing.T) {
	srv, _ := newTestServer(t, "", false)
	resp, err := srv.App().Test(httptest.NewRequest("GET", "/readyz", nil))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Fatalf("status = %d, want 503 before the session is up", resp.StatusCode)
	}

	srv, _ = newTestServer(t, "", true)
	resp, err = srv.App().Test(httptest.NewRequest("GET", "/readyz", nil))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200 once ready", resp.StatusCode)
	}
}

func TestStatsSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, "", true)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/stats", nil))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"queue_depth", "breaker_open_seconds", "quota_users_tracked", "cache_entries"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("stats missing %q: %v", key, stats)
		}
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := newTestServer(t, "", true)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "gateway_queue_depth") {
		t.Fatal("metrics output missing gateway collectors")
	}
}

func TestAdminPurgeRequiresKey(t *testing.T) {
	srv, store := newTestServer(t, "sekret", true)

	if err := store.Set(context.Background(), "inn:1|fio:x", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	resp, err := srv.App().Test(httptest.NewRequest("POST", "/admin/cache/purge", nil))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != 401 {
		t.Fatalf("status without key = %d, want 401", resp.StatusCode)
	}

	req := httptest.NewRequest("POST", "/admin/cache/purge", nil)
	req.Header.Set("X-API-Key", "sekret")
	resp, err = srv.App().Test(req)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status with key = %d, want 200", resp.StatusCode)
	}
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	srv, _ := newTestServer(t, "", true)

	resp, err := srv.App().Test(httptest.NewRequest("POST", "/admin/cache/purge", nil))
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("status = %d, want 404 when no key is configured", resp.StatusCode)
	}
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clipfetch/internal/api"
	"clipfetch/internal/artifact"
	"clipfetch/internal/infocache"
	"clipfetch/internal/media"
	"clipfetch/internal/observability/metrics"
	"clipfetch/internal/runner"
	"clipfetch/internal/storage"
)

func newTestServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	outputDir := t.TempDir()
	store, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	sweeper := artifact.NewSweeper(nil, metrics.New(), artifact.WithPassDelays([]time.Duration{time.Millisecond}))
	t.Cleanup(sweeper.Close)
	cache := infocache.New(infocache.NewMemoryStore(5*time.Minute), metrics.New())
	orchestrator := media.NewOrchestrator(
		media.Config{OutputDir: outputDir},
		cache,
		sweeper,
		store,
		metrics.New(),
		nil,
		media.WithRunFunc(func(context.Context, runner.Invocation) (runner.Result, error) {
			return runner.Result{Status: runner.StatusSucceeded}, nil
		}),
	)
	handler := api.NewHandler(orchestrator, store, cache, outputDir)

	if cfg.FilesDir == "" {
		cfg.FilesDir = outputDir
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, outputDir
}

func TestServerServesHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestServerServesArtifactFiles(t *testing.T) {
	srv, outputDir := newTestServer(t, Config{})
	if err := os.WriteFile(filepath.Join(outputDir, "clip.mp4"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/clip.mp4", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "data" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/missing.mp4", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServerEnforcesBearerToken(t *testing.T) {
	guard, err := api.NewTokenGuard("secret")
	if err != nil {
		t.Fatalf("NewTokenGuard: %v", err)
	}
	srv, _ := newTestServer(t, Config{Guard: guard})

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/downloads", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// Health stays open for probes.
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open healthz, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/downloads", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestRateLimitMiddlewareRejectsBurstOverflow(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1})
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := rateLimitMiddleware(rl, next)

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/downloads", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/downloads", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestMetricsMiddlewareRecordsRequests(t *testing.T) {
	recorder := metrics.New()
	handler := metricsMiddleware(recorder, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/downloads/abc123", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics handler: expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected metrics output")
	}
}

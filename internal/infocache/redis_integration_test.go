package infocache

import (
	"context"
	"testing"
	"time"

	"clipfetch/internal/models"
	"clipfetch/internal/testsupport/redisstub"
)

func startRedisStore(t *testing.T, opts redisstub.Options, cfg RedisConfig) (*redisstub.Server, *RedisStore) {
	t.Helper()
	srv, err := redisstub.Start(opts)
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	cfg.Addr = srv.Addr()
	store, err := NewRedisStore(cfg)
	if err != nil {
		t.Fatalf("NewRedisStore returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return srv, store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	_, store := startRedisStore(t, redisstub.Options{}, RedisConfig{Retention: time.Minute})
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "https://example.com/watch?v=abc"); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}

	want := models.MediaInfo{
		ID:        "abc123",
		Title:     "Test Video",
		Duration:  212,
		Uploader:  "channel",
		ViewCount: 1000,
	}
	if err := store.Set(ctx, "https://example.com/watch?v=abc", want); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	got, ok, err := store.Get(ctx, "https://example.com/watch?v=abc")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestRedisStoreEntriesExpire(t *testing.T) {
	_, store := startRedisStore(t, redisstub.Options{}, RedisConfig{Retention: 50 * time.Millisecond})
	ctx := context.Background()

	if err := store.Set(ctx, "short-lived", models.MediaInfo{Title: "gone soon"}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if _, ok, err := store.Get(ctx, "short-lived"); err != nil || !ok {
		t.Fatalf("expected hit before expiry, ok=%v err=%v", ok, err)
	}

	time.Sleep(80 * time.Millisecond)
	if _, ok, err := store.Get(ctx, "short-lived"); err != nil || ok {
		t.Fatalf("expected miss after expiry, ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreAuthenticates(t *testing.T) {
	_, store := startRedisStore(t, redisstub.Options{Password: "sesame"}, RedisConfig{
		Password:  "sesame",
		Retention: time.Minute,
	})
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
}

func TestRedisStorePingFailsAfterShutdown(t *testing.T) {
	srv, store := startRedisStore(t, redisstub.Options{}, RedisConfig{Retention: time.Minute})
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
	_ = srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Ping(ctx); err == nil {
		t.Fatal("expected Ping to fail after the backend shut down")
	}
}

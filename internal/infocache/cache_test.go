package infocache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clipfetch/internal/models"
	"clipfetch/internal/observability/metrics"
)

func TestGetOrFetchCachesWithinRetention(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := NewMemoryStore(5*time.Minute, WithClock(func() time.Time { return now }))
	cache := New(store, metrics.New())

	var fetches atomic.Int32
	fetch := func(context.Context) (models.MediaInfo, error) {
		fetches.Add(1)
		return models.MediaInfo{Title: "first"}, nil
	}

	info, err := cache.GetOrFetch(context.Background(), "url-1", fetch)
	if err != nil {
		t.Fatalf("GetOrFetch returned error: %v", err)
	}
	if info.Title != "first" {
		t.Fatalf("unexpected payload %q", info.Title)
	}

	now = now.Add(time.Minute)
	again, err := cache.GetOrFetch(context.Background(), "url-1", fetch)
	if err != nil {
		t.Fatalf("GetOrFetch returned error: %v", err)
	}
	if again.Title != "first" {
		t.Fatalf("expected cached payload, got %q", again.Title)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected exactly one fetch, got %d", got)
	}
}

func TestGetOrFetchRefreshesAfterExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := NewMemoryStore(5*time.Minute, WithClock(func() time.Time { return now }))
	cache := New(store, nil)

	var fetches atomic.Int32
	fetch := func(context.Context) (models.MediaInfo, error) {
		n := fetches.Add(1)
		if n == 1 {
			return models.MediaInfo{Title: "first"}, nil
		}
		return models.MediaInfo{Title: "second"}, nil
	}

	if _, err := cache.GetOrFetch(context.Background(), "url-1", fetch); err != nil {
		t.Fatalf("GetOrFetch returned error: %v", err)
	}

	now = now.Add(5*time.Minute + time.Second)
	info, err := cache.GetOrFetch(context.Background(), "url-1", fetch)
	if err != nil {
		t.Fatalf("GetOrFetch returned error: %v", err)
	}
	if info.Title != "second" {
		t.Fatalf("expected refreshed payload, got %q", info.Title)
	}
	if got := fetches.Load(); got != 2 {
		t.Fatalf("expected two fetches, got %d", got)
	}

	// The refreshed entry overwrote the expired one.
	cached, ok, err := store.Get(context.Background(), "url-1")
	if err != nil || !ok {
		t.Fatalf("expected fresh entry, ok=%v err=%v", ok, err)
	}
	if cached.Title != "second" {
		t.Fatalf("expected overwritten entry, got %q", cached.Title)
	}
}

func TestGetOrFetchCoalescesConcurrentMisses(t *testing.T) {
	store := NewMemoryStore(5 * time.Minute)
	cache := New(store, nil)

	var fetches atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (models.MediaInfo, error) {
		fetches.Add(1)
		<-release
		return models.MediaInfo{Title: "shared"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]models.MediaInfo, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrFetch(context.Background(), "url-1", fetch)
		}(i)
	}

	// Give every caller time to reach the single-flight barrier.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected one coalesced fetch, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d returned error: %v", i, errs[i])
		}
		if results[i].Title != "shared" {
			t.Fatalf("caller %d got payload %q", i, results[i].Title)
		}
	}
}

func TestGetOrFetchPropagatesFetchErrors(t *testing.T) {
	store := NewMemoryStore(5 * time.Minute)
	cache := New(store, nil)

	wantErr := errors.New("probe failed")
	_, err := cache.GetOrFetch(context.Background(), "url-1", func(context.Context) (models.MediaInfo, error) {
		return models.MediaInfo{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if _, ok, _ := store.Get(context.Background(), "url-1"); ok {
		t.Fatal("failed fetch must not populate the cache")
	}
}

func TestMemoryStorePurgeExpired(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := NewMemoryStore(time.Minute, WithClock(func() time.Time { return now }))
	if err := store.Set(context.Background(), "a", models.MediaInfo{Title: "a"}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	now = now.Add(30 * time.Second)
	if err := store.Set(context.Background(), "b", models.MediaInfo{Title: "b"}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	now = now.Add(45 * time.Second)
	if removed := store.PurgeExpired(); removed != 1 {
		t.Fatalf("expected 1 purged entry, got %d", removed)
	}
	if _, ok, _ := store.Get(context.Background(), "b"); !ok {
		t.Fatal("expected b to survive the purge")
	}
}

// Package infocache memoizes metadata probe results so repeated requests for
// the same target do not each spawn an external process.
package infocache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"clipfetch/internal/models"
	"clipfetch/internal/observability/metrics"
)

// DefaultRetention is how long a cached metadata entry stays fresh.
const DefaultRetention = 5 * time.Minute

// Store defines the persistence contract for cached metadata entries. A key
// holds at most one entry; Set always overwrites.
type Store interface {
	Get(ctx context.Context, key string) (models.MediaInfo, bool, error)
	Set(ctx context.Context, key string, info models.MediaInfo) error
	Ping(ctx context.Context) error
}

// FetchFunc produces a fresh metadata payload on a cache miss.
type FetchFunc func(ctx context.Context) (models.MediaInfo, error)

// Cache fronts a Store with single-flight coalescing: concurrent misses for
// the same key share one in-flight fetch instead of each invoking the
// external tool.
type Cache struct {
	store    Store
	recorder *metrics.Recorder
	group    singleflight.Group
}

// New constructs a Cache over the provided store. A nil recorder disables
// metrics.
func New(store Store, recorder *metrics.Recorder) *Cache {
	return &Cache{store: store, recorder: recorder}
}

// GetOrFetch returns the cached payload for key when fresh, otherwise invokes
// fetch, stores the result, and returns it. Store read failures degrade to a
// fetch rather than failing the request.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) (models.MediaInfo, error) {
	if info, ok, err := c.store.Get(ctx, key); err == nil && ok {
		c.hit()
		return info, nil
	}
	c.miss()

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A waiter that lost the race may find the entry already refreshed.
		if info, ok, err := c.store.Get(ctx, key); err == nil && ok {
			return info, nil
		}
		info, err := fetch(ctx)
		if err != nil {
			return models.MediaInfo{}, err
		}
		if err := c.store.Set(ctx, key, info); err != nil {
			// Cache writes are best-effort; the fetched payload is still good.
			return info, nil
		}
		return info, nil
	})
	if err != nil {
		return models.MediaInfo{}, err
	}
	return value.(models.MediaInfo), nil
}

// Ping reports backing-store health for the health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *Cache) hit() {
	if c.recorder != nil {
		c.recorder.CacheHit()
	}
}

func (c *Cache) miss() {
	if c.recorder != nil {
		c.recorder.CacheMiss()
	}
}

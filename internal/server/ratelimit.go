package server

import (
	"sync"
	"time"
)

// RateLimitConfig bounds the total request rate across all clients. Zero
// values disable the limiter. Downloads hold a worker slot for minutes, so
// the global bucket is the backstop against request floods, not a fairness
// mechanism.
type RateLimitConfig struct {
	GlobalRPS   float64
	GlobalBurst int
}

type rateLimiter struct {
	global *tokenBucket
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.GlobalRPS <= 0 {
		return &rateLimiter{}
	}
	burst := cfg.GlobalBurst
	if burst < 1 {
		burst = int(cfg.GlobalRPS)
		if burst < 1 {
			burst = 1
		}
	}
	return &rateLimiter{global: newTokenBucket(cfg.GlobalRPS, burst, time.Now)}
}

func (r *rateLimiter) AllowRequest() bool {
	if r == nil || r.global == nil {
		return true
	}
	return r.global.take()
}

type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	refilledAt time.Time
	now        func() time.Time
}

func newTokenBucket(rate float64, burst int, now func() time.Time) *tokenBucket {
	if rate <= 0 {
		rate = 1
	}
	if burst < 1 {
		burst = 1
	}
	if now == nil {
		now = time.Now
	}
	return &tokenBucket{
		rate:       rate,
		capacity:   float64(burst),
		tokens:     float64(burst),
		refilledAt: now(),
		now:        now,
	}
}

func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.tokens += now.Sub(tb.refilledAt).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.refilledAt = now

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

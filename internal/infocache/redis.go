package infocache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"clipfetch/internal/models"
)

const redisKeyPrefix = "clipfetch:info:"

// RedisConfig configures the Redis-backed metadata store.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Retention    time.Duration
}

// RedisStore persists cached metadata entries in Redis with a native TTL, so
// multiple service replicas share one metadata cache.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisStore initialises a Redis-backed store. The caller is responsible
// for ensuring the Redis instance is reachable.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{addr},
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})
	return &RedisStore{client: client, retention: retention}, nil
}

// Get fetches the cached entry for key. Redis handles expiry; a missing key
// is a plain miss.
func (s *RedisStore) Get(ctx context.Context, key string) (models.MediaInfo, bool, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.MediaInfo{}, false, nil
	}
	if err != nil {
		return models.MediaInfo{}, false, fmt.Errorf("redis get: %w", err)
	}
	var info models.MediaInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return models.MediaInfo{}, false, fmt.Errorf("decode cached entry: %w", err)
	}
	return info, true, nil
}

// Set stores the entry with the retention window as its TTL, overwriting any
// prior value.
func (s *RedisStore) Set(ctx context.Context, key string, info models.MediaInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, payload, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity to the Redis backend.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

package infocache

import (
	"context"
	"sync"
	"time"

	"clipfetch/internal/models"
)

type memoryEntry struct {
	info     models.MediaInfo
	storedAt time.Time
}

// MemoryStore keeps cached metadata in a mutex-guarded map with age-based
// eviction. Expiry is computed against an injectable clock so retention
// behaviour is testable without sleeping.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	retention time.Duration
	clock     func() time.Time
}

// MemoryOption configures a MemoryStore instance.
type MemoryOption func(*MemoryStore)

// WithClock injects a custom time source.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewMemoryStore constructs an in-memory store with the provided retention
// window. Non-positive retention falls back to DefaultRetention.
func NewMemoryStore(retention time.Duration, opts ...MemoryOption) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	store := &MemoryStore{
		entries:   make(map[string]memoryEntry),
		retention: retention,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Get returns the entry for key when it exists and is younger than the
// retention window. Expired entries are dropped on read.
func (s *MemoryStore) Get(_ context.Context, key string) (models.MediaInfo, bool, error) {
	now := s.clock()
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return models.MediaInfo{}, false, nil
	}
	if now.Sub(entry.storedAt) >= s.retention {
		s.mu.Lock()
		if current, still := s.entries[key]; still && current.storedAt.Equal(entry.storedAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return models.MediaInfo{}, false, nil
	}
	return entry.info, true, nil
}

// Set stores the entry with a fresh timestamp, overwriting any prior entry
// for the key.
func (s *MemoryStore) Set(_ context.Context, key string, info models.MediaInfo) error {
	s.mu.Lock()
	s.entries[key] = memoryEntry{info: info, storedAt: s.clock()}
	s.mu.Unlock()
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// PurgeExpired drops every entry older than the retention window and reports
// how many were removed.
func (s *MemoryStore) PurgeExpired() int {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if now.Sub(entry.storedAt) >= s.retention {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

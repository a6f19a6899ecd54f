package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"clipfetch/internal/models"
)

type dataset struct {
	Downloads map[string]models.DownloadRecord `json:"downloads"`
}

// Storage is the JSON-file-backed download history. All mutations rewrite the
// dataset atomically via a temp file and rename, so a crash mid-write never
// corrupts the store.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

// Option mutates storage configuration.
type Option func(*Storage)

// NewStorage opens or creates the JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	store := &Storage{
		filePath: path,
		data:     dataset{Downloads: make(map[string]models.DownloadRecord)},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	// Create the data directory up front so health probes see a writable
	// datastore before the first record is persisted.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewJSONRepository opens the JSON-backed datastore and returns it as a
// Repository.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return NewStorage(path, opts...)
}

func (s *Storage) load() error {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var loaded dataset
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse store file: %w", err)
	}
	if loaded.Downloads == nil {
		loaded.Downloads = make(map[string]models.DownloadRecord)
	}
	s.data = loaded
	return nil
}

// Ping reports whether the datastore directory remains writable.
func (s *Storage) Ping(context.Context) error {
	dir := filepath.Dir(s.filePath)
	probe, err := os.CreateTemp(dir, ".ping-*")
	if err != nil {
		return fmt.Errorf("datastore not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// CreateDownload inserts a new record. The ID must be unique.
func (s *Storage) CreateDownload(record models.DownloadRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data.Downloads[record.ID]; exists {
		return fmt.Errorf("download %s already exists", record.ID)
	}
	s.data.Downloads[record.ID] = record
	return s.persist()
}

// UpdateDownload applies the non-nil fields of update to the stored record.
func (s *Storage) UpdateDownload(id string, update DownloadUpdate) (models.DownloadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.data.Downloads[id]
	if !ok {
		return models.DownloadRecord{}, ErrDownloadNotFound
	}
	if update.Title != nil {
		record.Title = *update.Title
	}
	if update.Files != nil {
		record.Files = append([]string(nil), update.Files...)
	}
	if update.Status != nil {
		record.Status = *update.Status
	}
	if update.Error != nil {
		record.Error = *update.Error
	}
	if update.CompletedAt != nil {
		completed := update.CompletedAt.UTC()
		record.CompletedAt = &completed
	}
	s.data.Downloads[id] = record
	if err := s.persist(); err != nil {
		return models.DownloadRecord{}, err
	}
	return record, nil
}

// GetDownload returns the record for id when present.
func (s *Storage) GetDownload(id string) (models.DownloadRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.data.Downloads[id]
	return record, ok
}

// ListDownloads returns records newest first, capped at limit when positive.
func (s *Storage) ListDownloads(limit int) []models.DownloadRecord {
	s.mu.RLock()
	records := make([]models.DownloadRecord, 0, len(s.data.Downloads))
	for _, record := range s.data.Downloads {
		records = append(records, record)
	}
	s.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// PruneOlderThan removes records created before the cutoff, returning how
// many were dropped. It backs the retention worker.
func (s *Storage) PruneOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, record := range s.data.Downloads {
		if record.CreatedAt.Before(cutoff) {
			delete(s.data.Downloads, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.persist()
}

// Close flushes nothing; the JSON store persists on every mutation.
func (s *Storage) Close() error {
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

package storage

import (
	"context"
	"errors"
	"time"

	"clipfetch/internal/models"
)

// ErrDownloadNotFound is returned when no record matches the requested ID.
var ErrDownloadNotFound = errors.New("download record not found")

// DownloadUpdate mutates a stored download record; nil fields are left
// untouched.
type DownloadUpdate struct {
	Title       *string
	Files       []string
	Status      *models.DownloadStatus
	Error       *string
	CompletedAt *time.Time
}

// Repository exposes the download-history operations required by the API
// handlers and the orchestrator.
type Repository interface {
	Ping(ctx context.Context) error
	CreateDownload(record models.DownloadRecord) error
	UpdateDownload(id string, update DownloadUpdate) (models.DownloadRecord, error)
	GetDownload(id string) (models.DownloadRecord, bool)
	ListDownloads(limit int) []models.DownloadRecord
	Close() error
}

// Pruner is implemented by repositories that can discard history older than a
// cutoff. The retention worker probes for it at startup.
type Pruner interface {
	PruneOlderThan(cutoff time.Time) (int, error)
}

var (
	_ Repository = (*Storage)(nil)
	_ Pruner     = (*Storage)(nil)
	_ Repository = (*postgresRepository)(nil)
	_ Pruner     = (*postgresRepository)(nil)
)

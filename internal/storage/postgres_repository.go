package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clipfetch/internal/models"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	ApplicationName     string
}

type postgresRepository struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

const downloadsSchema = `
CREATE TABLE IF NOT EXISTS downloads (
    id           TEXT PRIMARY KEY,
    url          TEXT NOT NULL,
    kind         TEXT NOT NULL,
    quality      TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    files        TEXT[] NOT NULL DEFAULT '{}',
    status       TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS downloads_created_at_idx ON downloads (created_at DESC);
`

// NewPostgresRepository connects to Postgres, applies the downloads schema,
// and returns the repository.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolConfig.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if name := strings.TrimSpace(cfg.ApplicationName); name != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = name
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	repo := &postgresRepository{pool: pool, acquireTimeout: cfg.AcquireTimeout}
	if _, err := pool.Exec(ctx, downloadsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply downloads schema: %w", err)
	}
	return repo, nil
}

func (r *postgresRepository) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.acquireTimeout > 0 {
		return context.WithTimeout(ctx, r.acquireTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()
	return r.pool.Ping(opCtx)
}

func (r *postgresRepository) CreateDownload(record models.DownloadRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("record id is required")
	}
	opCtx, cancel := r.opContext(context.Background())
	defer cancel()
	_, err := r.pool.Exec(opCtx, `
		INSERT INTO downloads (id, url, kind, quality, title, files, status, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID, record.URL, string(record.Kind), record.Quality, record.Title,
		record.Files, string(record.Status), record.Error, record.CreatedAt.UTC(), record.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	return nil
}

func (r *postgresRepository) UpdateDownload(id string, update DownloadUpdate) (models.DownloadRecord, error) {
	opCtx, cancel := r.opContext(context.Background())
	defer cancel()

	record, ok := r.getDownload(opCtx, id)
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

	tag, err := r.pool.Exec(opCtx, `
		UPDATE downloads
		SET title = $2, files = $3, status = $4, error = $5, completed_at = $6
		WHERE id = $1`,
		id, record.Title, record.Files, string(record.Status), record.Error, record.CompletedAt,
	)
	if err != nil {
		return models.DownloadRecord{}, fmt.Errorf("update download: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.DownloadRecord{}, ErrDownloadNotFound
	}
	return record, nil
}

func (r *postgresRepository) GetDownload(id string) (models.DownloadRecord, bool) {
	opCtx, cancel := r.opContext(context.Background())
	defer cancel()
	return r.getDownload(opCtx, id)
}

func (r *postgresRepository) getDownload(ctx context.Context, id string) (models.DownloadRecord, bool) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, url, kind, quality, title, files, status, error, created_at, completed_at
		FROM downloads WHERE id = $1`, id)
	record, err := scanDownload(row)
	if err != nil {
		return models.DownloadRecord{}, false
	}
	return record, true
}

func (r *postgresRepository) ListDownloads(limit int) []models.DownloadRecord {
	opCtx, cancel := r.opContext(context.Background())
	defer cancel()

	query := `
		SELECT id, url, kind, quality, title, files, status, error, created_at, completed_at
		FROM downloads ORDER BY created_at DESC, id`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = r.pool.Query(opCtx, query+` LIMIT $1`, limit)
	} else {
		rows, err = r.pool.Query(opCtx, query)
	}
	if err != nil {
		return nil
	}
	defer rows.Close()

	var records []models.DownloadRecord
	for rows.Next() {
		record, err := scanDownload(rows)
		if err != nil {
			return nil
		}
		records = append(records, record)
	}
	return records
}

// PruneOlderThan deletes records created before the cutoff, returning how
// many rows were dropped. It backs the retention worker.
func (r *postgresRepository) PruneOlderThan(cutoff time.Time) (int, error) {
	opCtx, cancel := r.opContext(context.Background())
	defer cancel()
	tag, err := r.pool.Exec(opCtx, `DELETE FROM downloads WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune downloads: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *postgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownload(row rowScanner) (models.DownloadRecord, error) {
	var record models.DownloadRecord
	var kind, status string
	var completedAt *time.Time
	if err := row.Scan(
		&record.ID, &record.URL, &kind, &record.Quality, &record.Title,
		&record.Files, &status, &record.Error, &record.CreatedAt, &completedAt,
	); err != nil {
		return models.DownloadRecord{}, err
	}
	record.Kind = models.DownloadKind(kind)
	record.Status = models.DownloadStatus(status)
	record.CompletedAt = completedAt
	return record, nil
}

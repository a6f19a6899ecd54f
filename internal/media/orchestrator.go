package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"clipfetch/internal/artifact"
	"clipfetch/internal/infocache"
	"clipfetch/internal/models"
	"clipfetch/internal/observability/metrics"
	"clipfetch/internal/runner"
	"clipfetch/internal/storage"
)

// Config carries the orchestrator's external-tool and filesystem settings.
type Config struct {
	ToolPath        string
	OutputDir       string
	ProbeTimeout    time.Duration
	DownloadTimeout time.Duration
	PlaylistTimeout time.Duration
	MaxOutputBytes  int64
	MaxConcurrent   int64
	Formats         FormatTable
}

func (cfg Config) withDefaults() Config {
	if strings.TrimSpace(cfg.ToolPath) == "" {
		cfg.ToolPath = "yt-dlp"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	if cfg.PlaylistTimeout <= 0 {
		cfg.PlaylistTimeout = DefaultPlaylistTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Formats.selectors == nil {
		cfg.Formats = DefaultFormatTable()
	}
	return cfg
}

// runFunc executes one invocation; tests swap it for a stub.
type runFunc func(ctx context.Context, inv runner.Invocation) (runner.Result, error)

// Orchestrator sequences a request through metadata fetch, invocation build,
// execution, artifact resolution, and cleanup scheduling. It owns the per-key
// execution locks and the process-wide download concurrency bound.
type Orchestrator struct {
	cfg      Config
	cache    *infocache.Cache
	sweeper  *artifact.Sweeper
	store    storage.Repository
	recorder *metrics.Recorder
	logger   *slog.Logger
	keys     *keyLock
	slots    *semaphore.Weighted
	run      runFunc
}

// OrchestratorOption configures an Orchestrator instance.
type OrchestratorOption func(*Orchestrator)

// WithRunFunc swaps the process execution function; used by tests to avoid
// spawning the real external tool.
func WithRunFunc(run runFunc) OrchestratorOption {
	return func(o *Orchestrator) {
		if run != nil {
			o.run = run
		}
	}
}

// NewOrchestrator wires the orchestrator. cache, sweeper, and store are
// required; a nil recorder disables metrics.
func NewOrchestrator(cfg Config, cache *infocache.Cache, sweeper *artifact.Sweeper, store storage.Repository, recorder *metrics.Recorder, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	cfg = cfg.withDefaults()
	orchestrator := &Orchestrator{
		cfg:      cfg,
		cache:    cache,
		sweeper:  sweeper,
		store:    store,
		recorder: recorder,
		logger:   logger,
		keys:     newKeyLock(),
		slots:    semaphore.NewWeighted(cfg.MaxConcurrent),
		run:      runner.Run,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(orchestrator)
		}
	}
	return orchestrator
}

// Info returns metadata for a single target, served from the cache when
// fresh. Collection identifiers are rejected toward the playlist path.
func (o *Orchestrator) Info(ctx context.Context, target string) (models.MediaInfo, error) {
	key, err := normalizeTarget(target)
	if err != nil {
		return models.MediaInfo{}, err
	}
	if IsCollection(key) {
		return models.MediaInfo{}, fmt.Errorf("%w: collection identifiers belong on the playlist path", ErrUnsupportedTarget)
	}
	return o.cache.GetOrFetch(ctx, key, func(ctx context.Context) (models.MediaInfo, error) {
		return o.probeSingle(ctx, key)
	})
}

// PlaylistInfo returns the flat listing for a collection target.
func (o *Orchestrator) PlaylistInfo(ctx context.Context, target string) (models.PlaylistInfo, error) {
	key, err := normalizeTarget(target)
	if err != nil {
		return models.PlaylistInfo{}, err
	}
	if !IsCollection(key) {
		return models.PlaylistInfo{}, fmt.Errorf("%w: target is a single item, use the item path", ErrUnsupportedTarget)
	}
	result, err := o.execute(ctx, o.probeInvocation(key, true), "probe")
	if err != nil {
		return models.PlaylistInfo{}, err
	}
	return parsePlaylistInfo(result.Stdout)
}

// DownloadRequest describes one download to perform.
type DownloadRequest struct {
	URL     string
	Quality string
	Kind    models.DownloadKind
}

// Download runs the full state machine for one request and returns the
// persisted record. The record is stored for failed requests too, carrying
// the failure text.
func (o *Orchestrator) Download(ctx context.Context, req DownloadRequest) (models.DownloadRecord, error) {
	key, err := normalizeTarget(req.URL)
	if err != nil {
		return models.DownloadRecord{}, err
	}
	kind := req.Kind
	if kind == "" {
		kind = models.KindVideo
	}
	if kind != models.KindPlaylist && IsCollection(key) {
		return models.DownloadRecord{}, fmt.Errorf("%w: collection identifiers belong on the playlist path", ErrUnsupportedTarget)
	}

	// The per-key lock holds from metadata fetch through artifact
	// resolution so concurrent duplicates cannot interleave their sweeps.
	if !o.keys.TryAcquire(key) {
		return models.DownloadRecord{}, ErrDownloadInFlight
	}
	defer o.keys.Release(key)

	if err := o.slots.Acquire(ctx, 1); err != nil {
		return models.DownloadRecord{}, fmt.Errorf("%w: %v", runner.ErrCanceled, err)
	}
	defer o.slots.Release(1)

	id, err := storage.GenerateID()
	if err != nil {
		return models.DownloadRecord{}, err
	}
	record := models.DownloadRecord{
		ID:        id,
		URL:       key,
		Kind:      kind,
		Quality:   strings.TrimSpace(req.Quality),
		Status:    models.DownloadPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.CreateDownload(record); err != nil {
		return models.DownloadRecord{}, err
	}
	if o.recorder != nil {
		o.recorder.DownloadStarted()
	}

	record, downloadErr := o.perform(ctx, record, key, kind)
	record = o.finalize(record, downloadErr)
	if downloadErr != nil {
		return record, downloadErr
	}
	return record, nil
}

func (o *Orchestrator) perform(ctx context.Context, record models.DownloadRecord, key string, kind models.DownloadKind) (models.DownloadRecord, error) {
	if kind == models.KindPlaylist {
		return o.performPlaylist(ctx, record, key)
	}

	info, err := o.cache.GetOrFetch(ctx, key, func(ctx context.Context) (models.MediaInfo, error) {
		return o.probeSingle(ctx, key)
	})
	if err != nil {
		return record, err
	}
	record.Title = info.Title
	prefix := artifact.SanitizeName(info.Title)

	finalExt := ".mp4"
	var inv runner.Invocation
	if kind == models.KindAudio {
		finalExt = ".mp3"
		inv = o.downloadInvocation(key, "", prefix, models.KindAudio)
	} else {
		selector := o.cfg.Formats.Selector(record.Quality)
		inv = o.downloadInvocation(key, selector, prefix, models.KindVideo)
	}

	if _, err := o.execute(ctx, inv, "download"); err != nil {
		o.sweeper.Schedule(o.cfg.OutputDir, prefix, finalExt)
		return record, err
	}

	match, err := o.resolveSettled(o.cfg.OutputDir, prefix, finalExt)
	o.sweeper.Schedule(o.cfg.OutputDir, prefix, finalExt)
	if err != nil {
		return record, err
	}
	record.Files = []string{match.Name}
	return record, nil
}

func (o *Orchestrator) performPlaylist(ctx context.Context, record models.DownloadRecord, key string) (models.DownloadRecord, error) {
	listing, err := o.PlaylistInfo(ctx, key)
	if err != nil {
		return record, err
	}
	record.Title = listing.Title
	prefix := artifact.SanitizeName(listing.Title)
	subdir := filepath.Join(o.cfg.OutputDir, prefix)
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		return record, fmt.Errorf("prepare collection dir: %w", err)
	}

	selector := o.cfg.Formats.Selector(record.Quality)
	if _, err := o.execute(ctx, o.playlistInvocation(key, selector, prefix), "download"); err != nil {
		o.sweeper.Schedule(subdir, "", "")
		return record, err
	}

	// Collection items never compete for one final artifact, so the sweeps
	// only clear temp markers; largest-wins stays disabled.
	o.sweeper.Schedule(subdir, "", "")

	files, err := collectPlaylistFiles(subdir, prefix)
	if err != nil {
		return record, err
	}
	record.Files = files
	return record, nil
}

// finalize persists the terminal state of the record and emits metrics. A
// response always reflects what the store now holds.
func (o *Orchestrator) finalize(record models.DownloadRecord, downloadErr error) models.DownloadRecord {
	now := time.Now().UTC()
	status := models.DownloadSucceeded
	errText := ""
	if downloadErr != nil {
		status = models.DownloadFailed
		errText = downloadErr.Error()
	}
	update := storage.DownloadUpdate{
		Title:       &record.Title,
		Files:       record.Files,
		Status:      &status,
		Error:       &errText,
		CompletedAt: &now,
	}
	updated, err := o.store.UpdateDownload(record.ID, update)
	if err != nil {
		if o.logger != nil {
			o.logger.Error("persist download outcome", "download_id", record.ID, "error", err)
		}
		record.Status = status
		record.Error = errText
		record.CompletedAt = &now
		updated = record
	}
	if o.recorder != nil {
		o.recorder.DownloadFinished(string(record.Kind), string(status))
	}
	return updated
}

// probeSingle runs a metadata-only invocation and parses the first JSON line.
func (o *Orchestrator) probeSingle(ctx context.Context, key string) (models.MediaInfo, error) {
	result, err := o.execute(ctx, o.probeInvocation(key, false), "probe")
	if err != nil {
		return models.MediaInfo{}, err
	}
	return parseMediaInfo(result.Stdout)
}

// execute runs the invocation, records process metrics, and logs failures
// with the tool's stderr tail.
func (o *Orchestrator) execute(ctx context.Context, inv runner.Invocation, mode string) (runner.Result, error) {
	result, err := o.run(ctx, inv)
	if o.recorder != nil {
		o.recorder.ObserveProcessRun(mode, string(result.Status), result.Duration)
	}
	if err != nil && o.logger != nil {
		o.logger.Warn("external tool run failed",
			"mode", mode,
			"status", string(result.Status),
			"duration_ms", result.Duration.Milliseconds(),
			"error", err)
	}
	return result, err
}

// resolveSettled retries artifact resolution briefly: the tool's merge stage
// can land the final file a moment after the parent process exits.
func (o *Orchestrator) resolveSettled(dir, prefix, ext string) (artifact.Match, error) {
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		if attempt > 0 {
			time.Sleep(500 * time.Millisecond)
		}
		matches, err := artifact.Resolve(dir, prefix, ext)
		if err == nil {
			return matches[0], nil
		}
		lastErr = err
		if !errors.Is(err, artifact.ErrArtifactNotFound) {
			break
		}
	}
	return artifact.Match{}, lastErr
}

func collectPlaylistFiles(subdir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(subdir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, filepath.Join(prefix, entry.Name()))
	}
	if len(files) == 0 {
		return nil, artifact.ErrArtifactNotFound
	}
	sort.Strings(files)
	return files, nil
}

func normalizeTarget(target string) (string, error) {
	trimmed := strings.TrimSpace(target)
	if trimmed == "" {
		return "", ErrMissingInput
	}
	return trimmed, nil
}

package artifact

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"clipfetch/internal/observability/metrics"
)

// Temporary file markers the external tool leaves behind: in-flight download
// suffixes, resume bookkeeping, and numbered stream fragments awaiting merge.
var (
	tempSuffixes    = []string{".part", ".ytdl", ".temp", ".tmp"}
	fragmentPattern = regexp.MustCompile(`\.f\d+\.[A-Za-z0-9]+$`)
	// Numbered fragments of an interrupted download, e.g. video.mp4.part-Frag3.
	partFragPattern = regexp.MustCompile(`\.part-Frag\d+$`)
)

// nonFinalExtensions lists container and codec extensions that indicate an
// intermediate stage of a merge when a different final extension is expected.
var nonFinalExtensions = []string{".webm", ".mkv", ".m4a", ".opus", ".aac", ".vtt", ".webp", ".jpg", ".json"}

// DefaultPassDelays schedules the short, medium, and long sweep passes after
// a download finishes. Merge and mux stages of the external tool complete
// asynchronously relative to the parent process exit, so a single immediate
// pass misses files that appear later.
var DefaultPassDelays = []time.Duration{20 * time.Second, 2 * time.Minute, 10 * time.Minute}

// Sweeper removes partial and intermediate files left behind by download
// invocations. Every scheduled pass is tracked: Close cancels pending passes
// and waits for running ones, so no pass outlives the process teardown.
type Sweeper struct {
	logger   *slog.Logger
	recorder *metrics.Recorder
	delays   []time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweeperOption configures a Sweeper instance.
type SweeperOption func(*Sweeper)

// WithPassDelays overrides the scheduled pass delays; mostly used by tests.
func WithPassDelays(delays []time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if len(delays) > 0 {
			s.delays = delays
		}
	}
}

// NewSweeper constructs a Sweeper using the provided logger and recorder.
func NewSweeper(logger *slog.Logger, recorder *metrics.Recorder, opts ...SweeperOption) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := &Sweeper{
		logger:   logger,
		recorder: recorder,
		delays:   DefaultPassDelays,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sweeper)
		}
	}
	return sweeper
}

// Schedule queues the configured sequence of delayed passes for the given
// name prefix. The last pass is the final pass: it additionally resolves ties
// among same-extension candidates (largest wins) and removes any remaining
// non-final file sharing the prefix. An empty finalExt disables the final
// disambiguation and keeps every pass marker-only; collection directories use
// this since their items never compete for a single final artifact.
func (s *Sweeper) Schedule(dir, prefix, finalExt string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for i, delay := range s.delays {
			timer := time.NewTimer(delay)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if i == len(s.delays)-1 && finalExt != "" {
				s.FinalPass(dir, prefix, finalExt)
			} else {
				s.Pass(dir, prefix)
			}
		}
	}()
}

// Pass removes temporary files sharing the prefix. It is idempotent; a
// directory with nothing to clean is a no-op. Deletion failures are logged
// and otherwise ignored since a concurrent pass may have removed the file
// first.
func (s *Sweeper) Pass(dir, prefix string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.warn("sweep: read dir", "dir", dir, "error", err)
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !isTemporary(name) {
			continue
		}
		if s.remove(filepath.Join(dir, name)) {
			removed++
		}
	}
	s.recordDeletions(removed)
	return removed
}

// FinalPass runs a regular pass, then keeps only the largest file with the
// final extension and deletes every other file sharing the prefix.
func (s *Sweeper) FinalPass(dir, prefix, finalExt string) int {
	removed := s.Pass(dir, prefix)

	matches, err := Resolve(dir, prefix, finalExt)
	if err != nil {
		// Nothing matched the final extension; leave remaining files for the
		// orphan sweep rather than guessing at a winner.
		return removed
	}
	extra := 0
	for _, match := range matches[1:] {
		if s.remove(match.Path) {
			extra++
		}
	}

	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			name := entry.Name()
			if !strings.HasPrefix(name, prefix) || strings.HasSuffix(name, finalExt) {
				continue
			}
			if hasNonFinalExtension(name) {
				if s.remove(filepath.Join(dir, name)) {
					extra++
				}
			}
		}
	}
	s.recordDeletions(extra)
	return removed + extra
}

// SweepStale removes temporary files in dir older than minAge regardless of
// prefix. It backstops downloads whose scheduled passes were lost to a crash
// or restart.
func (s *Sweeper) SweepStale(dir string, minAge time.Duration) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.warn("sweep: read dir", "dir", dir, "error", err)
		return 0
	}
	cutoff := time.Now().Add(-minAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isTemporary(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if s.remove(filepath.Join(dir, name)) {
			removed++
		}
	}
	s.recordDeletions(removed)
	return removed
}

// Close cancels pending passes and waits for in-flight ones to finish.
func (s *Sweeper) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) remove(path string) bool {
	if err := os.Remove(path); err != nil {
		if !os.IsNotExist(err) {
			s.warn("sweep: remove", "path", path, "error", err)
		}
		return false
	}
	if s.logger != nil {
		s.logger.Debug("sweep: removed", "path", path)
	}
	return true
}

func (s *Sweeper) recordDeletions(count int) {
	if s.recorder != nil {
		s.recorder.ObserveSweepDeletions(count)
	}
}

func (s *Sweeper) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func isTemporary(name string) bool {
	for _, suffix := range tempSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return fragmentPattern.MatchString(name) || partFragPattern.MatchString(name)
}

func hasNonFinalExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range nonFinalExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"clipfetch/internal/observability/metrics"
)

func newTestSweeper(t *testing.T) *Sweeper {
	t.Helper()
	sweeper := NewSweeper(nil, metrics.New())
	t.Cleanup(sweeper.Close)
	return sweeper
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestPassRemovesTemporaries(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "title.mp4.part", 10)
	writeFile(t, dir, "title.mp4.ytdl", 10)
	writeFile(t, dir, "title.f140.m4a", 10)
	writeFile(t, dir, "title.mp4", 100)
	writeFile(t, dir, "unrelated.part", 10)

	sweeper := newTestSweeper(t)
	if removed := sweeper.Pass(dir, "title"); removed != 3 {
		t.Fatalf("expected 3 removals, got %d", removed)
	}

	names := dirNames(t, dir)
	if len(names) != 2 {
		t.Fatalf("expected 2 survivors, got %v", names)
	}
}

func TestPassRemovesNumberedFragments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "title.mp4.part-Frag3", 10)
	writeFile(t, dir, "title.mp4.part-Frag12", 10)
	writeFile(t, dir, "title.mp4", 100)

	sweeper := newTestSweeper(t)
	if removed := sweeper.Pass(dir, "title"); removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	names := dirNames(t, dir)
	if len(names) != 1 || names[0] != "title.mp4" {
		t.Fatalf("expected only title.mp4 to survive, got %v", names)
	}
}

func TestPassIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sweeper := newTestSweeper(t)
	if removed := sweeper.Pass(dir, "title"); removed != 0 {
		t.Fatalf("expected no-op on empty dir, got %d removals", removed)
	}
	writeFile(t, dir, "title.mp4", 100)
	if removed := sweeper.Pass(dir, "title"); removed != 0 {
		t.Fatalf("expected final artifact untouched, got %d removals", removed)
	}
}

func TestFinalPassLargestWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "title.webm", 500)
	writeFile(t, dir, "title.f140.m4a", 300)
	writeFile(t, dir, "title.mp4", 9000)

	sweeper := newTestSweeper(t)
	sweeper.FinalPass(dir, "title", ".mp4")

	names := dirNames(t, dir)
	if len(names) != 1 || names[0] != "title.mp4" {
		t.Fatalf("expected only title.mp4 to survive, got %v", names)
	}
}

func TestFinalPassResolvesSameExtensionTies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "title.mp4", 9000)
	writeFile(t, dir, "title.f137.mp4", 500)

	sweeper := newTestSweeper(t)
	sweeper.FinalPass(dir, "title", ".mp4")

	names := dirNames(t, dir)
	if len(names) != 1 || names[0] != "title.mp4" {
		t.Fatalf("expected largest mp4 to survive, got %v", names)
	}
}

func TestScheduleRunsTrackedPasses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "title.mp4.part", 10)
	writeFile(t, dir, "title.webm", 10)
	writeFile(t, dir, "title.mp4", 100)

	sweeper := NewSweeper(nil, metrics.New(), WithPassDelays([]time.Duration{time.Millisecond, 5 * time.Millisecond}))
	sweeper.Schedule(dir, "title", ".mp4")

	deadline := time.Now().Add(5 * time.Second)
	for {
		if names := dirNames(t, dir); len(names) == 1 && names[0] == "title.mp4" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scheduled passes did not settle, dir: %v", dirNames(t, dir))
		}
		time.Sleep(5 * time.Millisecond)
	}
	sweeper.Close()
}

func TestCloseCancelsPendingPasses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "title.mp4.part", 10)

	sweeper := NewSweeper(nil, metrics.New(), WithPassDelays([]time.Duration{time.Hour}))
	sweeper.Schedule(dir, "title", ".mp4")
	sweeper.Close()

	if names := dirNames(t, dir); len(names) != 1 {
		t.Fatalf("expected pending pass to be canceled, dir: %v", names)
	}
}

func TestSweepStaleRespectsAge(t *testing.T) {
	dir := t.TempDir()
	stale := writeFile(t, dir, "old.mp4.part", 10)
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	writeFile(t, dir, "fresh.mp4.part", 10)
	writeFile(t, dir, "final.mp4", 100)

	sweeper := newTestSweeper(t)
	if removed := sweeper.SweepStale(dir, time.Hour); removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "fresh.mp4.part")); err != nil {
		t.Fatalf("fresh temp file should survive: %v", err)
	}
}

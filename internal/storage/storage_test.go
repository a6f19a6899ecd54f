package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"clipfetch/internal/models"
)

func newTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "downloads.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store, path
}

func sampleRecord(id string, createdAt time.Time) models.DownloadRecord {
	return models.DownloadRecord{
		ID:        id,
		URL:       "https://example.com/watch?v=" + id,
		Kind:      models.KindVideo,
		Quality:   "1080p",
		Status:    models.DownloadPending,
		CreatedAt: createdAt,
	}
}

func TestCreateAndGetDownload(t *testing.T) {
	store, _ := newTestStorage(t)
	record := sampleRecord("dl1", time.Now().UTC())
	if err := store.CreateDownload(record); err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}

	got, ok := store.GetDownload("dl1")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if got.URL != record.URL || got.Status != models.DownloadPending {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := store.CreateDownload(record); err == nil {
		t.Fatal("expected duplicate ID to be rejected")
	}
	if err := store.CreateDownload(models.DownloadRecord{}); err == nil {
		t.Fatal("expected empty ID to be rejected")
	}
}

func TestUpdateDownloadAppliesNonNilFields(t *testing.T) {
	store, _ := newTestStorage(t)
	if err := store.CreateDownload(sampleRecord("dl1", time.Now().UTC())); err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}

	title := "My Clip"
	status := models.DownloadSucceeded
	completed := time.Now().UTC()
	updated, err := store.UpdateDownload("dl1", DownloadUpdate{
		Title:       &title,
		Files:       []string{"My_Clip.mp4"},
		Status:      &status,
		CompletedAt: &completed,
	})
	if err != nil {
		t.Fatalf("UpdateDownload: %v", err)
	}
	if updated.Title != title || updated.Status != status {
		t.Fatalf("update not applied: %+v", updated)
	}
	if len(updated.Files) != 1 || updated.Files[0] != "My_Clip.mp4" {
		t.Fatalf("files not applied: %v", updated.Files)
	}
	if updated.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}

	// Nil fields leave existing values alone.
	errText := "tool exited 1"
	failed := models.DownloadFailed
	updated, err = store.UpdateDownload("dl1", DownloadUpdate{Status: &failed, Error: &errText})
	if err != nil {
		t.Fatalf("UpdateDownload: %v", err)
	}
	if updated.Title != title {
		t.Fatalf("title lost on partial update: %q", updated.Title)
	}
	if updated.Error != errText {
		t.Fatalf("error not applied: %q", updated.Error)
	}

	if _, err := store.UpdateDownload("missing", DownloadUpdate{}); !errors.Is(err, ErrDownloadNotFound) {
		t.Fatalf("expected ErrDownloadNotFound, got %v", err)
	}
}

func TestListDownloadsNewestFirst(t *testing.T) {
	store, _ := newTestStorage(t)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		record := sampleRecord(fmt.Sprintf("dl%d", i), base.Add(time.Duration(i)*time.Minute))
		if err := store.CreateDownload(record); err != nil {
			t.Fatalf("CreateDownload: %v", err)
		}
	}

	records := store.ListDownloads(0)
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].CreatedAt.After(records[i-1].CreatedAt) {
			t.Fatalf("records not newest first: %v before %v", records[i-1].CreatedAt, records[i].CreatedAt)
		}
	}

	limited := store.ListDownloads(2)
	if len(limited) != 2 {
		t.Fatalf("expected 2 records, got %d", len(limited))
	}
	if limited[0].ID != "dl4" || limited[1].ID != "dl3" {
		t.Fatalf("unexpected limit order: %s, %s", limited[0].ID, limited[1].ID)
	}
}

func TestStorageReloadsFromDisk(t *testing.T) {
	store, path := newTestStorage(t)
	record := sampleRecord("dl1", time.Now().UTC())
	if err := store.CreateDownload(record); err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}
	status := models.DownloadSucceeded
	if _, err := store.UpdateDownload("dl1", DownloadUpdate{Status: &status, Files: []string{"a.mp4"}}); err != nil {
		t.Fatalf("UpdateDownload: %v", err)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.GetDownload("dl1")
	if !ok {
		t.Fatal("expected record to survive reload")
	}
	if got.Status != models.DownloadSucceeded || len(got.Files) != 1 {
		t.Fatalf("reload mismatch: %+v", got)
	}
}

func TestPruneOlderThan(t *testing.T) {
	store, _ := newTestStorage(t)
	now := time.Now().UTC()
	if err := store.CreateDownload(sampleRecord("old", now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}
	if err := store.CreateDownload(sampleRecord("new", now)); err != nil {
		t.Fatalf("CreateDownload: %v", err)
	}

	removed, err := store.PruneOlderThan(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned, got %d", removed)
	}
	if _, ok := store.GetDownload("old"); ok {
		t.Fatal("expected old record to be pruned")
	}
	if _, ok := store.GetDownload("new"); !ok {
		t.Fatal("expected recent record to remain")
	}

	removed, err = store.PruneOlderThan(now.Add(-24 * time.Hour))
	if err != nil || removed != 0 {
		t.Fatalf("expected no-op prune, got %d, %v", removed, err)
	}
}

func TestPersistFailureSurfaces(t *testing.T) {
	store, _ := newTestStorage(t)
	persistErr := errors.New("disk full")
	store.persistOverride = func(dataset) error { return persistErr }

	if err := store.CreateDownload(sampleRecord("dl1", time.Now().UTC())); !errors.Is(err, persistErr) {
		t.Fatalf("expected persist error, got %v", err)
	}
}

func TestPingReportsWritableDir(t *testing.T) {
	store, _ := newTestStorage(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestRepositoriesSupportRetentionPruning(t *testing.T) {
	// The retention worker discovers pruning support through a runtime type
	// assertion, so both drivers must carry the method.
	repos := map[string]Repository{
		"json":     (*Storage)(nil),
		"postgres": (*postgresRepository)(nil),
	}
	for driver, repo := range repos {
		if _, ok := repo.(Pruner); !ok {
			t.Fatalf("%s repository must support retention pruning", driver)
		}
	}
}

func TestNewStorageCreatesDataDir(t *testing.T) {
	// The default data path lives in a directory that does not exist on a
	// fresh deployment; the store must be healthy before the first persist.
	path := filepath.Join(t.TempDir(), "data", "downloads.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping on fresh store: %v", err)
	}
}

func TestGenerateIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		id, err := GenerateID()
		if err != nil {
			t.Fatalf("GenerateID: %v", err)
		}
		if len(id) != 32 {
			t.Fatalf("unexpected id length %d", len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

package memory

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testStore(t *testing.T) *EventStore {
	t.Helper()
	s, err := NewEventStore(filepath.Join(t.TempDir(), "data", "events.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewEventStore_AppliesMigrations(t *testing.T) {
	s := testStore(t)

	version, dirty, err := SchemaVersion(s.db.DB)
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 || dirty {
		t.Fatalf("expected clean version 1, got %d (dirty=%v)", version, dirty)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	s := testStore(t)
	if err := RunMigrations(s.db.DB, testLogger()); err != nil {
		t.Fatalf("second run should be a no-op: %v", err)
	}
}

func TestMarkProcessed_FirstThenDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.MarkProcessed(ctx, "01HXYZ")
	if err != nil || !first {
		t.Fatalf("first mark: first=%v err=%v", first, err)
	}
	first, err = s.MarkProcessed(ctx, "01HXYZ")
	if err != nil || first {
		t.Fatalf("duplicate mark: first=%v err=%v", first, err)
	}
	first, err = s.MarkProcessed(ctx, "01HABC")
	if err != nil || !first {
		t.Fatalf("other id: first=%v err=%v", first, err)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 rows, got %d (err=%v)", n, err)
	}
}

func TestPurge_RemovesOldEntries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if _, err := s.MarkProcessed(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	if _, err := s.MarkProcessed(ctx, "new"); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Purge(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 purged row, got %d", removed)
	}

	recent, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].EventID != "new" {
		t.Fatalf("unexpected remaining rows: %+v", recent)
	}

	// A purged id counts as new again.
	first, err := s.MarkProcessed(ctx, "old")
	if err != nil || !first {
		t.Fatalf("purged id should be accepted again: first=%v err=%v", first, err)
	}
}

func TestEventStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	ctx := context.Background()

	s, err := NewEventStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.MarkProcessed(ctx, "evt-1"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewEventStore(path, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	first, err := s.MarkProcessed(ctx, "evt-1")
	if err != nil || first {
		t.Fatalf("id should survive a restart: first=%v err=%v", first, err)
	}
}

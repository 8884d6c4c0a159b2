// Package memory persists which webhook events have already been handled,
// so redelivered events can be skipped.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// EventStore records processed webhook event ids in SQLite.
type EventStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewEventStore opens (creating if needed) the database at dbPath and
// applies migrations.
func NewEventStore(dbPath string, logger *slog.Logger) (*EventStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sqlx.Connect("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db.DB, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &EventStore{db: db, logger: logger, now: time.Now}, nil
}

// MarkProcessed records eventID and reports whether this is the first
// time it has been seen.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_events (event_id, processed_at) VALUES (?, ?)`,
		eventID, s.now().Unix())
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	return n == 1, nil
}

// Purge deletes records processed before the cutoff and returns how many
// were removed.
func (s *EventStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge processed events: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of stored event ids.
func (s *EventStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM processed_events`); err != nil {
		return 0, fmt.Errorf("count processed events: %w", err)
	}
	return n, nil
}

// ProcessedEvent is a stored row.
type ProcessedEvent struct {
	EventID     string `db:"event_id"`
	ProcessedAt int64  `db:"processed_at"`
}

// Recent returns the most recently processed events, newest first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]ProcessedEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []ProcessedEvent
	err := s.db.SelectContext(ctx, &out,
		`SELECT event_id, processed_at FROM processed_events ORDER BY processed_at DESC, event_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list processed events: %w", err)
	}
	return out, nil
}

func (s *EventStore) Close() error {
	return s.db.Close()
}

// Package sqlite provides SQLite-backed event journal persistence.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/squadops/internal/journal/sqlite/migrations"
	sqlitemigrate "github.com/louisbranch/squadops/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/squadops/internal/squad"
)

// Store persists domain events in a local SQLite database.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the journal database and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveEvents upserts one batch by event id. Replayed events after an
// out-of-order correction overwrite their earlier row.
func (s *Store) SaveEvents(ctx context.Context, events []squad.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO events (id, kind, occurred_at, match_id, payload)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    kind = excluded.kind,
    occurred_at = excluded.occurred_at,
    match_id = excluded.match_id,
    payload = excluded.payload
`)
	if err != nil {
		return fmt.Errorf("prepare save batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, event := range events {
		payload, err := squad.MarshalEvent(event)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		meta := event.EventMeta()
		if _, err := stmt.ExecContext(ctx, meta.ID, event.Kind(), meta.Time.UnixMilli(), meta.MatchID, payload); err != nil {
			return fmt.Errorf("save event %d: %w", meta.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save batch: %w", err)
	}
	return nil
}

// LoadRecent returns every event of the most recent matches, oldest
// first.
func (s *Store) LoadRecent(ctx context.Context, matches int) ([]squad.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if matches <= 0 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT payload FROM events
WHERE match_id IN (
    SELECT DISTINCT match_id FROM events ORDER BY match_id DESC LIMIT ?
)
ORDER BY id ASC
`, matches)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []squad.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event payload: %w", err)
		}
		event, err := squad.UnmarshalEvent(payload)
		if err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent events: %w", err)
	}
	return events, nil
}

// LastEventID returns the highest persisted event id, or 0 for an empty
// journal.
func (s *Store) LastEventID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var last sql.NullInt64
	row := s.sqlDB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`)
	if err := row.Scan(&last); err != nil {
		return 0, fmt.Errorf("query last event id: %w", err)
	}
	return last.Int64, nil
}

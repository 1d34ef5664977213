package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLiteLog persists events to a single SQLite table, one row per event.
// Events are inserted and never updated or deleted.
type SQLiteLog struct {
	db   *sql.DB
	path string
}

// NewSQLiteLog opens (creating if needed) the audit database at path.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	if path == "" {
		path = "enclave-audit.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		principal TEXT NOT NULL DEFAULT '',
		namespace TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}
	return &SQLiteLog{db: db, path: path}, nil
}

// Driver returns "sqlite".
func (l *SQLiteLog) Driver() string { return "sqlite" }

// Record inserts the event.
func (l *SQLiteLog) Record(ctx context.Context, event Event) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_events(id, kind, principal, namespace, detail, occurred_at) VALUES(?,?,?,?,?,?)`,
		event.ID, string(event.Kind), event.Principal, event.Namespace, event.Detail, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, kind, principal, namespace, detail, occurred_at
		 FROM audit_events ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// Close releases the database handle.
func (l *SQLiteLog) Close() error { return l.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (l *SQLiteLog) DB() *sql.DB { return l.db }

// Path returns the configured database path.
func (l *SQLiteLog) Path() string { return l.path }

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.Principal, &e.Namespace, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Kind = Kind(kind)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

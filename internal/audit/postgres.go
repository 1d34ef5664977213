package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	postgresDriver = "pgx"
	// Default DSN mirrors local development defaults; deployments override.
	defaultPostgresDSN = "postgres://localhost/enclave?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// PostgresLog persists events to a Postgres table, one row per event.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog opens a Postgres-backed sink using the provided DSN (falls
// back to defaultPostgresDSN) and ensures the audit table exists.
func NewPostgresLog(dsn string) (*PostgresLog, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	openMu.Lock()
	db, err := sqlOpen(postgresDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		principal TEXT NOT NULL DEFAULT '',
		namespace TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure audit table: %w", err)
	}
	return &PostgresLog{db: db}, nil
}

// Driver returns "postgres".
func (l *PostgresLog) Driver() string { return "postgres" }

// Record inserts the event.
func (l *PostgresLog) Record(ctx context.Context, event Event) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_events(id, kind, principal, namespace, detail, occurred_at) VALUES($1,$2,$3,$4,$5,$6)`,
		event.ID, string(event.Kind), event.Principal, event.Namespace, event.Detail, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *PostgresLog) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, kind, principal, namespace, detail, occurred_at
		 FROM audit_events ORDER BY occurred_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// Close releases the database handle.
func (l *PostgresLog) Close() error { return l.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (l *PostgresLog) DB() *sql.DB { return l.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// Package audit records isolation-relevant events (cross-namespace attempts,
// sandbox escapes, integrity failures) to an append-only sink. Recording is
// best-effort: an audit failure is logged by the caller, never surfaced to
// the client and never allowed to block request handling.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an audit event.
type Kind string

const (
	// KindForbidden is a known principal acting on another's namespace.
	KindForbidden Kind = "forbidden"
	// KindPathViolation is a write whose resolved target escaped its sandbox.
	KindPathViolation Kind = "path_violation"
	// KindIntegrity is a corpus hash mismatch.
	KindIntegrity Kind = "integrity_violation"
	// KindExport is an aggregate snapshot export lifecycle event.
	KindExport Kind = "export"
)

// Event is one immutable audit fact.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Principal  string    `json:"principal,omitempty"`
	Namespace  string    `json:"namespace,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent stamps an event with an ID and timestamp.
func NewEvent(kind Kind, principal, namespace, detail string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		Principal:  principal,
		Namespace:  namespace,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

// Log is an append-only audit sink.
type Log interface {
	Record(ctx context.Context, event Event) error
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
	Driver() string
}

// Config selects and parameterizes an audit sink.
type Config struct {
	// Driver is memory, sqlite, or postgres. Empty selects memory.
	Driver string `yaml:"driver"`
	// Path is the database file for the sqlite driver.
	Path string `yaml:"path"`
	// DSN is the connection string for the postgres driver.
	DSN string `yaml:"dsn"`
}

// Open constructs the sink named by cfg.
func Open(cfg Config) (Log, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryLog(), nil
	case "sqlite":
		return NewSQLiteLog(cfg.Path)
	case "postgres":
		return NewPostgresLog(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
}

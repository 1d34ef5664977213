package audit

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryLogRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	for _, detail := range []string{"first", "second", "third"} {
		if err := log.Record(ctx, NewEvent(KindForbidden, "alpha", "beta", detail)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	events, err := log.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 || events[0].Detail != "third" || events[1].Detail != "second" {
		t.Fatalf("unexpected recent order %+v", events)
	}
	all, err := log.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
}

func TestNewEventStamps(t *testing.T) {
	event := NewEvent(KindPathViolation, "alpha", "alpha", "escape attempt")
	if event.ID == "" || event.OccurredAt.IsZero() {
		t.Fatalf("event must carry id and timestamp: %+v", event)
	}
	if event.Kind != KindPathViolation {
		t.Fatalf("unexpected kind %s", event.Kind)
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	log, err := Open(Config{})
	if err != nil {
		t.Fatalf("open default: %v", err)
	}
	if log.Driver() != "memory" {
		t.Fatalf("expected memory default, got %s", log.Driver())
	}
	if _, err := Open(Config{Driver: "bogus"}); err == nil {
		t.Fatalf("expected unknown driver rejection")
	}
	sqliteLog, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqliteLog.Driver() != "sqlite" {
		t.Fatalf("expected sqlite, got %s", sqliteLog.Driver())
	}
}

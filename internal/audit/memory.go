package audit

import (
	"context"
	"sync"
)

// MemoryLog keeps events in process memory. Default sink and test double.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryLog returns an empty in-memory sink.
func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

// Driver returns "memory".
func (l *MemoryLog) Driver() string { return "memory" }

// Record appends the event.
func (l *MemoryLog) Record(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Recent returns up to limit events, newest first.
func (l *MemoryLog) Recent(_ context.Context, limit int) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]Event, 0, limit)
	for i := len(l.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.events[i])
	}
	return out, nil
}

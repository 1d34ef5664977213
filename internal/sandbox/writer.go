package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"enclave/internal/auth"
	"enclave/internal/observation"
	"enclave/internal/pathguard"
)

// Writer appends validated entry batches to namespace logs. Each gate is
// hard: a batch is rejected as a whole before any byte is written, and a
// per-namespace lock keeps concurrent appenders from interleaving lines.
type Writer struct {
	gate *auth.Gate

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewWriter constructs a writer that authorizes against gate.
func NewWriter(gate *auth.Gate) *Writer {
	return &Writer{gate: gate, locks: make(map[string]*sync.Mutex)}
}

// Append authorizes the principal for the namespace, validates every entry,
// guards the target path, and appends the whole batch as one write in
// submission order. It returns the number of entries written.
func (w *Writer) Append(ctx context.Context, ns Namespace, principal auth.Principal, raws []json.RawMessage) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := w.gate.AuthorizeNamespace(principal, ns.ID); err != nil {
		return 0, err
	}
	entries, err := observation.ParseBatch(raws)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("empty batch")
	}

	logPath := ns.LogPath()
	if err := pathguard.Authorize(logPath, ns.AllowedRoot, ns.DenyRoots); err != nil {
		return 0, err
	}

	// Serialize the whole batch up front so a failure leaves nothing on disk.
	var buf bytes.Buffer
	for _, entry := range entries {
		line, err := entry.EncodeLine()
		if err != nil {
			return 0, fmt.Errorf("encode entry: %w", err)
		}
		buf.Write(line)
	}

	lock := w.namespaceLock(ns.ID)
	lock.Lock()
	defer lock.Unlock()

	// The guard decision predates the directory creation, so re-check after
	// the tree exists; the symlink graph may have changed in between.
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return 0, fmt.Errorf("create namespace dir: %w", err)
	}
	if err := pathguard.Authorize(logPath, ns.AllowedRoot, ns.DenyRoots); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return 0, fmt.Errorf("open log: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("append batch: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close log: %w", err)
	}
	return len(entries), nil
}

func (w *Writer) namespaceLock(id string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[id] = lock
	}
	return lock
}

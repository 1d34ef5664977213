// Package aggregate merges the append-only logs of every discovered
// namespace into one ordered, recomputed-on-demand view.
package aggregate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"enclave/internal/observation"
	"enclave/internal/sandbox"
)

// TaggedEntry pairs an entry with the namespace that wrote it. The view is a
// read projection only; nothing in it carries write-back authority.
type TaggedEntry struct {
	Namespace string            `json:"namespace"`
	Entry     observation.Entry `json:"entry"`
}

// View is one ephemeral aggregation result. Ordering is sorted namespace
// directory order, then line order within each log; entries carry no global
// clock, so no cross-namespace re-sort is attempted.
type View struct {
	Entries []TaggedEntry
	// Skipped counts malformed or incomplete lines excluded from the view.
	Skipped int
}

// Aggregator discovers namespace logs under one root and merges them.
type Aggregator struct {
	NamespacesRoot string
}

// Aggregate rebuilds the merged view from the current on-disk logs. Only
// fully written lines are surfaced: a trailing line without its terminator
// is an in-flight append and is excluded. Malformed lines inside an
// otherwise valid log are skipped and counted rather than failing the whole
// aggregation; the read path is partial-failure tolerant where the write
// path is all-or-nothing.
func (a Aggregator) Aggregate() (View, error) {
	dirs, err := os.ReadDir(a.NamespacesRoot)
	if os.IsNotExist(err) {
		return View{}, nil
	}
	if err != nil {
		return View{}, fmt.Errorf("read namespaces root: %w", err)
	}

	var view View
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		logPath := filepath.Join(a.NamespacesRoot, dir.Name(), sandbox.LogName)
		entries, skipped, err := readLog(logPath)
		if err != nil {
			return View{}, err
		}
		view.Skipped += skipped
		for _, entry := range entries {
			view.Entries = append(view.Entries, TaggedEntry{Namespace: dir.Name(), Entry: entry})
		}
	}
	return view, nil
}

func readLog(path string) ([]observation.Entry, int, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read log %s: %w", filepath.Base(filepath.Dir(path)), err)
	}

	var entries []observation.Entry
	skipped := 0
	for len(raw) > 0 {
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			// No terminator: a writer is mid-append. Not yet a complete record.
			skipped++
			break
		}
		line := bytes.TrimSpace(raw[:idx])
		raw = raw[idx+1:]
		if len(line) == 0 {
			continue
		}
		var entry observation.Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			skipped++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped, nil
}

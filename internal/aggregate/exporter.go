package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"enclave/internal/audit"
	"enclave/internal/blob"
)

// Status describes the lifecycle stage of a snapshot export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Export tracks one snapshot export request and its resulting artifact.
type Export struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifact    *blob.Info `json:"artifact,omitempty"`
	EntryCount  int        `json:"entry_count"`
	Skipped     int        `json:"skipped"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Exporter materializes aggregate snapshots asynchronously and stores them
// as immutable artifacts. One export request produces one canonical JSONL
// artifact keyed by the export ID.
type Exporter struct {
	agg      Aggregator
	store    blob.Store
	auditLog audit.Log

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Export

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExporter constructs an exporter writing artifacts to store. auditLog
// may be nil when export auditing is not wanted.
func NewExporter(agg Aggregator, store blob.Store, auditLog audit.Log) *Exporter {
	ctx, cancel := context.WithCancel(context.Background())
	return &Exporter{
		agg:      agg,
		store:    store,
		auditLog: auditLog,
		queue:    make(chan string, 16),
		jobs:     make(map[string]*Export),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker goroutines.
func (e *Exporter) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.run()
	}
}

// Stop drains nothing: queued work is abandoned, running work finishes.
func (e *Exporter) Stop() {
	e.cancel()
	e.wg.Wait()
}

// Enqueue registers a snapshot export and queues it for materialization.
func (e *Exporter) Enqueue(ctx context.Context, requestedBy string) (Export, error) {
	if err := ctx.Err(); err != nil {
		return Export{}, err
	}
	now := time.Now().UTC()
	job := &Export{
		ID:          uuid.NewString(),
		Status:      StatusQueued,
		RequestedBy: requestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.mu.Lock()
	e.jobs[job.ID] = job
	// Snapshot before the queue send; a worker may mutate the job as soon as
	// its ID is published.
	snapshot := *job
	e.mu.Unlock()

	select {
	case e.queue <- job.ID:
	case <-e.ctx.Done():
		return Export{}, fmt.Errorf("exporter stopped")
	case <-ctx.Done():
		return Export{}, ctx.Err()
	}
	e.recordAudit(ctx, requestedBy, snapshot.ID, "export queued")
	return snapshot, nil
}

// Get returns a copy of the export record.
func (e *Exporter) Get(id string) (Export, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	job, ok := e.jobs[id]
	if !ok {
		return Export{}, false
	}
	return *job, true
}

func (e *Exporter) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case id := <-e.queue:
			e.materialize(id)
		}
	}
}

func (e *Exporter) materialize(id string) {
	e.update(id, func(job *Export) {
		job.Status = StatusRunning
	})

	view, err := e.agg.Aggregate()
	if err != nil {
		e.fail(id, fmt.Errorf("aggregate: %w", err))
		return
	}
	payload, err := encodeView(view)
	if err != nil {
		e.fail(id, fmt.Errorf("encode snapshot: %w", err))
		return
	}
	key := "aggregate/" + id + ".jsonl"
	info, err := e.store.Put(e.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/x-ndjson",
		Metadata: map[string]string{
			"entries": fmt.Sprintf("%d", len(view.Entries)),
			"skipped": fmt.Sprintf("%d", view.Skipped),
		},
	})
	if err != nil {
		e.fail(id, fmt.Errorf("store snapshot: %w", err))
		return
	}

	var requestedBy string
	e.update(id, func(job *Export) {
		now := time.Now().UTC()
		job.Status = StatusSucceeded
		job.Artifact = &info
		job.EntryCount = len(view.Entries)
		job.Skipped = view.Skipped
		job.CompletedAt = &now
		requestedBy = job.RequestedBy
	})
	e.recordAudit(e.ctx, requestedBy, id, "export succeeded")
}

func (e *Exporter) fail(id string, err error) {
	var requestedBy string
	e.update(id, func(job *Export) {
		now := time.Now().UTC()
		job.Status = StatusFailed
		job.Error = err.Error()
		job.CompletedAt = &now
		requestedBy = job.RequestedBy
	})
	e.recordAudit(e.ctx, requestedBy, id, "export failed: "+err.Error())
}

func (e *Exporter) update(id string, fn func(*Export)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
}

func (e *Exporter) recordAudit(ctx context.Context, principal, exportID, detail string) {
	if e.auditLog == nil {
		return
	}
	_ = e.auditLog.Record(ctx, audit.NewEvent(audit.KindExport, principal, "", detail+" id="+exportID))
}

// encodeView renders the view as canonical JSONL, one tagged entry per line.
func encodeView(view View) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, tagged := range view.Entries {
		if err := enc.Encode(tagged); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

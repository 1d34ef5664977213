package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"enclave/internal/aggregate"
	"enclave/internal/audit"
	"enclave/internal/auth"
	"enclave/internal/corpus"
	"enclave/internal/observation"
	"enclave/internal/pathguard"
	"enclave/internal/sandbox"
)

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleCorpusHash reports the expected and recomputed corpus digests. A
// mismatch is reported in the body, not raised; read paths that need the
// records enforce it.
func (g *Gateway) handleCorpusHash(w http.ResponseWriter, r *http.Request) {
	check, err := g.dataset.Verify()
	if err != nil {
		g.logger.Error("corpus hash check failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "corpus hash check failed")
		return
	}
	if !check.Matches {
		g.logger.Error("corpus integrity violation detected",
			"expected", check.Expected, "actual", check.Actual)
		g.countViolation("integrity")
		g.recordAudit(r.Context(), audit.KindIntegrity, principalFrom(r.Context()), "",
			"corpus hash mismatch reported by hash check")
	}
	writeJSON(w, http.StatusOK, check)
}

func (g *Gateway) handleCorpusRecords(w http.ResponseWriter, r *http.Request) {
	records, err := g.dataset.Load()
	if err != nil {
		var integrity *corpus.IntegrityError
		if errors.As(err, &integrity) {
			g.logger.Error("corpus integrity violation", "expected", integrity.Expected, "actual", integrity.Actual)
			g.countViolation("integrity")
			g.recordAudit(r.Context(), audit.KindIntegrity, principalFrom(r.Context()), "",
				"corpus hash mismatch on load")
			writeError(w, http.StatusInternalServerError, "integrity_violation", "corpus content hash mismatch")
			return
		}
		g.logger.Error("corpus load failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "corpus load failed")
		return
	}
	if records == nil {
		records = []corpus.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (g *Gateway) handleAppend(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	namespaceID := chi.URLParam(r, "id")
	if err := sandbox.ValidateID(namespaceID); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	// Authorization precedes the body read: a cross-namespace attempt is
	// refused as forbidden whatever the payload looks like.
	if err := g.gate.AuthorizeNamespace(principal, namespaceID); err != nil {
		g.rejectAppend(w, r, principal, namespaceID, err)
		return
	}

	raws, err := decodeBatch(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	ns, err := sandbox.NewNamespace(g.cfg.NamespacesRoot, namespaceID, g.cfg.DenyRootsFor(namespaceID))
	if err != nil {
		g.logger.Error("namespace construction failed", "namespace", namespaceID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "namespace unavailable")
		return
	}

	start := time.Now()
	written, err := g.writer.Append(r.Context(), ns, principal, raws)
	if err != nil {
		g.rejectAppend(w, r, principal, namespaceID, err)
		return
	}
	if g.metrics != nil {
		g.metrics.AppendSeconds.Observe(time.Since(start).Seconds())
		g.metrics.EntriesAppended.Add(float64(written))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "written": written})
}

// rejectAppend maps write-path failures to boundary outcomes. Path
// violations are logged at error severity and audited: they indicate an
// attack or a serious bug, not an ordinary client mistake.
func (g *Gateway) rejectAppend(w http.ResponseWriter, r *http.Request, principal auth.Principal, namespaceID string, err error) {
	var forbidden *auth.ForbiddenError
	if errors.As(err, &forbidden) {
		g.logger.Warn("cross-namespace write refused", "principal", principal, "namespace", namespaceID)
		g.countViolation("forbidden")
		g.recordAudit(r.Context(), audit.KindForbidden, principal, namespaceID,
			"principal attempted to write another namespace")
		writeError(w, http.StatusForbidden, "forbidden", "credential not authorized for this namespace")
		return
	}
	var schema *observation.SchemaError
	if errors.As(err, &schema) {
		g.countViolation("schema")
		writeError(w, http.StatusBadRequest, "schema_violation", schema.Error())
		return
	}
	var violation *pathguard.Violation
	if errors.As(err, &violation) {
		g.logger.Error("sandbox escape rejected", "principal", principal, "namespace", namespaceID, "reason", violation.Reason)
		g.countViolation("path")
		g.recordAudit(r.Context(), audit.KindPathViolation, principal, namespaceID, violation.Reason)
		writeError(w, http.StatusBadRequest, "path_violation", "write target escapes the authorized namespace")
		return
	}
	g.logger.Error("append failed", "principal", principal, "namespace", namespaceID, "err", err)
	writeError(w, http.StatusInternalServerError, "server_error", "append failed")
}

func (g *Gateway) handleAggregate(w http.ResponseWriter, r *http.Request) {
	view, err := g.agg.Aggregate()
	if err != nil {
		g.logger.Error("aggregation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "aggregation failed")
		return
	}
	if g.metrics != nil && view.Skipped > 0 {
		g.metrics.AggregateSkips.Add(float64(view.Skipped))
	}
	entries := view.Entries
	if entries == nil {
		entries = []aggregate.TaggedEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"skipped": view.Skipped,
	})
}

func (g *Gateway) handleExportCreate(w http.ResponseWriter, r *http.Request) {
	if g.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "server_error", "exports not configured")
		return
	}
	job, err := g.exporter.Enqueue(r.Context(), string(principalFrom(r.Context())))
	if err != nil {
		g.logger.Error("export enqueue failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "export enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"export": job})
}

func (g *Gateway) handleExportGet(w http.ResponseWriter, r *http.Request) {
	if g.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "server_error", "exports not configured")
		return
	}
	job, ok := g.exporter.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown export")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": job})
}

func (g *Gateway) handleAudit(w http.ResponseWriter, r *http.Request) {
	if g.auditLog == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []audit.Event{}, "count": 0})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := g.auditLog.Recent(r.Context(), limit)
	if err != nil {
		g.logger.Error("audit read failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "audit read failed")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// decodeBatch accepts either a single JSON object or an array of objects and
// returns the raw entries for validation.
func decodeBatch(body io.Reader) ([]json.RawMessage, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.New("unreadable request body")
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("missing JSON body")
	}
	switch trimmed[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, errors.New("body must be a JSON object or array of objects")
		}
		if len(raws) == 0 {
			return nil, errors.New("empty batch")
		}
		return raws, nil
	case '{':
		var single json.RawMessage
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, errors.New("body must be a JSON object or array of objects")
		}
		return []json.RawMessage{single}, nil
	default:
		return nil, errors.New("body must be a JSON object or array of objects")
	}
}

// Package gateway is the boundary of the isolation core: it authenticates
// requests, dispatches them into the corpus reader, sandbox writer, and
// aggregator, and is the single place where internal failure kinds map to
// boundary responses.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"enclave/internal/aggregate"
	"enclave/internal/audit"
	"enclave/internal/auth"
	"enclave/internal/config"
	"enclave/internal/corpus"
	"enclave/internal/metrics"
	"enclave/internal/sandbox"
)

// Gateway wires the core components behind an HTTP surface. Control flows
// strictly inward: no component calls back into the gateway.
type Gateway struct {
	cfg      config.Config
	gate     *auth.Gate
	dataset  corpus.Dataset
	writer   *sandbox.Writer
	agg      aggregate.Aggregator
	exporter *aggregate.Exporter
	auditLog audit.Log
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New assembles a gateway from explicitly constructed collaborators.
func New(cfg config.Config, gate *auth.Gate, exporter *aggregate.Exporter, auditLog audit.Log, m *metrics.Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:      cfg,
		gate:     gate,
		dataset:  corpus.Dataset{Path: cfg.Corpus.Path, HashPath: cfg.Corpus.HashPath},
		writer:   sandbox.NewWriter(gate),
		agg:      aggregate.Aggregator{NamespacesRoot: cfg.NamespacesRoot},
		exporter: exporter,
		auditLog: auditLog,
		metrics:  m,
		logger:   logger,
	}
}

// Router builds the HTTP routing table.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(g.instrument)

	r.Get("/v1/health", g.handleHealth)
	if g.metrics != nil {
		r.Method(http.MethodGet, "/metrics", g.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(g.authenticate)
		r.Get("/v1/core/hash", g.handleCorpusHash)
		r.Get("/v1/core/records", g.handleCorpusRecords)
		r.Post("/v1/agents/{id}/entries", g.handleAppend)
		r.Get("/v1/aggregate", g.handleAggregate)
		r.Post("/v1/aggregate/exports", g.handleExportCreate)
		r.Get("/v1/aggregate/exports/{id}", g.handleExportGet)
		r.Get("/v1/audit", g.handleAudit)
	})
	return r
}

type contextKey struct{}

var principalKey contextKey

// principalFrom returns the authenticated principal stored by the
// authenticate middleware.
func principalFrom(ctx context.Context) auth.Principal {
	principal, _ := ctx.Value(principalKey).(auth.Principal)
	return principal
}

// authenticate resolves the bearer credential before any dispatch. Missing,
// malformed, and unknown credentials all terminate the request here.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.gate.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			g.logger.Warn("authentication failed", "remote", r.RemoteAddr, "err", err)
			g.countViolation("unauthorized")
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument records a request counter labeled by route pattern and status.
func (g *Gateway) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		g.metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (g *Gateway) countViolation(kind string) {
	if g.metrics != nil {
		g.metrics.Violations.WithLabelValues(kind).Inc()
	}
}

// recordAudit is best-effort; an audit sink failure is logged and dropped.
func (g *Gateway) recordAudit(ctx context.Context, kind audit.Kind, principal auth.Principal, namespace, detail string) {
	if g.auditLog == nil {
		return
	}
	if err := g.auditLog.Record(ctx, audit.NewEvent(kind, string(principal), namespace, detail)); err != nil {
		g.logger.Warn("audit record failed", "kind", kind, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the boundary failure shape. message must never carry
// internal filesystem paths.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": code, "message": message})
}

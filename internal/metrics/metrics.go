// Package metrics exposes prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the collectors the service records into. Each instance
// owns its registry so tests never share state through a process global.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	Violations      *prometheus.CounterVec
	EntriesAppended prometheus.Counter
	AggregateSkips  prometheus.Counter
	AppendSeconds   prometheus.Histogram
}

// New constructs and registers the service collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enclave_requests_total",
			Help: "Requests served, labeled by route pattern and status code.",
		}, []string{"route", "code"}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enclave_violations_total",
			Help: "Rejected operations by violation kind.",
		}, []string{"kind"}),
		EntriesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enclave_entries_appended_total",
			Help: "Observation entries appended to namespace logs.",
		}),
		AggregateSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "enclave_aggregate_skipped_lines_total",
			Help: "Malformed or incomplete log lines excluded from aggregation.",
		}),
		AppendSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "enclave_append_duration_seconds",
			Help:    "Latency of namespace append operations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(
		m.Requests,
		m.Violations,
		m.EntriesAppended,
		m.AggregateSkips,
		m.AppendSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Package metrics holds the Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every pipeline metric on one Prometheus registry so the
// ops server can expose it and tests can use an isolated instance.
type Registry struct {
	prom *prometheus.Registry

	EventsIngested  *prometheus.CounterVec // by source mode
	EventsDropped   *prometheus.CounterVec // by reason
	ParseErrors     prometheus.Counter
	EnrichOutcomes  *prometheus.CounterVec // by outcome
	EnrichLatency   prometheus.Histogram
	CorrelatorHits  *prometheus.CounterVec // by correlator
	DedupDecisions  *prometheus.CounterVec // by class
	DispatchErrors  prometheus.Counter
	SourceMode      prometheus.Gauge       // 0 disconnected, 1 streaming, 2 polling
	FailoverTotal   *prometheus.CounterVec // by direction
	WindowSize      *prometheus.GaugeVec   // by correlator
	ProviderErrors  *prometheus.CounterVec // by call
	InflightTasks   prometheus.Gauge
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	r := &Registry{prom: prometheus.NewRegistry()}

	r.EventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_events_ingested_total",
		Help: "Raw events accepted from a source, by source mode",
	}, []string{"source"})

	r.EventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_events_dropped_total",
		Help: "Raw events dropped before the pipeline, by reason",
	}, []string{"reason"})

	r.ParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_parse_errors_total",
		Help: "Malformed upstream messages dropped at the parse boundary",
	})

	r.EnrichOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_enrich_outcomes_total",
		Help: "Enrichment attempts by outcome (ok, degraded, price_only)",
	}, []string{"outcome"})

	r.EnrichLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowsentry_enrich_latency_seconds",
		Help:    "Latency of contract snapshot enrichment",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
	})

	r.CorrelatorHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_correlator_hits_total",
		Help: "Correlated patterns detected, by correlator",
	}, []string{"correlator"})

	r.DedupDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_dedup_decisions_total",
		Help: "Dedup gate decisions, by class",
	}, []string{"class"})

	r.DispatchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flowsentry_dispatch_consumer_errors_total",
		Help: "Consumer callbacks that panicked or returned an error",
	})

	r.SourceMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_source_mode",
		Help: "Active source mode: 0 disconnected, 1 streaming, 2 polling",
	})

	r.FailoverTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_failover_total",
		Help: "Source transitions, by direction (to_poll, to_stream)",
	}, []string{"direction"})

	r.WindowSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flowsentry_correlation_window_entries",
		Help: "Entries currently buffered across correlation windows",
	}, []string{"correlator"})

	r.ProviderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsentry_provider_errors_total",
		Help: "Upstream provider call failures, by call",
	}, []string{"call"})

	r.InflightTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flowsentry_inflight_tasks",
		Help: "Per-event tasks currently holding a semaphore slot",
	})

	r.prom.MustRegister(
		r.EventsIngested, r.EventsDropped, r.ParseErrors,
		r.EnrichOutcomes, r.EnrichLatency,
		r.CorrelatorHits, r.DedupDecisions, r.DispatchErrors,
		r.SourceMode, r.FailoverTotal, r.WindowSize,
		r.ProviderErrors, r.InflightTasks,
	)
	return r
}

// Gatherer exposes the underlying registry for the /metrics endpoint.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

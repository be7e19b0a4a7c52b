// Placemat - Community CRM Multi-Source Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placemat

// Package metrics holds the Prometheus collectors for the integration layer.
//
// Collectors are registered on the default registry at package init and
// served by promhttp at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Integration pipeline
	IntegrationRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placemat_integration_request_duration_seconds",
			Help:    "Duration of unified integration requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"}, // outcome: "success", "partial", "cache_hit", "failed", "unavailable"
	)

	IntegrationMergedRecords = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placemat_integration_merged_records",
			Help:    "Records remaining after merge and deduplication",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"kind"},
	)

	// Source adapters
	SourceCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placemat_source_call_duration_seconds",
			Help:    "Duration of calls to external source adapters",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "kind"},
	)

	SourceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemat_source_calls_total",
			Help: "Source adapter call outcomes",
		},
		[]string{"source", "kind", "result"}, // result: "success", "failure", "rejected", "throttled"
	)

	SourceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "placemat_source_healthy",
			Help: "Last health probe result per source (1=healthy, 0=unhealthy)",
		},
		[]string{"source"},
	)

	// Cache
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "memory", "redis", "badger"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry)",
		},
		[]string{"cache_type"},
	)

	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidated_entries_total",
			Help: "Entries removed by tag, pattern or full invalidation",
		},
		[]string{"cache_type", "method"}, // method: "tags", "pattern", "all"
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_errors_total",
			Help: "Cache backend errors tolerated by the integration layer",
		},
		[]string{"operation"}, // "get", "set", "invalidate"
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected", "excluded"
	)

	CircuitBreakerWindowFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_window_failures",
			Help: "Failures counted inside the current monitoring window",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Request batcher
	BatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placemat_batch_size",
			Help:    "Requests per executed batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"kind"},
	)

	BatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemat_batch_flushes_total",
			Help: "Batch executions by trigger",
		},
		[]string{"trigger"}, // "size", "priority", "timeout", "shutdown"
	)

	BatchPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "placemat_batch_pending_requests",
			Help: "Requests queued and waiting for their batch to execute",
		},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Requests currently being served",
		},
	)
)

// RecordIntegrationRequest records one GetContacts/GetProjects/GetFinanceData call.
func RecordIntegrationRequest(kind, outcome string, duration time.Duration) {
	IntegrationRequestDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}

// RecordSourceCall records a source adapter call outcome.
func RecordSourceCall(source, kind, result string, duration time.Duration) {
	SourceCalls.WithLabelValues(source, kind, result).Inc()
	if result != "rejected" && result != "throttled" {
		SourceCallDuration.WithLabelValues(source, kind).Observe(duration.Seconds())
	}
}

// RecordSourceHealth stores the latest health probe for a source.
func RecordSourceHealth(source string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	SourceHealthy.WithLabelValues(source).Set(v)
}

// RecordBatch records an executed batch.
func RecordBatch(kind string, size int) {
	BatchSize.WithLabelValues(kind).Observe(float64(size))
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

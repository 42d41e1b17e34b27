// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_requests_total",
			Help: "Total number of upstream requests by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_request_duration_seconds",
			Help:    "Duration of upstream requests including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"source"},
	)

	SourceRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_retries_total",
			Help: "Total number of retried upstream attempts",
		},
		[]string{"source"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
		},
		[]string{"source"},
	)

	CircuitBreakerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_events_total",
			Help: "Circuit breaker lifecycle events",
		},
		[]string{"source", "event"},
	)

	RateLimiterWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter slot",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"source"},
	)

	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Cache operations by source, operation and result",
		},
		[]string{"source", "operation", "result"},
	)

	CacheFallbackMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_fallback_mode",
			Help: "1 when the cache is serving from the in-memory tier",
		},
	)

	SearchSourceStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_source_status_total",
			Help: "Per-source outcome of orchestrated searches",
		},
		[]string{"source", "status"},
	)

	SearchOverallStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_overall_status_total",
			Help: "Overall status of orchestrated searches",
		},
		[]string{"status"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "search_duration_seconds",
			Help:    "End-to-end duration of orchestrated searches",
			Buckets: prometheus.DefBuckets,
		},
	)

	AggregationConfidence = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_aggregation_confidence_total",
			Help: "Price aggregations produced by confidence level",
		},
		[]string{"confidence"},
	)
)

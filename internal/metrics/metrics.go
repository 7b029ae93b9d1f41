// Package metrics holds the Prometheus collectors shared by the engine, the
// index builders and the HTTP layer. Collectors are registered once on the
// default registry and exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecommendationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusionrec_recommendation_requests_total",
		Help: "Total number of recommendation requests by mode and outcome",
	}, []string{"mode", "outcome"})

	RecommendationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fusionrec_recommendation_duration_seconds",
		Help:    "Recommendation request latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"mode"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fusionrec_http_request_duration_seconds",
		Help:    "HTTP request latency by route template and status class",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	CandidateCount = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fusionrec_candidates",
		Help:    "Number of candidates produced per source per request",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
	}, []string{"source"})

	SourceDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusionrec_source_degraded_total",
		Help: "Candidate sources treated as empty because of an error or timeout",
	}, []string{"source", "reason"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusionrec_cache_lookups_total",
		Help: "Recommendation cache lookups by result",
	}, []string{"result"})

	IndexBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fusionrec_index_build_duration_seconds",
		Help:    "Offline index build duration",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	}, []string{"kind"})

	IndexBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusionrec_index_builds_total",
		Help: "Offline index builds by kind and status",
	}, []string{"kind", "status"})

	IndexRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fusionrec_index_rows",
		Help: "Rows in the active index generation",
	}, []string{"kind"})

	ActiveGeneration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fusionrec_index_active_generation",
		Help: "Identifier of the active index generation",
	}, []string{"kind"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fusionrec_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})

	CircuitBreakerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusionrec_circuit_breaker_requests_total",
		Help: "Requests through a circuit breaker by result",
	}, []string{"name", "result"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fusionrec_events_published_total",
		Help: "Kafka events published by topic and status",
	}, []string{"topic", "status"})

	HealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fusionrec_health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	HealthCheckTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fusionrec_health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	SystemInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fusionrec_system_info",
		Help: "Process memory and goroutine statistics",
	}, []string{"metric_type"})

	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fusionrec_database_connection_pool",
		Help: "PostgreSQL connection pool usage",
	}, []string{"state"})
)

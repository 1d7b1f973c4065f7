package observability

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, status code, and host
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_http_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status_code", "host"},
	)

	// HTTPRequestDuration tracks HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prefetch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to 16s
		},
		[]string{"method", "host"},
	)

	// HTTPBytesTotal counts response body bytes received per host
	HTTPBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_http_bytes_total",
			Help: "Total response bytes received",
		},
		[]string{"host"},
	)

	// CacheHitsTotal counts cache hits by cache tier
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_cache_hits_total",
			Help: "Total number of cache hits by cache tier",
		},
		[]string{"tier"}, // repo, files, memory
	)

	// CacheMissesTotal counts cache misses by cache tier
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_cache_misses_total",
			Help: "Total number of cache misses by cache tier",
		},
		[]string{"tier"},
	)

	// JobsTotal counts scheduler jobs by outcome
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_jobs_total",
			Help: "Total number of scheduler jobs by status",
		},
		[]string{"status"}, // success, skipped
	)

	// JobDuration tracks how long a single job callback ran
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prefetch_job_duration_seconds",
			Help:    "Scheduler job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
	)

	// DeferredSessionsTotal counts nested Download calls handed to the outermost session at the nesting cap
	DeferredSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prefetch_deferred_sessions_total",
			Help: "Nested download sessions deferred to the root session",
		},
	)

	// DegradedReadsTotal counts metadata served from cache after a failed fetch
	DegradedReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_degraded_reads_total",
			Help: "Metadata documents served from cache after a network failure",
		},
		[]string{"repository"},
	)

	// CircuitBreakerTrips counts breaker trips per host
	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"host"},
	)

	// LegacyVersionsRemoved counts versions dropped by the legacy tag filter
	LegacyVersionsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_legacy_versions_removed_total",
			Help: "Versions removed from provider documents by the legacy tag filter",
		},
		[]string{"package"},
	)
)

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts an HTTP server exposing Prometheus metrics
func StartMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	return http.ListenAndServe(addr, mux)
}

// GetCounterValue retrieves the current value of a counter metric with the given labels.
// This is primarily intended for testing.
func GetCounterValue(counter *prometheus.CounterVec, labels ...string) (float64, error) {
	metric, err := counter.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0, err
	}

	var pb dto.Metric
	if err := metric.Write(&pb); err != nil {
		return 0, err
	}

	if pb.Counter != nil {
		return pb.Counter.GetValue(), nil
	}

	return 0, nil
}

// GetPlainCounterValue reads an unlabelled counter. Intended for tests.
func GetPlainCounterValue(counter prometheus.Counter) float64 {
	var pb dto.Metric
	if err := counter.Write(&pb); err != nil || pb.Counter == nil {
		return 0
	}
	return pb.Counter.GetValue()
}

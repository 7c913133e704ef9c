package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storageDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the storefront.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Filter metrics
	FilterValidationFailures *prometheus.CounterVec
	FilterQueriesTotal       *prometheus.CounterVec

	// Storage metrics
	StorageOperationDuration *prometheus.HistogramVec
	StorageErrorsTotal       *prometheus.CounterVec

	// Relation metrics
	RelationUpdatesTotal *prometheus.CounterVec
	RelationChangesTotal *prometheus.CounterVec

	// Idempotency metrics
	IdempotencyReplaysTotal   prometheus.Counter
	IdempotencyConflictsTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Filters
		FilterValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_filter_validation_failures_total",
			Help: "Total number of rejected query parameters by reason.",
		}, []string{"resource", "reason"}),
		FilterQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_filter_queries_total",
			Help: "Total number of filtered list requests.",
		}, []string{"resource", "status"}),

		// Storage
		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds.",
			Buckets: storageDurationBuckets,
		}, []string{"operation"}),
		StorageErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_storage_errors_total",
			Help: "Total number of failed storage operations.",
		}, []string{"operation"}),

		// Relations
		RelationUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_relation_updates_total",
			Help: "Total number of relation update requests.",
		}, []string{"relation", "status"}),
		RelationChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_relation_changes_total",
			Help: "Total number of relation members added or removed.",
		}, []string{"relation", "change"}),

		// Idempotency
		IdempotencyReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_idempotency_replays_total",
			Help: "Total number of updates answered from the idempotency store.",
		}),
		IdempotencyConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_idempotency_conflicts_total",
			Help: "Total number of idempotency keys reused with a different input.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Filters
		m.FilterValidationFailures,
		m.FilterQueriesTotal,
		// Storage
		m.StorageOperationDuration,
		m.StorageErrorsTotal,
		// Relations
		m.RelationUpdatesTotal,
		m.RelationChangesTotal,
		// Idempotency
		m.IdempotencyReplaysTotal,
		m.IdempotencyConflictsTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordFilterQuery records a list request outcome: "ok", "invalid" or "error".
func (m *Metrics) RecordFilterQuery(resource, status string) {
	m.FilterQueriesTotal.WithLabelValues(resource, status).Inc()
}

// RecordValidationFailure records one rejected query parameter.
func (m *Metrics) RecordValidationFailure(resource, reason string) {
	m.FilterValidationFailures.WithLabelValues(resource, reason).Inc()
}

// RecordStorageOperation records the duration of a storage call and counts
// it as failed when err is non-nil.
func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.StorageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.StorageErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// RecordRelationUpdate records a relation update and the number of members
// it added and removed.
func (m *Metrics) RecordRelationUpdate(relation, status string, added, removed int) {
	m.RelationUpdatesTotal.WithLabelValues(relation, status).Inc()
	if added > 0 {
		m.RelationChangesTotal.WithLabelValues(relation, "add").Add(float64(added))
	}
	if removed > 0 {
		m.RelationChangesTotal.WithLabelValues(relation, "remove").Add(float64(removed))
	}
}

// RecordIdempotencyReplay records an update answered from the idempotency store.
func (m *Metrics) RecordIdempotencyReplay() {
	m.IdempotencyReplaysTotal.Inc()
}

// RecordIdempotencyConflict records a reused idempotency key.
func (m *Metrics) RecordIdempotencyConflict() {
	m.IdempotencyConflictsTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	// A subrouter index route ends in "/".
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	expected := []string{
		"storefront_http_requests_total",
		"storefront_http_request_duration_seconds",
		"storefront_http_request_size_bytes",
		"storefront_http_response_size_bytes",
		"storefront_filter_validation_failures_total",
		"storefront_filter_queries_total",
		"storefront_storage_operation_duration_seconds",
		"storefront_storage_errors_total",
		"storefront_relation_updates_total",
		"storefront_relation_changes_total",
		"storefront_idempotency_replays_total",
		"storefront_idempotency_conflicts_total",
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordHTTPRequest("GET", "/test", 200, time.Millisecond, 0, 100)
	m.RecordFilterQuery("stores", "ok")
	m.RecordValidationFailure("stores", "UnknownParameter")
	m.RecordStorageOperation("list_stores", time.Millisecond, errors.New("boom"))
	m.RecordRelationUpdate("managers", "ok", 1, 1)
	m.RecordIdempotencyReplay()
	m.RecordIdempotencyConflict()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/stores/{storeId}", 200, 50*time.Millisecond, 0, 1024)
	m.RecordHTTPRequest("GET", "/stores/{storeId}", 200, 100*time.Millisecond, 0, 2048)
	m.RecordHTTPRequest("PUT", "/stores/{storeId}/managers", 500, 200*time.Millisecond, 512, 256)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/stores/{storeId}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("PUT", "/stores/{storeId}/managers", "500"))
	if val != 1 {
		t.Errorf("PUT requests = %v, want 1", val)
	}
}

func TestRecordValidationFailure(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordValidationFailure("days", "DuplicateParameter")
	m.RecordValidationFailure("days", "DuplicateParameter")
	m.RecordFilterQuery("days", "invalid")

	val := testutil.ToFloat64(m.FilterValidationFailures.WithLabelValues("days", "DuplicateParameter"))
	if val != 2 {
		t.Errorf("validation failures = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.FilterQueriesTotal.WithLabelValues("days", "invalid"))
	if val != 1 {
		t.Errorf("invalid queries = %v, want 1", val)
	}
}

func TestRecordStorageOperation(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordStorageOperation("list_stores", 5*time.Millisecond, nil)
	m.RecordStorageOperation("list_stores", 5*time.Millisecond, errors.New("down"))

	if count := testutil.CollectAndCount(m.StorageOperationDuration); count == 0 {
		t.Error("expected storage duration histogram to have observations")
	}
	val := testutil.ToFloat64(m.StorageErrorsTotal.WithLabelValues("list_stores"))
	if val != 1 {
		t.Errorf("storage errors = %v, want 1", val)
	}
}

func TestRecordRelationUpdate(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRelationUpdate("managers", "ok", 2, 1)
	m.RecordRelationUpdate("managers", "ok", 0, 0)

	if val := testutil.ToFloat64(m.RelationUpdatesTotal.WithLabelValues("managers", "ok")); val != 2 {
		t.Errorf("updates = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.RelationChangesTotal.WithLabelValues("managers", "add")); val != 2 {
		t.Errorf("added = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.RelationChangesTotal.WithLabelValues("managers", "remove")); val != 1 {
		t.Errorf("removed = %v, want 1", val)
	}
}

func TestRecordIdempotency(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordIdempotencyReplay()
	m.RecordIdempotencyReplay()
	m.RecordIdempotencyConflict()

	if hits := testutil.ToFloat64(m.IdempotencyReplaysTotal); hits != 2 {
		t.Errorf("replays = %v, want 2", hits)
	}
	if conflicts := testutil.ToFloat64(m.IdempotencyConflictsTotal); conflicts != 1 {
		t.Errorf("conflicts = %v, want 1", conflicts)
	}
}

func TestMetricsMiddleware_recordsRequestMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Build a chi router so route patterns are captured.
	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/stores/{storeId}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/stores/7", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// Verify metrics were recorded with the route pattern, not the actual path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/stores/{storeId}", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_subrouterPattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Route("/stores", func(r chi.Router) {
		r.Get("/{storeId}/managers", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/stores/7/managers", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/stores/{storeId}/managers", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_subrouterIndex(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Route("/stores", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/stores", nil))

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/stores", "200"))
	if val != 1 {
		t.Errorf("requests total = %v, want 1", val)
	}
}

func TestMetricsMiddleware_capturesResponseSize(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("healthy"))
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	count := testutil.CollectAndCount(m.HTTPResponseSizeBytes)
	if count == 0 {
		t.Error("expected response size histogram to have observations")
	}
}

func TestMetricsMiddleware_capturesStatusCode(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/stores", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodGet, "/stores?foo=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/stores", "400"))
	if val != 1 {
		t.Errorf("400 requests = %v, want 1", val)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	// Use middleware directly without chi router.
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/raw/path", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// Without chi, should fall back to raw path.
	val := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200"))
	if val != 1 {
		t.Errorf("raw path requests = %v, want 1", val)
	}
}

func TestHandlerFor_servesRegistry(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordFilterQuery("stores", "ok")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "storefront_filter_queries_total") {
		t.Error("metrics response should contain storefront_filter_queries_total")
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	handler := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	// Prometheus handler should return at least go runtime metrics.
	if !strings.Contains(body, "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}

func TestHistogramBuckets(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"http":    httpDurationBuckets,
		"storage": storageDurationBuckets,
		"body":    bodySizeBuckets,
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Errorf("%s buckets not sorted at index %d", name, i)
			}
		}
	}
}

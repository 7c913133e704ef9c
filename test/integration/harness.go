// Package integration provides a reusable test harness for end-to-end
// integration testing of the storefront server. It starts a full HTTP server
// over the seeded in-memory store, a real idempotency store, and a test JWT
// issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/catalog"
	"github.com/pitabwire/storefront/internal/config"
	"github.com/pitabwire/storefront/internal/idempotency"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/internal/relation"
	"github.com/pitabwire/storefront/internal/schema"
	"github.com/pitabwire/storefront/internal/storage"
	"github.com/pitabwire/storefront/internal/transport"
	"github.com/pitabwire/storefront/model"
)

// TestHarness encapsulates a fully wired storefront instance for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store            *storage.MemoryStore
	IdempotencyStore idempotency.Store
	Redis            *miniredis.Miniredis
	Metrics          *prometheus.Registry

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	redisIdempotency bool
	emptyMeansNoop   bool
	handlerTimeout   time.Duration
	maxBodyBytes     int64
	defaultPageSize  int
}

// WithRedisIdempotency backs idempotency with a miniredis server instead of
// the in-memory store.
func WithRedisIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.redisIdempotency = true
	}
}

// WithEmptyMeansNoop makes an empty manager set leave the relation unchanged.
func WithEmptyMeansNoop() HarnessOption {
	return func(c *harnessConfig) {
		c.emptyMeansNoop = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) HarnessOption {
	return func(c *harnessConfig) {
		c.maxBodyBytes = n
	}
}

// WithPageSize sets the default list page size.
func WithPageSize(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.defaultPageSize = n
	}
}

// NewTestHarness creates and starts a fully wired storefront server.
// The server is stopped automatically when the test finishes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout:  10 * time.Second,
		maxBodyBytes:    1 << 20,
		defaultPageSize: 3,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{
		t:      t,
		issuer: newTokenIssuer(),
		Store:  storage.NewMemoryStore(),
	}

	seed, err := storage.LoadSeed(filepath.Join(repoRoot(), "internal", "storage", "testdata", "seed.yaml"))
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	if err := h.Store.Seed(context.Background(), seed); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if hc.redisIdempotency {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { client.Close() })
		h.IdempotencyStore = idempotency.NewRedisStore(client)
	} else {
		h.IdempotencyStore = idempotency.NewMemoryStore()
	}

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.MaxBodyBytes = hc.maxBodyBytes
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()

	h.Metrics = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Metrics)

	logger := zap.NewNop()
	registry := schema.Default()
	svc := catalog.NewService(h.Store, registry,
		catalog.WithLogger(logger),
		catalog.WithMetrics(metrics),
		catalog.WithPagination(hc.defaultPageSize, h.cfg.Pagination.MaxPageSize),
		catalog.WithManagerPolicy(relation.Policy{EmptyMeansNoop: hc.emptyMeansNoop}),
		catalog.WithIdempotency(h.IdempotencyStore, time.Hour),
	)

	router := transport.NewRouter(transport.Dependencies{
		Config:      h.cfg,
		Catalog:     svc,
		Logger:      logger,
		Metrics:     metrics,
		MetricsPage: observability.HandlerFor(h.Metrics),
		Readiness: observability.ReadinessChecks{
			SchemasLoaded:    func() bool { return len(registry.Resources()) > 0 },
			Store:            h.Store,
			IdempotencyStore: observability.CheckFunc(h.IdempotencyStore.Ping),
		},
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, h.issuer.Secret()),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the base URL of the harness HTTP server.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates an expired JWT with the given claims.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP helpers ---

// GET sends a GET request with the given bearer token.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// PUT sends a PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token, nil)
}

// PATCH sends a PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPatch, path, body, token, nil)
}

// PUTWithHeaders sends a PUT request with a JSON body and extra headers.
func (h *TestHarness) PUTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token, headers)
}

// DoRaw sends a request with a raw body.
func (h *TestHarness) DoRaw(method, path string, body []byte, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(method, path, json.RawMessage(body), token, nil)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		bodyReader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and error code of an error response and
// returns the envelope.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
	return body.Error
}

// --- Default test claims ---

// AdminClaims returns TestClaims for the seeded superuser.
func AdminClaims() TestClaims {
	return TestClaims{UserID: 1, Email: "admin@example.com", Superuser: true}
}

// OwnerClaims returns TestClaims for the owner of stores 1 and 2.
func OwnerClaims() TestClaims {
	return TestClaims{UserID: 2, Email: "owner@example.com"}
}

// ManagerClaims returns TestClaims for the manager of stores 1 and 2.
func ManagerClaims() TestClaims {
	return TestClaims{UserID: 3, Email: "mia@example.com"}
}

// OtherOwnerClaims returns TestClaims for the owner of stores 3 and 4.
func OtherOwnerClaims() TestClaims {
	return TestClaims{UserID: 5, Email: "olga@example.com"}
}

// --- Response shapes ---

// ListBody is a decoded list response.
type ListBody struct {
	Count    int              `json:"count"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Results  []map[string]any `json:"results"`
	Message  string           `json:"message"`
}

// IDs returns the "id" of each result.
func (b ListBody) IDs() []int64 {
	out := make([]int64, len(b.Results))
	for i, r := range b.Results {
		id, _ := r["id"].(float64)
		out[i] = int64(id)
	}
	return out
}

// --- Helpers ---

// repoRoot returns the absolute path to the module root.
func repoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..")
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

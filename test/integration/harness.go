// Package integration provides a reusable test harness for end-to-end
// integration testing of the copydesk server. It starts a full HTTP server
// with a mock style catalog, in-memory stores, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/copydesk/internal/catalog"
	"github.com/pitabwire/copydesk/internal/config"
	"github.com/pitabwire/copydesk/internal/idempotency"
	"github.com/pitabwire/copydesk/internal/observability"
	"github.com/pitabwire/copydesk/internal/openapi"
	"github.com/pitabwire/copydesk/internal/transport"
	"github.com/pitabwire/copydesk/internal/workflow"
	"github.com/pitabwire/copydesk/model"
)

// TestHarness encapsulates a fully wired server instance with a mock
// catalog for integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store            *workflow.MemoryStore
	Engine           *workflow.Engine
	IdempotencyStore idempotency.Store
	Catalog          *MockCatalog
	CatalogClient    *catalog.Client
	Redis            *miniredis.Miniredis
	Metrics          *prometheus.Registry

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	catalogEnabled bool
	breaker        *config.CircuitBreakerConfig
	redis          bool
	handlerTimeout time.Duration
	maxBodyBytes   int64
}

// WithCatalog wires the engine to a mock style catalog.
func WithCatalog() HarnessOption {
	return func(c *harnessConfig) {
		c.catalogEnabled = true
	}
}

// WithCircuitBreaker sets the catalog circuit breaker configuration. It
// implies WithCatalog.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.catalogEnabled = true
		c.breaker = &cb
	}
}

// WithRedisIdempotency stores idempotency keys in an in-process Redis
// instead of memory.
func WithRedisIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.redis = true
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

// NewTestHarness creates and starts a full server instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		maxBodyBytes:   1 << 20,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t}

	// Step 1: Create JWT issuer.
	h.issuer = newTokenIssuer(t)

	// Step 2: Build config.
	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Server.MaxBodyBytes = hc.maxBodyBytes
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity = config.IdentityConfig{
		Issuer:     h.issuer.Issuer(),
		Audience:   h.issuer.Audience(),
		JWKSURL:    h.issuer.JWKSURL(),
		Algorithms: []string{"RS256"},
	}

	// Step 3: Telemetry.
	h.Metrics = prometheus.NewRegistry()
	metrics := observability.InitMetrics(h.Metrics)

	// Step 4: Load the request schema.
	schema, err := openapi.Load()
	if err != nil {
		t.Fatalf("load request schema: %v", err)
	}

	// Step 5: Build stores.
	h.Store = workflow.NewMemoryStore()
	readiness := observability.ReadinessChecks{
		SchemaLoaded:  func() bool { return true },
		WorkflowStore: h.Store,
	}

	if hc.redis {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { client.Close() })
		store := idempotency.NewRedisStore(client)
		h.IdempotencyStore = store
		readiness.IdempotencyStore = store
	} else {
		store := idempotency.NewMemoryStore()
		h.IdempotencyStore = store
		readiness.IdempotencyStore = store
	}

	// Step 6: Build the engine, optionally backed by the mock catalog.
	engineOpts := []workflow.Option{
		workflow.WithLogger(zap.NewNop()),
		workflow.WithMetrics(metrics),
		workflow.WithLocation(time.UTC),
	}
	if hc.catalogEnabled {
		h.Catalog = newMockCatalog(t)
		catCfg := h.cfg.Catalog
		catCfg.BaseURL = h.Catalog.URL()
		catCfg.Retry = config.RetryConfig{
			MaxAttempts:       2,
			BackoffInitial:    10 * time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        50 * time.Millisecond,
		}
		if hc.breaker != nil {
			catCfg.CircuitBreaker = *hc.breaker
		}
		h.CatalogClient, err = catalog.NewClient(context.Background(), catCfg, catalog.WithMetrics(metrics))
		if err != nil {
			t.Fatalf("build catalog client: %v", err)
		}
		engineOpts = append(engineOpts, workflow.WithCatalog(h.CatalogClient))
		readiness.Catalog = h.CatalogClient
	}
	h.Engine = workflow.NewEngine(h.Store, h.Store, engineOpts...)

	// Step 7: Build router with full middleware chain.
	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour, zap.NewNop())

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       zap.NewNop(),
		Engine:       h.Engine,
		Schema:       schema,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity, jwks),
		Idempotency:  h.IdempotencyStore,
		Metrics:      metrics,
		Gatherer:     h.Metrics,
		Readiness:    readiness,
	})

	// Step 8: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.Do("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do("POST", path, body, token, nil)
}

// PATCH performs an authenticated PATCH request with a JSON body.
func (h *TestHarness) PATCH(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do("PATCH", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.Do("DELETE", path, nil, token, nil)
}

// Do performs a request with optional body, token and extra headers. A
// string body is sent verbatim.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
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

// AssertErrorCode checks the status and the envelope code of an error response.
func (h *TestHarness) AssertErrorCode(t *testing.T, resp *http.Response, status int, code string) *model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error == nil {
		t.Fatalf("response has no error envelope")
	}
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q", body.Error.Code, code)
	}
	return body.Error
}

// CreateWorkflow creates a workflow for styleID and returns it.
func (h *TestHarness) CreateWorkflow(t *testing.T, styleID, token string) model.Workflow {
	t.Helper()
	var wf model.Workflow
	h.AssertJSON(t, h.POST("/workflows", map[string]any{
		"styleId": styleID,
		"brand":   "Acme",
		"title":   "Linen Shirt " + styleID,
	}, token), http.StatusCreated, &wf)
	return wf
}

// --- Default test claims ---

// AdminClaims returns TestClaims for the user who creates and assigns work.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-admin",
		Email:     "admin@acme.example.com",
		Name:      "Ada Admin",
		Roles:     []string{"admin"},
	}
}

// WriterClaims returns TestClaims for a copy writer.
func WriterClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-writer",
		Email:     "writer@acme.example.com",
		Roles:     []string{"writer"},
	}
}

// EditorClaims returns TestClaims for a copy editor.
func EditorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-editor",
		Email:     "editor@acme.example.com",
		Roles:     []string{"editor"},
	}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// Package integration provides a reusable test harness for end-to-end
// integration testing of the back-office server. It starts a full HTTP
// server in front of a mock booking API, with in-memory stores and a test
// JWT issuer.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/audit"
	"github.com/pitabwire/backoffice/internal/capability"
	"github.com/pitabwire/backoffice/internal/config"
	"github.com/pitabwire/backoffice/internal/definition"
	"github.com/pitabwire/backoffice/internal/form"
	"github.com/pitabwire/backoffice/internal/invoker"
	"github.com/pitabwire/backoffice/internal/lookup"
	"github.com/pitabwire/backoffice/internal/metadata"
	"github.com/pitabwire/backoffice/internal/observability"
	"github.com/pitabwire/backoffice/internal/screen"
	"github.com/pitabwire/backoffice/internal/transport"
	"github.com/pitabwire/backoffice/model"
)

// TestHarness encapsulates a fully wired back-office instance with a mock
// booking API for integration testing.
type TestHarness struct {
	t       *testing.T
	server  *httptest.Server
	issuer  *tokenIssuer
	backend *MockBackend

	// Internal components exposed for advanced test scenarios.
	Registry    *definition.Registry
	Client      *invoker.Client
	Screens     *screen.Manager
	LookupCache *lookup.MemoryCache
	AuditStore  *audit.MemoryStore
	CapResolver model.CapabilityResolver

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	policyFile     string
	handlerTimeout time.Duration
	backendTimeout time.Duration
	maxUploadBytes int64
	breaker        *config.CircuitBreakerConfig
	screens        func(*config.ScreensConfig)
}

// WithDefinitions sets the definition directories to load.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) {
		c.definitionDirs = dirs
	}
}

// WithPolicyFile sets the static policy YAML file for capability resolution.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithBackendTimeout sets the timeout of a single booking API call.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.backendTimeout = d
	}
}

// WithMaxUploadBytes bounds multipart request bodies.
func WithMaxUploadBytes(n int64) HarnessOption {
	return func(c *harnessConfig) {
		c.maxUploadBytes = n
	}
}

// WithCircuitBreaker overrides the booking API circuit breaker settings.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) {
		c.breaker = &cb
	}
}

// WithScreens adjusts the mounted screen settings.
func WithScreens(fn func(*config.ScreensConfig)) HarnessOption {
	return func(c *harnessConfig) {
		c.screens = fn
	}
}

// NewTestHarness creates and starts a full back-office test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		backendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	if len(hc.definitionDirs) == 0 {
		hc.definitionDirs = []string{filepath.Join(repoRoot(), "definitions")}
	}
	if hc.policyFile == "" {
		hc.policyFile = filepath.Join(testdataDir(), "policies.yaml")
	}

	h := &TestHarness{
		t:       t,
		backend: newMockBackend(t, BookingAPIRoutes()),
		issuer:  newTokenIssuer(t),
	}

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	if hc.maxUploadBytes > 0 {
		h.cfg.Server.MaxUploadBytes = hc.maxUploadBytes
	}
	h.cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	h.cfg.Backend.BaseURL = h.backend.URL()
	h.cfg.Backend.Timeout = hc.backendTimeout
	h.cfg.Backend.Retry.MaxAttempts = 1
	if hc.breaker != nil {
		h.cfg.Backend.CircuitBreaker = *hc.breaker
	}
	if hc.screens != nil {
		hc.screens(&h.cfg.Screens)
	}

	defs, err := definition.NewLoader().LoadAll(hc.definitionDirs)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := definition.NewValidator().Validate(defs); len(verrs) > 0 {
		t.Fatalf("definitions invalid: %v", verrs)
	}
	h.Registry = definition.NewRegistry(defs)

	evaluator, err := capability.NewStaticPolicyEvaluator(hc.policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}
	h.CapResolver = capability.NewResolver(evaluator, 0) // no caching in tests

	metrics := observability.InitMetrics(prometheus.NewRegistry())
	logger := zap.NewNop()

	h.Client = invoker.NewClient(h.cfg.Backend, invoker.WithObserver(metrics))

	h.LookupCache = lookup.NewMemoryCache(h.cfg.Lookup.Cache.MaxEntries)
	lookups := lookup.NewProvider(h.Registry, h.Client, h.LookupCache, h.cfg.Lookup.Cache.TTL,
		lookup.WithMetrics(metrics),
	)

	h.AuditStore = audit.NewMemoryStore()
	recorder := audit.NewRecorder(h.AuditStore, h.cfg.Audit.Store.Retention, logger)

	h.Screens = screen.NewManager(h.Registry, h.Client, h.CapResolver, h.cfg.Screens,
		screen.WithValidator(form.NewValidator()),
		screen.WithMetrics(metrics),
		screen.WithObserver(recorder),
		screen.WithObserver(screen.NewLookupInvalidator(lookups, nil, logger)),
	)

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), time.Hour, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:             h.cfg,
		Logger:             logger,
		Authenticate:       transport.JWTAuthenticator(h.cfg.Identity, jwks),
		CapabilityResolver: h.CapResolver,
		Menu:               metadata.NewMenuProvider(h.Registry),
		Screens:            h.Screens,
		LookupDefinitions:  h.Registry,
		Lookups:            lookups,
		Metrics:            metrics,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { n, _ := h.Registry.Counts(); return n > 0 },
			Dependencies: map[string]observability.HealthChecker{
				"backend": h.Client.Breaker(),
			},
		},
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
		h.Screens.CloseAll()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Backend returns the mock booking API.
func (h *TestHarness) Backend() *MockBackend {
	return h.backend
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
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// UploadFile is a file part of a multipart request.
type UploadFile struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Multipart performs an authenticated multipart request.
func (h *TestHarness) Multipart(method, path string, fields map[string]string, files []UploadFile, token string) *http.Response {
	h.t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			h.t.Fatalf("write field %s: %v", k, err)
		}
	}
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Filename))
		if f.ContentType != "" {
			hdr.Set("Content-Type", f.ContentType)
		}
		part, err := mw.CreatePart(hdr)
		if err != nil {
			h.t.Fatalf("create part %s: %v", f.Field, err)
		}
		part.Write(f.Data)
	}
	if err := mw.Close(); err != nil {
		h.t.Fatalf("close multipart writer: %v", err)
	}

	return h.send(method, path, &buf, token, map[string]string{
		"Content-Type": mw.FormDataContentType(),
	})
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
		if headers == nil {
			headers = make(map[string]string, 1)
		}
		headers["Content-Type"] = "application/json"
	}
	return h.send(method, path, bodyReader, token, headers)
}

func (h *TestHarness) send(method, path string, body io.Reader, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, body)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

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

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expected {
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

// AssertError checks the status and error code of an error response.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, expected int, code string) ErrorBody {
	t.Helper()
	var body struct {
		Error ErrorBody `json:"error"`
	}
	h.AssertJSON(t, resp, expected, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
	return body.Error
}

// --- Screen helpers ---

// Mount mounts screenID for the token's session and returns the view.
func (h *TestHarness) Mount(t *testing.T, screenID, token string) ScreenView {
	t.Helper()
	var view ScreenView
	h.AssertJSON(t, h.POST("/ui/screens/"+screenID, nil, token), http.StatusOK, &view)
	return view
}

// View polls the current view of a mounted screen.
func (h *TestHarness) View(t *testing.T, screenID, token string) ScreenView {
	t.Helper()
	var view ScreenView
	h.AssertJSON(t, h.GET("/ui/screens/"+screenID, token), http.StatusOK, &view)
	return view
}

// ScreenView is the decoded body of screen endpoints.
type ScreenView struct {
	Screen *struct {
		ID       string `json:"id"`
		PageSize int    `json:"page_size"`
		Actions  []struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
		} `json:"actions"`
		Filters []struct {
			Field string `json:"field"`
		} `json:"filters"`
	} `json:"screen"`
	Result map[string]any `json:"result"`
	State  struct {
		Query struct {
			Page       int               `json:"page"`
			PageSize   int               `json:"page_size"`
			SearchText string            `json:"search_text"`
			Filters    map[string]string `json:"filters"`
		} `json:"query"`
		Items         []map[string]any `json:"items"`
		TotalPages    int              `json:"total_pages"`
		Loading       bool             `json:"loading"`
		SearchPending bool             `json:"search_pending"`
		Error         *ErrorBody       `json:"error"`
		Pending       []struct {
			Kind   string `json:"kind"`
			Target string `json:"target"`
		} `json:"pending"`
	} `json:"state"`
	Notifications []struct {
		Level   string `json:"level"`
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"notifications"`
}

// ItemIDs returns the _id of every listed row.
func (v ScreenView) ItemIDs() []string {
	ids := make([]string, 0, len(v.State.Items))
	for _, item := range v.State.Items {
		id, _ := item["_id"].(string)
		ids = append(ids, id)
	}
	return ids
}

// ErrorBody is the error envelope of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details []struct {
		Field string `json:"field"`
		Code  string `json:"code"`
	} `json:"details"`
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// repoRoot returns the absolute path of the module root.
func repoRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..")
}

// CategoryFixture returns a category row as the booking API lists it.
func CategoryFixture(id, name string) map[string]any {
	return map[string]any{
		"_id":          id,
		"categoryName": name,
		"description":  name + " treatments",
		"images":       "https://cdn.example.com/" + id + ".png",
		"isDelete":     false,
	}
}

// BookingFixture returns a booking row as the booking API lists it.
func BookingFixture(id, status, staffID string) map[string]any {
	return map[string]any{
		"_id":              id,
		"customerId":       map[string]any{"_id": "cust-1", "name": "Mai"},
		"serviceId":        map[string]any{"_id": "svc-1", "name": "Haircut"},
		"preferredStaffId": map[string]any{"_id": staffID, "name": "Staff " + staffID},
		"bookingTime":      "2026-03-14T09:30:00Z",
		"status":           status,
	}
}

// ListFixture returns a paginated list response with the given rows.
func ListFixture(items []map[string]any, totalPages int) map[string]any {
	if items == nil {
		items = []map[string]any{}
	}
	return map[string]any{
		"data":       items,
		"totalPages": float64(totalPages),
	}
}

// ItemFixture wraps a single row the way mutation responses carry it.
func ItemFixture(item map[string]any, message string) map[string]any {
	return map[string]any{
		"data":    item,
		"message": message,
	}
}

// ErrorFixture returns an error response in the booking API's shape.
func ErrorFixture(message string) map[string]any {
	return map[string]any{
		"message": message,
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

// Package invoker sends requests to the remote booking API with a circuit
// breaker, bounded retries, and session credentials.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pitabwire/backoffice/internal/config"
	"github.com/pitabwire/backoffice/internal/observability"
	"github.com/pitabwire/backoffice/model"
)

const maxResponseBytes = 10 << 20

// Request is one call against the remote API. Path is relative to the
// configured base URL and already has its placeholders substituted.
type Request struct {
	Method         string
	Path           string
	Query          url.Values
	Payload        *model.Payload
	IdempotencyKey string
}

// Response is a remote API answer. Body holds the decoded JSON document, or
// nil when the body was empty or not JSON.
type Response struct {
	StatusCode int
	Body       any
	Header     http.Header
}

// Observer receives remote call metrics.
type Observer interface {
	RecordBackendRequest(method string, status int, duration time.Duration)
	RecordBackendRetry()
	SetBackendCircuitBreakerState(state float64)
}

// Client performs requests against the remote API.
type Client struct {
	baseURL  string
	cfg      config.BackendConfig
	http     *http.Client
	breaker  *CircuitBreaker
	logger   *zap.Logger
	redactor *observability.Redactor
	observer Observer
}

// ClientOption configures optional Client dependencies.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithRedactor sets the redactor applied to payloads in debug logs.
func WithRedactor(r *observability.Redactor) ClientOption {
	return func(c *Client) { c.redactor = r }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a Client for the configured remote API.
func NewClient(cfg config.BackendConfig, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger:   zap.NewNop(),
		redactor: observability.NewRedactor(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = NewCircuitBreaker(cfg.CircuitBreaker, func(s BreakerState) {
		c.logger.Warn("remote api circuit breaker changed state", zap.Stringer("state", s))
		if c.observer != nil {
			c.observer.SetBackendCircuitBreakerState(float64(s))
		}
	})
	return c
}

// Breaker exposes the circuit breaker for readiness checks.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// Do sends req on behalf of the session. Transport failures come back as
// BACKEND_UNAVAILABLE or BACKEND_TIMEOUT envelopes; HTTP error statuses are
// returned in Response for the caller to interpret.
func (c *Client) Do(ctx context.Context, s *model.Session, req Request) (resp Response, err error) {
	ctx, span := observability.StartSpan(ctx, "invoker.do",
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	body, contentType, err := encodePayload(req.Payload)
	if err != nil {
		return Response{}, fmt.Errorf("invoker: encode payload: %w", err)
	}

	reqURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		reqURL += "?" + req.Query.Encode()
	}

	if ce := c.logger.Check(zap.DebugLevel, "remote request"); ce != nil {
		ce.Write(
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			c.redactor.Payload(req.Payload),
		)
	}

	headers := buildRequestHeaders(s, contentType, req.IdempotencyKey)
	observability.InjectTraceHeaders(ctx, headers)

	return c.executeWithRetry(ctx, req.Method, reqURL, headers, body)
}

// executeWithRetry wraps executeOnce with retry logic and exponential backoff.
// Only idempotent methods are retried.
func (c *Client) executeWithRetry(ctx context.Context, method, reqURL string, headers http.Header, body []byte) (Response, error) {
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts < 1 || !isIdempotentMethod(method) {
		maxAttempts = 1
	}

	var lastErr error
	var lastResp Response

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if c.observer != nil {
				c.observer.RecordBackendRetry()
			}
			select {
			case <-ctx.Done():
				return Response{}, contextError(ctx)
			case <-time.After(calculateBackoff(c.cfg.Retry, attempt)):
			}
		}

		resp, err := c.executeOnce(ctx, method, reqURL, headers, body)
		if err != nil {
			lastErr = err
			if !isRetryableError(err) {
				return Response{}, err
			}
			c.logger.Debug("retrying remote call after error",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts-1 {
			lastResp = resp
			lastErr = nil
			c.logger.Debug("retrying remote call after status",
				zap.Int("attempt", attempt+1),
				zap.Int("status", resp.StatusCode),
			)
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return Response{}, lastErr
	}
	return lastResp, nil
}

// executeOnce performs a single HTTP request with circuit breaker protection.
func (c *Client) executeOnce(ctx context.Context, method, reqURL string, headers http.Header, body []byte) (Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return Response{}, fmt.Errorf("invoker: build request: %w", err)
	}
	httpReq.Header = headers.Clone()

	if err := c.breaker.Allow(); err != nil {
		return Response{}, model.NewBackendUnavailableError()
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.record(method, 0, start)
		if errors.Is(ctx.Err(), context.Canceled) {
			c.breaker.RecordAbandoned()
			return Response{}, contextError(ctx)
		}
		c.breaker.RecordFailure()
		switch {
		case ctx.Err() != nil || isTimeout(err):
			return Response{}, model.NewBackendTimeoutError()
		case isConnectionError(err):
			return Response{}, errConnection
		}
		return Response{}, fmt.Errorf("invoker: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	c.record(method, httpResp.StatusCode, start)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			c.breaker.RecordAbandoned()
			return Response{}, contextError(ctx)
		}
		c.breaker.RecordFailure()
		return Response{}, fmt.Errorf("invoker: read response: %w", err)
	}

	// A 4xx answer still proves the remote API is up.
	if httpResp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}

	resp := Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header}
	if len(raw) > 0 {
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err == nil {
			resp.Body = parsed
		}
	}
	return resp, nil
}

func (c *Client) record(method string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.RecordBackendRequest(method, status, time.Since(start))
	}
}

// contextError reports why ctx ended. A caller that went away gets
// context.Canceled back; a spent deadline is a BACKEND_TIMEOUT.
func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("invoker: %w", context.Canceled)
	}
	return model.NewBackendTimeoutError()
}

// errConnection is a retryable BACKEND_UNAVAILABLE. It is distinct from the
// breaker-open envelope, which must not be retried.
var errConnection = &connectionError{model.NewBackendUnavailableError()}

type connectionError struct{ *model.ErrorEnvelope }

func (e *connectionError) Unwrap() error { return e.ErrorEnvelope }

// --- header building ---

func buildRequestHeaders(s *model.Session, contentType, idempotencyKey string) http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	if s != nil {
		if s.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(s.Token))
		}
		if s.CorrelationID != "" {
			h.Set("X-Correlation-Id", sanitizeHeader(s.CorrelationID))
		}
	}
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", sanitizeHeader(idempotencyKey))
	}
	return h
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// --- classification helpers ---

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryableError allows retries for connection failures only. Timeouts
// already consumed the caller's budget and an open breaker must stay shut.
func isRetryableError(err error) bool {
	var ce *connectionError
	return errors.As(err, &ce)
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func calculateBackoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}

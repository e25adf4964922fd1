package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "backoffice"

// unmatchedRoute labels requests no route matched, so scanners probing
// random paths cannot grow the label set.
const unmatchedRoute = "unmatched"

var (
	httpBuckets   = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	remoteBuckets = []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5}
)

// Metrics holds the Prometheus instruments of the service. Names are
// prefixed with "backoffice_".
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ListFetchesTotal        *prometheus.CounterVec
	ListFetchDuration       *prometheus.HistogramVec
	ListStaleResponsesTotal *prometheus.CounterVec
	MutationsTotal          *prometheus.CounterVec
	MutationDuration        *prometheus.HistogramVec
	ScreensMounted          prometheus.Gauge

	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        prometheus.Counter

	LookupCacheHitsTotal   *prometheus.CounterVec
	LookupCacheMissesTotal *prometheus.CounterVec

	DefinitionsLoaded prometheus.Gauge
}

// InitMetrics creates the instruments and registers them with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	}
	histogram := func(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: metricsNamespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: metricsNamespace, Subsystem: subsystem, Name: name, Help: help})
	}

	return &Metrics{
		HTTPRequestsTotal:   counter("http", "requests_total", "HTTP requests by route and status.", "method", "path_pattern", "status"),
		HTTPRequestDuration: histogram("http", "request_duration_seconds", "HTTP request latency.", httpBuckets, "method", "path_pattern"),

		ListFetchesTotal:        counter("list", "fetches_total", "Settled list fetches by outcome.", "screen", "outcome"),
		ListFetchDuration:       histogram("list", "fetch_duration_seconds", "List fetch latency.", remoteBuckets, "screen"),
		ListStaleResponsesTotal: counter("list", "stale_responses_total", "List responses dropped because a newer fetch was issued.", "screen"),
		MutationsTotal:          counter("", "mutations_total", "Settled mutations by kind and outcome.", "screen", "kind", "outcome"),
		MutationDuration:        histogram("", "mutation_duration_seconds", "Mutation latency.", remoteBuckets, "screen", "kind"),
		ScreensMounted:          gauge("", "screens_mounted", "Screens currently mounted."),

		BackendRequestsTotal:       counter("backend", "requests_total", "Remote API requests by status; 0 means no answer.", "method", "status"),
		BackendRequestDuration:     histogram("backend", "request_duration_seconds", "Remote API latency.", remoteBuckets, "method"),
		BackendCircuitBreakerState: gauge("backend", "circuit_breaker_state", "Remote API breaker: 0 closed, 1 half-open, 2 open."),
		BackendRetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: "backend", Name: "retries_total", Help: "Remote API retries.",
		}),

		LookupCacheHitsTotal:   counter("lookup", "cache_hits_total", "Lookup option cache hits.", "lookup_id"),
		LookupCacheMissesTotal: counter("lookup", "cache_misses_total", "Lookup option cache misses.", "lookup_id"),

		DefinitionsLoaded: gauge("", "definitions_loaded", "Screen definitions currently loaded."),
	}
}

func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordFetch records a settled list fetch. outcome is "ok", "stale" or an
// error code.
func (m *Metrics) RecordFetch(screen, outcome string, duration time.Duration) {
	m.ListFetchesTotal.WithLabelValues(screen, outcome).Inc()
	m.ListFetchDuration.WithLabelValues(screen).Observe(duration.Seconds())
	if outcome == "stale" {
		m.ListStaleResponsesTotal.WithLabelValues(screen).Inc()
	}
}

func (m *Metrics) RecordMutation(screen, kind, outcome string, duration time.Duration) {
	m.MutationsTotal.WithLabelValues(screen, kind, outcome).Inc()
	m.MutationDuration.WithLabelValues(screen, kind).Observe(duration.Seconds())
}

// ScreenMounted moves the mounted screens gauge by delta.
func (m *Metrics) ScreenMounted(delta int) { m.ScreensMounted.Add(float64(delta)) }

func (m *Metrics) RecordBackendRequest(method string, status int, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	m.BackendCircuitBreakerState.Set(state)
}

func (m *Metrics) RecordBackendRetry() { m.BackendRetriesTotal.Inc() }

func (m *Metrics) RecordLookupCacheHit(lookupID string) {
	m.LookupCacheHitsTotal.WithLabelValues(lookupID).Inc()
}

func (m *Metrics) RecordLookupCacheMiss(lookupID string) {
	m.LookupCacheMissesTotal.WithLabelValues(lookupID).Inc()
}

func (m *Metrics) SetDefinitionsLoaded(count int) { m.DefinitionsLoaded.Set(float64(count)) }

// MetricsMiddleware records every request under its chi route pattern.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route, ok := routePattern(r)
		if !ok {
			route = unmatchedRoute
		}
		m.RecordHTTPRequest(r.Method, route, statusOf(ww), time.Since(start))
	})
}

// Handler serves the default registry for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern returns the pattern chi matched for r, once routing is done.
func routePattern(r *http.Request) (string, bool) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "", false
	}
	pattern := strings.TrimSuffix(rctx.RoutePattern(), "/*")
	return pattern, pattern != ""
}

// statusOf reports 200 for handlers that wrote a body without a status.
func statusOf(ww middleware.WrapResponseWriter) int {
	if s := ww.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

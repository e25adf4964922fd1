package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Set with -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

var startedAt = time.Now()

// Check statuses.
const (
	CheckOK       = "ok"
	CheckDegraded = "degraded"
	CheckError    = "error"
)

// HealthResponse is the liveness document.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadinessResponse is the readiness document. Status is "ready",
// "degraded" or "not_ready".
type ReadinessResponse struct {
	Status         string                 `json:"status"`
	MountedScreens *int                   `json:"mounted_screens,omitempty"`
	Checks         map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker is implemented by dependencies that can probe themselves.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck implements HealthChecker.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks configures the readiness endpoint.
type ReadinessChecks struct {
	DefinitionsLoaded func() bool
	// Dependencies must be healthy for the service to take traffic: the
	// remote API breaker and the lookup cache.
	Dependencies map[string]HealthChecker
	// Degradable dependencies only downgrade the status, e.g. the audit store.
	Degradable map[string]HealthChecker
	// MountedScreens, when set, is reported alongside the checks.
	MountedScreens func() int
}

const checkTimeout = 2 * time.Second

// HandleHealth serves the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:        CheckOK,
			Version:       Version,
			Commit:        Commit,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		})
	}
}

// HandleReady serves the readiness endpoint. Dependency checks run
// concurrently, each bounded by its own timeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := make(map[string]CheckResult, len(checks.Dependencies)+len(checks.Degradable)+1)
		if checks.DefinitionsLoaded != nil && checks.DefinitionsLoaded() {
			results["definitions"] = CheckResult{Status: CheckOK}
		} else {
			results["definitions"] = CheckResult{Status: CheckError, Error: "no screen definitions loaded"}
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		probe := func(name string, checker HealthChecker, failed string) {
			wg.Go(func() {
				res := runCheck(r.Context(), checker, failed)
				mu.Lock()
				results[name] = res
				mu.Unlock()
			})
		}
		for name, checker := range checks.Dependencies {
			probe(name, checker, CheckError)
		}
		for name, checker := range checks.Degradable {
			probe(name, checker, CheckDegraded)
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: results}
		code := http.StatusOK
		for _, res := range results {
			switch res.Status {
			case CheckError:
				resp.Status = "not_ready"
				code = http.StatusServiceUnavailable
			case CheckDegraded:
				if resp.Status == "ready" {
					resp.Status = CheckDegraded
				}
			}
		}
		if checks.MountedScreens != nil {
			n := checks.MountedScreens()
			resp.MountedScreens = &n
		}
		writeHealthJSON(w, code, resp)
	}
}

func runCheck(parent context.Context, checker HealthChecker, failed string) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: CheckOK, LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = failed
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

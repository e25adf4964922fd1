package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/backoffice/internal/config"
	"github.com/pitabwire/backoffice/internal/observability"
	"github.com/pitabwire/backoffice/model"
)

type mockResolver struct {
	caps model.CapabilitySet
	err  error
	seen *model.Session
}

func (m *mockResolver) Resolve(s *model.Session) (model.CapabilitySet, error) {
	m.seen = s
	return m.caps, m.err
}

func (m *mockResolver) Invalidate(string) {}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/ui/navigation", nil))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500 after panic", w.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Error("panic should be logged once")
	}

	handler = Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("after headers")
	}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusAccepted || w.Body.Len() != 0 {
		t.Errorf("status = %d body = %q, want the handler's 202 untouched", w.Code, w.Body.String())
	}

	handler = Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestCORS(t *testing.T) {
	cfg := config.CORSConfig{
		AllowedOrigins: []string{"https://admin.example.com"},
		AllowedMethods: []string{"GET", "PUT"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         600,
	}
	called := false
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("OPTIONS", "/ui/screens/bookings", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != 204 || called {
		t.Errorf("preflight status = %d, handler called = %v; want 204 without handler", w.Code, called)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, PUT" {
		t.Errorf("Allow-Methods = %q, want GET, PUT", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); got != "X-Correlation-Id, Retry-After" {
		t.Errorf("Expose-Headers = %q", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if !called {
		t.Error("handler should be called for non-preflight requests")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty for disallowed origin", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-7")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if seen != "corr-7" || w.Header().Get("X-Correlation-Id") != "corr-7" {
		t.Errorf("correlation ID = %q, header = %q; want corr-7", seen, w.Header().Get("X-Correlation-Id"))
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if len(seen) != 32 || w.Header().Get("X-Correlation-Id") != seen {
		t.Errorf("generated correlation ID = %q, want 32 hex chars echoed in the header", seen)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "evil\nlevel=error")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if len(seen) != 32 {
		t.Errorf("correlation ID = %q, want a replacement for an unsafe value", seen)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestBuildSession(t *testing.T) {
	claims := map[string]any{
		"sub":   "staff-7",
		"email": "lan@example.com",
		"name":  "Lan",
		"realm_access": map[string]any{
			"roles": []any{"staff"},
		},
	}
	var got *model.Session
	handler := BuildSession(map[string]string{"roles": "realm_access.roles"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = model.SessionFrom(r.Context())
		}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Language", "vi-VN")
	ctx := WithClaims(req.Context(), claims)
	ctx = withToken(ctx, "raw-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req.WithContext(ctx))

	if got == nil {
		t.Fatal("session should be in context")
	}
	if got.SubjectID != "staff-7" || got.Email != "lan@example.com" || got.Name != "Lan" {
		t.Errorf("session = %+v", got)
	}
	if !got.HasRole("staff") {
		t.Errorf("Roles = %v, want [staff]", got.Roles)
	}
	if got.Token != "raw-token" || got.Locale != "vi-VN" {
		t.Errorf("Token = %q, Locale = %q", got.Token, got.Locale)
	}
	if len(got.ID) != 32 {
		t.Errorf("ID = %q, want a token digest when jti is absent", got.ID)
	}
}

func TestBuildSession_jti_and_missing_subject(t *testing.T) {
	var got *model.Session
	handler := BuildSession(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = model.SessionFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	ctx := withToken(WithClaims(req.Context(), map[string]any{"sub": "u1", "jti": "tok-9"}), "raw")
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))
	if got == nil || got.ID != "tok-9" {
		t.Fatalf("session = %+v, want ID tok-9", got)
	}

	got = nil
	ctx = withToken(WithClaims(req.Context(), map[string]any{"email": "x@example.com"}), "raw")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req.WithContext(ctx))
	if w.Code != http.StatusUnauthorized || got != nil {
		t.Errorf("status = %d, want 401 without reaching the handler", w.Code)
	}
}

func TestResolveCapabilities(t *testing.T) {
	s := &model.Session{ID: "s1", SubjectID: "admin-1", Token: "t"}
	resolver := &mockResolver{caps: model.CapabilitySet{"bookings:*": true}}

	var caps model.CapabilitySet
	handler := ResolveCapabilities(resolver, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caps = CapabilitiesFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(model.WithSession(req.Context(), s)))

	if resolver.seen != s {
		t.Error("resolver should receive the request session")
	}
	if !caps.Has(model.CapBookingsStatus) {
		t.Errorf("caps = %v, want bookings wildcard", caps)
	}
}

func TestResolveCapabilities_failure_leaves_empty_set(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	resolver := &mockResolver{err: errors.New("policy file unreadable")}

	var caps model.CapabilitySet
	handler := ResolveCapabilities(resolver, zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caps = CapabilitiesFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	s := &model.Session{SubjectID: "u1", Token: "t"}
	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(model.WithSession(req.Context(), s)))

	if caps != nil {
		t.Errorf("caps = %v, want nil", caps)
	}
	if logs.FilterMessage("capability resolution failed").Len() != 1 {
		t.Error("failure should be logged")
	}
}

func TestHandlerTimeout(t *testing.T) {
	handler := HandlerTimeout(100 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		if !ok || time.Until(deadline) > 200*time.Millisecond {
			t.Errorf("deadline = %v, %v; want within 200ms", deadline, ok)
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	handler = HandlerTimeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("context should not have a deadline when timeout is 0")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestRequestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := &model.Session{ID: "s1", SubjectID: "admin-1", Token: "t", CorrelationID: "c-1"}

	handler := RequestLogging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observability.LoggerFrom(r.Context(), zap.NewNop()).Info("inside")
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/ui/navigation", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req.WithContext(model.WithSession(req.Context(), s)))

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
	inside := logs.FilterMessage("inside").All()
	if len(inside) != 1 || inside[0].ContextMap()["subject_id"] != "admin-1" {
		t.Errorf("handler log = %v, want subject_id field", inside)
	}
	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("request log entries = %d, want 1", len(entries))
	}
	if entries[0].Level != zap.WarnLevel {
		t.Errorf("level = %v, want warn for 4xx", entries[0].Level)
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusTeapot) {
		t.Errorf("status field = %v, want 418", got)
	}
}

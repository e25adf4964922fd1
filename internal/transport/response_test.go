package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/backoffice/model"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) *model.ErrorEnvelope {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("response has no error envelope")
	}
	return resp.Error
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, map[string]string{"screen": "categories"})

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	for header, want := range map[string]string{
		"Content-Type":           "application/json; charset=utf-8",
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if !strings.Contains(rec.Body.String(), `"screen":"categories"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestWriteError_statusByCode(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{model.ErrBadRequest, 400},
		{model.ErrUnauthorized, 401},
		{model.ErrForbidden, 403},
		{model.ErrNotFound, 404},
		{model.ErrConflict, 409},
		{model.ErrScreenClosed, 410},
		{model.ErrValidationError, 422},
		{model.ErrInvalidTransition, 422},
		{model.ErrInternalError, 500},
		{model.ErrBackendUnavailable, 502},
		{model.ErrBackendFailure, 502},
		{model.ErrBackendTimeout, 504},
		{"SOMETHING_NEW", 500},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, nil, &model.ErrorEnvelope{Code: tt.code, Message: "test"})
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestWriteError_hidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, fmt.Errorf("dial tcp 10.0.0.3:5000: connection refused"))

	env := decodeEnvelope(t, rec)
	if rec.Code != http.StatusInternalServerError || env.Code != model.ErrInternalError {
		t.Fatalf("got %d %s, want 500 INTERNAL_ERROR", rec.Code, env.Code)
	}
	if strings.Contains(env.Message, "10.0.0.3") {
		t.Errorf("message %q leaks the underlying error", env.Message)
	}
}

func TestWriteError_wrappedEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, fmt.Errorf("update c1: %w", model.NewConflictError("Another update is running")))

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Message != "Another update is running" {
		t.Errorf("message = %q", env.Message)
	}
}

func TestWriteError_validationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, model.NewValidationError([]model.FieldError{
		{Field: "price", Code: "MIN", Message: "Price must be at least 0"},
	}))

	env := decodeEnvelope(t, rec)
	if len(env.Details) != 1 || env.Details[0].Field != "price" {
		t.Errorf("details = %+v", env.Details)
	}
}

func TestWriteError_headers(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, model.NewUnauthorizedError("Token expired"))
	if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}

	rec = httptest.NewRecorder()
	WriteError(rec, nil, model.NewBackendUnavailableError())
	if rec.Header().Get("Retry-After") == "" {
		t.Error("BACKEND_UNAVAILABLE should carry Retry-After")
	}

	rec = httptest.NewRecorder()
	WriteError(rec, nil, model.NewNotFoundError("Screen not mounted"))
	if rec.Header().Get("Retry-After") != "" || rec.Header().Get("WWW-Authenticate") != "" {
		t.Errorf("unexpected headers %v", rec.Header())
	}
}

func TestWriteError_traceID(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	req := httptest.NewRequest(http.MethodGet, "/ui/screens/categories", nil).WithContext(ctx)

	shared := model.NewForbiddenError("You cannot open this screen")
	rec := httptest.NewRecorder()
	WriteError(rec, req, shared)

	if env := decodeEnvelope(t, rec); env.TraceID != traceID.String() {
		t.Errorf("TraceID = %q, want %s", env.TraceID, traceID)
	}
	if shared.TraceID != "" {
		t.Error("WriteError must not modify the caller's envelope")
	}
}

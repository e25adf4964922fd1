// Package transport contains the HTTP router, middleware chain, and request
// handlers that expose mounted screens to the admin UI.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/backoffice/internal/observability"
	"github.com/pitabwire/backoffice/model"
)

// Seconds the UI should wait before retrying while the remote API is
// unavailable.
const backendRetryAfter = "5"

// statusFor maps an error code to its HTTP status. Unknown codes are 500.
func statusFor(code string) int {
	switch code {
	case model.ErrBadRequest:
		return http.StatusBadRequest
	case model.ErrUnauthorized:
		return http.StatusUnauthorized
	case model.ErrForbidden:
		return http.StatusForbidden
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrConflict:
		return http.StatusConflict
	case model.ErrValidationError, model.ErrInvalidTransition:
		return http.StatusUnprocessableEntity
	case model.ErrBackendUnavailable, model.ErrBackendFailure:
		return http.StatusBadGateway
	case model.ErrBackendTimeout:
		return http.StatusGatewayTimeout
	case model.ErrScreenClosed:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes err as {"error": envelope}, stamped with the request's
// trace ID. Errors that are not envelopes are written as INTERNAL_ERROR so
// their text never reaches the UI.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	env := *model.NewInternalError()
	if e := model.AsEnvelope(err); e != nil {
		env = *e
	}
	if env.TraceID == "" && r != nil {
		env.TraceID = observability.TraceIDFromContext(r.Context())
	}

	switch env.Code {
	case model.ErrUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="backoffice"`)
	case model.ErrBackendUnavailable:
		w.Header().Set("Retry-After", backendRetryAfter)
	}
	WriteJSON(w, statusFor(env.Code), errorResponse{Error: &env})
}

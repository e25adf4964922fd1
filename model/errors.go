package model

import (
	"context"
	"errors"
	"fmt"
)

// Error codes carried by ErrorEnvelope.Code.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrForbidden          = "FORBIDDEN"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInvalidTransition  = "INVALID_TRANSITION"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrBackendFailure     = "BACKEND_FAILURE"
	ErrScreenClosed       = "SCREEN_CLOSED"
)

// ErrorEnvelope is the error value returned by controllers and written to
// API clients. Message is always safe to show to an operator.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

func (e *ErrorEnvelope) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches another envelope by code, so errors.Is(err, NewNotFoundError(""))
// holds for any NOT_FOUND error.
func (e *ErrorEnvelope) Is(target error) bool {
	t, ok := target.(*ErrorEnvelope)
	return ok && t.Code == e.Code
}

// FieldError describes one rejected form field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func envelope(code, msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: code, Message: msg}
}

// Errors whose message is chosen by the caller.
func NewBadRequestError(msg string) *ErrorEnvelope   { return envelope(ErrBadRequest, msg) }
func NewUnauthorizedError(msg string) *ErrorEnvelope { return envelope(ErrUnauthorized, msg) }
func NewForbiddenError(msg string) *ErrorEnvelope    { return envelope(ErrForbidden, msg) }
func NewNotFoundError(msg string) *ErrorEnvelope     { return envelope(ErrNotFound, msg) }
func NewConflictError(msg string) *ErrorEnvelope     { return envelope(ErrConflict, msg) }

// NewValidationError reports rejected fields.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	e := envelope(ErrValidationError, "One or more fields are invalid")
	e.Details = details
	return e
}

// NewInvalidTransitionError rejects a status change the workflow forbids.
func NewInvalidTransitionError(from, to string) *ErrorEnvelope {
	return envelope(ErrInvalidTransition, fmt.Sprintf("Cannot change status from %q to %q", from, to))
}

// Errors with fixed operator-facing messages. BACKEND_FAILURE stands for a
// 5xx answer from the remote API.
func NewInternalError() *ErrorEnvelope {
	return envelope(ErrInternalError, "An unexpected error occurred")
}

func NewBackendUnavailableError() *ErrorEnvelope {
	return envelope(ErrBackendUnavailable, "The backend service is temporarily unavailable")
}

func NewBackendTimeoutError() *ErrorEnvelope {
	return envelope(ErrBackendTimeout, "The backend service did not respond in time")
}

func NewBackendFailureError() *ErrorEnvelope {
	return envelope(ErrBackendFailure, "The backend service failed to process the request")
}

func NewScreenClosedError() *ErrorEnvelope {
	return envelope(ErrScreenClosed, "The screen has been closed")
}

// CodeOf returns the envelope code carried by err, or ErrInternalError when
// err is not an envelope. A nil error has no code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if env, ok := errors.AsType[*ErrorEnvelope](err); ok {
		return env.Code
	}
	return ErrInternalError
}

func IsValidation(err error) bool { return CodeOf(err) == ErrValidationError }

func IsNotFound(err error) bool { return CodeOf(err) == ErrNotFound }

// IsTransport reports whether err came from talking to the remote API rather
// than from the request itself.
func IsTransport(err error) bool {
	switch CodeOf(err) {
	case ErrBackendUnavailable, ErrBackendTimeout, ErrBackendFailure, ErrInternalError:
		return true
	}
	return false
}

// IsAmbiguous reports whether the remote side may have applied a mutation
// even though the call failed.
func IsAmbiguous(err error) bool {
	switch CodeOf(err) {
	case ErrBackendTimeout, ErrBackendFailure:
		return true
	}
	return false
}

// IsCanceled reports whether the caller abandoned the call. The remote API
// was not at fault and nothing should be shown to an operator.
func IsCanceled(err error) bool { return errors.Is(err, context.Canceled) }

// AsEnvelope converts err into an envelope suitable for display. Errors that
// are not envelopes become INTERNAL_ERROR so raw messages never leak.
func AsEnvelope(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	if env, ok := errors.AsType[*ErrorEnvelope](err); ok {
		return env
	}
	return NewInternalError()
}

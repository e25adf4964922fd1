package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Session carries the authenticated operator for the lifetime of a mounted
// screen. Controllers receive it at construction and forward Token to the
// remote API. It is immutable after construction and safe for concurrent reads.
type Session struct {
	ID            string
	SubjectID     string
	Email         string
	Name          string
	Roles         []string
	Claims        map[string]any
	Token         string
	CorrelationID string
	Locale        string
}

// Validate checks that all mandatory fields are present.
func (s *Session) Validate() error {
	var errs []error
	if s.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if s.Token == "" {
		errs = append(errs, fmt.Errorf("Token is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the session carries the given role.
func (s *Session) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

// Claim returns the value of the given claim key, or nil if not present.
func (s *Session) Claim(key string) any {
	if s.Claims == nil {
		return nil
	}
	return s.Claims[key]
}

// WithCorrelationID returns a copy of the session tagged with a new
// correlation ID. The original is left untouched.
func (s *Session) WithCorrelationID(id string) *Session {
	cp := *s
	cp.CorrelationID = id
	return &cp
}

type contextKey struct{}

// WithSession attaches a Session to the given context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// SessionFrom extracts the Session from the context, or returns nil if not
// present.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}

// MustSession extracts the Session from the context, panicking if it is not
// present. Only call it behind the authentication middleware.
func MustSession(ctx context.Context) *Session {
	s := SessionFrom(ctx)
	if s == nil {
		panic("model: Session not found in context")
	}
	return s
}

// Package audit records every mutation operators send to the remote API.
package audit

import (
	"context"
	"time"
)

// Event is one recorded mutation attempt.
type Event struct {
	ID         string    `json:"id"`
	Screen     string    `json:"screen"`
	Resource   string    `json:"resource"`
	Kind       string    `json:"kind"`
	Target     string    `json:"target,omitempty"`
	SubjectID  string    `json:"subject_id"`
	Success    bool      `json:"success"`
	Code       string    `json:"code,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter narrows an event listing. Zero values match everything.
type Filter struct {
	SubjectID string
	Screen    string
	Target    string
	Limit     int
	Offset    int
}

// Store persists audit events.
type Store interface {
	// Append records an event.
	Append(ctx context.Context, event Event) error

	// List returns events matching filter, newest first.
	List(ctx context.Context, filter Filter) ([]Event, error)

	// Purge deletes events created before cutoff and returns how many were
	// removed.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

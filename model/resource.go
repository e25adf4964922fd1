package model

import (
	"context"
	"maps"
	"slices"
	"time"
)

// Resource is any record listed by a screen. ResourceID is the stable key
// used for list rows and mutation targets.
type Resource interface {
	ResourceID() string
}

// Query is the list state a controller sends to the remote API.
type Query struct {
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	SearchText string            `json:"search_text"`
	Filters    map[string]string `json:"filters,omitempty"`
}

// Clone returns a deep copy of q.
func (q Query) Clone() Query {
	cp := q
	cp.Filters = maps.Clone(q.Filters)
	return cp
}

// PageResult is one page of a listing. TotalPages is authoritative.
type PageResult[R any] struct {
	Items      []R `json:"items"`
	TotalPages int `json:"total_pages"`
}

// Attachment is a binary file submitted with a mutation payload.
type Attachment struct {
	Field       string `json:"field"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Size returns the attachment length in bytes.
func (a Attachment) Size() int { return len(a.Data) }

// Payload is the encoded body of a create, update, or status mutation.
// Attachments switch the wire encoding to multipart.
type Payload struct {
	Fields      map[string]any `json:"fields"`
	Attachments []Attachment   `json:"-"`
}

// HasAttachments reports whether p must be sent as multipart.
func (p Payload) HasAttachments() bool { return len(p.Attachments) > 0 }

// PayloadSummary names what a pending write carries without holding the
// values or file contents.
type PayloadSummary struct {
	Fields      []string            `json:"fields,omitempty"`
	Attachments []AttachmentSummary `json:"attachments,omitempty"`
}

type AttachmentSummary struct {
	Field    string `json:"field"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
}

// Summary lists the field names of p in order, then its attachments.
func (p Payload) Summary() PayloadSummary {
	var sum PayloadSummary
	if len(p.Fields) > 0 {
		sum.Fields = slices.Sorted(maps.Keys(p.Fields))
	}
	for _, a := range p.Attachments {
		sum.Attachments = append(sum.Attachments, AttachmentSummary{Field: a.Field, Filename: a.Filename, Size: a.Size()})
	}
	return sum
}

// Submission is a typed form input that can be validated and encoded.
// Validation tags on the implementing struct are checked before encoding.
type Submission interface {
	Payload() Payload
}

// MutationKind identifies the kind of write a controller performs.
type MutationKind string

// Mutation kinds.
const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
	MutationStatus MutationKind = "statusChange"
)

// PendingMutation describes a write that has been sent and not yet settled.
type PendingMutation struct {
	Kind      MutationKind   `json:"kind"`
	Target    string         `json:"target,omitempty"`
	Payload   PayloadSummary `json:"payload"`
	StartedAt time.Time      `json:"started_at"`
}

// Slot returns the action-site key for the mutation. Creates share one slot;
// every other kind is keyed by its target.
func (m PendingMutation) Slot() string {
	if m.Target == "" {
		return string(m.Kind)
	}
	return string(m.Kind) + ":" + m.Target
}

// MutationResult is what the remote API answered to a successful write.
type MutationResult[R any] struct {
	Item    *R     `json:"item,omitempty"`
	Message string `json:"message,omitempty"`
}

// ResourceService is the remote API for one resource type.
type ResourceService[R any] interface {
	List(ctx context.Context, s *Session, q Query) (PageResult[R], error)
	Create(ctx context.Context, s *Session, p Payload) (MutationResult[R], error)
	Update(ctx context.Context, s *Session, id string, p Payload) (MutationResult[R], error)
	Delete(ctx context.Context, s *Session, id string) (MutationResult[R], error)
	SetStatus(ctx context.Context, s *Session, id, status string, extra map[string]any) (MutationResult[R], error)
}

// NotificationLevel grades a user-facing notification.
type NotificationLevel string

// Notification levels.
const (
	NotifySuccess NotificationLevel = "success"
	NotifyError   NotificationLevel = "error"
	NotifyWarning NotificationLevel = "warning"
)

// Notification is a transient message shown to the operator.
type Notification struct {
	Level     NotificationLevel `json:"level"`
	Message   string            `json:"message"`
	Screen    string            `json:"screen"`
	Code      string            `json:"code,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

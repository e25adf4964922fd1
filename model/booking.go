package model

import (
	"strings"
	"time"
)

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingApproved  = "approved"
	BookingCompleted = "completed"
	BookingRejected  = "rejected"
	BookingCanceled  = "canceled"
)

// Booking is a customer appointment for a service.
type Booking struct {
	ID                   string     `json:"_id"`
	Customer             Ref        `json:"customerId"`
	Service              Ref        `json:"serviceId"`
	PreferredStaff       Ref        `json:"preferredStaffId"`
	BookingTime          time.Time  `json:"bookingTime"`
	Status               string     `json:"status"`
	RejectionReason      string     `json:"rejectionReason,omitempty"`
	ActualAmountReceived float64    `json:"actualAmountReceived,omitempty"`
	CompletionTime       *time.Time `json:"completionTime,omitempty"`
}

// ResourceID implements Resource.
func (b Booking) ResourceID() string { return b.ID }

var bookingTransitions = map[string][]string{
	BookingPending:  {BookingApproved, BookingRejected, BookingCanceled},
	BookingApproved: {BookingCompleted, BookingCanceled},
}

// CanTransition reports whether a booking in status from may move to to.
func CanTransition(from, to string) bool {
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Extra keys understood by booking status changes.
const (
	ExtraRejectionReason = "rejectionReason"
	ExtraAmountReceived  = "actualAmountReceived"
	ExtraCompletionTime  = "completionTime"
)

// CheckBookingStatus validates a status change before it is sent. current is
// nil when the booking is not on the visible page. A completion gets its
// completion time stamped from now.
func CheckBookingStatus(current *Booking, status string, extra map[string]any, now time.Time) (map[string]any, error) {
	if current != nil && !CanTransition(current.Status, status) {
		return nil, NewInvalidTransitionError(current.Status, status)
	}
	out := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	switch status {
	case BookingApproved, BookingCanceled:
	case BookingRejected:
		reason, _ := extra[ExtraRejectionReason].(string)
		if strings.TrimSpace(reason) == "" {
			return nil, NewValidationError([]FieldError{{
				Field: ExtraRejectionReason, Code: "REQUIRED", Message: "A rejection reason is required",
			}})
		}
		out[ExtraRejectionReason] = strings.TrimSpace(reason)
	case BookingCompleted:
		amount, ok := toFloat(extra[ExtraAmountReceived])
		if !ok || amount < 0 {
			return nil, NewValidationError([]FieldError{{
				Field: ExtraAmountReceived, Code: "INVALID", Message: "Amount received must be zero or more",
			}})
		}
		out[ExtraAmountReceived] = amount
		out[ExtraCompletionTime] = now.UTC().Format(time.RFC3339)
	default:
		return nil, NewValidationError([]FieldError{{
			Field: "status", Code: "INVALID", Message: "Unknown booking status",
		}})
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// BookingStaffInput reassigns a booking to another staff member.
type BookingStaffInput struct {
	PreferredStaffID string `json:"preferredStaffId" validate:"required"`
}

// Payload implements Submission.
func (in BookingStaffInput) Payload() Payload {
	return Payload{Fields: map[string]any{"preferredStaffId": in.PreferredStaffID}}
}

// CheckBookingReassign rejects staff changes once a booking is settled.
func CheckBookingReassign(current *Booking) error {
	if current == nil {
		return nil
	}
	if current.Status != BookingPending && current.Status != BookingApproved {
		return NewInvalidTransitionError(current.Status, "reassigned")
	}
	return nil
}

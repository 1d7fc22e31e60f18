package models

import (
	"fmt"
	"time"
)

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending     BookingStatus = "pending"
	BookingStatusConfirmed   BookingStatus = "confirmed"
	BookingStatusPendingCode BookingStatus = "pending_code"
	BookingStatusCompleted   BookingStatus = "completed"
	BookingStatusCancelled   BookingStatus = "cancelled"
	BookingStatusFailed      BookingStatus = "failed"
)

// pending → pending_code covers a paid booking whose code issuance failed
// on the first attempt.
var validTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:     {BookingStatusConfirmed, BookingStatusPendingCode, BookingStatusFailed, BookingStatusCancelled},
	BookingStatusConfirmed:   {BookingStatusCompleted, BookingStatusCancelled, BookingStatusPendingCode},
	BookingStatusPendingCode: {BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusCompleted:   {},
	BookingStatusCancelled:   {},
	BookingStatusFailed:      {},
}

// LiveStatuses block availability for their date range
var LiveStatuses = []BookingStatus{BookingStatusConfirmed, BookingStatusPendingCode}

// ActiveStatuses prevent a tool from being deleted
var ActiveStatuses = []BookingStatus{BookingStatusPending, BookingStatusConfirmed, BookingStatusPendingCode}

// ParseBookingStatus converts a raw string into a known status
func ParseBookingStatus(s string) (BookingStatus, error) {
	st := BookingStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown booking status %q", ErrValidation, s)
	}
	return st, nil
}

// IsValid returns true if the status is a recognized booking status
func (s BookingStatus) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsLive reports whether the status blocks availability
func (s BookingStatus) IsLive() bool {
	return s == BookingStatusConfirmed || s == BookingStatusPendingCode
}

// CanTransitionTo returns true if a transition from this status to the target is allowed
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Predecessors returns every status allowed to move into target
func Predecessors(target BookingStatus) []BookingStatus {
	var from []BookingStatus
	for _, s := range AllStatuses() {
		if s.CanTransitionTo(target) {
			from = append(from, s)
		}
	}
	return from
}

// AllStatuses lists statuses in lifecycle order
func AllStatuses() []BookingStatus {
	return []BookingStatus{
		BookingStatusPending,
		BookingStatusConfirmed,
		BookingStatusPendingCode,
		BookingStatusCompleted,
		BookingStatusCancelled,
		BookingStatusFailed,
	}
}

// StatusStrings converts statuses for use as query arguments
func StatusStrings(statuses []BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// DateRange is a closed interval of rental time
type DateRange struct {
	Start time.Time `db:"start" json:"start"`
	End   time.Time `db:"end" json:"end"`
}

// Overlaps applies the closed-interval test: touching boundaries conflict
func (r DateRange) Overlaps(other DateRange) bool {
	startInside := !other.Start.After(r.Start) && !other.End.Before(r.Start)
	endInside := !other.Start.After(r.End) && !other.End.Before(r.End)
	contains := !r.Start.After(other.Start) && !other.End.After(r.End)
	return startInside || endInside || contains
}

package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from BookingStatus
		to   BookingStatus
		want bool
	}{
		{BookingStatusPending, BookingStatusConfirmed, true},
		{BookingStatusPending, BookingStatusFailed, true},
		{BookingStatusPending, BookingStatusCancelled, true},
		{BookingStatusPending, BookingStatusPendingCode, true},
		{BookingStatusPending, BookingStatusCompleted, false},
		{BookingStatusConfirmed, BookingStatusCompleted, true},
		{BookingStatusConfirmed, BookingStatusCancelled, true},
		{BookingStatusConfirmed, BookingStatusPendingCode, true},
		{BookingStatusConfirmed, BookingStatusFailed, false},
		{BookingStatusPendingCode, BookingStatusConfirmed, true},
		{BookingStatusPendingCode, BookingStatusCompleted, false},
		{BookingStatusCompleted, BookingStatusCancelled, false},
		{BookingStatusCancelled, BookingStatusConfirmed, false},
		{BookingStatusFailed, BookingStatusConfirmed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPredecessors(t *testing.T) {
	assert.ElementsMatch(t,
		[]BookingStatus{BookingStatusConfirmed},
		Predecessors(BookingStatusCompleted))
	assert.ElementsMatch(t,
		[]BookingStatus{BookingStatusPending, BookingStatusConfirmed, BookingStatusPendingCode},
		Predecessors(BookingStatusCancelled))
	assert.Empty(t, Predecessors(BookingStatus("bogus")))
}

func TestParseBookingStatus(t *testing.T) {
	st, err := ParseBookingStatus("pending_code")
	require.NoError(t, err)
	assert.Equal(t, BookingStatusPendingCode, st)

	_, err = ParseBookingStatus("shipped")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestDateRangeOverlaps(t *testing.T) {
	d := func(day int) time.Time { return time.Date(2027, 1, day, 0, 0, 0, 0, time.UTC) }
	existing := DateRange{Start: d(5), End: d(8)}

	tests := []struct {
		name string
		req  DateRange
		want bool
	}{
		{"before", DateRange{d(1), d(4)}, false},
		{"after", DateRange{d(9), d(12)}, false},
		{"touches end", DateRange{d(8), d(10)}, true},
		{"touches start", DateRange{d(2), d(5)}, true},
		{"inside", DateRange{d(6), d(7)}, true},
		{"contains", DateRange{d(1), d(12)}, true},
		{"identical", DateRange{d(5), d(8)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Overlaps(existing))
			assert.Equal(t, tt.want, existing.Overlaps(tt.req))
		})
	}
}

func TestErrNotAvailableIsConflict(t *testing.T) {
	assert.True(t, errors.Is(ErrNotAvailable, ErrConflict))
}

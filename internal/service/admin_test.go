package service

import (
	"context"
	"errors"
	"testing"

	"tool-rental-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func seedConfirmed(h *harness, id string) {
	h.store.seed(&models.Booking{
		ID: id, ToolID: "tool-x", Status: models.BookingStatusConfirmed,
		CustomerEmail: "jane@example.com", AccessCode: strPtr("135790"),
		RentalStartDate: day(3, 1), RentalEndDate: day(3, 2),
	})
}

func TestCompleteBooking_OnlyFromConfirmed(t *testing.T) {
	h := newHarness(t, false)
	pendingID, _ := h.pendingWithIntent(t, day(1, 1), day(1, 3))
	seedConfirmed(h, "confirmed-1")

	_, err := h.svc.CompleteBooking(adminCtx(), pendingID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
	assert.Equal(t, models.BookingStatusPending, h.store.booking(pendingID).Status)

	b, err := h.svc.CompleteBooking(adminCtx(), "confirmed-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCompleted, b.Status)
	assert.True(t, b.HasAccessCode(), "code persists into completed")
}

func TestCancelBooking(t *testing.T) {
	h := newHarness(t, false)
	seedConfirmed(h, "confirmed-1")

	b, err := h.svc.CancelBooking(adminCtx(), "confirmed-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, b.Status)

	require.Len(t, h.publisher.changed, 1)
	event := h.publisher.changed[0]
	assert.Equal(t, models.BookingStatusConfirmed, event.From)
	assert.Equal(t, models.BookingStatusCancelled, event.To)
	assert.Equal(t, "135790", event.AccessCode)

	_, err = h.svc.CancelBooking(adminCtx(), "confirmed-1")
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	_, err = h.svc.CancelBooking(adminCtx(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelBooking_CompletedIsRejected(t *testing.T) {
	h := newHarness(t, false)
	seedConfirmed(h, "b1")

	_, err := h.svc.CompleteBooking(adminCtx(), "b1")
	require.NoError(t, err)

	_, err = h.svc.CancelBooking(adminCtx(), "b1")
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}

func TestAdminOperations_RequireAdmin(t *testing.T) {
	h := newHarness(t, false)
	seedConfirmed(h, "b1")

	ops := map[string]func(ctx context.Context) error{
		"cancel": func(ctx context.Context) error {
			_, err := h.svc.CancelBooking(ctx, "b1")
			return err
		},
		"complete": func(ctx context.Context) error {
			_, err := h.svc.CompleteBooking(ctx, "b1")
			return err
		},
		"resend": func(ctx context.Context) error {
			return h.svc.ResendConfirmation(ctx, "b1")
		},
		"list": func(ctx context.Context) error {
			_, err := h.svc.ListBookings(ctx, nil)
			return err
		},
		"stats": func(ctx context.Context) error {
			_, err := h.svc.Stats(ctx)
			return err
		},
	}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, op(context.Background()), models.ErrUnauthenticated)
			assert.ErrorIs(t, op(customerCtx()), models.ErrForbidden)
		})
	}
	assert.Equal(t, models.BookingStatusConfirmed, h.store.booking("b1").Status)
}

func TestResendConfirmation(t *testing.T) {
	h := newHarness(t, false)
	seedConfirmed(h, "b1")
	pendingID, _ := h.pendingWithIntent(t, day(1, 1), day(1, 3))

	h.notifier.On("SendBookingConfirmation", mock.Anything, mock.Anything).Return(nil).Once()
	h.notifier.On("SendBookingConfirmation", mock.Anything, mock.Anything).Return(errors.New("sendgrid 503")).Once()

	require.NoError(t, h.svc.ResendConfirmation(adminCtx(), "b1"))
	assert.Equal(t, 1, h.store.emailSent["b1"])

	err := h.svc.ResendConfirmation(adminCtx(), "b1")
	assert.ErrorIs(t, err, models.ErrGateway)

	err = h.svc.ResendConfirmation(adminCtx(), pendingID)
	assert.ErrorIs(t, err, models.ErrConflict)

	assert.Equal(t, models.BookingStatusConfirmed, h.store.booking("b1").Status)
}

func TestStats(t *testing.T) {
	h := newHarness(t, false)
	seedConfirmed(h, "b1")
	h.pendingWithIntent(t, day(1, 1), day(1, 3))

	stats, err := h.svc.Stats(adminCtx())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalBookings)
	assert.EqualValues(t, 1, stats.ByStatus[models.BookingStatusConfirmed])
}

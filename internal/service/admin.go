package service

import (
	"context"
	"fmt"

	"tool-rental-service/internal/auth"
	"tool-rental-service/internal/models"
	"tool-rental-service/internal/util"

	"go.uber.org/zap"
)

// CancelBooking cancels any booking that has not completed or failed
func (s *BookingService) CancelBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	admin, err := auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	booking, err := s.transition(ctx, bookingID, models.BookingStatusCancelled, "cancelled by "+admin.Email)
	if err != nil {
		return nil, err
	}
	util.BookingsCancelledTotal.WithLabelValues("admin").Inc()
	return booking, nil
}

// CompleteBooking closes a confirmed rental
func (s *BookingService) CompleteBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	admin, err := auth.RequireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	booking, err := s.transition(ctx, bookingID, models.BookingStatusCompleted, "completed by "+admin.Email)
	if err != nil {
		return nil, err
	}
	util.BookingsCompletedTotal.Inc()
	return booking, nil
}

// transition applies an admin status change under the booking lock. The
// update is conditional on the status read here, so a concurrent webhook
// cannot be overwritten.
func (s *BookingService) transition(ctx context.Context, bookingID string, to models.BookingStatus, reason string) (*models.Booking, error) {
	ctx, span := util.StartBookingSpan(ctx, "BookingService.transition", bookingID)
	defer span.End()

	unlock, err := s.locker.Lock(ctx, "booking:"+bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking %s: %w", bookingID, err)
	}
	defer unlock()

	current, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: booking %s is %s, cannot move to %s",
			models.ErrIllegalTransition, bookingID, current.Status, to)
	}

	updated, err := s.store.UpdateBookingStatus(ctx, bookingID, to, []models.BookingStatus{current.Status})
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}

	s.logger.Info("Booking status changed",
		zap.String("booking_id", bookingID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)))

	s.invalidateRanges(ctx, updated.ToolID)
	s.publishStatusChanged(ctx, updated, current.Status, reason)
	return updated, nil
}

// ResendConfirmation sends the confirmation email again for a confirmed
// booking. There is no state change.
func (s *BookingService) ResendConfirmation(ctx context.Context, bookingID string) error {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return err
	}

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != models.BookingStatusConfirmed || !booking.HasAccessCode() {
		return fmt.Errorf("%w: booking %s is %s and cannot be resent", models.ErrConflict, bookingID, booking.Status)
	}

	tool, err := s.store.GetToolByID(ctx, booking.ToolID)
	if err != nil {
		return err
	}

	if err := s.sendConfirmation(ctx, booking, tool); err != nil {
		return fmt.Errorf("%w: resend confirmation: %w", models.ErrGateway, err)
	}
	s.logger.Info("Booking confirmation resent", zap.String("booking_id", bookingID))
	return nil
}

// RetryAccessCode issues a code for a booking stuck in pending_code and
// confirms it.
func (s *BookingService) RetryAccessCode(ctx context.Context, bookingID string) (*models.Booking, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, "booking:"+bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking %s: %w", bookingID, err)
	}
	defer unlock()

	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingStatusPendingCode {
		return nil, fmt.Errorf("%w: booking %s is %s, not waiting for a code",
			models.ErrIllegalTransition, bookingID, booking.Status)
	}

	tool, err := s.store.GetToolByID(ctx, booking.ToolID)
	if err != nil {
		return nil, err
	}

	code, err := s.issueCode(ctx, booking, tool)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access code: %w", err)
	}

	updated, err := s.store.SetAccessCode(ctx, bookingID, code, []models.BookingStatus{models.BookingStatusPendingCode})
	if err != nil {
		s.revokeCode(ctx, bookingID, code)
		return nil, err
	}

	s.logger.Info("Access code issued on retry", zap.String("booking_id", bookingID))
	s.afterConfirm(ctx, updated, tool)
	return updated, nil
}

// GetBooking returns the full booking record
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*models.Booking, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.store.GetBookingByID(ctx, bookingID)
}

// ListBookings returns all bookings, optionally filtered by status
func (s *BookingService) ListBookings(ctx context.Context, status *models.BookingStatus) ([]models.Booking, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.store.ListBookings(ctx, status)
}

// Stats returns booking counts and revenue
func (s *BookingService) Stats(ctx context.Context) (*models.BookingStats, error) {
	if _, err := auth.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.store.BookingStats(ctx)
}

// ReapAbandoned cancels pending bookings that never got a payment intent
func (s *BookingService) ReapAbandoned(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.abandonedAfter)

	reaped, err := s.store.CancelAbandonedPending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel abandoned bookings: %w", err)
	}

	for i := range reaped {
		b := &reaped[i]
		util.BookingsCancelledTotal.WithLabelValues("abandoned").Inc()
		s.publishStatusChanged(ctx, b, models.BookingStatusPending, "abandoned")
	}
	if len(reaped) > 0 {
		s.logger.Info("Abandoned bookings cancelled", zap.Int("count", len(reaped)), zap.Time("cutoff", cutoff))
	}
	return len(reaped), nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tool-rental-service/internal/models"
	"tool-rental-service/internal/payment"
	"tool-rental-service/internal/util"

	"go.uber.org/zap"
)

const processedEventTTL = 7 * 24 * time.Hour

// Webhook outcomes, used as the result label
const (
	resultConfirmed     = "confirmed"
	resultPendingCode   = "pending_code"
	resultFailed        = "failed"
	resultDuplicate     = "duplicate"
	resultStale         = "stale"
	resultUnknownIntent = "unknown_intent"
	resultIntegrity     = "integrity"
	resultIgnored       = "ignored"
	resultError         = "error"
)

// HandlePaymentWebhook verifies and applies one payment provider event.
// It returns an error only for an invalid signature (wrapping
// payment.ErrInvalidSignature) or a transient infrastructure failure the
// provider should retry. Every other outcome is acknowledged.
func (s *BookingService) HandlePaymentWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	ctx, span := util.StartSpan(ctx, "BookingService.HandlePaymentWebhook")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	event, err := s.payments.ParseEvent(payload, signatureHeader)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		s.logger.Warn("Rejected payment webhook", zap.Error(err))
		return err
	}

	logger := s.logger.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("intent_id", event.IntentID))

	processed, err := s.isEventProcessed(ctx, event.ID)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(string(event.Type), resultError).Inc()
		return fmt.Errorf("failed to check processed event: %w", err)
	}
	if processed {
		util.WebhookEventsTotal.WithLabelValues(string(event.Type), resultDuplicate).Inc()
		logger.Info("Event already processed, skipping")
		return nil
	}

	var result string
	switch event.Type {
	case payment.EventPaymentSucceeded:
		result, err = s.fulfillPayment(ctx, event)
	case payment.EventPaymentFailed:
		result, err = s.failPayment(ctx, event)
	default:
		util.WebhookEventsTotal.WithLabelValues(string(event.Type), resultIgnored).Inc()
		return nil
	}
	if err != nil {
		util.SpanError(span, err)
		util.WebhookEventsTotal.WithLabelValues(string(event.Type), resultError).Inc()
		logger.Error("Payment webhook processing failed", zap.Error(err))
		return err
	}

	util.WebhookEventsTotal.WithLabelValues(string(event.Type), result).Inc()
	logger.Info("Payment webhook processed", zap.String("result", result))

	// A redelivery after a failed mark is still a no-op through the status checks.
	s.markEventProcessed(ctx, event)
	return nil
}

// fulfillPayment moves a paid booking to confirmed with an access code, or
// to pending_code when the lock vendor fails.
func (s *BookingService) fulfillPayment(ctx context.Context, event *payment.Event) (string, error) {
	booking, result, err := s.bookingForEvent(ctx, event)
	if booking == nil {
		return result, err
	}

	unlock, err := s.locker.Lock(ctx, "booking:"+booking.ID)
	if err != nil {
		return "", fmt.Errorf("failed to lock booking %s: %w", booking.ID, err)
	}
	defer unlock()

	booking, err = s.store.GetBookingByID(ctx, booking.ID)
	if err != nil {
		return "", err
	}

	logger := s.logger.With(zap.String("booking_id", booking.ID))

	switch booking.Status {
	case models.BookingStatusConfirmed, models.BookingStatusCompleted, models.BookingStatusPendingCode:
		return resultDuplicate, nil
	case models.BookingStatusCancelled, models.BookingStatusFailed:
		logger.Warn("Payment succeeded for a closed booking, refund may be required",
			zap.String("status", string(booking.Status)))
		return resultStale, nil
	}

	tool, err := s.store.GetToolByID(ctx, booking.ToolID)
	if err != nil {
		return "", err
	}

	code, err := s.issueCode(ctx, booking, tool)
	if err != nil {
		logger.Error("Access code issuance failed, booking needs manual follow-up", zap.Error(err))
		updated, uerr := s.store.UpdateBookingStatus(ctx, booking.ID, models.BookingStatusPendingCode,
			[]models.BookingStatus{models.BookingStatusPending})
		if errors.Is(uerr, models.ErrIllegalTransition) {
			return resultStale, nil
		}
		if errors.Is(uerr, models.ErrIntegrityViolation) {
			return s.rejectOverlap(ctx, booking, "")
		}
		if uerr != nil {
			return "", fmt.Errorf("failed to mark booking pending_code: %w", uerr)
		}
		util.BookingsPendingCodeTotal.Inc()
		s.invalidateRanges(ctx, updated.ToolID)
		s.publishStatusChanged(ctx, updated, models.BookingStatusPending, "access code issuance failed")
		return resultPendingCode, nil
	}

	updated, err := s.store.SetAccessCode(ctx, booking.ID, code, []models.BookingStatus{models.BookingStatusPending})
	switch {
	case errors.Is(err, models.ErrIntegrityViolation):
		return s.rejectOverlap(ctx, booking, code)
	case errors.Is(err, models.ErrIllegalTransition):
		s.revokeCode(ctx, booking.ID, code)
		return resultStale, nil
	case err != nil:
		s.revokeCode(ctx, booking.ID, code)
		return "", fmt.Errorf("failed to set access code: %w", err)
	}

	logger.Info("Booking confirmed")
	s.afterConfirm(ctx, updated, tool)
	return resultConfirmed, nil
}

// rejectOverlap fails a paid booking whose range is already held by another
// live booking. The storage constraint refused the write; the payment must be
// refunded by an operator.
func (s *BookingService) rejectOverlap(ctx context.Context, booking *models.Booking, code string) (string, error) {
	if code != "" {
		s.revokeCode(ctx, booking.ID, code)
	}
	util.IntegrityViolationsTotal.WithLabelValues("confirm").Inc()
	s.logger.Error("Paid booking overlaps a live booking, refund required",
		zap.String("booking_id", booking.ID),
		zap.String("tool_id", booking.ToolID))

	updated, err := s.store.UpdateBookingStatus(ctx, booking.ID, models.BookingStatusFailed,
		[]models.BookingStatus{models.BookingStatusPending})
	if err != nil {
		s.logger.Error("Failed to mark overlapping booking failed",
			zap.String("booking_id", booking.ID), zap.Error(err))
		return resultIntegrity, nil
	}
	util.BookingsFailedTotal.WithLabelValues("overlap").Inc()
	s.publishStatusChanged(ctx, updated, models.BookingStatusPending, "overlapping live booking")
	return resultIntegrity, nil
}

// failPayment moves a pending booking to failed
func (s *BookingService) failPayment(ctx context.Context, event *payment.Event) (string, error) {
	booking, result, err := s.bookingForEvent(ctx, event)
	if booking == nil {
		return result, err
	}

	updated, err := s.store.UpdateBookingStatus(ctx, booking.ID, models.BookingStatusFailed,
		[]models.BookingStatus{models.BookingStatusPending})
	if errors.Is(err, models.ErrIllegalTransition) {
		s.logger.Info("Payment failure for a booking no longer pending",
			zap.String("booking_id", booking.ID), zap.Error(err))
		return resultStale, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to mark booking failed: %w", err)
	}

	util.BookingsFailedTotal.WithLabelValues("payment_failed").Inc()
	s.publishStatusChanged(ctx, updated, models.BookingStatusPending, event.FailureMessage)
	return resultFailed, nil
}

// bookingForEvent resolves the booking an event refers to. A nil booking
// with a nil error means the event is acknowledged without a mutation.
func (s *BookingService) bookingForEvent(ctx context.Context, event *payment.Event) (*models.Booking, string, error) {
	booking, err := s.store.GetBookingByPaymentIntentID(ctx, event.IntentID)
	if errors.Is(err, models.ErrIntegrityViolation) {
		util.IntegrityViolationsTotal.WithLabelValues("webhook_lookup").Inc()
		s.logger.Error("Payment intent matches more than one booking",
			zap.String("intent_id", event.IntentID), zap.Error(err))
		return nil, resultIntegrity, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up booking: %w", err)
	}
	if booking == nil {
		s.logger.Warn("No booking for payment intent, needs manual reconciliation",
			zap.String("intent_id", event.IntentID),
			zap.String("event_id", event.ID))
		return nil, resultUnknownIntent, nil
	}
	return booking, "", nil
}

func (s *BookingService) isEventProcessed(ctx context.Context, eventID string) (bool, error) {
	if s.idempotency != nil {
		seen, err := s.idempotency.CheckIdempotencyKey(ctx, "webhook:"+eventID)
		if err != nil {
			s.logger.Warn("Idempotency cache read failed", zap.Error(err))
		} else if seen {
			return true, nil
		}
	}
	return s.store.IsEventProcessed(ctx, eventID)
}

func (s *BookingService) markEventProcessed(ctx context.Context, event *payment.Event) {
	if err := s.store.MarkEventProcessed(ctx, event.ID, string(event.Type)); err != nil {
		s.logger.Error("Failed to mark event processed", zap.String("event_id", event.ID), zap.Error(err))
	}
	if s.idempotency != nil {
		if err := s.idempotency.SetIdempotencyKey(ctx, "webhook:"+event.ID, "processed", processedEventTTL); err != nil {
			s.logger.Warn("Failed to cache processed event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}
}

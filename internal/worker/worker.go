package worker

import (
	"context"

	"tool-rental-service/internal/broker"
	"tool-rental-service/internal/lockvendor"
	"tool-rental-service/internal/models"
	"tool-rental-service/internal/util"

	"go.uber.org/zap"
)

// EventSource delivers booking events to a handler until ctx is done
type EventSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// RevocationWorker revokes access codes of bookings that leave the live
// states with a code attached.
type RevocationWorker struct {
	source       EventSource
	eventHandler *broker.EventHandler
	issuer       lockvendor.Issuer
	logger       *zap.Logger
}

// NewRevocationWorker creates a new revocation worker
func NewRevocationWorker(source EventSource, issuer lockvendor.Issuer) *RevocationWorker {
	w := &RevocationWorker{
		source:       source,
		eventHandler: broker.NewEventHandler(),
		issuer:       issuer,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnBookingStatusChanged(w.handleStatusChanged)
	return w
}

// Start starts the worker
func (w *RevocationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting revocation worker...")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RevocationWorker) Stop() error {
	w.logger.Info("Stopping revocation worker...")
	return w.source.Close()
}

// handleStatusChanged returns the vendor error so the consumer retries the message
func (w *RevocationWorker) handleStatusChanged(ctx context.Context, event *models.BookingStatusChangedEvent) error {
	if event.AccessCode == "" {
		return nil
	}
	if event.To != models.BookingStatusCancelled && event.To != models.BookingStatusCompleted {
		return nil
	}

	if err := w.issuer.Revoke(ctx, event.AccessCode); err != nil {
		w.logger.Error("Failed to revoke access code",
			zap.String("booking_id", event.BookingID), zap.Error(err))
		return err
	}

	w.logger.Info("Access code revoked",
		zap.String("booking_id", event.BookingID),
		zap.String("status", string(event.To)))
	return nil
}

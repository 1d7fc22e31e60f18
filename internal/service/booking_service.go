package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tool-rental-service/internal/auth"
	"tool-rental-service/internal/broker"
	"tool-rental-service/internal/lockvendor"
	"tool-rental-service/internal/models"
	"tool-rental-service/internal/notify"
	"tool-rental-service/internal/payment"
	"tool-rental-service/internal/pricing"
	"tool-rental-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BookingDeps are the collaborators a BookingService is built from.
// Idempotency and Ranges are optional.
type BookingDeps struct {
	Store       BookingStore
	Payments    payment.Strategy
	Issuer      lockvendor.Issuer
	Notifier    notify.Notifier
	Publisher   EventPublisher
	Locker      Locker
	Idempotency IdempotencyCache
	Ranges      RangeCache

	Currency       string
	AbandonedAfter time.Duration
}

// BookingService runs the booking lifecycle: creation, payment webhook
// fulfillment and admin transitions.
type BookingService struct {
	store       BookingStore
	payments    payment.Strategy
	issuer      lockvendor.Issuer
	notifier    notify.Notifier
	publisher   EventPublisher
	locker      Locker
	idempotency IdempotencyCache
	ranges      RangeCache

	currency       string
	abandonedAfter time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

// NewBookingService creates a new booking service
func NewBookingService(deps BookingDeps) *BookingService {
	if deps.Currency == "" {
		deps.Currency = "usd"
	}
	if deps.AbandonedAfter <= 0 {
		deps.AbandonedAfter = 30 * time.Minute
	}
	return &BookingService{
		store:          deps.Store,
		payments:       deps.Payments,
		issuer:         deps.Issuer,
		notifier:       deps.Notifier,
		publisher:      deps.Publisher,
		locker:         deps.Locker,
		idempotency:    deps.Idempotency,
		ranges:         deps.Ranges,
		currency:       deps.Currency,
		abandonedAfter: deps.AbandonedAfter,
		now:            time.Now,
		logger:         util.GetLogger(),
	}
}

// CreateBookingRequest represents a request to book a tool
type CreateBookingRequest struct {
	ToolSlug    string              `json:"tool_slug" binding:"required"`
	Customer    models.Customer     `json:"customer"`
	StartDate   time.Time           `json:"start_date" binding:"required"`
	EndDate     time.Time           `json:"end_date" binding:"required"`
	Attribution *models.Attribution `json:"attribution,omitempty"`
}

// CreateBookingResponse represents the response after creating a booking.
// AccessCode is only set when payments are bypassed.
type CreateBookingResponse struct {
	BookingID    string               `json:"booking_id"`
	Status       models.BookingStatus `json:"status"`
	ClientSecret *string              `json:"client_secret"`
	Pricing      pricing.Quote        `json:"pricing"`
	AccessCode   *string              `json:"access_code,omitempty"`
}

// BookingStatusResponse is the public view of a booking's progress
type BookingStatusResponse struct {
	BookingID  string               `json:"booking_id"`
	Status     models.BookingStatus `json:"status"`
	AccessCode *string              `json:"access_code"`
}

// QuoteBooking prices a rental without reserving anything
func (s *BookingService) QuoteBooking(ctx context.Context, toolSlug string, start, end time.Time) (*pricing.Quote, error) {
	if err := validateRange(start, end, s.now()); err != nil {
		return nil, err
	}
	tool, err := s.store.GetToolBySlug(ctx, toolSlug)
	if err != nil {
		return nil, err
	}
	quote := pricing.Calculate(tool.DailyRate, tool.DepositAmount, start, end)
	return &quote, nil
}

// CreateBookingAndPaymentIntent validates the request, re-checks availability
// and inserts the booking. With a settled payment strategy the booking is
// confirmed immediately with an access code; otherwise it stays pending and a
// payment intent is created for the total.
func (s *BookingService) CreateBookingAndPaymentIntent(ctx context.Context, req *CreateBookingRequest) (*CreateBookingResponse, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.CreateBookingAndPaymentIntent")
	defer span.End()

	if err := validateRange(req.StartDate, req.EndDate, s.now()); err != nil {
		util.BookingsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	tool, err := s.store.GetToolBySlug(ctx, req.ToolSlug)
	if err != nil {
		return nil, err
	}

	quote := pricing.Calculate(tool.DailyRate, tool.DepositAmount, req.StartDate, req.EndDate)

	booking := &models.Booking{
		ID:              uuid.New().String(),
		ToolID:          tool.ID,
		CustomerName:    req.Customer.Name,
		CustomerEmail:   req.Customer.Email,
		CustomerPhone:   req.Customer.Phone,
		RentalStartDate: req.StartDate,
		RentalEndDate:   req.EndDate,
		TotalAmount:     quote.Total,
		RentalFee:       quote.Subtotal,
		DepositAmount:   quote.Deposit,
		Status:          models.BookingStatusPending,
	}
	if u := auth.UserFromContext(ctx); u != nil {
		booking.UserID = &u.ID
	}
	if req.Attribution != nil {
		booking.TrafficSource = req.Attribution.TrafficSource
		booking.ListingID = req.Attribution.ListingID
	}

	if s.payments.Settled() {
		return s.createSettled(ctx, booking, tool, quote)
	}

	// a total the gateway cannot charge is rejected before any row exists
	if _, err := payment.MinorUnits(quote.Total); err != nil {
		util.BookingsFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	if err := s.insertBooking(ctx, booking); err != nil {
		return nil, err
	}
	util.BookingsCreatedTotal.WithLabelValues("payment").Inc()
	s.logger.Info("Booking created", zap.String("booking_id", booking.ID), zap.String("tool_id", tool.ID))
	s.publishCreated(ctx, booking)

	intent, err := s.payments.CreateIntent(ctx, payment.IntentRequest{
		BookingID:     booking.ID,
		Amount:        quote.Total,
		Currency:      s.currency,
		Description:   fmt.Sprintf("Rental: %s (%d days)", tool.Name, quote.Days),
		CustomerEmail: booking.CustomerEmail,
		Metadata:      map[string]string{"tool_id": tool.ID},
	})
	if err != nil {
		// The booking stays pending without an intent; the reaper cancels it.
		util.SpanError(span, err)
		s.logger.Error("Payment intent creation failed",
			zap.String("booking_id", booking.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	if err := s.store.SetPaymentIntent(ctx, booking.ID, intent.ID); err != nil {
		if errors.Is(err, models.ErrIntegrityViolation) {
			util.IntegrityViolationsTotal.WithLabelValues("set_payment_intent").Inc()
		}
		s.logger.Error("Failed to store payment intent",
			zap.String("booking_id", booking.ID), zap.String("intent_id", intent.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to store payment intent: %w", err)
	}

	return &CreateBookingResponse{
		BookingID:    booking.ID,
		Status:       booking.Status,
		ClientSecret: &intent.ClientSecret,
		Pricing:      quote,
	}, nil
}

// createSettled issues the code first so the confirmed row is inserted with
// it in one write. A failed insert revokes the code.
func (s *BookingService) createSettled(ctx context.Context, booking *models.Booking, tool *models.Tool, quote pricing.Quote) (*CreateBookingResponse, error) {
	available, err := s.store.IsAvailable(ctx, booking.ToolID, booking.RentalStartDate, booking.RentalEndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	if !available {
		util.AvailabilityConflictsTotal.Inc()
		return nil, models.ErrNotAvailable
	}

	code, err := s.issueCode(ctx, booking, tool)
	if err != nil {
		util.BookingsFailedTotal.WithLabelValues("access_code").Inc()
		return nil, fmt.Errorf("failed to issue access code: %w", err)
	}
	booking.AccessCode = &code
	booking.Status = models.BookingStatusConfirmed

	if err := s.insertBooking(ctx, booking); err != nil {
		s.revokeCode(ctx, booking.ID, code)
		return nil, err
	}

	util.BookingsCreatedTotal.WithLabelValues("bypass").Inc()
	s.logger.Info("Booking created and confirmed without payment",
		zap.String("booking_id", booking.ID), zap.String("tool_id", tool.ID))
	s.publishCreated(ctx, booking)
	s.afterConfirm(ctx, booking, tool)

	return &CreateBookingResponse{
		BookingID:  booking.ID,
		Status:     booking.Status,
		Pricing:    quote,
		AccessCode: booking.AccessCode,
	}, nil
}

func (s *BookingService) insertBooking(ctx context.Context, booking *models.Booking) error {
	err := s.store.CreateBooking(ctx, booking)
	switch {
	case errors.Is(err, models.ErrNotAvailable):
		util.AvailabilityConflictsTotal.Inc()
		return err
	case err != nil:
		util.BookingsFailedTotal.WithLabelValues("db_error").Inc()
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// GetBookingStatus returns the status and access code of a booking
func (s *BookingService) GetBookingStatus(ctx context.Context, bookingID string) (*BookingStatusResponse, error) {
	booking, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return &BookingStatusResponse{
		BookingID:  booking.ID,
		Status:     booking.Status,
		AccessCode: booking.AccessCode,
	}, nil
}

// ListMyBookings returns the signed-in user's bookings
func (s *BookingService) ListMyBookings(ctx context.Context) ([]models.Booking, error) {
	u := auth.UserFromContext(ctx)
	if u == nil {
		return nil, models.ErrUnauthenticated
	}
	return s.store.ListBookingsByUser(ctx, u.ID)
}

func (s *BookingService) issueCode(ctx context.Context, booking *models.Booking, tool *models.Tool) (string, error) {
	req := lockvendor.IssueRequest{
		BookingID: booking.ID,
		Start:     booking.RentalStartDate,
		End:       booking.RentalEndDate,
	}
	if tool.LockID != nil {
		req.LockID = *tool.LockID
	}
	return s.issuer.Issue(ctx, req)
}

func (s *BookingService) revokeCode(ctx context.Context, bookingID, code string) {
	if err := s.issuer.Revoke(ctx, code); err != nil {
		s.logger.Error("Failed to revoke access code",
			zap.String("booking_id", bookingID), zap.Error(err))
	}
}

// afterConfirm runs the side effects of entering confirmed. None of them
// can undo the confirmation.
func (s *BookingService) afterConfirm(ctx context.Context, booking *models.Booking, tool *models.Tool) {
	util.BookingsConfirmedTotal.Inc()
	s.invalidateRanges(ctx, booking.ToolID)

	event := &models.BookingConfirmedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeBookingConfirmed),
		BookingID: booking.ID,
		ToolID:    booking.ToolID,
		StartDate: booking.RentalStartDate,
		EndDate:   booking.RentalEndDate,
	}
	if err := s.publisher.PublishBookingConfirmed(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingConfirmed event", zap.Error(err))
	}

	if err := s.sendConfirmation(ctx, booking, tool); err != nil {
		s.logger.Error("Failed to send booking confirmation",
			zap.String("booking_id", booking.ID), zap.Error(err))
	}
}

func (s *BookingService) sendConfirmation(ctx context.Context, booking *models.Booking, tool *models.Tool) error {
	c := notify.Confirmation{
		BookingID:     booking.ID,
		To:            booking.CustomerEmail,
		CustomerName:  booking.CustomerName,
		ToolName:      tool.Name,
		Start:         booking.RentalStartDate,
		End:           booking.RentalEndDate,
		RentalFee:     booking.RentalFee,
		DepositAmount: booking.DepositAmount,
		TotalAmount:   booking.TotalAmount,
	}
	if booking.AccessCode != nil {
		c.AccessCode = *booking.AccessCode
	}

	if err := s.notifier.SendBookingConfirmation(ctx, c); err != nil {
		util.NotificationsTotal.WithLabelValues("failed").Inc()
		return err
	}
	util.NotificationsTotal.WithLabelValues("sent").Inc()

	if err := s.store.MarkEmailSent(ctx, booking.ID, s.now()); err != nil {
		s.logger.Warn("Failed to record email sent", zap.String("booking_id", booking.ID), zap.Error(err))
	}
	return nil
}

func (s *BookingService) publishCreated(ctx context.Context, booking *models.Booking) {
	event := &models.BookingCreatedEvent{
		BaseEvent:   broker.NewBaseEvent(models.EventTypeBookingCreated),
		BookingID:   booking.ID,
		ToolID:      booking.ToolID,
		Status:      booking.Status,
		StartDate:   booking.RentalStartDate,
		EndDate:     booking.RentalEndDate,
		TotalAmount: booking.TotalAmount,
	}
	if err := s.publisher.PublishBookingCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingCreated event", zap.Error(err))
	}
}

func (s *BookingService) publishStatusChanged(ctx context.Context, booking *models.Booking, from models.BookingStatus, reason string) {
	event := &models.BookingStatusChangedEvent{
		BaseEvent: broker.NewBaseEvent(models.EventTypeBookingStatusChanged),
		BookingID: booking.ID,
		ToolID:    booking.ToolID,
		From:      from,
		To:        booking.Status,
		Reason:    reason,
	}
	if booking.AccessCode != nil {
		event.AccessCode = *booking.AccessCode
	}
	if err := s.publisher.PublishBookingStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish BookingStatusChanged event", zap.Error(err))
	}
}

func (s *BookingService) invalidateRanges(ctx context.Context, toolID string) {
	if s.ranges == nil {
		return
	}
	if err := s.ranges.InvalidateBookedRanges(ctx, toolID); err != nil {
		s.logger.Warn("Failed to invalidate booked ranges", zap.String("tool_id", toolID), zap.Error(err))
	}
}

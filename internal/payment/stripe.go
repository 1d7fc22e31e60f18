package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tool-rental-service/internal/models"
	"tool-rental-service/internal/util"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// StripeGateway creates PaymentIntents and verifies Stripe webhooks
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
	logger        *zap.Logger
}

// NewStripeGateway builds a gateway; backends may be nil for the live API
func NewStripeGateway(secretKey, webhookSecret string, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{
		sc:            client.New(secretKey, backends),
		webhookSecret: webhookSecret,
		logger:        util.GetLogger(),
	}
}

func (g *StripeGateway) Settled() bool { return false }

// CreateIntent creates a PaymentIntent for the booking total. The booking id
// doubles as the idempotency key so a retried request reuses the intent.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	ctx, span := util.StartBookingSpan(ctx, "StripeGateway.CreateIntent", req.BookingID)
	defer span.End()

	amount, err := MinorUnits(req.Amount)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("booking-" + req.BookingID)
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("booking_id", req.BookingID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues("error").Inc()
		util.SpanError(span, err)
		g.logger.Error("Failed to create payment intent",
			zap.String("booking_id", req.BookingID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: create payment intent: %v", models.ErrGateway, err)
	}

	util.PaymentIntentsTotal.WithLabelValues("created").Inc()
	g.logger.Info("Payment intent created",
		zap.String("booking_id", req.BookingID),
		zap.String("intent_id", pi.ID),
		zap.Int64("amount", pi.Amount),
		zap.Duration("took", time.Since(start)))

	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ParseEvent verifies the Stripe-Signature header and extracts the intent
func (g *StripeGateway) ParseEvent(payload []byte, signatureHeader string) (*Event, error) {
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: event.ID, Type: EventType(event.Type)}
	if out.Type != EventPaymentSucceeded && out.Type != EventPaymentFailed {
		return out, nil
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", models.ErrValidation, event.ID)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: decode payment intent: %v", models.ErrValidation, err)
	}
	out.IntentID = pi.ID
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out, nil
}

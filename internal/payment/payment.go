// Package payment adapts the payment provider behind a Strategy selected once
// at startup.
package payment

import (
	"context"
	"errors"
	"fmt"

	"tool-rental-service/internal/models"

	"github.com/shopspring/decimal"
)

// ErrInvalidSignature is returned for webhook payloads that fail verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
)

// IntentRequest describes the charge for one booking
type IntentRequest struct {
	BookingID     string
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerEmail string
	Metadata      map[string]string
}

// Intent is the provider-side handle for a charge attempt
type Intent struct {
	ID           string
	ClientSecret string
}

// Event is a verified asynchronous payment notification
type Event struct {
	ID             string
	Type           EventType
	IntentID       string
	FailureMessage string
}

// Strategy is the payment capability the booking flow depends on.
// A settled strategy confirms bookings at creation and never creates intents.
type Strategy interface {
	Settled() bool
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ParseEvent(payload []byte, signatureHeader string) (*Event, error)
}

// MinorUnits converts a decimal amount to the integer minor currency unit
func MinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Shift(2)
	if !cents.Equal(cents.Round(0)) {
		return 0, fmt.Errorf("%w: amount %s has sub-cent precision", models.ErrValidation, amount)
	}
	if !cents.IsPositive() {
		return 0, fmt.Errorf("%w: amount %s must be positive", models.ErrValidation, amount)
	}
	return cents.IntPart(), nil
}

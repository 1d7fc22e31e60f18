package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tool-rental-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeGateway("sk_test_123", testWebhookSecret, &stripe.Backends{API: backend})
}

func signed(t *testing.T, payload string) string {
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: []byte(payload),
		Secret:  testWebhookSecret,
	})
	return sp.Header
}

func TestMinorUnits(t *testing.T) {
	cents, err := MinorUnits(decimal.RequireFromString("125.50"))
	require.NoError(t, err)
	assert.Equal(t, int64(12550), cents)

	_, err = MinorUnits(decimal.RequireFromString("1.005"))
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = MinorUnits(decimal.Zero)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestStripeGateway_CreateIntent(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "booking-b-1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "12500", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "b-1", r.PostForm.Get("metadata[booking_id]"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_123","object":"payment_intent","amount":12500,"currency":"usd","client_secret":"pi_123_secret_abc","status":"requires_payment_method"}`)
	})

	intent, err := gw.CreateIntent(context.Background(), IntentRequest{
		BookingID: "b-1",
		Amount:    decimal.NewFromInt(125),
		Currency:  "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.False(t, gw.Settled())
}

func TestStripeGateway_CreateIntentFailureIsGatewayError(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"bad currency"}}`)
	})

	_, err := gw.CreateIntent(context.Background(), IntentRequest{
		BookingID: "b-1",
		Amount:    decimal.NewFromInt(10),
		Currency:  "zzz",
	})
	assert.True(t, errors.Is(err, models.ErrGateway))
}

func TestStripeGateway_ParseEvent(t *testing.T) {
	gw := NewStripeGateway("sk_test_123", testWebhookSecret, nil)

	t.Run("succeeded", func(t *testing.T) {
		payload := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent"}}}`

		ev, err := gw.ParseEvent([]byte(payload), signed(t, payload))
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, EventPaymentSucceeded, ev.Type)
		assert.Equal(t, "pi_123", ev.IntentID)
	})

	t.Run("failed carries reason", func(t *testing.T) {
		payload := `{"id":"evt_2","object":"event","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_456","object":"payment_intent","last_payment_error":{"message":"card declined"}}}}`

		ev, err := gw.ParseEvent([]byte(payload), signed(t, payload))
		require.NoError(t, err)
		assert.Equal(t, EventPaymentFailed, ev.Type)
		assert.Equal(t, "pi_456", ev.IntentID)
		assert.Equal(t, "card declined", ev.FailureMessage)
	})

	t.Run("other types pass through", func(t *testing.T) {
		payload := `{"id":"evt_3","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`

		ev, err := gw.ParseEvent([]byte(payload), signed(t, payload))
		require.NoError(t, err)
		assert.Equal(t, EventType("charge.refunded"), ev.Type)
		assert.Empty(t, ev.IntentID)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := gw.ParseEvent([]byte(`{}`), "")
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})

	t.Run("tampered payload", func(t *testing.T) {
		payload := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123"}}}`
		header := signed(t, payload)

		_, err := gw.ParseEvent([]byte(payload+" "), header)
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})
}

func TestBypassGateway(t *testing.T) {
	gw := NewBypassGateway()

	assert.True(t, gw.Settled())

	_, err := gw.CreateIntent(context.Background(), IntentRequest{BookingID: "b-1"})
	assert.True(t, errors.Is(err, models.ErrGateway))

	_, err = gw.ParseEvent([]byte(`{}`), "t=1,v1=abc")
	assert.True(t, errors.Is(err, ErrInvalidSignature))
}

package notify

import (
	"context"
	"fmt"

	"tool-rental-service/internal/util"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

// SendGridNotifier sends confirmations through the SendGrid v3 API
type SendGridNotifier struct {
	apiKey    string
	fromEmail string
	fromName  string
	baseURL   string
	logger    *zap.Logger
}

func NewSendGridNotifier(apiKey, fromEmail, fromName string) *SendGridNotifier {
	return &SendGridNotifier{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		logger:    util.GetLogger(),
	}
}

func (s *SendGridNotifier) SendBookingConfirmation(ctx context.Context, c Confirmation) error {
	ctx, span := util.StartBookingSpan(ctx, "SendGridNotifier.SendBookingConfirmation", c.BookingID)
	defer span.End()

	html, err := c.HTML()
	if err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	recipient := mail.NewEmail(c.CustomerName, c.To)
	message := mail.NewSingleEmail(from, c.Subject(), recipient, c.PlainText(), html)

	client := sendgrid.NewSendClient(s.apiKey)
	if s.baseURL != "" {
		client.BaseURL = s.baseURL
	}

	response, err := client.SendWithContext(ctx, message)
	if err != nil {
		util.SpanError(span, err)
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		err := fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
		util.SpanError(span, err)
		return err
	}

	s.logger.Info("Booking confirmation email sent",
		zap.String("booking_id", c.BookingID),
		zap.Int("status", response.StatusCode))
	return nil
}

// LogNotifier logs confirmations instead of sending them
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (l *LogNotifier) SendBookingConfirmation(ctx context.Context, c Confirmation) error {
	l.logger.Info("Booking confirmation (email disabled)",
		zap.String("booking_id", c.BookingID),
		zap.String("subject", c.Subject()))
	return nil
}

// Package notify sends booking confirmation emails.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
)

// Confirmation carries everything the confirmation email shows
type Confirmation struct {
	BookingID     string
	To            string
	CustomerName  string
	ToolName      string
	Start         time.Time
	End           time.Time
	AccessCode    string
	RentalFee     decimal.Decimal
	DepositAmount decimal.Decimal
	TotalAmount   decimal.Decimal
}

// Notifier delivers confirmation emails
type Notifier interface {
	SendBookingConfirmation(ctx context.Context, c Confirmation) error
}

const dateLayout = "January 2, 2006 at 3:04 PM"

var htmlTmpl = template.Must(template.New("confirmation").Funcs(template.FuncMap{
	"date":  func(t time.Time) string { return t.Format(dateLayout) },
	"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
}).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background-color: #f3f4f6;">
  <h1>Booking Confirmed</h1>
  <p>Hi {{.CustomerName}},</p>
  <p>Your tool rental has been confirmed. Here are your booking details:</p>
  <h2>{{.ToolName}}</h2>
  <p>Your access code</p>
  <p style="font-size: 36px; letter-spacing: 8px; font-family: 'Courier New', monospace;">{{.AccessCode}}</p>
  <p>Use this code to unlock the tool storage.</p>
  <p>Rental start: {{date .Start}}<br>Rental end: {{date .End}}</p>
  <table>
    <tr><td>Rental fee</td><td>{{money .RentalFee}}</td></tr>
    <tr><td>Deposit</td><td>{{money .DepositAmount}}</td></tr>
    <tr><td><strong>Total</strong></td><td><strong>{{money .TotalAmount}}</strong></td></tr>
  </table>
  <p style="color: #6b7280;">Booking reference: {{.BookingID}}</p>
</body>
</html>`))

// Subject returns the email subject line
func (c Confirmation) Subject() string {
	return fmt.Sprintf("Booking Confirmed: %s", c.ToolName)
}

// PlainText renders the text/plain body
func (c Confirmation) PlainText() string {
	return fmt.Sprintf("Hi %s,\n\nYour rental of %s is confirmed.\n\nAccess code: %s\nStart: %s\nEnd: %s\nTotal: $%s (rental $%s + deposit $%s)\n\nBooking reference: %s\n",
		c.CustomerName, c.ToolName, c.AccessCode,
		c.Start.Format(dateLayout), c.End.Format(dateLayout),
		c.TotalAmount.StringFixed(2), c.RentalFee.StringFixed(2), c.DepositAmount.StringFixed(2),
		c.BookingID)
}

// HTML renders the text/html body
func (c Confirmation) HTML() (string, error) {
	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

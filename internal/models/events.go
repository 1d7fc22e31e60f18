package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeBookingCreated       = "BOOKING_CREATED"
	EventTypeBookingConfirmed     = "BOOKING_CONFIRMED"
	EventTypeBookingStatusChanged = "BOOKING_STATUS_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BookingCreatedEvent published when a booking row is inserted
type BookingCreatedEvent struct {
	BaseEvent
	BookingID   string          `json:"booking_id"`
	ToolID      string          `json:"tool_id"`
	Status      BookingStatus   `json:"status"`
	StartDate   time.Time       `json:"start_date"`
	EndDate     time.Time       `json:"end_date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// BookingConfirmedEvent published when an access code is attached
type BookingConfirmedEvent struct {
	BaseEvent
	BookingID string    `json:"booking_id"`
	ToolID    string    `json:"tool_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// BookingStatusChangedEvent published on every other transition
type BookingStatusChangedEvent struct {
	BaseEvent
	BookingID  string        `json:"booking_id"`
	ToolID     string        `json:"tool_id"`
	From       BookingStatus `json:"from"`
	To         BookingStatus `json:"to"`
	AccessCode string        `json:"access_code,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Category groups tools in the catalog
type Category struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Tool represents a rentable tool in the catalog
type Tool struct {
	ID            string          `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Slug          string          `db:"slug" json:"slug"`
	Description   string          `db:"description" json:"description"`
	CategoryID    string          `db:"category_id" json:"category_id"`
	DailyRate     decimal.Decimal `db:"daily_rate" json:"daily_rate"`
	DepositAmount decimal.Decimal `db:"deposit_amount" json:"deposit_amount"`
	ImageURL      *string         `db:"image_url" json:"image_url,omitempty"`
	LockID        *string         `db:"lock_id" json:"lock_id,omitempty"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	IsFeatured    bool            `db:"is_featured" json:"is_featured"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Customer holds the contact fields captured with a booking
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Attribution is opaque traffic metadata recorded on a booking
type Attribution struct {
	TrafficSource *string `json:"traffic_source,omitempty"`
	ListingID     *string `json:"listing_id,omitempty"`
}

// Booking is a reservation of one tool for an inclusive date range
type Booking struct {
	ID              string          `db:"id" json:"id"`
	ToolID          string          `db:"tool_id" json:"tool_id"`
	UserID          *string         `db:"user_id" json:"user_id,omitempty"`
	CustomerName    string          `db:"customer_name" json:"customer_name"`
	CustomerEmail   string          `db:"customer_email" json:"customer_email"`
	CustomerPhone   string          `db:"customer_phone" json:"customer_phone"`
	RentalStartDate time.Time       `db:"rental_start_date" json:"rental_start_date"`
	RentalEndDate   time.Time       `db:"rental_end_date" json:"rental_end_date"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	RentalFee       decimal.Decimal `db:"rental_fee" json:"rental_fee"`
	DepositAmount   decimal.Decimal `db:"deposit_amount" json:"deposit_amount"`
	AccessCode      *string         `db:"access_code" json:"access_code,omitempty"`
	PaymentIntentID *string         `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	TrafficSource   *string         `db:"traffic_source" json:"traffic_source,omitempty"`
	ListingID       *string         `db:"listing_id" json:"listing_id,omitempty"`
	Status          BookingStatus   `db:"status" json:"status"`
	EmailSentAt     *time.Time      `db:"email_sent_at" json:"email_sent_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Range returns the booked date range
func (b *Booking) Range() DateRange {
	return DateRange{Start: b.RentalStartDate, End: b.RentalEndDate}
}

// HasAccessCode reports whether an access code has been issued
func (b *Booking) HasAccessCode() bool {
	return b.AccessCode != nil && *b.AccessCode != ""
}

// BookingStats holds simple admin counts
type BookingStats struct {
	TotalBookings int64                   `json:"total_bookings"`
	ByStatus      map[BookingStatus]int64 `json:"by_status"`
	Revenue       decimal.Decimal         `json:"revenue"`
}

// ProcessedEvent for webhook idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// User is the authenticated caller as seen by the core
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// IsAdmin reports whether the user carries the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

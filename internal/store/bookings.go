package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tool-rental-service/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const bookingColumns = `id, tool_id, user_id, customer_name, customer_email, customer_phone,
	rental_start_date, rental_end_date, total_amount, rental_fee, deposit_amount, access_code,
	payment_intent_id, traffic_source, listing_id, status, email_sent_at, created_at, updated_at`

// overlapPredicate is the closed-interval three-way test against ($2, $3)
const overlapPredicate = `(
		(rental_start_date <= $2 AND rental_end_date >= $2) OR
		(rental_start_date <= $3 AND rental_end_date >= $3) OR
		(rental_start_date >= $2 AND rental_end_date <= $3)
	)`

// CreateBooking inserts a booking. Check and insert run in one transaction
// holding a per-tool advisory lock, so concurrent requests for the same tool
// serialize; the exclusion constraint on live ranges backs this up.
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking) error {
	if b.HasAccessCode() != (b.Status == models.BookingStatusConfirmed) {
		return fmt.Errorf("%w: access code must be set exactly when creating a confirmed booking", models.ErrIntegrityViolation)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", b.ToolID); err != nil {
		return fmt.Errorf("failed to lock tool: %w", err)
	}

	var conflicts int
	if err := tx.GetContext(ctx, &conflicts,
		"SELECT COUNT(*) FROM bookings WHERE tool_id = $1 AND status = ANY($4) AND "+overlapPredicate,
		b.ToolID, b.RentalStartDate, b.RentalEndDate, pq.Array(models.StatusStrings(models.LiveStatuses))); err != nil {
		return fmt.Errorf("failed to check availability: %w", err)
	}
	if conflicts > 0 {
		return models.ErrNotAvailable
	}

	query := `
		INSERT INTO bookings (id, tool_id, user_id, customer_name, customer_email, customer_phone,
			rental_start_date, rental_end_date, total_amount, rental_fee, deposit_amount, access_code,
			payment_intent_id, traffic_source, listing_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		b.ID, b.ToolID, b.UserID, b.CustomerName, b.CustomerEmail, b.CustomerPhone,
		b.RentalStartDate, b.RentalEndDate, b.TotalAmount, b.RentalFee, b.DepositAmount, b.AccessCode,
		b.PaymentIntentID, b.TrafficSource, b.ListingID, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if isPQCode(err, pqExclusionViolation) {
		return models.ErrNotAvailable
	}
	if err != nil {
		return mapError(err, "create booking")
	}

	return tx.Commit()
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBookingByPaymentIntentID returns the single booking correlated with an
// intent, or nil when none matches.
func (s *Store) GetBookingByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	var bookings []models.Booking
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT "+bookingColumns+" FROM bookings WHERE payment_intent_id = $1 LIMIT 2", intentID)
	if err != nil {
		return nil, err
	}
	switch len(bookings) {
	case 0:
		return nil, nil
	case 1:
		return &bookings[0], nil
	default:
		return nil, fmt.Errorf("%w: payment intent %s matches %d bookings", models.ErrIntegrityViolation, intentID, len(bookings))
	}
}

// UpdateBookingStatus moves a booking to status only if its current status is
// in from. A miss is reported as not found or illegal transition.
func (s *Store) UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus, from []models.BookingStatus) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, `
		UPDATE bookings SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
		RETURNING `+bookingColumns,
		status, id, pq.Array(models.StatusStrings(from)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.explainMiss(ctx, id, status)
	}
	if err != nil {
		return nil, mapError(err, "update booking status")
	}
	return &b, nil
}

// SetPaymentIntent records the gateway correlation id once
func (s *Store) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET payment_intent_id = $1, updated_at = NOW()
		WHERE id = $2 AND payment_intent_id IS NULL`,
		intentID, id)
	if err != nil {
		return mapError(err, "set payment intent")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: booking %s is missing or already has a payment intent", models.ErrIntegrityViolation, id)
	}
	return nil
}

// SetAccessCode writes the access code and the confirmed status in a single
// statement, only from the given predecessor statuses.
func (s *Store) SetAccessCode(ctx context.Context, id, code string, from []models.BookingStatus) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, `
		UPDATE bookings SET access_code = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND status = ANY($4) AND (access_code IS NULL OR status = $5)
		RETURNING `+bookingColumns,
		code, models.BookingStatusConfirmed, id, pq.Array(models.StatusStrings(from)), models.BookingStatusPendingCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.explainMiss(ctx, id, models.BookingStatusConfirmed)
	}
	if err != nil {
		return nil, mapError(err, "set access code")
	}
	return &b, nil
}

// MarkEmailSent stamps the confirmation send time
func (s *Store) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE bookings SET email_sent_at = $1, updated_at = NOW() WHERE id = $2", at, id)
	return err
}

func (s *Store) explainMiss(ctx context.Context, id string, to models.BookingStatus) error {
	current, err := s.GetBookingByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: booking %s is %s, cannot move to %s", models.ErrIllegalTransition, id, current.Status, to)
}

// ListBookings retrieves bookings newest first, optionally by status
func (s *Store) ListBookings(ctx context.Context, status *models.BookingStatus) ([]models.Booking, error) {
	bookings := []models.Booking{}
	if status != nil {
		err := s.db.SelectContext(ctx, &bookings,
			"SELECT "+bookingColumns+" FROM bookings WHERE status = $1 ORDER BY created_at DESC", *status)
		return bookings, err
	}
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT "+bookingColumns+" FROM bookings ORDER BY created_at DESC")
	return bookings, err
}

// ListBookingsByUser retrieves bookings for a user
func (s *Store) ListBookingsByUser(ctx context.Context, userID string) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT "+bookingColumns+" FROM bookings WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return bookings, err
}

// IsAvailable reports whether no live booking overlaps [start, end]
func (s *Store) IsAvailable(ctx context.Context, toolID string, start, end time.Time) (bool, error) {
	var conflicts int
	err := s.db.GetContext(ctx, &conflicts,
		"SELECT COUNT(*) FROM bookings WHERE tool_id = $1 AND status = ANY($4) AND "+overlapPredicate,
		toolID, start, end, pq.Array(models.StatusStrings(models.LiveStatuses)))
	if err != nil {
		return false, err
	}
	return conflicts == 0, nil
}

// BookedRanges returns current and future live ranges ascending by start
func (s *Store) BookedRanges(ctx context.Context, toolID string, now time.Time) ([]models.DateRange, error) {
	ranges := []models.DateRange{}
	err := s.db.SelectContext(ctx, &ranges, `
		SELECT rental_start_date AS start, rental_end_date AS "end"
		FROM bookings
		WHERE tool_id = $1 AND status = ANY($2) AND rental_end_date >= $3
		ORDER BY rental_start_date ASC`,
		toolID, pq.Array(models.StatusStrings(models.LiveStatuses)), now)
	return ranges, err
}

// CancelAbandonedPending cancels pending bookings that never received a
// payment intent and were created before cutoff.
func (s *Store) CancelAbandonedPending(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.SelectContext(ctx, &bookings, `
		UPDATE bookings SET status = $1, updated_at = NOW()
		WHERE status = $2 AND payment_intent_id IS NULL AND created_at < $3
		RETURNING `+bookingColumns,
		models.BookingStatusCancelled, models.BookingStatusPending, cutoff)
	return bookings, err
}

// BookingStats counts bookings per status and sums paid revenue
func (s *Store) BookingStats(ctx context.Context) (*models.BookingStats, error) {
	var rows []struct {
		Status  models.BookingStatus `db:"status"`
		Count   int64                `db:"count"`
		Revenue decimal.Decimal      `db:"revenue"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT status, COUNT(*) AS count, COALESCE(SUM(total_amount), 0) AS revenue
		FROM bookings GROUP BY status`)
	if err != nil {
		return nil, err
	}

	stats := &models.BookingStats{ByStatus: map[models.BookingStatus]int64{}, Revenue: decimal.Zero}
	for _, r := range rows {
		stats.TotalBookings += r.Count
		stats.ByStatus[r.Status] = r.Count
		if r.Status == models.BookingStatusConfirmed || r.Status == models.BookingStatusCompleted {
			stats.Revenue = stats.Revenue.Add(r.Revenue)
		}
	}
	return stats, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

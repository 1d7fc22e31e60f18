package service

import (
	"context"
	"time"

	"tool-rental-service/internal/models"
	"tool-rental-service/internal/redisclient"
	"tool-rental-service/internal/store"
)

// BookingStore is the booking repository the orchestrator writes through
type BookingStore interface {
	AvailabilityStore
	GetToolBySlug(ctx context.Context, slug string) (*models.Tool, error)
	GetToolByID(ctx context.Context, id string) (*models.Tool, error)
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus, from []models.BookingStatus) (*models.Booking, error)
	SetPaymentIntent(ctx context.Context, id, intentID string) error
	SetAccessCode(ctx context.Context, id, code string, from []models.BookingStatus) (*models.Booking, error)
	MarkEmailSent(ctx context.Context, id string, at time.Time) error
	ListBookings(ctx context.Context, status *models.BookingStatus) ([]models.Booking, error)
	ListBookingsByUser(ctx context.Context, userID string) ([]models.Booking, error)
	BookingStats(ctx context.Context) (*models.BookingStats, error)
	CancelAbandonedPending(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// AvailabilityStore answers overlap queries against live bookings
type AvailabilityStore interface {
	IsAvailable(ctx context.Context, toolID string, start, end time.Time) (bool, error)
	BookedRanges(ctx context.Context, toolID string, now time.Time) ([]models.DateRange, error)
}

// CatalogStore reads and edits tools and categories
type CatalogStore interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	ListTools(ctx context.Context, f store.ToolFilter) ([]models.Tool, error)
	GetToolBySlug(ctx context.Context, slug string) (*models.Tool, error)
	GetToolByID(ctx context.Context, id string) (*models.Tool, error)
	CreateTool(ctx context.Context, tool *models.Tool) error
	UpdateTool(ctx context.Context, tool *models.Tool) error
	SetToolFeatured(ctx context.Context, id string, featured bool) error
	DeactivateTool(ctx context.Context, id string) error
}

// RangeCache caches booked ranges per tool. Entries are versioned so a fill
// that races an invalidation is never served.
type RangeCache interface {
	CacheBookedRanges(ctx context.Context, toolID string, version int64, ranges []models.DateRange, ttl time.Duration) error
	GetCachedBookedRanges(ctx context.Context, toolID string) ([]models.DateRange, int64, bool, error)
	InvalidateBookedRanges(ctx context.Context, toolID string) error
}

// IdempotencyCache remembers processed webhook events
type IdempotencyCache interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// EventPublisher publishes booking lifecycle events
type EventPublisher interface {
	PublishBookingCreated(ctx context.Context, event *models.BookingCreatedEvent) error
	PublishBookingConfirmed(ctx context.Context, event *models.BookingConfirmedEvent) error
	PublishBookingStatusChanged(ctx context.Context, event *models.BookingStatusChangedEvent) error
}

// Locker serializes work on one booking across processes
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

// RedisLocker takes owned redis locks, waiting up to the lock TTL
type RedisLocker struct {
	client *redisclient.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redisclient.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, name string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	lock, err := l.client.AcquireLockWait(waitCtx, name, l.ttl, 50*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return func() {
		// the caller's ctx may already be cancelled
		_ = lock.Release(context.Background())
	}, nil
}

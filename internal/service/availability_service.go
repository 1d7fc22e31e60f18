package service

import (
	"context"
	"fmt"
	"time"

	"tool-rental-service/internal/models"
	"tool-rental-service/internal/util"

	"go.uber.org/zap"
)

const bookedRangesTTL = 5 * time.Minute

// AvailabilityService answers overlap and calendar queries for a tool
type AvailabilityService struct {
	store  AvailabilityStore
	cache  RangeCache
	now    func() time.Time
	logger *zap.Logger
}

// NewAvailabilityService creates a new availability service. cache may be nil.
func NewAvailabilityService(store AvailabilityStore, cache RangeCache) *AvailabilityService {
	return &AvailabilityService{
		store:  store,
		cache:  cache,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// CheckAvailability reports whether [start, end] is free of live bookings
func (s *AvailabilityService) CheckAvailability(ctx context.Context, toolID string, start, end time.Time) (bool, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityService.CheckAvailability")
	defer span.End()

	if toolID == "" {
		return false, fmt.Errorf("%w: tool id is required", models.ErrValidation)
	}
	if err := validateRange(start, end, s.now()); err != nil {
		return false, err
	}

	available, err := s.store.IsAvailable(ctx, toolID, start, end)
	if err != nil {
		util.SpanError(span, err)
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return available, nil
}

// BookedRanges returns current and future live ranges for calendar display.
// Cache errors fall through to the store.
func (s *AvailabilityService) BookedRanges(ctx context.Context, toolID string) ([]models.DateRange, error) {
	ctx, span := util.StartSpan(ctx, "AvailabilityService.BookedRanges")
	defer span.End()

	if toolID == "" {
		return nil, fmt.Errorf("%w: tool id is required", models.ErrValidation)
	}

	// the version is read before the store so a concurrent invalidation
	// makes this fill unreachable
	cacheable := false
	var version int64
	if s.cache != nil {
		ranges, v, ok, err := s.cache.GetCachedBookedRanges(ctx, toolID)
		switch {
		case err != nil:
			s.logger.Warn("Booked ranges cache read failed", zap.String("tool_id", toolID), zap.Error(err))
		case ok:
			return ranges, nil
		default:
			cacheable, version = true, v
		}
	}

	ranges, err := s.store.BookedRanges(ctx, toolID, s.now())
	if err != nil {
		util.SpanError(span, err)
		return nil, fmt.Errorf("failed to load booked ranges: %w", err)
	}

	if cacheable {
		if err := s.cache.CacheBookedRanges(ctx, toolID, version, ranges, bookedRangesTTL); err != nil {
			s.logger.Warn("Booked ranges cache write failed", zap.String("tool_id", toolID), zap.Error(err))
		}
	}
	return ranges, nil
}

// validateRange rejects zero dates, end before start and a start before
// the beginning of the current UTC day.
func validateRange(start, end, now time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", models.ErrValidation)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: end date must not be before start date", models.ErrValidation)
	}
	today := now.UTC().Truncate(24 * time.Hour)
	if start.Before(today) {
		return fmt.Errorf("%w: start date is in the past", models.ErrValidation)
	}
	return nil
}

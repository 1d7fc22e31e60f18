package worker

import (
	"context"
	"fmt"
	"time"

	"tool-rental-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const reapTimeout = time.Minute

// AbandonedReaper cancels pending bookings that never got a payment intent
type AbandonedReaper interface {
	ReapAbandoned(ctx context.Context) (int, error)
}

// Scheduler runs the abandoned booking reaper on a cron schedule
type Scheduler struct {
	cron   *cron.Cron
	reaper AbandonedReaper
	logger *zap.Logger
}

// NewScheduler registers the reaper under schedule ("@every 5m" or a
// five-field cron expression).
func NewScheduler(reaper AbandonedReaper, schedule string) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		reaper: reaper,
		logger: util.GetLogger(),
	}

	if _, err := s.cron.AddFunc(schedule, s.reapOnce); err != nil {
		return nil, fmt.Errorf("invalid reaper schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting cron scheduler...")
	s.cron.Start()
}

// Stop waits for a running reap to finish
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping cron scheduler...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron scheduler stopped")
}

func (s *Scheduler) reapOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), reapTimeout)
	defer cancel()

	n, err := s.reaper.ReapAbandoned(ctx)
	if err != nil {
		s.logger.Error("Abandoned booking reap failed", zap.Error(err))
		return
	}
	s.logger.Debug("Abandoned booking reap finished", zap.Int("cancelled", n))
}

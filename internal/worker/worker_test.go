package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tool-rental-service/internal/broker"
	"tool-rental-service/internal/lockvendor"
	"tool-rental-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) Issue(ctx context.Context, req lockvendor.IssueRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockIssuer) Revoke(ctx context.Context, code string) error {
	return m.Called(ctx, code).Error(0)
}

// sliceSource replays messages and records the handler results
type sliceSource struct {
	msgs    []kafka.Message
	results []error
}

func (s *sliceSource) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range s.msgs {
		s.results = append(s.results, handler(ctx, msg))
	}
	return nil
}

func (s *sliceSource) Close() error { return nil }

func statusChanged(t *testing.T, to models.BookingStatus, code string) kafka.Message {
	t.Helper()
	event := models.BookingStatusChangedEvent{
		BaseEvent:  broker.NewBaseEvent(models.EventTypeBookingStatusChanged),
		BookingID:  "b1",
		ToolID:     "tool-x",
		From:       models.BookingStatusConfirmed,
		To:         to,
		AccessCode: code,
	}
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Key: []byte("booking-b1"), Value: value}
}

func TestRevocationWorker_RevokesOnCancelAndComplete(t *testing.T) {
	issuer := &mockIssuer{}
	issuer.On("Revoke", mock.Anything, "111111").Return(nil).Once()
	issuer.On("Revoke", mock.Anything, "222222").Return(nil).Once()

	source := &sliceSource{msgs: []kafka.Message{
		statusChanged(t, models.BookingStatusCancelled, "111111"),
		statusChanged(t, models.BookingStatusCompleted, "222222"),
		statusChanged(t, models.BookingStatusPendingCode, ""),
		statusChanged(t, models.BookingStatusCancelled, ""),
	}}

	w := NewRevocationWorker(source, issuer)
	require.NoError(t, w.Start(context.Background()))

	for _, err := range source.results {
		assert.NoError(t, err)
	}
	issuer.AssertExpectations(t)
}

func TestRevocationWorker_VendorErrorIsReturned(t *testing.T) {
	issuer := &mockIssuer{}
	issuer.On("Revoke", mock.Anything, "111111").Return(models.ErrGateway).Once()

	source := &sliceSource{msgs: []kafka.Message{statusChanged(t, models.BookingStatusCancelled, "111111")}}

	w := NewRevocationWorker(source, issuer)
	require.NoError(t, w.Start(context.Background()))

	require.Len(t, source.results, 1)
	assert.ErrorIs(t, source.results[0], models.ErrGateway)
}

type countingReaper struct {
	calls int
	err   error
}

func (r *countingReaper) ReapAbandoned(ctx context.Context) (int, error) {
	r.calls++
	return 2, r.err
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler(&countingReaper{}, "every now and then")
	assert.Error(t, err)
}

func TestScheduler_ReapOnce(t *testing.T) {
	reaper := &countingReaper{}
	s, err := NewScheduler(reaper, "@every 5m")
	require.NoError(t, err)
	require.Len(t, s.cron.Entries(), 1)

	s.reapOnce()
	reaper.err = errors.New("db down")
	s.reapOnce()
	assert.Equal(t, 2, reaper.calls)

	s.Start()
	s.Stop()
}

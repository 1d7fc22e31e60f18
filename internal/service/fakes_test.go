package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"tool-rental-service/internal/auth"
	"tool-rental-service/internal/lockvendor"
	"tool-rental-service/internal/models"
	"tool-rental-service/internal/notify"
	"tool-rental-service/internal/payment"
	"tool-rental-service/internal/redisclient"
	"tool-rental-service/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 12, 15, 9, 0, 0, 0, time.UTC)

func day(month time.Month, d int) time.Time {
	return time.Date(2027, month, d, 0, 0, 0, 0, time.UTC)
}

// fakeStore is an in-memory booking repository. Its mutex plays the part of
// the per-tool advisory lock and the exclusion constraint.
type fakeStore struct {
	mu        sync.Mutex
	tools     map[string]*models.Tool
	bookings  map[string]*models.Booking
	events    map[string]string
	emailSent map[string]int
}

func newFakeStore() *fakeStore {
	lockID := "lock-1"
	return &fakeStore{
		tools: map[string]*models.Tool{
			"tool-x": {
				ID:            "tool-x",
				Name:          "Tool X",
				Slug:          "tool-x",
				CategoryID:    "cat-1",
				DailyRate:     decimal.NewFromInt(25),
				DepositAmount: decimal.NewFromInt(50),
				LockID:        &lockID,
				IsActive:      true,
			},
		},
		bookings:  map[string]*models.Booking{},
		events:    map[string]string{},
		emailSent: map[string]int{},
	}
}

func contains(statuses []models.BookingStatus, s models.BookingStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

func (f *fakeStore) liveOverlapLocked(toolID, excludeID string, r models.DateRange) bool {
	for _, b := range f.bookings {
		if b.ID == excludeID || b.ToolID != toolID || !b.Status.IsLive() {
			continue
		}
		if b.Range().Overlaps(r) {
			return true
		}
	}
	return false
}

func (f *fakeStore) seed(b *models.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = fixedNow
	}
	cp := *b
	f.bookings[b.ID] = &cp
}

func (f *fakeStore) booking(id string) models.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.bookings[id]
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bookings)
}

func (f *fakeStore) GetToolBySlug(ctx context.Context, slug string) (*models.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tools {
		if t.Slug == slug && t.IsActive {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("tool %q: %w", slug, models.ErrNotFound)
}

func (f *fakeStore) GetToolByID(ctx context.Context, id string) (*models.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tools[id]
	if !ok {
		return nil, fmt.Errorf("tool %s: %w", id, models.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.HasAccessCode() != (b.Status == models.BookingStatusConfirmed) {
		return models.ErrIntegrityViolation
	}
	if f.liveOverlapLocked(b.ToolID, "", b.Range()) {
		return models.ErrNotAvailable
	}
	b.CreatedAt = fixedNow
	b.UpdatedAt = fixedNow
	cp := *b
	f.bookings[b.ID] = &cp
	return nil
}

func (f *fakeStore) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStore) GetBookingByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found []*models.Booking
	for _, b := range f.bookings {
		if b.PaymentIntentID != nil && *b.PaymentIntentID == intentID {
			found = append(found, b)
		}
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		cp := *found[0]
		return &cp, nil
	default:
		return nil, models.ErrIntegrityViolation
	}
}

func (f *fakeStore) UpdateBookingStatus(ctx context.Context, id string, status models.BookingStatus, from []models.BookingStatus) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !contains(from, b.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, b.Status, status)
	}
	if status.IsLive() && f.liveOverlapLocked(b.ToolID, b.ID, b.Range()) {
		return nil, models.ErrIntegrityViolation
	}
	b.Status = status
	cp := *b
	return &cp, nil
}

func (f *fakeStore) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok || b.PaymentIntentID != nil {
		return models.ErrIntegrityViolation
	}
	for _, other := range f.bookings {
		if other.PaymentIntentID != nil && *other.PaymentIntentID == intentID {
			return models.ErrIntegrityViolation
		}
	}
	b.PaymentIntentID = &intentID
	return nil
}

func (f *fakeStore) SetAccessCode(ctx context.Context, id, code string, from []models.BookingStatus) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !contains(from, b.Status) || (b.HasAccessCode() && b.Status != models.BookingStatusPendingCode) {
		return nil, models.ErrIllegalTransition
	}
	if f.liveOverlapLocked(b.ToolID, b.ID, b.Range()) {
		return nil, models.ErrIntegrityViolation
	}
	b.AccessCode = &code
	b.Status = models.BookingStatusConfirmed
	cp := *b
	return &cp, nil
}

func (f *fakeStore) MarkEmailSent(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailSent[id]++
	return nil
}

func (f *fakeStore) ListBookings(ctx context.Context, status *models.BookingStatus) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Booking{}
	for _, b := range f.bookings {
		if status == nil || b.Status == *status {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeStore) ListBookingsByUser(ctx context.Context, userID string) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Booking{}
	for _, b := range f.bookings {
		if b.UserID != nil && *b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeStore) BookingStats(ctx context.Context) (*models.BookingStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.BookingStats{ByStatus: map[models.BookingStatus]int64{}, Revenue: decimal.Zero}
	for _, b := range f.bookings {
		stats.TotalBookings++
		stats.ByStatus[b.Status]++
	}
	return stats, nil
}

func (f *fakeStore) CancelAbandonedPending(ctx context.Context, cutoff time.Time) ([]models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Booking{}
	for _, b := range f.bookings {
		if b.Status == models.BookingStatusPending && b.PaymentIntentID == nil && b.CreatedAt.Before(cutoff) {
			b.Status = models.BookingStatusCancelled
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.events[eventID]
	return ok, nil
}

func (f *fakeStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[eventID] = eventType
	return nil
}

func (f *fakeStore) IsAvailable(ctx context.Context, toolID string, start, end time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.liveOverlapLocked(toolID, "", models.DateRange{Start: start, End: end}), nil
}

func (f *fakeStore) BookedRanges(ctx context.Context, toolID string, now time.Time) ([]models.DateRange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.DateRange{}
	for _, b := range f.bookings {
		if b.ToolID == toolID && b.Status.IsLive() && !b.RentalEndDate.Before(now) {
			out = append(out, b.Range())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (f *fakeStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	return []models.Category{{ID: "cat-1", Name: "Power Tools", Slug: "power-tools"}}, nil
}

func (f *fakeStore) ListTools(ctx context.Context, filter store.ToolFilter) ([]models.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Tool{}
	for _, t := range f.tools {
		if t.IsActive && (!filter.FeaturedOnly || t.IsFeatured) {
			out = append(out, *t)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) CreateTool(ctx context.Context, tool *models.Tool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tools {
		if t.Slug == tool.Slug {
			return fmt.Errorf("tools_slug_key: %w", models.ErrConflict)
		}
	}
	cp := *tool
	f.tools[tool.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateTool(ctx context.Context, tool *models.Tool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tools[tool.ID]; !ok {
		return models.ErrNotFound
	}
	cp := *tool
	f.tools[tool.ID] = &cp
	return nil
}

func (f *fakeStore) SetToolFeatured(ctx context.Context, id string, featured bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tools[id]
	if !ok {
		return models.ErrNotFound
	}
	t.IsFeatured = featured
	return nil
}

func (f *fakeStore) DeactivateTool(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tools[id]
	if !ok {
		return models.ErrNotFound
	}
	for _, b := range f.bookings {
		if b.ToolID == id && contains(models.ActiveStatuses, b.Status) {
			return models.ErrConflict
		}
	}
	t.IsActive = false
	return nil
}

// fakeGateway is a payment strategy whose webhooks are JSON-encoded events
// signed with testSignature.
type fakeGateway struct {
	settled   bool
	intentErr error

	mu      sync.Mutex
	intents []payment.IntentRequest
}

const testSignature = "t=1,v1=valid"

func (g *fakeGateway) Settled() bool { return g.settled }

func (g *fakeGateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents = append(g.intents, req)
	return &payment.Intent{ID: "pi_" + req.BookingID, ClientSecret: "secret_" + req.BookingID}, nil
}

func (g *fakeGateway) ParseEvent(payload []byte, signatureHeader string) (*payment.Event, error) {
	if signatureHeader != testSignature {
		return nil, fmt.Errorf("%w: bad signature", payment.ErrInvalidSignature)
	}
	var event payment.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
	}
	return &event, nil
}

func webhookPayload(t *testing.T, eventID string, typ payment.EventType, intentID string) []byte {
	t.Helper()
	payload, err := json.Marshal(payment.Event{ID: eventID, Type: typ, IntentID: intentID})
	require.NoError(t, err)
	return payload
}

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

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendBookingConfirmation(ctx context.Context, c notify.Confirmation) error {
	return m.Called(ctx, c).Error(0)
}

type recordingPublisher struct {
	mu        sync.Mutex
	created   []*models.BookingCreatedEvent
	confirmed []*models.BookingConfirmedEvent
	changed   []*models.BookingStatusChangedEvent
}

func (p *recordingPublisher) PublishBookingCreated(ctx context.Context, e *models.BookingCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishBookingConfirmed(ctx context.Context, e *models.BookingConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, e)
	return nil
}

func (p *recordingPublisher) PublishBookingStatusChanged(ctx context.Context, e *models.BookingStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return nil
}

type harness struct {
	svc       *BookingService
	store     *fakeStore
	gateway   *fakeGateway
	issuer    *mockIssuer
	notifier  *mockNotifier
	publisher *recordingPublisher
	redis     *redisclient.Client
}

func newHarness(t *testing.T, settled bool) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	h := &harness{
		store:     newFakeStore(),
		gateway:   &fakeGateway{settled: settled},
		issuer:    &mockIssuer{},
		notifier:  &mockNotifier{},
		publisher: &recordingPublisher{},
		redis:     rc,
	}
	h.svc = NewBookingService(BookingDeps{
		Store:       h.store,
		Payments:    h.gateway,
		Issuer:      h.issuer,
		Notifier:    h.notifier,
		Publisher:   h.publisher,
		Locker:      NewRedisLocker(rc, 5*time.Second),
		Idempotency: rc,
		Ranges:      rc,
	})
	h.svc.now = func() time.Time { return fixedNow }

	t.Cleanup(func() {
		h.issuer.AssertExpectations(t)
		h.notifier.AssertExpectations(t)
	})
	return h
}

func (h *harness) request(start, end time.Time) *CreateBookingRequest {
	return &CreateBookingRequest{
		ToolSlug:  "tool-x",
		Customer:  models.Customer{Name: "Jane Doe", Email: "jane@example.com", Phone: "555-0100"},
		StartDate: start,
		EndDate:   end,
	}
}

// pendingWithIntent creates a booking through the service and returns its
// id and payment intent id.
func (h *harness) pendingWithIntent(t *testing.T, start, end time.Time) (string, string) {
	t.Helper()
	resp, err := h.svc.CreateBookingAndPaymentIntent(context.Background(), h.request(start, end))
	require.NoError(t, err)
	return resp.BookingID, "pi_" + resp.BookingID
}

func adminCtx() context.Context {
	return auth.WithUser(context.Background(), &models.User{ID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin})
}

func customerCtx() context.Context {
	return auth.WithUser(context.Background(), &models.User{ID: "user-1", Email: "jane@example.com", Role: models.RoleCustomer})
}

func strPtr(s string) *string { return &s }

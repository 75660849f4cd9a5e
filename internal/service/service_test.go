package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chefbook/internal/database"
	"chefbook/internal/domain"
	"chefbook/internal/events"
	"chefbook/internal/models"
	"chefbook/internal/payment"
	"chefbook/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	requests []domain.NotificationRequest
}

func (n *recordingNotifier) Dispatch(_ context.Context, req domain.NotificationRequest) (*models.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
	return &models.Notification{RecipientID: req.RecipientID, Type: req.Type}, nil
}

func (n *recordingNotifier) ofType(notifType string) []domain.NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.NotificationRequest
	for _, r := range n.requests {
		if r.Type == notifType {
			out = append(out, r)
		}
	}
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events map[string][]events.BookingEventPayload
}

func newEventRecorder() (*events.EventBus, *eventRecorder) {
	bus := events.NewEventBus()
	rec := &eventRecorder{events: map[string][]events.BookingEventPayload{}}
	for _, eventType := range events.AllEventTypes {
		bus.Subscribe(eventType, func(ev *events.Event) error {
			var payload events.BookingEventPayload
			if err := json.Unmarshal(ev.Payload, &payload); err != nil {
				return err
			}
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.events[ev.Type] = append(rec.events[ev.Type], payload)
			return nil
		})
	}
	return bus, rec
}

func (r *eventRecorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[eventType])
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.IntentResult), args.Error(1)
}

func (m *mockProcessor) RetrieveIntent(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	args := m.Called(ctx, intentID)
	return args.Get(0).(domain.IntentStatus), args.Error(1)
}

func (m *mockProcessor) CreateRefund(ctx context.Context, intentID string, amount int64, reason string) (string, error) {
	args := m.Called(ctx, intentID, amount, reason)
	return args.String(0), args.Error(1)
}

func (m *mockProcessor) Sandbox() bool {
	return false
}

var (
	client   = models.Actor{ID: "client-1", Role: models.RoleClient}
	provider = models.Actor{ID: "chef-1", Role: models.RoleProvider}
	admin    = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	outsider = models.Actor{ID: "stranger", Role: models.RoleClient}
)

func testOptions() Options {
	return Options{
		Currency:         models.DefaultCurrency,
		ServiceFeeBps:    models.DefaultServiceFeeBps,
		DepositBps:       models.DefaultDepositBps,
		MaxBookingDays:   365,
		ProcessorTimeout: time.Second,
		Retry:            worker.RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
}

func setupDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixture struct {
	db       *database.DB
	notifier *recordingNotifier
	events   *eventRecorder
	bookings *BookingService
	payments *PaymentService
	disputes *DisputeService
}

func newFixture(t *testing.T, processor domain.PaymentProcessor, leases domain.LeaseStore) *fixture {
	t.Helper()
	return newFixtureWithStore(t, setupDB(t), processor, leases)
}

func newFixtureWithStore(t *testing.T, db *database.DB, processor domain.PaymentProcessor, leases domain.LeaseStore) *fixture {
	t.Helper()
	if processor == nil {
		processor = payment.NewSandboxProcessor()
	}
	notifier := &recordingNotifier{}
	bus, rec := newEventRecorder()
	payments := NewPaymentService(db, processor, leases, notifier, bus, testOptions(), nil)
	return &fixture{
		db:       db,
		notifier: notifier,
		events:   rec,
		bookings: NewBookingService(db, notifier, bus, testOptions(), nil),
		payments: payments,
		disputes: NewDisputeService(db, payments, notifier, bus, nil),
	}
}

func validInput() CreateBookingInput {
	return CreateBookingInput{
		ProviderID:    provider.ID,
		ServiceType:   models.ServicePrivateDinner,
		EventDate:     time.Now().UTC().AddDate(0, 0, 14).Format(models.DateLayout),
		StartTime:     "19:00",
		DurationHours: 3,
		GuestCount:    8,
		Category:      "anniversary",
		BasePrice:     20000,
		PaymentMethod: "card",
	}
}

func (f *fixture) createBooking(t *testing.T) *models.Booking {
	t.Helper()
	b, err := f.bookings.CreateBooking(context.Background(), validInput(), client)
	require.NoError(t, err)
	return b
}

// paidBooking returns a confirmed booking with the sandbox deposit paid.
func (f *fixture) paidBooking(t *testing.T) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b := f.createBooking(t)
	intent, err := f.payments.CreateDepositIntent(ctx, b.ID, 0, client)
	require.NoError(t, err)
	b, err = f.payments.ConfirmDeposit(ctx, intent.ID, b.ID)
	require.NoError(t, err)
	return b
}

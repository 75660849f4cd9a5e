package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chefbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe("test_event", func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON("test_event", map[string]string{"foo": "bar"})
	require.NoError(t, err)
	assert.Equal(t, 1, callCount)
	assert.Equal(t, "test_event", received.Type)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, "bar", decoded["foo"])
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	var calls int

	bus.Subscribe("event", func(_ *Event) error { calls++; return errors.New("first") })
	bus.Subscribe("event", func(_ *Event) error { calls++; return errors.New("second") })

	err := bus.Publish(&Event{Type: "event"})
	assert.EqualError(t, err, "first")
	assert.Equal(t, 2, calls)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NoError(t, bus.Publish(&Event{Type: "unknown"}))
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("unknown", nil))
}

func TestNewJSONEvent(t *testing.T) {
	event, err := NewJSONEvent("type", BookingEventPayload{BookingID: "b-123"})
	require.NoError(t, err)
	assert.Equal(t, "type", event.Type)
	assert.False(t, event.CreatedAt.IsZero())

	var decoded BookingEventPayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, "b-123", decoded.BookingID)
}

type mockOutboxRepo struct {
	mock.Mock
}

func (m *mockOutboxRepo) CreateOutboxEvent(ctx context.Context, ev *models.OutboxEvent) error {
	args := m.Called(ctx, ev)
	if args.Error(0) == nil {
		ev.ID = 7
	}
	return args.Error(0)
}

func (m *mockOutboxRepo) GetPendingOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.OutboxEvent), args.Error(1)
}

func (m *mockOutboxRepo) UpdateOutboxEventStatus(ctx context.Context, id int64, status, errMsg string, next *time.Time) error {
	args := m.Called(ctx, id, status, errMsg, next)
	return args.Error(0)
}

func TestOutboxWriter(t *testing.T) {
	repo := new(mockOutboxRepo)
	bus := NewEventBus()
	NewOutboxWriter(repo).Attach(bus)

	repo.On("CreateOutboxEvent", mock.Anything, mock.MatchedBy(func(ev *models.OutboxEvent) bool {
		return ev.EventType == EventPaymentReceived && ev.BookingID == "b1"
	})).Return(nil).Once()

	err := bus.PublishJSON(EventPaymentReceived, BookingEventPayload{BookingID: "b1", Status: "confirmed"})
	require.NoError(t, err)
	repo.AssertExpectations(t)

	repo.On("CreateOutboxEvent", mock.Anything, mock.Anything).Return(errors.New("db closed")).Once()
	err = bus.PublishJSON(EventRefundIssued, BookingEventPayload{BookingID: "b2"})
	assert.ErrorContains(t, err, "db closed")
}

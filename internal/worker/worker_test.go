package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chefbook/internal/database"
	"chefbook/internal/domain"
	"chefbook/internal/models"
	"chefbook/internal/repository"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu       sync.Mutex
	err      error
	messages []amqp.Publishing
	keys     []string
}

func (b *fakeBroker) Publish(_ context.Context, key string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.keys = append(b.keys, key)
	b.messages = append(b.messages, msg)
	return nil
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func enqueue(t *testing.T, db *database.DB, eventType string) *models.OutboxEvent {
	t.Helper()
	ev := &models.OutboxEvent{EventType: eventType, BookingID: "b1", Payload: `{"booking_id":"b1"}`}
	require.NoError(t, db.CreateOutboxEvent(context.Background(), ev))
	return ev
}

func loadEvent(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry *time.Time) {
	t.Helper()
	err := db.QueryRowContext(context.Background(),
		`SELECT status, retry_count, next_retry_at FROM outbox_events WHERE id = ?`, id).
		Scan(&status, &retryCount, &nextRetry)
	require.NoError(t, err)
	return status, retryCount, nextRetry
}

func TestProcessEventSuccess(t *testing.T) {
	db := newTestDB(t)
	broker := &fakeBroker{}
	relay := NewEventRelay(db, broker, nil, RelayConfig{}, nil)
	ev := enqueue(t, db, "payment.received")

	n, err := relay.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, retryCount, nextRetry := loadEvent(t, db, ev.ID)
	assert.Equal(t, models.OutboxCompleted, status)
	assert.Equal(t, 0, retryCount)
	assert.Nil(t, nextRetry)

	require.Len(t, broker.messages, 1)
	assert.Equal(t, "payment.received", broker.keys[0])
	assert.Equal(t, "application/json", broker.messages[0].ContentType)
	assert.JSONEq(t, `{"booking_id":"b1"}`, string(broker.messages[0].Body))
}

func TestProcessEventRetry(t *testing.T) {
	db := newTestDB(t)
	broker := &fakeBroker{err: errors.New("channel closed")}
	relay := NewEventRelay(db, broker, nil, RelayConfig{Retry: RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}}, nil)
	ev := enqueue(t, db, "booking.created")

	_, err := relay.ProcessPending(context.Background())
	require.NoError(t, err)

	status, retryCount, nextRetry := loadEvent(t, db, ev.ID)
	assert.Equal(t, models.OutboxRetry, status)
	assert.Equal(t, 1, retryCount)
	require.NotNil(t, nextRetry)
	assert.True(t, nextRetry.After(time.Now()))

	// Not due yet.
	n, err := relay.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestProcessEventFailToDeadLetter(t *testing.T) {
	db := newTestDB(t)
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	dlq := repository.NewRedisDeadLetterQueue(client, "events:dead_letter")

	broker := &fakeBroker{err: errors.New("fatal")}
	relay := NewEventRelay(db, broker, dlq, RelayConfig{Retry: RetryPolicy{MaxRetries: 1}}, nil)
	ev := enqueue(t, db, "payment.refunded")

	_, err := relay.ProcessPending(context.Background())
	require.NoError(t, err)

	status, _, _ := loadEvent(t, db, ev.ID)
	assert.Equal(t, models.OutboxFailed, status)

	n, err := dlq.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEventRelayStart(t *testing.T) {
	db := newTestDB(t)
	broker := &fakeBroker{}
	relay := NewEventRelay(db, broker, nil, RelayConfig{PollInterval: 10 * time.Millisecond}, nil)
	enqueue(t, db, "booking.created")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		count, err := db.CountOutboxEvents(context.Background(), models.OutboxCompleted)
		return err == nil && count == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 5*time.Second, policy.NextDelay(5))
	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(0))
}

func TestRetryPolicyDo(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond}
	isConflict := func(err error) bool { return errors.Is(err, domain.ErrConcurrentModification) }

	t.Run("SucceedsAfterConflicts", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), isConflict, func() error {
			calls++
			if calls < 3 {
				return domain.ConcurrentModificationf("conflict %d", calls)
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("GivesUp", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), isConflict, func() error {
			calls++
			return domain.ConcurrentModificationf("conflict")
		})
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)
		assert.Equal(t, 3, calls)
	})

	t.Run("NonRetryable", func(t *testing.T) {
		calls := 0
		err := policy.Do(context.Background(), isConflict, func() error {
			calls++
			return domain.Validationf("bad input")
		})
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, 1, calls)
	})
}

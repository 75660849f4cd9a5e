package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Broker accepts messages for a routing key.
type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// DeadLetterQueue keeps events that exhausted their retries.
type DeadLetterQueue interface {
	Push(ctx context.Context, payload []byte) error
}

type RelayConfig struct {
	Retry        RetryPolicy
	BatchSize    int
	PollInterval time.Duration
}

// EventRelay drains the outbox table into the broker.
type EventRelay struct {
	repo         domain.OutboxRepository
	broker       Broker
	deadLetters  DeadLetterQueue
	retryPolicy  RetryPolicy
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
}

// NewEventRelay builds a relay with sane defaults.
func NewEventRelay(repo domain.OutboxRepository, broker Broker, dlq DeadLetterQueue, cfg RelayConfig, logger *zerolog.Logger) *EventRelay {
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &EventRelay{
		repo:         repo,
		broker:       broker,
		deadLetters:  dlq,
		retryPolicy:  retry,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		logger:       logger,
	}
}

// Start launches main loop; stops when ctx is done.
func (w *EventRelay) Start(ctx context.Context) {
	w.logger.Info().Msg("event relay started")
	defer w.logger.Info().Msg("event relay stopped")

	for {
		n, err := w.ProcessPending(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending outbox events")
		}
		if n == w.batchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessPending relays one batch and returns how many events it handled.
func (w *EventRelay) ProcessPending(ctx context.Context) (int, error) {
	events, err := w.repo.GetPendingOutboxEvents(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range events {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		w.processEvent(ctx, &events[i])
	}
	return len(events), nil
}

func (w *EventRelay) processEvent(ctx context.Context, ev *models.OutboxEvent) {
	msg := amqp.Publishing{
		MessageId:    fmt.Sprintf("outbox-%d", ev.ID),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.CreatedAt,
		Type:         ev.EventType,
		Body:         []byte(ev.Payload),
	}

	if err := w.broker.Publish(ctx, ev.EventType, msg); err != nil {
		w.retryOrFail(ctx, ev, err)
		return
	}

	if err := w.repo.UpdateOutboxEventStatus(ctx, ev.ID, models.OutboxCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("mark outbox event completed")
	}
}

func (w *EventRelay) retryOrFail(ctx context.Context, ev *models.OutboxEvent, cause error) {
	attempt := ev.RetryCount + 1
	log := w.logger.With().Int64("event_id", ev.ID).Str("event_type", ev.EventType).Int("attempt", attempt).Logger()

	if attempt >= w.retryPolicy.MaxRetries {
		log.Error().Err(cause).Msg("outbox event failed permanently")
		if err := w.repo.UpdateOutboxEventStatus(ctx, ev.ID, models.OutboxFailed, cause.Error(), nil); err != nil {
			log.Error().Err(err).Msg("mark outbox event failed")
		}
		w.pushDeadLetter(ctx, ev)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	log.Warn().Err(cause).Time("next_retry_at", nextTime).Msg("outbox publish failed, will retry")
	if err := w.repo.UpdateOutboxEventStatus(ctx, ev.ID, models.OutboxRetry, cause.Error(), &nextTime); err != nil {
		log.Error().Err(err).Msg("mark outbox event retry")
	}
}

func (w *EventRelay) pushDeadLetter(ctx context.Context, ev *models.OutboxEvent) {
	if w.deadLetters == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		w.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("encode dead letter")
		return
	}
	if err := w.deadLetters.Push(ctx, data); err != nil {
		w.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("push dead letter")
	}
}

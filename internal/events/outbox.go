package events

import (
	"context"
	"encoding/json"
	"fmt"

	"chefbook/internal/domain"
	"chefbook/internal/models"
)

// OutboxWriter persists bus events so the relay can forward them to the broker.
type OutboxWriter struct {
	repo domain.OutboxRepository
}

func NewOutboxWriter(repo domain.OutboxRepository) *OutboxWriter {
	return &OutboxWriter{repo: repo}
}

// Attach subscribes the writer to every booking event type.
func (w *OutboxWriter) Attach(bus *EventBus) {
	for _, t := range AllEventTypes {
		bus.Subscribe(t, w.Handle)
	}
}

func (w *OutboxWriter) Handle(event *Event) error {
	var head struct {
		BookingID string `json:"booking_id"`
	}
	_ = json.Unmarshal(event.Payload, &head)

	ev := &models.OutboxEvent{
		EventType: event.Type,
		BookingID: head.BookingID,
		Payload:   string(event.Payload),
	}
	if err := w.repo.CreateOutboxEvent(context.Background(), ev); err != nil {
		return fmt.Errorf("outbox %s: %w", event.Type, err)
	}
	event.ID = ev.ID
	return nil
}

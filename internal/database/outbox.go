package database

import (
	"context"
	"fmt"
	"time"

	"chefbook/internal/models"
)

func (db *DB) CreateOutboxEvent(ctx context.Context, ev *models.OutboxEvent) error {
	if ev.Status == "" {
		ev.Status = models.OutboxPending
	}
	query := `INSERT INTO outbox_events (event_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		ev.EventType,
		nullString(ev.BookingID),
		ev.Payload,
		ev.Status,
		ev.RetryCount,
		ev.LastError,
		now,
		utcPtr(ev.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	ev.ID = id
	ev.CreatedAt = now
	return nil
}

func (db *DB) GetPendingOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	query := `SELECT id, event_type, COALESCE(booking_id, ''), payload, status, retry_count, last_error, created_at, processed_at, next_retry_at
              FROM outbox_events
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.OutboxPending, models.OutboxRetry, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		var ev models.OutboxEvent
		err := rows.Scan(
			&ev.ID, &ev.EventType, &ev.BookingID, &ev.Payload, &ev.Status, &ev.RetryCount, &ev.LastError,
			&ev.CreatedAt, &ev.ProcessedAt, &ev.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (db *DB) UpdateOutboxEventStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var (
		query string
		args  []interface{}
	)
	now := time.Now().UTC()
	lastError := nullString(errMsg)

	switch status {
	case models.OutboxRetry:
		query = `UPDATE outbox_events SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, utcPtr(nextRetryAt), id}
	case models.OutboxCompleted, models.OutboxFailed:
		query = `UPDATE outbox_events SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, now, id}
	default:
		query = `UPDATE outbox_events SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, utcPtr(nextRetryAt), id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update outbox event status: %w", err)
	}
	return nil
}

func (db *DB) CountOutboxEvents(ctx context.Context, status string) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_events WHERE status = ?`, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

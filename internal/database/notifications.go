package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/models"

	"github.com/mattn/go-sqlite3"
)

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("failed to encode notification data: %w", err)
	}
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode notification channels: %w", err)
	}
	if n.SentChannels == nil {
		n.SentChannels = map[string]bool{}
	}
	sent, err := json.Marshal(n.SentChannels)
	if err != nil {
		return fmt.Errorf("failed to encode notification sent flags: %w", err)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO notifications (
				id, recipient_id, sender_id, type, title, message, data, booking_id,
				is_read, priority, channels, sent_channels, dedupe_key, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query,
		n.ID,
		n.RecipientID,
		nullString(n.SenderID),
		n.Type,
		n.Title,
		n.Message,
		string(data),
		nullString(n.BookingID),
		n.Priority,
		string(channels),
		string(sent),
		nullString(n.DedupeKey),
		n.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("notification %q: %w", n.DedupeKey, ErrDuplicateNotification)
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (db *DB) MarkChannelSent(ctx context.Context, id, channel string) error {
	query := `UPDATE notifications SET sent_channels = json_set(sent_channels, ?, json('true')) WHERE id = ?`
	result, err := db.ExecContext(ctx, query, "$."+channel, id)
	if err != nil {
		return fmt.Errorf("failed to mark channel sent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.NotFoundf("notification %s not found", id)
	}
	return nil
}

func (db *DB) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	query := `UPDATE notifications SET is_read = 1, read_at = ? WHERE id = ? AND recipient_id = ? AND is_read = 0`
	result, err := db.ExecContext(ctx, query, at.UTC(), id, recipientID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM notifications WHERE id = ? AND recipient_id = ?`, id, recipientID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NotFoundf("notification %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to check notification: %w", err)
	}
	return nil
}

func (db *DB) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	query := `SELECT id, recipient_id, sender_id, type, title, message, data, booking_id, is_read, read_at,
	                 priority, channels, sent_channels, dedupe_key, created_at
              FROM notifications WHERE id = ?`
	n, err := scanNotification(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("notification %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

func (db *DB) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, recipient_id, sender_id, type, title, message, data, booking_id, is_read, read_at,
	                 priority, channels, sent_channels, dedupe_key, created_at
              FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (db *DB) HasRecentNotification(ctx context.Context, notifType, bookingID, recipientID string, since time.Time) (bool, error) {
	query := `SELECT EXISTS(
				SELECT 1 FROM notifications
				WHERE type = ? AND booking_id = ? AND recipient_id = ? AND created_at >= ?)`
	var exists bool
	err := db.QueryRowContext(ctx, query, notifType, bookingID, recipientID, since.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check recent notifications: %w", err)
	}
	return exists, nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n                            models.Notification
		sender, bookingID, dedupeKey sql.NullString
		data, channels, sent         string
	)
	err := row.Scan(&n.ID, &n.RecipientID, &sender, &n.Type, &n.Title, &n.Message, &data, &bookingID,
		&n.Read, &n.ReadAt, &n.Priority, &channels, &sent, &dedupeKey, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.SenderID = sender.String
	n.BookingID = bookingID.String
	n.DedupeKey = dedupeKey.String

	if data != "" && data != "null" {
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("failed to decode notification data: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(channels), &n.Channels); err != nil {
		return nil, fmt.Errorf("failed to decode notification channels: %w", err)
	}
	if err := json.Unmarshal([]byte(sent), &n.SentChannels); err != nil {
		return nil, fmt.Errorf("failed to decode notification sent flags: %w", err)
	}
	return &n, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (db *DB) UpsertContact(ctx context.Context, c *models.Contact) error {
	c.UpdatedAt = time.Now().UTC()
	query := `INSERT INTO contacts (user_id, email, telegram_chat_id, updated_at) VALUES (?, ?, ?, ?)
              ON CONFLICT(user_id) DO UPDATE SET
                email = excluded.email,
                telegram_chat_id = excluded.telegram_chat_id,
                updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, query, c.UserID, c.Email, c.TelegramChatID, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

func (db *DB) GetContact(ctx context.Context, userID string) (*models.Contact, error) {
	var (
		c     models.Contact
		email sql.NullString
		chat  sql.NullInt64
	)
	query := `SELECT user_id, email, telegram_chat_id, updated_at FROM contacts WHERE user_id = ?`
	err := db.QueryRowContext(ctx, query, userID).Scan(&c.UserID, &email, &chat, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("contact %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	c.Email = email.String
	c.TelegramChatID = chat.Int64
	return &c, nil
}

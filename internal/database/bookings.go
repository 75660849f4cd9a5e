package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/models"
)

const bookingColumns = `id, client_id, provider_id, service_type, event_date, start_time, duration_hours,
	guest_count, event_category, base_price, service_fee, taxes, discount, total_amount,
	payment_method, payment_status, currency, deposit_amount, deposit_paid_at, full_payment_at,
	payment_intent_id, refund_amount, refunded_at, status, client_review, provider_review,
	cancellation, invoice, version, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = booking.CreatedAt
	booking.Version = 1

	query := `INSERT INTO bookings (
				id, client_id, provider_id, service_type, event_date, start_time, duration_hours,
				guest_count, event_category, base_price, service_fee, taxes, discount, total_amount,
				payment_method, payment_status, currency, deposit_amount, status, status_changed_at,
				version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		booking.ID,
		booking.ClientID,
		booking.ProviderID,
		booking.ServiceType,
		booking.Event.Date.Format(models.DateLayout),
		booking.Event.StartTime,
		booking.Event.DurationHours,
		booking.Event.GuestCount,
		booking.Event.Category,
		booking.Pricing.BasePrice,
		booking.Pricing.ServiceFee,
		booking.Pricing.Taxes,
		booking.Pricing.Discount,
		booking.Pricing.TotalAmount,
		booking.Payment.Method,
		booking.Payment.Status,
		booking.Payment.Currency,
		booking.Payment.DepositAmount,
		booking.Status,
		booking.CreatedAt.UTC(),
		booking.Version,
		booking.CreatedAt.UTC(),
		booking.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}

	if err := appendTimeline(ctx, tx, booking.ID, booking.Timeline.Pending()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}
	booking.Timeline.MarkCommitted()
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("booking %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	entries, err := db.getTimeline(ctx, id)
	if err != nil {
		return nil, err
	}
	booking.Timeline = models.RestoreTimeline(entries)
	return booking, nil
}

// UpdateBooking persists the mutable part of the booking if nobody else wrote
// it since it was read, then bumps booking.Version.
func (db *DB) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	if err := updateBookingTx(ctx, tx, booking, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking update: %w", err)
	}
	booking.Version++
	booking.UpdatedAt = now
	booking.Timeline.MarkCommitted()
	return nil
}

func updateBookingTx(ctx context.Context, tx *sql.Tx, booking *models.Booking, now time.Time) error {
	clientReview, err := marshalNullable(booking.ClientReview)
	if err != nil {
		return err
	}
	providerReview, err := marshalNullable(booking.ProviderReview)
	if err != nil {
		return err
	}
	cancellation, err := marshalNullable(booking.Cancellation)
	if err != nil {
		return err
	}
	invoice, err := marshalNullable(booking.Invoice)
	if err != nil {
		return err
	}

	pending := booking.Timeline.Pending()
	var statusChangedAt *time.Time
	if len(pending) > 0 {
		at := pending[len(pending)-1].At.UTC()
		statusChangedAt = &at
	}

	query := `UPDATE bookings SET
				payment_method = ?, payment_status = ?, deposit_paid_at = ?, full_payment_at = ?,
				payment_intent_id = ?, refund_amount = ?, refunded_at = ?, status = ?,
				status_changed_at = COALESCE(?, status_changed_at),
				client_review = ?, provider_review = ?, cancellation = ?, invoice = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`
	result, err := tx.ExecContext(ctx, query,
		booking.Payment.Method,
		booking.Payment.Status,
		utcPtr(booking.Payment.DepositPaidAt),
		utcPtr(booking.Payment.FullPaymentAt),
		nullString(booking.Payment.IntentID),
		booking.Payment.RefundAmount,
		utcPtr(booking.Payment.RefundedAt),
		booking.Status,
		statusChangedAt,
		clientReview,
		providerReview,
		cancellation,
		invoice,
		now,
		booking.ID,
		booking.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, booking.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFoundf("booking %s not found", booking.ID)
		}
		return domain.ConcurrentModificationf("booking %s was modified concurrently (version %d)", booking.ID, booking.Version)
	}

	return appendTimeline(ctx, tx, booking.ID, pending)
}

func (db *DB) ListBookings(ctx context.Context, filter domain.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}
	if filter.PaymentStatus != "" {
		where = append(where, "payment_status = ?")
		args = append(args, filter.PaymentStatus)
	}
	if filter.EventDateFrom != "" {
		where = append(where, "event_date >= ?")
		args = append(args, filter.EventDateFrom)
	}
	if filter.EventDateTo != "" {
		where = append(where, "event_date <= ?")
		args = append(args, filter.EventDateTo)
	}
	if !filter.StatusChangedFrom.IsZero() {
		where = append(where, "status_changed_at >= ?")
		args = append(args, filter.StatusChangedFrom.UTC())
	}
	if !filter.StatusChangedBefore.IsZero() {
		where = append(where, "status_changed_at < ?")
		args = append(args, filter.StatusChangedBefore.UTC())
	}
	if filter.WithoutClientReview {
		where = append(where, "client_review IS NULL")
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY event_date ASC, created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	rows.Close()

	// The connection is free again; load timelines one by one.
	for _, b := range bookings {
		entries, err := db.getTimeline(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		b.Timeline = models.RestoreTimeline(entries)
	}
	return bookings, nil
}

func (db *DB) getTimeline(ctx context.Context, bookingID string) ([]models.TimelineEntry, error) {
	query := `SELECT status, note, actor_id, actor_role, created_at
              FROM booking_timeline WHERE booking_id = ? ORDER BY seq ASC`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	defer rows.Close()

	var entries []models.TimelineEntry
	for rows.Next() {
		var e models.TimelineEntry
		if err := rows.Scan(&e.Status, &e.Note, &e.ActorID, &e.ActorRole, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func appendTimeline(ctx context.Context, tx execer, bookingID string, entries []models.TimelineEntry) error {
	query := `INSERT INTO booking_timeline (booking_id, status, note, actor_id, actor_role, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, query, bookingID, e.Status, e.Note, e.ActorID, e.ActorRole, e.At.UTC()); err != nil {
			return fmt.Errorf("failed to append timeline entry: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                            models.Booking
		eventDate                    string
		category, method, intentID   sql.NullString
		clientReview, providerReview sql.NullString
		cancellation, invoice        sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.ClientID, &b.ProviderID, &b.ServiceType, &eventDate, &b.Event.StartTime, &b.Event.DurationHours,
		&b.Event.GuestCount, &category, &b.Pricing.BasePrice, &b.Pricing.ServiceFee, &b.Pricing.Taxes,
		&b.Pricing.Discount, &b.Pricing.TotalAmount,
		&method, &b.Payment.Status, &b.Payment.Currency, &b.Payment.DepositAmount, &b.Payment.DepositPaidAt,
		&b.Payment.FullPaymentAt, &intentID, &b.Payment.RefundAmount, &b.Payment.RefundedAt, &b.Status,
		&clientReview, &providerReview, &cancellation, &invoice, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Event.Date, err = time.Parse(models.DateLayout, eventDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event date %s: %w", eventDate, err)
	}
	b.Event.Category = category.String
	b.Payment.Method = method.String
	b.Payment.IntentID = intentID.String

	if err := unmarshalNullable(clientReview, &b.ClientReview); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(providerReview, &b.ProviderReview); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(cancellation, &b.Cancellation); err != nil {
		return nil, err
	}
	if err := unmarshalNullable(invoice, &b.Invoice); err != nil {
		return nil, err
	}
	return &b, nil
}

func marshalNullable[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode column: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func unmarshalNullable[T any](col sql.NullString, dst **T) error {
	if !col.Valid || col.String == "" {
		*dst = nil
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	*dst = &v
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

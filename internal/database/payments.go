package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/models"

	"github.com/mattn/go-sqlite3"
)

const intentColumns = `id, booking_id, amount, currency, status, client_secret, sandbox, created_at, updated_at`

func (db *DB) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = ?`
	intent, err := scanIntent(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("payment intent %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return intent, nil
}

// GetActiveIntent returns the pending intent of a booking, if any.
func (db *DB) GetActiveIntent(ctx context.Context, bookingID string) (*models.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE booking_id = ? AND status = ?`
	intent, err := scanIntent(db.QueryRowContext(ctx, query, bookingID, models.IntentPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("no active payment intent for booking %s", bookingID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active payment intent: %w", err)
	}
	return intent, nil
}

func (db *DB) CountIntents(ctx context.Context, bookingID string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM payment_intents WHERE booking_id = ?`, bookingID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count payment intents: %w", err)
	}
	return count, nil
}

// AttachPaymentIntent supersedes any live intent of the booking, stores the
// new one and points the booking at it, all under the booking version check.
func (db *DB) AttachPaymentIntent(ctx context.Context, booking *models.Booking, intent *models.PaymentIntent) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	if err := supersedePending(ctx, tx, booking.ID, "", now); err != nil {
		return err
	}

	intent.CreatedAt = now
	intent.UpdatedAt = now
	if err := insertIntent(ctx, tx, intent); err != nil {
		return err
	}

	booking.Payment.IntentID = intent.ID
	if err := updateBookingTx(ctx, tx, booking, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment intent: %w", err)
	}
	booking.Version++
	booking.UpdatedAt = now
	booking.Timeline.MarkCommitted()
	return nil
}

// SaveIntent records an intent outside of the booking write, e.g. one that
// lost a race and must stay resolvable for late webhooks.
func (db *DB) SaveIntent(ctx context.Context, intent *models.PaymentIntent) error {
	now := time.Now().UTC()
	intent.CreatedAt = now
	intent.UpdatedAt = now
	return insertIntent(ctx, db, intent)
}

func (db *DB) UpdateIntentStatus(ctx context.Context, id, status string) error {
	result, err := db.ExecContext(ctx, `UPDATE payment_intents SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment intent status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.NotFoundf("payment intent %s not found", id)
	}
	return nil
}

// ApplyPaymentResult stores the reconciled booking and the final intent status
// in one transaction. A succeeded intent supersedes every other live intent.
func (db *DB) ApplyPaymentResult(ctx context.Context, booking *models.Booking, intentID, intentStatus string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	if intentStatus == models.IntentSucceeded {
		if err := supersedePending(ctx, tx, booking.ID, intentID, now); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `UPDATE payment_intents SET status = ?, updated_at = ? WHERE id = ?`,
		intentStatus, now, intentID)
	if err != nil {
		return fmt.Errorf("failed to update payment intent status: %w", err)
	}

	if err := updateBookingTx(ctx, tx, booking, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment result: %w", err)
	}
	booking.Version++
	booking.UpdatedAt = now
	booking.Timeline.MarkCommitted()
	return nil
}

func supersedePending(ctx context.Context, tx execer, bookingID, keepID string, now time.Time) error {
	query := `UPDATE payment_intents SET status = ?, updated_at = ? WHERE booking_id = ? AND status = ? AND id != ?`
	if _, err := tx.ExecContext(ctx, query, models.IntentSuperseded, now, bookingID, models.IntentPending, keepID); err != nil {
		return fmt.Errorf("failed to supersede payment intents: %w", err)
	}
	return nil
}

func insertIntent(ctx context.Context, tx execer, intent *models.PaymentIntent) error {
	query := `INSERT INTO payment_intents (` + intentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query,
		intent.ID,
		intent.BookingID,
		intent.Amount,
		intent.Currency,
		intent.Status,
		intent.ClientSecret,
		intent.Sandbox,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if isConstraintViolation(err) {
		return domain.ConcurrentModificationf("payment intent %s already recorded for booking %s", intent.ID, intent.BookingID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment intent: %w", err)
	}
	return nil
}

// isConstraintViolation reports a duplicate intent id or a second pending
// intent, both of which mean another writer got there first.
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func scanIntent(row rowScanner) (*models.PaymentIntent, error) {
	var (
		intent models.PaymentIntent
		secret sql.NullString
	)
	err := row.Scan(&intent.ID, &intent.BookingID, &intent.Amount, &intent.Currency, &intent.Status,
		&secret, &intent.Sandbox, &intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	intent.ClientSecret = secret.String
	return &intent, nil
}

func (db *DB) CreateReconciliationIssue(ctx context.Context, issue *models.ReconciliationIssue) error {
	if issue.Status == "" {
		issue.Status = models.IssueOpen
	}
	issue.CreatedAt = time.Now().UTC()

	query := `INSERT INTO reconciliation_issues (booking_id, intent_id, kind, amount, detail, status, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		issue.BookingID,
		issue.IntentID,
		issue.Kind,
		issue.Amount,
		issue.Detail,
		issue.Status,
		issue.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation issue: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	issue.ID = id
	return nil
}

func (db *DB) ListReconciliationIssues(ctx context.Context, status string) ([]*models.ReconciliationIssue, error) {
	query := `SELECT id, booking_id, intent_id, kind, amount, detail, status, created_at
              FROM reconciliation_issues`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation issues: %w", err)
	}
	defer rows.Close()

	var issues []*models.ReconciliationIssue
	for rows.Next() {
		var (
			issue            models.ReconciliationIssue
			intentID, detail sql.NullString
		)
		if err := rows.Scan(&issue.ID, &issue.BookingID, &intentID, &issue.Kind, &issue.Amount, &detail,
			&issue.Status, &issue.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation issue: %w", err)
		}
		issue.IntentID = intentID.String
		issue.Detail = detail.String
		issues = append(issues, &issue)
	}
	return issues, rows.Err()
}

func (db *DB) AcknowledgeIssue(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `UPDATE reconciliation_issues SET status = ? WHERE id = ?`, models.IssueAcknowledged, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge issue: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.NotFoundf("reconciliation issue %d not found", id)
	}
	return nil
}

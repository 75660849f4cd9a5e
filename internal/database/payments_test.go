package database

import (
	"context"
	"testing"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIntent(id, bookingID string, amount int64) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:           id,
		BookingID:    bookingID,
		Amount:       amount,
		Currency:     models.DefaultCurrency,
		Status:       models.IntentPending,
		ClientSecret: id + "_secret",
		Sandbox:      true,
	}
}

func TestAttachPaymentIntent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := createTestBooking(t, db, time.Now().AddDate(0, 0, 10))

	require.NoError(t, db.AttachPaymentIntent(ctx, b, newIntent("pi_1", b.ID, 4400)))
	assert.Equal(t, int64(2), b.Version)
	assert.Equal(t, "pi_1", b.Payment.IntentID)

	require.NoError(t, db.AttachPaymentIntent(ctx, b, newIntent("pi_2", b.ID, 4400)))

	active, err := db.GetActiveIntent(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_2", active.ID)
	assert.True(t, active.Sandbox)

	old, err := db.GetPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentSuperseded, old.Status)

	count, err := db.CountIntents(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_2", got.Payment.IntentID)
}

func TestAttachPaymentIntent_StaleVersion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := createTestBooking(t, db, time.Now().AddDate(0, 0, 10))

	stale, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)

	require.NoError(t, db.AttachPaymentIntent(ctx, b, newIntent("pi_1", b.ID, 4400)))

	err = db.AttachPaymentIntent(ctx, stale, newIntent("pi_2", b.ID, 4400))
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	_, err = db.GetPaymentIntent(ctx, "pi_2")
	assert.ErrorIs(t, err, domain.ErrNotFound, "rolled back intent must not exist")

	active, err := db.GetActiveIntent(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", active.ID)
}

func TestAttachPaymentIntent_DuplicateID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := createTestBooking(t, db, time.Now().AddDate(0, 0, 10))

	racer, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)

	require.NoError(t, db.AttachPaymentIntent(ctx, b, newIntent("pi_mock_b_1", b.ID, 4400)))

	// A second writer that derived the same id loses with a conflict, and
	// the winner's intent stays pending.
	err = db.AttachPaymentIntent(ctx, racer, newIntent("pi_mock_b_1", b.ID, 4400))
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	active, err := db.GetActiveIntent(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_mock_b_1", active.ID)

	lost := newIntent("pi_mock_b_1", b.ID, 4400)
	lost.Status = models.IntentSuperseded
	assert.ErrorIs(t, db.SaveIntent(ctx, lost), domain.ErrConcurrentModification)

	got, err := db.GetPaymentIntent(ctx, "pi_mock_b_1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentPending, got.Status)
}

func TestOneActiveIntentPerBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := createTestBooking(t, db, time.Now().AddDate(0, 0, 10))

	require.NoError(t, db.SaveIntent(ctx, newIntent("pi_1", b.ID, 4400)))
	assert.ErrorIs(t, db.SaveIntent(ctx, newIntent("pi_2", b.ID, 4400)), domain.ErrConcurrentModification)

	orphan := newIntent("pi_3", b.ID, 4400)
	orphan.Status = models.IntentSuperseded
	assert.NoError(t, db.SaveIntent(ctx, orphan))
}

func TestApplyPaymentResult(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := createTestBooking(t, db, time.Now().AddDate(0, 0, 10))
	require.NoError(t, db.AttachPaymentIntent(ctx, b, newIntent("pi_1", b.ID, 4400)))

	stale := newIntent("pi_0", b.ID, 4400)
	stale.Status = models.IntentSuperseded
	require.NoError(t, db.SaveIntent(ctx, stale))

	now := time.Now()
	b.Payment.Status = models.PaymentDepositPaid
	b.Payment.DepositPaidAt = &now
	b.Payment.IntentID = "pi_0"
	b.Status = models.StatusConfirmed
	b.Timeline.Append(models.TimelineEntry{Status: models.StatusConfirmed, At: now, Note: "Deposit received", ActorID: "system", ActorRole: models.RoleSystem})

	require.NoError(t, db.ApplyPaymentResult(ctx, b, "pi_0", models.IntentSucceeded))

	paid, err := db.GetPaymentIntent(ctx, "pi_0")
	require.NoError(t, err)
	assert.Equal(t, models.IntentSucceeded, paid.Status)

	other, err := db.GetPaymentIntent(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentSuperseded, other.Status)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentDepositPaid, got.Payment.Status)
	require.NotNil(t, got.Payment.DepositPaidAt)
	assert.WithinDuration(t, now, *got.Payment.DepositPaidAt, time.Second)
	assert.Equal(t, "pi_0", got.Payment.IntentID)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	require.NoError(t, db.UpdateIntentStatus(ctx, "pi_1", models.IntentFailed))
	assert.ErrorIs(t, db.UpdateIntentStatus(ctx, "missing", models.IntentFailed), domain.ErrNotFound)
}

func TestReconciliationIssues(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	issue := &models.ReconciliationIssue{
		BookingID: "b1",
		IntentID:  "pi_1",
		Kind:      models.IssuePersistAfterPayment,
		Amount:    4400,
		Detail:    "disk I/O error",
	}
	require.NoError(t, db.CreateReconciliationIssue(ctx, issue))
	assert.NotZero(t, issue.ID)
	assert.Equal(t, models.IssueOpen, issue.Status)

	open, err := db.ListReconciliationIssues(ctx, models.IssueOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "pi_1", open[0].IntentID)

	require.NoError(t, db.AcknowledgeIssue(ctx, issue.ID))
	open, err = db.ListReconciliationIssues(ctx, models.IssueOpen)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := db.ListReconciliationIssues(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, db.AcknowledgeIssue(ctx, 999), domain.ErrNotFound)
}

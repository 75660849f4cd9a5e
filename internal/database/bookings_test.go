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

func TestCreateAndGetBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	eventDate := time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC)
	b := createTestBooking(t, db, eventDate)
	assert.Equal(t, int64(1), b.Version)
	assert.Empty(t, b.Timeline.Pending())

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ClientID, got.ClientID)
	assert.Equal(t, b.ProviderID, got.ProviderID)
	assert.Equal(t, "2026-06-20", got.Event.Date.Format(models.DateLayout))
	assert.Equal(t, "19:00", got.Event.StartTime)
	assert.Equal(t, int64(22000), got.Pricing.TotalAmount)
	assert.Equal(t, int64(4400), got.Payment.DepositAmount)
	assert.Equal(t, models.StatusPending, got.Status)
	require.Equal(t, 1, got.Timeline.Len())
	last, _ := got.Timeline.Last()
	assert.Equal(t, models.StatusPending, last.Status)
	assert.Nil(t, got.Cancellation)
	assert.Nil(t, got.ClientReview)

	_, err = db.GetBooking(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := createTestBooking(t, db, time.Now().AddDate(0, 0, 10))

	now := time.Now()
	b.Status = models.StatusCancelled
	b.Timeline.Append(models.TimelineEntry{Status: models.StatusCancelled, At: now, Note: "changed plans", ActorID: "client-1", ActorRole: models.RoleClient})
	b.Cancellation = &models.Cancellation{CancelledBy: "client-1", CancelledByRole: models.RoleClient, Reason: "changed plans", CancelledAt: now}
	b.ClientReview = &models.Review{Rating: 4, Comment: "ok", CreatedAt: now}
	b.Payment.IntentID = "pi_1"

	require.NoError(t, db.UpdateBooking(ctx, b))
	assert.Equal(t, int64(2), b.Version)
	assert.Empty(t, b.Timeline.Pending())

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, models.StatusCancelled, got.Status)
	require.NotNil(t, got.Cancellation)
	assert.Equal(t, "changed plans", got.Cancellation.Reason)
	require.NotNil(t, got.ClientReview)
	assert.Equal(t, 4, got.ClientReview.Rating)
	assert.Equal(t, "pi_1", got.Payment.IntentID)

	entries := got.Timeline.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, models.StatusPending, entries[0].Status)
	assert.Equal(t, models.StatusCancelled, entries[1].Status)
	assert.Equal(t, got.Status, entries[len(entries)-1].Status)
}

func TestOptimisticLocking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := createTestBooking(t, db, time.Now().AddDate(0, 0, 10))

	first, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	second, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)

	first.Status = models.StatusConfirmed
	first.Timeline.Append(models.TimelineEntry{Status: models.StatusConfirmed, At: time.Now(), ActorID: "chef-1", ActorRole: models.RoleProvider})
	require.NoError(t, db.UpdateBooking(ctx, first))

	second.Status = models.StatusCancelled
	second.Timeline.Append(models.TimelineEntry{Status: models.StatusCancelled, At: time.Now(), ActorID: "client-1", ActorRole: models.RoleClient})
	err = db.UpdateBooking(ctx, second)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, 2, got.Timeline.Len(), "losing write must not append timeline rows")

	missing := newTestBooking(time.Now())
	assert.ErrorIs(t, db.UpdateBooking(ctx, missing), ErrNotFound)
}

func TestAppendOnlyGuards(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	b := createTestBooking(t, db, time.Now().AddDate(0, 0, 3))

	_, err := db.ExecContext(ctx, `UPDATE booking_timeline SET note = 'rewritten' WHERE booking_id = ?`, b.ID)
	assert.Error(t, err)

	_, err = db.ExecContext(ctx, `DELETE FROM booking_timeline WHERE booking_id = ?`, b.ID)
	assert.Error(t, err)

	_, err = db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, b.ID)
	assert.Error(t, err)

	_, err = db.ExecContext(ctx, `UPDATE bookings SET total_amount = 1 WHERE id = ?`, b.ID)
	assert.Error(t, err)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(22000), got.Pricing.TotalAmount)
	assert.Equal(t, 1, got.Timeline.Len())
}

func TestListBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	day := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	tomorrow := createTestBooking(t, db, day.AddDate(0, 0, 1))
	later := createTestBooking(t, db, day.AddDate(0, 0, 5))
	createTestBooking(t, db, day.AddDate(0, 0, 1))

	tomorrow.Status = models.StatusConfirmed
	tomorrow.Timeline.Append(models.TimelineEntry{Status: models.StatusConfirmed, At: time.Now(), ActorID: "chef-1", ActorRole: models.RoleProvider})
	require.NoError(t, db.UpdateBooking(ctx, tomorrow))

	later.Status = models.StatusConfirmed
	later.Timeline.Append(models.TimelineEntry{Status: models.StatusConfirmed, At: time.Now(), ActorID: "chef-1", ActorRole: models.RoleProvider})
	require.NoError(t, db.UpdateBooking(ctx, later))

	t.Run("ByStatusAndDate", func(t *testing.T) {
		res, err := db.ListBookings(ctx, domain.BookingFilter{
			Statuses:      []string{models.StatusConfirmed},
			EventDateFrom: "2026-05-02",
			EventDateTo:   "2026-05-02",
		})
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, tomorrow.ID, res[0].ID)
		assert.Equal(t, 2, res[0].Timeline.Len())
	})

	t.Run("ByPaymentStatus", func(t *testing.T) {
		res, err := db.ListBookings(ctx, domain.BookingFilter{
			Statuses:      []string{models.StatusConfirmed},
			PaymentStatus: models.PaymentPending,
			EventDateFrom: "2026-05-01",
			EventDateTo:   "2026-05-10",
		})
		require.NoError(t, err)
		assert.Len(t, res, 2)
	})

	t.Run("ByStatusChange", func(t *testing.T) {
		res, err := db.ListBookings(ctx, domain.BookingFilter{
			Statuses:            []string{models.StatusConfirmed},
			StatusChangedFrom:   time.Now().Add(-time.Hour),
			StatusChangedBefore: time.Now().Add(time.Hour),
			WithoutClientReview: true,
			Limit:               1,
		})
		require.NoError(t, err)
		assert.Len(t, res, 1)
	})

	t.Run("All", func(t *testing.T) {
		res, err := db.ListBookings(ctx, domain.BookingFilter{})
		require.NoError(t, err)
		assert.Len(t, res, 3)
	})
}

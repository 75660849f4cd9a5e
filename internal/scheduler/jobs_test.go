package scheduler

import (
	"context"
	"testing"
	"time"

	"chefbook/internal/database"
	"chefbook/internal/domain"
	"chefbook/internal/models"
	"chefbook/internal/notify"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupJobs(t *testing.T) (*database.DB, *notify.Dispatcher) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	d := notify.NewDispatcher(db, time.Second, nil)
	t.Cleanup(func() {
		d.Wait()
		_ = db.Close()
	})
	return db, d
}

func seedBooking(t *testing.T, db *database.DB, eventDate time.Time, status, paymentStatus string) *models.Booking {
	t.Helper()
	pricing := models.NewPricing(20000, 0, models.DefaultServiceFeeBps, 0)
	b := &models.Booking{
		ID:          uuid.NewString(),
		ClientID:    "client-1",
		ProviderID:  "chef-1",
		ServiceType: models.ServiceCatering,
		Event: models.EventDetails{
			Date:          eventDate,
			StartTime:     "18:30",
			DurationHours: 4,
			GuestCount:    20,
		},
		Pricing: pricing,
		Payment: models.Payment{
			Status:        paymentStatus,
			Currency:      models.DefaultCurrency,
			DepositAmount: models.DepositFor(pricing.TotalAmount, models.DefaultDepositBps),
		},
		Status: status,
	}
	b.Timeline.Append(models.TimelineEntry{Status: status, At: time.Now(), Note: "seeded", ActorID: "system", ActorRole: models.RoleSystem})
	require.NoError(t, db.CreateBooking(context.Background(), b))
	return b
}

func countNotifications(t *testing.T, db *database.DB, recipient, notifType string) int {
	t.Helper()
	list, err := db.ListNotifications(context.Background(), recipient, false, 100)
	require.NoError(t, err)
	n := 0
	for _, item := range list {
		if item.Type == notifType {
			n++
		}
	}
	return n
}

func TestReminderJob(t *testing.T) {
	db, d := setupJobs(t)
	ctx := context.Background()
	now := time.Now().UTC()
	tomorrow := now.AddDate(0, 0, 1)

	target := seedBooking(t, db, tomorrow, models.StatusConfirmed, models.PaymentDepositPaid)
	seedBooking(t, db, tomorrow, models.StatusPending, models.PaymentPending)
	seedBooking(t, db, now.AddDate(0, 0, 2), models.StatusConfirmed, models.PaymentDepositPaid)

	job := NewReminderJob(db, d, time.UTC, nil)
	assert.Equal(t, JobBookingReminders, job.Name())

	sent, err := job.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	// Same window, nothing new.
	sent, err = job.Run(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sent)

	assert.Equal(t, 1, countNotifications(t, db, "client-1", models.NotifyBookingReminder))
	assert.Equal(t, 1, countNotifications(t, db, "chef-1", models.NotifyBookingReminder))

	list, err := db.ListNotifications(ctx, "client-1", false, 10)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, target.ID, list[0].BookingID)
}

func TestReviewRequestJob(t *testing.T) {
	db, d := setupJobs(t)
	ctx := context.Background()
	now := time.Now().UTC()

	done := seedBooking(t, db, now.AddDate(0, 0, -1), models.StatusCompleted, models.PaymentDepositPaid)
	reviewed := seedBooking(t, db, now.AddDate(0, 0, -1), models.StatusCompleted, models.PaymentDepositPaid)
	reviewed.ClientReview = &models.Review{Rating: 5, CreatedAt: now}
	require.NoError(t, db.UpdateBooking(ctx, reviewed))
	seedBooking(t, db, now.AddDate(0, 0, -1), models.StatusCancelled, models.PaymentPending)

	job := NewReviewRequestJob(db, d, time.UTC, nil)

	// Completed today: not yet.
	sent, err := job.Run(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, sent)

	sent, err = job.Run(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = job.Run(ctx, now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, sent)

	list, err := db.ListNotifications(ctx, "client-1", false, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, done.ID, list[0].BookingID)
	assert.Equal(t, models.NotifyReviewRequest, list[0].Type)
}

func TestPaymentDueJob(t *testing.T) {
	db, d := setupJobs(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := seedBooking(t, db, now.AddDate(0, 0, 2), models.StatusConfirmed, models.PaymentPending)
	seedBooking(t, db, now.AddDate(0, 0, 2), models.StatusConfirmed, models.PaymentDepositPaid)
	seedBooking(t, db, now.AddDate(0, 0, 10), models.StatusConfirmed, models.PaymentPending)
	seedBooking(t, db, now.AddDate(0, 0, 1), models.StatusPending, models.PaymentPending)

	job := NewPaymentDueJob(db, d, time.UTC, 3, nil)

	sent, err := job.Run(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = job.Run(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, sent)

	list, err := db.ListNotifications(ctx, "client-1", false, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].BookingID)
	assert.Equal(t, int64(4400), int64(list[0].Data["amount"].(float64)))
}

type failingNotifier struct{}

func (failingNotifier) Dispatch(context.Context, domain.NotificationRequest) (*models.Notification, error) {
	return nil, assert.AnError
}

func TestJobs_ReportDispatchErrors(t *testing.T) {
	db, _ := setupJobs(t)
	now := time.Now().UTC()
	seedBooking(t, db, now.AddDate(0, 0, 1), models.StatusConfirmed, models.PaymentPending)

	sent, err := NewReminderJob(db, failingNotifier{}, time.UTC, nil).Run(context.Background(), now)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, sent)

	sent, err = NewPaymentDueJob(db, failingNotifier{}, time.UTC, 3, nil).Run(context.Background(), now)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, sent)
}

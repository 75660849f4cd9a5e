package scheduler

import (
	"context"
	"fmt"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/models"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Job names, also used in lease keys and metrics.
const (
	JobBookingReminders = "booking_reminders"
	JobReviewRequests   = "review_requests"
	JobPaymentDue       = "payment_due"
)

var jobChannels = []string{
	models.ChannelInApp,
	models.ChannelPush,
	models.ChannelEmail,
	models.ChannelTelegram,
}

// JobStore is what the jobs read.
type JobStore interface {
	ListBookings(ctx context.Context, filter domain.BookingFilter) ([]*models.Booking, error)
	HasRecentNotification(ctx context.Context, notifType, bookingID, recipientID string, since time.Time) (bool, error)
}

type jobBase struct {
	store    JobStore
	notifier domain.Notifier
	loc      *time.Location
	logger   *zerolog.Logger
}

func newJobBase(store JobStore, notifier domain.Notifier, loc *time.Location, logger *zerolog.Logger) jobBase {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return jobBase{store: store, notifier: notifier, loc: loc, logger: logger}
}

// startOfDay returns local midnight of the day t falls on.
func (j jobBase) startOfDay(t time.Time) time.Time {
	local := t.In(j.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, j.loc)
}

// dispatch sends one notification. A duplicate dedupe key means another run
// already sent it.
func (j jobBase) dispatch(ctx context.Context, req domain.NotificationRequest) (bool, error) {
	req.Channels = jobChannels
	_, err := j.notifier.Dispatch(ctx, req)
	if errors.Is(err, domain.ErrDuplicateNotification) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "dispatch %s for booking %s", req.Type, req.BookingID)
	}
	return true, nil
}

// ReminderJob reminds both parties of confirmed bookings taking place
// tomorrow.
type ReminderJob struct {
	jobBase
}

func NewReminderJob(store JobStore, notifier domain.Notifier, loc *time.Location, logger *zerolog.Logger) *ReminderJob {
	return &ReminderJob{jobBase: newJobBase(store, notifier, loc, logger)}
}

func (j *ReminderJob) Name() string { return JobBookingReminders }

func (j *ReminderJob) Run(ctx context.Context, now time.Time) (int, error) {
	tomorrow := j.startOfDay(now).AddDate(0, 0, 1).Format(models.DateLayout)
	bookings, err := j.store.ListBookings(ctx, domain.BookingFilter{
		Statuses:      []string{models.StatusConfirmed},
		EventDateFrom: tomorrow,
		EventDateTo:   tomorrow,
	})
	if err != nil {
		return 0, err
	}

	var (
		sent     int
		firstErr error
	)
	for _, b := range bookings {
		for _, recipient := range []string{b.ClientID, b.ProviderID} {
			recent, err := j.store.HasRecentNotification(ctx, models.NotifyBookingReminder, b.ID, recipient, now.Add(-24*time.Hour))
			if err != nil {
				j.logger.Error().Err(err).Str("booking_id", b.ID).Msg("reminder guard failed")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if recent {
				continue
			}

			ok, err := j.dispatch(ctx, domain.NotificationRequest{
				RecipientID: recipient,
				Type:        models.NotifyBookingReminder,
				Title:       "Your booking is tomorrow",
				Message:     fmt.Sprintf("Reminder: the %s booking takes place tomorrow at %s.", b.ServiceType, b.Event.StartTime),
				Data:        map[string]any{"booking_id": b.ID, "event_date": tomorrow, "start_time": b.Event.StartTime},
				BookingID:   b.ID,
				DedupeKey:   fmt.Sprintf("booking_reminder:%s:%s:%s", b.ID, recipient, tomorrow),
			})
			if err != nil {
				j.logger.Error().Err(err).Str("booking_id", b.ID).Msg("reminder dispatch failed")
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if ok {
				sent++
			}
		}
	}
	return sent, firstErr
}

// ReviewRequestJob asks clients to review bookings completed yesterday.
type ReviewRequestJob struct {
	jobBase
}

func NewReviewRequestJob(store JobStore, notifier domain.Notifier, loc *time.Location, logger *zerolog.Logger) *ReviewRequestJob {
	return &ReviewRequestJob{jobBase: newJobBase(store, notifier, loc, logger)}
}

func (j *ReviewRequestJob) Name() string { return JobReviewRequests }

func (j *ReviewRequestJob) Run(ctx context.Context, now time.Time) (int, error) {
	today := j.startOfDay(now)
	bookings, err := j.store.ListBookings(ctx, domain.BookingFilter{
		Statuses:            []string{models.StatusCompleted},
		StatusChangedFrom:   today.AddDate(0, 0, -1),
		StatusChangedBefore: today,
		WithoutClientReview: true,
	})
	if err != nil {
		return 0, err
	}

	var (
		sent     int
		firstErr error
	)
	for _, b := range bookings {
		if last, ok := b.Timeline.Last(); !ok || last.Status != models.StatusCompleted {
			continue
		}
		ok, err := j.dispatch(ctx, domain.NotificationRequest{
			RecipientID: b.ClientID,
			Type:        models.NotifyReviewRequest,
			Title:       "How was your event?",
			Message:     "Tell others about your experience by leaving a review.",
			Data:        map[string]any{"booking_id": b.ID, "provider_id": b.ProviderID},
			BookingID:   b.ID,
			Priority:    models.PriorityLow,
			DedupeKey:   "review_request:" + b.ID,
		})
		if err != nil {
			j.logger.Error().Err(err).Str("booking_id", b.ID).Msg("review request dispatch failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, firstErr
}

// PaymentDueJob nudges clients whose confirmed booking is close but unpaid.
type PaymentDueJob struct {
	jobBase
	windowDays int
}

func NewPaymentDueJob(store JobStore, notifier domain.Notifier, loc *time.Location, windowDays int, logger *zerolog.Logger) *PaymentDueJob {
	if windowDays <= 0 {
		windowDays = 3
	}
	return &PaymentDueJob{jobBase: newJobBase(store, notifier, loc, logger), windowDays: windowDays}
}

func (j *PaymentDueJob) Name() string { return JobPaymentDue }

func (j *PaymentDueJob) Run(ctx context.Context, now time.Time) (int, error) {
	today := j.startOfDay(now)
	todayStr := today.Format(models.DateLayout)
	bookings, err := j.store.ListBookings(ctx, domain.BookingFilter{
		Statuses:      []string{models.StatusConfirmed},
		PaymentStatus: models.PaymentPending,
		EventDateFrom: todayStr,
		EventDateTo:   today.AddDate(0, 0, j.windowDays).Format(models.DateLayout),
	})
	if err != nil {
		return 0, err
	}

	var (
		sent     int
		firstErr error
	)
	for _, b := range bookings {
		ok, err := j.dispatch(ctx, domain.NotificationRequest{
			RecipientID: b.ClientID,
			Type:        models.NotifyPaymentReminder,
			Title:       "Deposit due",
			Message:     fmt.Sprintf("Your booking on %s still needs its deposit of %d %s.", b.Event.Date.Format(models.DateLayout), b.Payment.DepositAmount, b.Payment.Currency),
			Data: map[string]any{
				"booking_id": b.ID,
				"amount":     b.Payment.DepositAmount,
				"currency":   b.Payment.Currency,
				"event_date": b.Event.Date.Format(models.DateLayout),
			},
			BookingID: b.ID,
			Priority:  models.PriorityHigh,
			DedupeKey: fmt.Sprintf("payment_reminder:%s:%s", b.ID, todayStr),
		})
		if err != nil {
			j.logger.Error().Err(err).Str("booking_id", b.ID).Msg("payment reminder dispatch failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, firstErr
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chefbook/internal/config"
	"chefbook/internal/domain"
	"chefbook/internal/events"
	"chefbook/internal/models"
	"chefbook/internal/worker"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// Options carries the pricing and payment settings shared by the services.
type Options struct {
	Currency         string
	ServiceFeeBps    int64
	TaxBps           int64
	DepositBps       int64
	MaxBookingDays   int
	ProcessorTimeout time.Duration
	Retry            worker.RetryPolicy
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Currency:         cfg.Payments.Currency,
		ServiceFeeBps:    cfg.Payments.ServiceFeeBps,
		TaxBps:           cfg.Payments.TaxBps,
		DepositBps:       cfg.Payments.DepositBps,
		MaxBookingDays:   cfg.Bookings.MaxBookingDays,
		ProcessorTimeout: cfg.Payments.Timeout,
		Retry: worker.RetryPolicy{
			MaxRetries:    cfg.Payments.RetryAttempts,
			InitialDelay:  cfg.Payments.RetryDelay,
			MaxDelay:      time.Second,
			BackoffFactor: 2,
		},
	}
}

func (o Options) withDefaults() Options {
	if o.Currency == "" {
		o.Currency = models.DefaultCurrency
	}
	if o.DepositBps <= 0 {
		o.DepositBps = models.DefaultDepositBps
	}
	if o.MaxBookingDays <= 0 {
		o.MaxBookingDays = 365
	}
	if o.ProcessorTimeout <= 0 {
		o.ProcessorTimeout = 10 * time.Second
	}
	if o.Retry.MaxRetries <= 0 {
		o.Retry.MaxRetries = 3
	}
	if o.Retry.InitialDelay <= 0 {
		o.Retry.InitialDelay = 50 * time.Millisecond
	}
	return o
}

// Channels used for lifecycle notifications. Unreachable channels are skipped
// by the dispatcher.
var lifecycleChannels = []string{
	models.ChannelInApp,
	models.ChannelPush,
	models.ChannelEmail,
	models.ChannelTelegram,
}

// effects runs the post-commit side effects. Failures are logged only.
type effects struct {
	notifier  domain.Notifier
	publisher domain.EventPublisher
	logger    *zerolog.Logger
}

func newEffects(notifier domain.Notifier, publisher domain.EventPublisher, logger *zerolog.Logger) effects {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return effects{notifier: notifier, publisher: publisher, logger: logger}
}

func (e effects) notify(ctx context.Context, req domain.NotificationRequest) {
	if e.notifier == nil {
		return
	}
	if req.Channels == nil {
		req.Channels = lifecycleChannels
	}
	_, err := e.notifier.Dispatch(ctx, req)
	if err != nil && !errors.Is(err, domain.ErrDuplicateNotification) {
		e.logger.Warn().Err(err).
			Str("booking_id", req.BookingID).
			Str("recipient_id", req.RecipientID).
			Str("type", req.Type).
			Msg("notification dispatch failed")
	}
}

func (e effects) publish(eventType string, payload events.BookingEventPayload) {
	if e.publisher == nil {
		return
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now().UTC()
	}
	if err := e.publisher.PublishJSON(eventType, payload); err != nil {
		e.logger.Warn().Err(err).Str("booking_id", payload.BookingID).Str("event", eventType).Msg("failed to publish event")
	}
}

func bookingPayload(b *models.Booking) events.BookingEventPayload {
	return events.BookingEventPayload{
		BookingID:     b.ID,
		ClientID:      b.ClientID,
		ProviderID:    b.ProviderID,
		Status:        b.Status,
		PaymentStatus: b.Payment.Status,
		IntentID:      b.Payment.IntentID,
		Currency:      b.Payment.Currency,
	}
}

func statusLabel(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}

func eventDate(b *models.Booking) string {
	return b.Event.Date.Format(models.DateLayout)
}

// notActionable reports that the booking status does not allow an operation.
func notActionable(b *models.Booking, action string) error {
	return domain.InvalidStatef("cannot %s a booking that is %s", action, statusLabel(b.Status))
}

// checkRefundable applies the refund preconditions shared by refunds and
// dispute settlements.
func checkRefundable(b *models.Booking, amount int64) error {
	switch b.Payment.Status {
	case models.PaymentDepositPaid, models.PaymentFullyPaid:
	case models.PaymentRefunded:
		return domain.Validationf("booking %s is already refunded", b.ID)
	default:
		return domain.Validationf("booking %s has no payment to refund (payment %s)", b.ID, b.Payment.Status)
	}
	paid := b.PaidAmount()
	if amount <= 0 || amount > paid {
		return domain.Validationf("refund amount %d must be between 1 and the paid amount %d", amount, paid)
	}
	return nil
}

// applyRefund records a processor refund on the payment sub-record.
func applyRefund(b *models.Booking, amount int64, now time.Time) {
	b.Payment.Status = models.PaymentRefunded
	b.Payment.RefundAmount = amount
	b.Payment.RefundedAt = &now
}

func issueDetail(b *models.Booking, intentID string, amount int64, cause error) string {
	return fmt.Sprintf("booking=%s intent=%s amount=%d %s: %v", b.ID, intentID, amount, b.Payment.Currency, cause)
}

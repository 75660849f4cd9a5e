package service

import (
	"context"
	"fmt"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/events"
	"chefbook/internal/metrics"
	"chefbook/internal/models"

	"github.com/rs/zerolog"
)

// Dispute outcomes.
const (
	OutcomeResolved   = "resolved"
	OutcomeUnresolved = "unresolved"
)

// Resolution is an admin's settlement of a dispute.
type Resolution struct {
	BookingID    string
	Outcome      string
	RefundAmount int64
	Note         string
	Actor        models.Actor
}

type DisputeService struct {
	repo     PaymentStore
	payments *PaymentService
	effects  effects
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewDisputeService(repo PaymentStore, payments *PaymentService, notifier domain.Notifier, publisher domain.EventPublisher, logger *zerolog.Logger) *DisputeService {
	fx := newEffects(notifier, publisher, logger)
	return &DisputeService{
		repo:     repo,
		payments: payments,
		effects:  fx,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   fx.logger,
	}
}

// ResolveDispute closes a booking as completed or cancelled. An optional
// refund is taken at the processor first and recorded in the same write as
// the status change.
func (s *DisputeService) ResolveDispute(ctx context.Context, r Resolution) (*models.Booking, error) {
	if !r.Actor.IsAdmin() {
		return nil, domain.Unauthorizedf("only admins can resolve disputes")
	}

	var target string
	switch r.Outcome {
	case OutcomeResolved:
		target = models.StatusCompleted
	case OutcomeUnresolved:
		target = models.StatusCancelled
	default:
		return nil, domain.Validationf("unknown dispute outcome %q", r.Outcome)
	}
	if r.RefundAmount < 0 {
		return nil, domain.Validationf("refund amount cannot be negative")
	}

	b, err := s.repo.GetBooking(ctx, r.BookingID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(b.Status) {
		return nil, notActionable(b, "resolve a dispute on")
	}

	var refundID string
	if r.RefundAmount > 0 {
		if err := checkRefundable(b, r.RefundAmount); err != nil {
			return nil, err
		}
		refundID, err = s.payments.createRefund(ctx, b, r.RefundAmount, r.Note)
		if err != nil {
			return nil, err
		}

		var cancel context.CancelFunc
		ctx, cancel = settleContext(ctx)
		defer cancel()
	}

	note := r.Note
	if note == "" {
		note = "Dispute " + r.Outcome
	}

	var from string
	current := b
	err = s.payments.opts.Retry.Do(ctx, retryableWrite, func() error {
		if current == nil {
			reloaded, err := s.repo.GetBooking(ctx, r.BookingID)
			if err != nil {
				return err
			}
			current = reloaded
		}
		cur := current
		current = nil

		if models.IsTerminal(cur.Status) {
			return errBookingClosed
		}
		now := s.now()
		from = cur.Status
		if r.RefundAmount > 0 {
			applyRefund(cur, r.RefundAmount, now)
		}
		applyTransition(cur, target, r.Actor, models.RoleAdmin, note, now)
		if cur.Cancellation != nil && target == models.StatusCancelled {
			cur.Cancellation.RefundAmount = r.RefundAmount
		}
		if err := s.repo.UpdateBooking(ctx, cur); err != nil {
			return err
		}
		b = cur
		return nil
	})
	if err != nil {
		if r.RefundAmount > 0 {
			intent := &models.PaymentIntent{ID: b.Payment.IntentID, BookingID: b.ID}
			return nil, s.payments.partialFailure(ctx, b, intent, models.IssuePersistAfterRefund, r.RefundAmount, err)
		}
		return nil, err
	}
	metrics.IncTransition(from, target)

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("actor_id", r.Actor.ID).
		Str("outcome", r.Outcome).
		Int64("refund_amount", r.RefundAmount).
		Msg("dispute resolved")

	for _, recipient := range []string{b.ClientID, b.ProviderID} {
		s.effects.notify(ctx, domain.NotificationRequest{
			RecipientID: recipient,
			SenderID:    r.Actor.ID,
			Type:        models.NotifyDisputeResolved,
			Title:       "Dispute " + r.Outcome,
			Message:     fmt.Sprintf("The dispute on the booking for %s was closed: booking %s.", eventDate(b), statusLabel(b.Status)),
			Data: map[string]any{
				"booking_id":    b.ID,
				"outcome":       r.Outcome,
				"status":        b.Status,
				"refund_amount": r.RefundAmount,
				"refund_id":     refundID,
				"currency":      b.Payment.Currency,
			},
			BookingID: b.ID,
			Priority:  models.PriorityHigh,
		})
	}

	payload := bookingPayload(b)
	payload.From = from
	payload.Amount = r.RefundAmount
	payload.ActorID = r.Actor.ID
	payload.ActorRole = models.RoleAdmin
	payload.Note = r.Outcome
	s.effects.publish(events.EventDisputeResolved, payload)
	s.effects.publish(events.EventBookingStatusChanged, payload)
	return b, nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/events"
	"chefbook/internal/metrics"
	"chefbook/internal/models"
	"chefbook/internal/tracing"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reconcile sources.
const (
	SourceWebhook      = "webhook"
	SourceConfirmation = "confirmation"
)

const (
	webhookDedupeTTL = 24 * time.Hour
	settleTimeout    = 30 * time.Second
)

var errBookingClosed = errors.New("booking closed before the refund was recorded")

// PaymentStore is the persistence PaymentService and DisputeService need.
type PaymentStore interface {
	domain.BookingRepository
	domain.PaymentRepository
	domain.IssueRepository
}

// PaymentService drives deposits, reconciliation and refunds against the
// payment processor.
type PaymentService struct {
	repo      PaymentStore
	processor domain.PaymentProcessor
	leases    domain.LeaseStore
	effects   effects
	opts      Options
	now       func() time.Time
	tracer    trace.Tracer
	logger    *zerolog.Logger
}

// NewPaymentService wires the orchestrator. leases may be nil, in which case
// webhook events are not de-duplicated.
func NewPaymentService(
	repo PaymentStore,
	processor domain.PaymentProcessor,
	leases domain.LeaseStore,
	notifier domain.Notifier,
	publisher domain.EventPublisher,
	opts Options,
	logger *zerolog.Logger,
) *PaymentService {
	fx := newEffects(notifier, publisher, logger)
	return &PaymentService{
		repo:      repo,
		processor: processor,
		leases:    leases,
		effects:   fx,
		opts:      opts.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
		tracer:    tracing.Tracer("payments"),
		logger:    fx.logger,
	}
}

// CreateDepositIntent returns a payment intent for the booking deposit,
// reusing the active one when it matches. amount 0 means the stored deposit.
func (s *PaymentService) CreateDepositIntent(ctx context.Context, bookingID string, amount int64, actor models.Actor) (*models.PaymentIntent, error) {
	ctx, span := s.tracer.Start(ctx, "payments.create_deposit_intent",
		trace.WithAttributes(attribute.String("booking_id", bookingID)))
	defer span.End()

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.ID == "" || actor.ID != b.ClientID {
		return nil, domain.Unauthorizedf("only the client can pay the deposit of booking %s", b.ID)
	}
	if b.Status != models.StatusPending && b.Status != models.StatusConfirmed {
		return nil, notActionable(b, "pay the deposit of")
	}
	if b.Payment.Status != models.PaymentPending && b.Payment.Status != models.PaymentFailed {
		return nil, domain.Validationf("deposit already paid for booking %s", b.ID)
	}
	if amount == 0 {
		amount = b.Payment.DepositAmount
	}
	if amount != b.Payment.DepositAmount {
		return nil, domain.Validationf("deposit amount must be %d, got %d", b.Payment.DepositAmount, amount)
	}

	active, err := s.repo.GetActiveIntent(ctx, b.ID)
	switch {
	case err == nil && active.Amount == amount:
		span.SetAttributes(attribute.Bool("reused", true))
		return active, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	count, err := s.repo.CountIntents(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	result, err := s.createIntent(ctx, domain.IntentRequest{
		BookingID: b.ID,
		Amount:    amount,
		Currency:  b.Payment.Currency,
		Sequence:  count + 1,
		Metadata:  map[string]any{"client_id": b.ClientID, "provider_id": b.ProviderID},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create intent")
		return nil, err
	}

	intent := &models.PaymentIntent{
		ID:           result.ID,
		BookingID:    b.ID,
		Amount:       amount,
		Currency:     b.Payment.Currency,
		Status:       models.IntentPending,
		ClientSecret: result.ClientSecret,
		Sandbox:      s.processor.Sandbox(),
	}
	if err := s.repo.AttachPaymentIntent(ctx, b, intent); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			// Keep the intent resolvable for a late webhook. A conflict here
			// means the winner already recorded the same id.
			intent.Status = models.IntentSuperseded
			if saveErr := s.repo.SaveIntent(ctx, intent); saveErr != nil && !errors.Is(saveErr, domain.ErrConcurrentModification) {
				s.logger.Error().Err(saveErr).Str("intent_id", intent.ID).Msg("failed to record superseded intent")
			}
		}
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("intent_id", intent.ID).
		Int64("amount", amount).
		Bool("sandbox", intent.Sandbox).
		Msg("deposit intent created")
	return intent, nil
}

func (s *PaymentService) createIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error) {
	ctx, span := s.tracer.Start(ctx, "processor.create_intent")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ProcessorTimeout)
	defer cancel()

	result, err := s.processor.CreateIntent(ctx, req)
	metrics.IncProcessorCall("create_intent", err)
	if err != nil {
		span.RecordError(err)
		return domain.IntentResult{}, domain.ProcessorError(err, "create intent")
	}
	return result, nil
}

func (s *PaymentService) retrieveIntent(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	ctx, span := s.tracer.Start(ctx, "processor.retrieve_intent", trace.WithAttributes(attribute.String("intent_id", intentID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ProcessorTimeout)
	defer cancel()

	status, err := s.processor.RetrieveIntent(ctx, intentID)
	metrics.IncProcessorCall("retrieve_intent", err)
	if err != nil {
		span.RecordError(err)
		return "", domain.ProcessorError(err, "retrieve intent")
	}
	return status, nil
}

func (s *PaymentService) createRefund(ctx context.Context, b *models.Booking, amount int64, reason string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "processor.create_refund", trace.WithAttributes(
		attribute.String("booking_id", b.ID),
		attribute.String("intent_id", b.Payment.IntentID),
		attribute.Int64("amount", amount),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ProcessorTimeout)
	defer cancel()

	refundID, err := s.processor.CreateRefund(ctx, b.Payment.IntentID, amount, reason)
	metrics.IncProcessorCall("create_refund", err)
	if err != nil {
		span.RecordError(err)
		return "", domain.ProcessorError(err, "create refund")
	}
	return refundID, nil
}

// ConfirmDeposit is the client-side confirmation path into Reconcile.
func (s *PaymentService) ConfirmDeposit(ctx context.Context, intentID, bookingID string) (*models.Booking, error) {
	intent, err := s.repo.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.BookingID != bookingID {
		return nil, domain.Validationf("payment intent %s does not belong to booking %s", intentID, bookingID)
	}
	return s.Reconcile(ctx, intentID, "", SourceConfirmation)
}

// HandleWebhook reconciles a processor callback. Unknown intents and replayed
// events are acknowledged without error so the processor stops retrying.
func (s *PaymentService) HandleWebhook(ctx context.Context, event WebhookEvent) (*models.Booking, error) {
	log := s.logger.With().Str("event_id", event.ID).Str("intent_id", event.IntentID).Logger()

	if event.Status == domain.IntentStatusPending {
		log.Debug().Msg("ignoring pending webhook event")
		return nil, nil
	}

	key := "webhook:event:" + event.dedupeKey()
	if s.leases != nil {
		acquired, err := s.leases.Acquire(ctx, key, webhookDedupeTTL)
		if err != nil {
			return nil, errors.Wrap(err, "webhook dedupe")
		}
		if !acquired {
			log.Info().Msg("duplicate webhook event ignored")
			return nil, nil
		}
	}

	if _, err := s.repo.GetPaymentIntent(ctx, event.IntentID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn().Msg("webhook for unknown payment intent ignored")
			return nil, nil
		}
		s.releaseLease(key)
		return nil, err
	}

	b, err := s.Reconcile(ctx, event.IntentID, event.Status, SourceWebhook)
	if err != nil {
		s.releaseLease(key)
		return nil, err
	}
	return b, nil
}

func (s *PaymentService) releaseLease(key string) {
	if s.leases == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.leases.Release(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to release webhook lease")
	}
}

// Reconcile settles the local booking with the processor's view of an
// intent. Both the webhook and the confirmation path end here.
func (s *PaymentService) Reconcile(ctx context.Context, intentID string, reported domain.IntentStatus, source string) (*models.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "payments.reconcile", trace.WithAttributes(
		attribute.String("intent_id", intentID),
		attribute.String("source", source),
	))
	defer span.End()

	intent, err := s.repo.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	status, err := s.processorStatus(ctx, intent, reported)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processor status")
		return nil, err
	}
	span.SetAttributes(attribute.String("status", string(status)))

	ctx, cancel := settleContext(ctx)
	defer cancel()

	var b *models.Booking
	switch status {
	case domain.IntentStatusSucceeded:
		b, err = s.reconcileSucceeded(ctx, intent, source)
	case domain.IntentStatusFailed:
		b, err = s.reconcileFailed(ctx, intent, source)
	default:
		return nil, domain.Validationf("payment %s not completed", intentID)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile")
	}
	return b, err
}

// processorStatus trusts the reported status for sandbox intents and asks
// the processor for live ones. A bare sandbox confirmation only settles an
// intent that is still open.
func (s *PaymentService) processorStatus(ctx context.Context, intent *models.PaymentIntent, reported domain.IntentStatus) (domain.IntentStatus, error) {
	if intent.Sandbox {
		if reported != "" {
			return reported, nil
		}
		if intent.Status == models.IntentFailed || intent.Status == models.IntentSuperseded {
			return "", domain.InvalidStatef("payment intent %s is %s and cannot be confirmed", intent.ID, intent.Status)
		}
		return domain.IntentStatusSucceeded, nil
	}
	return s.retrieveIntent(ctx, intent.ID)
}

// settleContext detaches the local writes that follow a processor call from
// the caller, so a dropped request cannot strand money that already moved.
func settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

func retryableWrite(err error) bool {
	return !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, errBookingClosed)
}

func (s *PaymentService) reconcileSucceeded(ctx context.Context, intent *models.PaymentIntent, source string) (*models.Booking, error) {
	log := s.logger.With().Str("intent_id", intent.ID).Str("booking_id", intent.BookingID).Str("source", source).Logger()

	var (
		booking *models.Booking
		applied bool
		from    string
	)
	err := s.opts.Retry.Do(ctx, retryableWrite, func() error {
		applied = false
		b, err := s.repo.GetBooking(ctx, intent.BookingID)
		if err != nil {
			return err
		}
		booking = b

		if b.HasPaidIntent(intent.ID) {
			return nil
		}

		if models.IsTerminal(b.Status) {
			current, err := s.repo.GetPaymentIntent(ctx, intent.ID)
			if err != nil {
				return err
			}
			if current.Status == models.IntentSucceeded {
				return nil
			}
			if err := s.repo.UpdateIntentStatus(ctx, intent.ID, models.IntentSucceeded); err != nil {
				return err
			}
			log.Error().Str("status", b.Status).Msg("payment succeeded on a closed booking")
			s.openIssue(ctx, &models.ReconciliationIssue{
				BookingID: b.ID,
				IntentID:  intent.ID,
				Kind:      models.IssuePaymentOnClosedBooking,
				Amount:    intent.Amount,
				Detail:    fmt.Sprintf("payment received while booking is %s", b.Status),
			})
			return nil
		}

		now := s.now()
		from = b.Status
		b.Payment.Status = models.PaymentDepositPaid
		b.Payment.DepositPaidAt = &now
		b.Payment.IntentID = intent.ID
		if b.Status == models.StatusPending {
			applyTransition(b, models.StatusConfirmed, models.SystemActor, models.RoleSystem, "Deposit received", now)
		}
		if err := s.repo.ApplyPaymentResult(ctx, b, intent.ID, models.IntentSucceeded); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, s.partialFailure(ctx, booking, intent, models.IssuePersistAfterPayment, intent.Amount, err)
	}
	if !applied {
		log.Debug().Msg("payment already reconciled")
		return booking, nil
	}

	log.Info().Str("status", booking.Status).Msg("deposit reconciled")
	if from != booking.Status {
		metrics.IncTransition(from, booking.Status)
	}

	for _, recipient := range []string{booking.ClientID, booking.ProviderID} {
		s.effects.notify(ctx, domain.NotificationRequest{
			RecipientID: recipient,
			Type:        models.NotifyPaymentReceived,
			Title:       "Deposit received",
			Message:     fmt.Sprintf("The deposit for the booking on %s has been received.", eventDate(booking)),
			Data: map[string]any{
				"booking_id": booking.ID,
				"intent_id":  intent.ID,
				"amount":     intent.Amount,
				"currency":   intent.Currency,
			},
			BookingID: booking.ID,
			Priority:  models.PriorityHigh,
			DedupeKey: fmt.Sprintf("payment_received:%s:%s", intent.ID, recipient),
		})
	}

	payload := bookingPayload(booking)
	payload.From = from
	payload.Amount = intent.Amount
	payload.ActorID = models.SystemActor.ID
	payload.ActorRole = models.RoleSystem
	payload.Note = source
	s.effects.publish(events.EventPaymentReceived, payload)
	if from != booking.Status {
		s.effects.publish(events.EventBookingStatusChanged, payload)
	}
	return booking, nil
}

func (s *PaymentService) reconcileFailed(ctx context.Context, intent *models.PaymentIntent, source string) (*models.Booking, error) {
	var (
		booking *models.Booking
		applied bool
	)
	err := s.opts.Retry.Do(ctx, retryableWrite, func() error {
		applied = false
		b, err := s.repo.GetBooking(ctx, intent.BookingID)
		if err != nil {
			return err
		}
		booking = b

		current, err := s.repo.GetPaymentIntent(ctx, intent.ID)
		if err != nil {
			return err
		}
		paid := b.Payment.Status == models.PaymentDepositPaid ||
			b.Payment.Status == models.PaymentFullyPaid ||
			b.Payment.Status == models.PaymentRefunded
		if current.Status == models.IntentFailed || paid || b.Payment.IntentID != intent.ID {
			if current.Status == models.IntentFailed {
				return nil
			}
			return s.repo.UpdateIntentStatus(ctx, intent.ID, models.IntentFailed)
		}

		b.Payment.Status = models.PaymentFailed
		if err := s.repo.ApplyPaymentResult(ctx, b, intent.ID, models.IntentFailed); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "record failed payment %s", intent.ID)
	}
	if !applied {
		return booking, nil
	}

	s.logger.Warn().Str("intent_id", intent.ID).Str("booking_id", booking.ID).Str("source", source).Msg("deposit payment failed")

	s.effects.notify(ctx, domain.NotificationRequest{
		RecipientID: booking.ClientID,
		Type:        models.NotifyPaymentFailed,
		Title:       "Deposit payment failed",
		Message:     fmt.Sprintf("The deposit for the booking on %s could not be processed. Please try again.", eventDate(booking)),
		Data:        map[string]any{"booking_id": booking.ID, "intent_id": intent.ID, "amount": intent.Amount, "currency": intent.Currency},
		BookingID:   booking.ID,
		Priority:    models.PriorityHigh,
		DedupeKey:   fmt.Sprintf("payment_failed:%s", intent.ID),
	})

	payload := bookingPayload(booking)
	payload.IntentID = intent.ID
	payload.Amount = intent.Amount
	payload.Note = source
	s.effects.publish(events.EventPaymentFailed, payload)
	return booking, nil
}

// Refund returns money to the client and cancels the booking.
func (s *PaymentService) Refund(ctx context.Context, bookingID string, amount int64, reason string, actor models.Actor) (*models.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "payments.refund", trace.WithAttributes(
		attribute.String("booking_id", bookingID),
		attribute.Int64("amount", amount),
	))
	defer span.End()

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && (actor.ID == "" || actor.ID != b.ClientID) {
		return nil, domain.Unauthorizedf("only the client or an admin can refund booking %s", b.ID)
	}
	role := models.RoleClient
	if actor.IsAdmin() {
		role = models.RoleAdmin
	}
	if models.IsTerminal(b.Status) {
		return nil, notActionable(b, "refund")
	}
	if err := checkRefundable(b, amount); err != nil {
		return nil, err
	}

	refundID, err := s.createRefund(ctx, b, amount, reason)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create refund")
		return nil, err
	}

	ctx, cancel := settleContext(ctx)
	defer cancel()

	note := reason
	if note == "" {
		note = "Refund issued"
	}

	var from string
	current := b
	err = s.opts.Retry.Do(ctx, retryableWrite, func() error {
		if current == nil {
			reloaded, err := s.repo.GetBooking(ctx, bookingID)
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
		applyRefund(cur, amount, now)
		applyTransition(cur, models.StatusCancelled, actor, role, note, now)
		cur.Cancellation.RefundAmount = amount
		if err := s.repo.UpdateBooking(ctx, cur); err != nil {
			return err
		}
		b = cur
		return nil
	})
	if err != nil {
		return nil, s.partialFailure(ctx, b, &models.PaymentIntent{ID: b.Payment.IntentID}, models.IssuePersistAfterRefund, amount, err)
	}
	metrics.IncTransition(from, models.StatusCancelled)

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("actor_id", actor.ID).
		Str("refund_id", refundID).
		Int64("amount", amount).
		Msg("refund issued")

	for _, recipient := range []string{b.ClientID, b.ProviderID} {
		s.effects.notify(ctx, domain.NotificationRequest{
			RecipientID: recipient,
			SenderID:    actor.ID,
			Type:        models.NotifyRefundIssued,
			Title:       "Refund issued",
			Message:     fmt.Sprintf("A refund was issued and the booking on %s is cancelled.", eventDate(b)),
			Data: map[string]any{
				"booking_id":    b.ID,
				"refund_id":     refundID,
				"refund_amount": amount,
				"currency":      b.Payment.Currency,
			},
			BookingID: b.ID,
			Priority:  models.PriorityHigh,
		})
	}

	payload := bookingPayload(b)
	payload.From = from
	payload.Amount = amount
	payload.ActorID = actor.ID
	payload.ActorRole = role
	payload.Note = note
	s.effects.publish(events.EventRefundIssued, payload)
	s.effects.publish(events.EventBookingStatusChanged, payload)
	return b, nil
}

// partialFailure records that money moved at the processor but the booking
// could not be updated.
func (s *PaymentService) partialFailure(ctx context.Context, b *models.Booking, intent *models.PaymentIntent, kind string, amount int64, cause error) error {
	bookingID := intent.BookingID
	if b != nil {
		bookingID = b.ID
	}
	detail := fmt.Sprintf("booking=%s intent=%s amount=%d: %v", bookingID, intent.ID, amount, cause)
	if b != nil {
		detail = issueDetail(b, intent.ID, amount, cause)
	}

	s.logger.Error().
		Err(cause).
		Str("booking_id", bookingID).
		Str("intent_id", intent.ID).
		Str("kind", kind).
		Int64("amount", amount).
		Msg("processor succeeded but local state was not updated")
	metrics.IncPartialFailure(kind)

	s.openIssue(ctx, &models.ReconciliationIssue{
		BookingID: bookingID,
		IntentID:  intent.ID,
		Kind:      kind,
		Amount:    amount,
		Detail:    detail,
	})
	return domain.PartialFailureError(cause, detail)
}

func (s *PaymentService) openIssue(ctx context.Context, issue *models.ReconciliationIssue) {
	// The request context may already be done when retries ran out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.CreateReconciliationIssue(ctx, issue); err != nil {
		s.logger.Error().Err(err).
			Str("booking_id", issue.BookingID).
			Str("kind", issue.Kind).
			Msg("failed to record reconciliation issue")
	}
}

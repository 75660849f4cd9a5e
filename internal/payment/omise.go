package payment

import (
	"context"
	"time"

	"chefbook/internal/config"
	"chefbook/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/rs/zerolog"
)

// OmiseProcessor maps intents onto omise charges backed by a payment source.
type OmiseProcessor struct {
	client     *omise.Client
	sourceType string
	timeout    time.Duration
	logger     *zerolog.Logger
}

func NewOmiseProcessor(cfg config.PaymentsConfig, logger *zerolog.Logger) (*OmiseProcessor, error) {
	client, err := omise.NewClient(cfg.OmisePublic, cfg.OmiseSecret)
	if err != nil {
		return nil, errors.Wrap(err, "create omise client")
	}

	return &OmiseProcessor{
		client:     client,
		sourceType: cfg.SourceType,
		timeout:    cfg.Timeout,
		logger:     logger,
	}, nil
}

func (p *OmiseProcessor) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.IntentResult, error) {
	src := &omise.Source{}
	err := call(ctx, p.timeout, func() error {
		return p.client.Do(src, &operations.CreateSource{
			Type:     p.sourceType,
			Amount:   req.Amount,
			Currency: req.Currency,
		})
	})
	if err != nil {
		return domain.IntentResult{}, errors.Wrap(err, "create source")
	}

	metadata := map[string]any{"booking_id": req.BookingID, "attempt": req.Sequence}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	ch := &omise.Charge{}
	err = call(ctx, p.timeout, func() error {
		return p.client.Do(ch, &operations.CreateCharge{
			Amount:   req.Amount,
			Currency: req.Currency,
			Source:   src.ID,
			Metadata: metadata,
		})
	})
	if err != nil {
		return domain.IntentResult{}, errors.Wrap(err, "create charge")
	}

	p.logger.Debug().Str("intent_id", ch.ID).Str("booking_id", req.BookingID).Str("status", string(ch.Status)).Msg("omise charge created")
	return domain.IntentResult{ID: ch.ID, ClientSecret: ch.AuthorizeURI}, nil
}

func (p *OmiseProcessor) RetrieveIntent(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	ch := &omise.Charge{}
	err := call(ctx, p.timeout, func() error {
		return p.client.Do(ch, &operations.RetrieveCharge{ChargeID: intentID})
	})
	if err != nil {
		return "", errors.Wrapf(err, "retrieve charge %s", intentID)
	}
	return chargeStatus(string(ch.Status)), nil
}

func (p *OmiseProcessor) CreateRefund(ctx context.Context, intentID string, amount int64, reason string) (string, error) {
	refund := &omise.Refund{}
	err := call(ctx, p.timeout, func() error {
		return p.client.Do(refund, &operations.CreateRefund{
			ChargeID: intentID,
			Amount:   amount,
			Metadata: map[string]interface{}{"reason": reason},
		})
	})
	if err != nil {
		return "", errors.Wrapf(err, "refund charge %s", intentID)
	}
	return refund.ID, nil
}

func (p *OmiseProcessor) Sandbox() bool { return false }

func chargeStatus(s string) domain.IntentStatus {
	switch s {
	case "successful":
		return domain.IntentStatusSucceeded
	case "failed", "expired", "reversed":
		return domain.IntentStatusFailed
	default:
		return domain.IntentStatusPending
	}
}

// call runs a blocking SDK request and gives up when ctx or the timeout ends.
// The request itself may still complete in the background.
func call(ctx context.Context, timeout time.Duration, fn func() error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "payment processor call abandoned")
	}
}

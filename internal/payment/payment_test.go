package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"chefbook/internal/config"
	"chefbook/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxProcessor(t *testing.T) {
	p := NewSandboxProcessor()
	ctx := context.Background()
	assert.True(t, p.Sandbox())

	res, err := p.CreateIntent(ctx, domain.IntentRequest{BookingID: "b1", Amount: 4400, Sequence: 2})
	require.NoError(t, err)
	assert.Equal(t, "pi_mock_b1_2", res.ID)
	assert.Equal(t, "pi_mock_b1_2_secret_mock", res.ClientSecret)

	res, err = p.CreateIntent(ctx, domain.IntentRequest{BookingID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, "pi_mock_b1_1", res.ID)

	status, err := p.RetrieveIntent(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusPending, status)

	refundID, err := p.CreateRefund(ctx, "pi_mock_b1_1", 1000, "client request")
	require.NoError(t, err)
	assert.Equal(t, "re_mock_pi_mock_b1_1", refundID)
}

func TestChargeStatus(t *testing.T) {
	tests := map[string]domain.IntentStatus{
		"successful": domain.IntentStatusSucceeded,
		"failed":     domain.IntentStatusFailed,
		"expired":    domain.IntentStatusFailed,
		"reversed":   domain.IntentStatusFailed,
		"pending":    domain.IntentStatusPending,
		"":           domain.IntentStatusPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, chargeStatus(in), in)
	}
}

func TestCall(t *testing.T) {
	t.Run("Returns", func(t *testing.T) {
		boom := errors.New("declined")
		assert.ErrorIs(t, call(context.Background(), time.Second, func() error { return boom }), boom)
		assert.NoError(t, call(context.Background(), 0, func() error { return nil }))
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		err := call(context.Background(), 20*time.Millisecond, func() error {
			<-release
			return nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Cancelled", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := call(ctx, time.Second, func() error {
			<-release
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewOmiseProcessor(t *testing.T) {
	logger := zerolog.Nop()
	p, err := NewOmiseProcessor(config.PaymentsConfig{
		OmisePublic: "pkey_test_123",
		OmiseSecret: "skey_test_123",
		SourceType:  "promptpay",
		Timeout:     time.Second,
	}, &logger)
	require.NoError(t, err)
	assert.False(t, p.Sandbox())

	_, err = NewOmiseProcessor(config.PaymentsConfig{}, &logger)
	assert.Error(t, err)
}

package payment

import (
	"context"
	"fmt"

	"chefbook/internal/domain"
)

// SandboxProcessor synthesizes deterministic intents when no processor is
// configured. Nothing leaves the process.
type SandboxProcessor struct{}

func NewSandboxProcessor() *SandboxProcessor {
	return &SandboxProcessor{}
}

func (SandboxProcessor) CreateIntent(_ context.Context, req domain.IntentRequest) (domain.IntentResult, error) {
	seq := req.Sequence
	if seq < 1 {
		seq = 1
	}
	id := fmt.Sprintf("pi_mock_%s_%d", req.BookingID, seq)
	return domain.IntentResult{ID: id, ClientSecret: id + "_secret_mock"}, nil
}

// RetrieveIntent always reports pending; sandbox outcomes come from the caller.
func (SandboxProcessor) RetrieveIntent(context.Context, string) (domain.IntentStatus, error) {
	return domain.IntentStatusPending, nil
}

func (SandboxProcessor) CreateRefund(_ context.Context, intentID string, _ int64, _ string) (string, error) {
	return "re_mock_" + intentID, nil
}

func (SandboxProcessor) Sandbox() bool { return true }

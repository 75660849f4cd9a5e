package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"chefbook/internal/domain"
)

// WebhookEvent is a processor callback reduced to what reconciliation needs.
type WebhookEvent struct {
	ID       string
	IntentID string
	Status   domain.IntentStatus
}

func (e WebhookEvent) dedupeKey() string {
	if e.ID != "" {
		return e.ID
	}
	return e.IntentID + ":" + string(e.Status)
}

type webhookBody struct {
	// normalized shape
	Type     string `json:"type"`
	IntentID string `json:"intent_id"`

	// omise shape
	ID   string `json:"id"`
	Key  string `json:"key"`
	Data *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// ParseWebhook accepts both {"type","intent_id"} bodies and omise event
// objects whose data is a charge.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var raw webhookBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookEvent{}, domain.Validationf("malformed webhook body")
	}

	if raw.Data != nil && raw.Data.ID != "" {
		if !strings.HasPrefix(raw.Key, "charge.") {
			return WebhookEvent{}, domain.Validationf("unsupported webhook event %q", raw.Key)
		}
		var status domain.IntentStatus
		switch raw.Data.Status {
		case "successful":
			status = domain.IntentStatusSucceeded
		case "failed", "expired", "reversed":
			status = domain.IntentStatusFailed
		default:
			status = domain.IntentStatusPending
		}
		return WebhookEvent{ID: raw.ID, IntentID: raw.Data.ID, Status: status}, nil
	}

	if raw.IntentID == "" {
		return WebhookEvent{}, domain.Validationf("webhook is missing the intent id")
	}
	event := WebhookEvent{ID: raw.ID, IntentID: raw.IntentID}
	switch raw.Type {
	case "payment_succeeded":
		event.Status = domain.IntentStatusSucceeded
	case "payment_failed":
		event.Status = domain.IntentStatusFailed
	default:
		return WebhookEvent{}, domain.Validationf("unsupported webhook type %q", raw.Type)
	}
	return event, nil
}

// SignWebhook returns the hex HMAC-SHA256 of body under secret.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature reports whether signature matches body.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}

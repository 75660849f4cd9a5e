package models

import "time"

// PaymentIntent is the local record of a processor-side payment attempt.
type PaymentIntent struct {
	ID           string    `json:"id"`
	BookingID    string    `json:"booking_id"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	ClientSecret string    `json:"client_secret"`
	Sandbox      bool      `json:"sandbox"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Reconciliation issue kinds.
const (
	IssuePersistAfterPayment    = "persist_after_payment"
	IssuePersistAfterRefund     = "persist_after_refund"
	IssuePaymentOnClosedBooking = "payment_on_closed_booking"
)

const (
	IssueOpen         = "open"
	IssueAcknowledged = "acknowledged"
)

// ReconciliationIssue is an operator task raised when money moved but local
// state could not follow.
type ReconciliationIssue struct {
	ID        int64     `json:"id"`
	BookingID string    `json:"booking_id"`
	IntentID  string    `json:"intent_id"`
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount"`
	Detail    string    `json:"detail"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

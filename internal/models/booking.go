package models

import (
	"fmt"
	"time"
)

type Booking struct {
	ID             string        `json:"id"`
	ClientID       string        `json:"client_id"`
	ProviderID     string        `json:"provider_id"`
	ServiceType    string        `json:"service_type"`
	Event          EventDetails  `json:"event"`
	Pricing        Pricing       `json:"pricing"`
	Payment        Payment       `json:"payment"`
	Status         string        `json:"status"` // pending, confirmed, in_progress, completed, cancelled, disputed
	Timeline       Timeline      `json:"timeline"`
	ClientReview   *Review       `json:"client_review,omitempty"`
	ProviderReview *Review       `json:"provider_review,omitempty"`
	Cancellation   *Cancellation `json:"cancellation,omitempty"`
	Invoice        *Invoice      `json:"invoice,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Version        int64         `json:"version"`
}

type EventDetails struct {
	Date          time.Time `json:"date"`
	StartTime     string    `json:"start_time"`
	DurationHours int       `json:"duration_hours"`
	GuestCount    int       `json:"guest_count"`
	Category      string    `json:"category"`
}

// Pricing is the binding quote in minor currency units.
type Pricing struct {
	BasePrice   int64 `json:"base_price"`
	ServiceFee  int64 `json:"service_fee"`
	Taxes       int64 `json:"taxes"`
	Discount    int64 `json:"discount"`
	TotalAmount int64 `json:"total_amount"`
}

type Payment struct {
	Method        string     `json:"method"`
	Status        string     `json:"status"`
	Currency      string     `json:"currency"`
	DepositAmount int64      `json:"deposit_amount"`
	DepositPaidAt *time.Time `json:"deposit_paid_at,omitempty"`
	FullPaymentAt *time.Time `json:"full_payment_at,omitempty"`
	IntentID      string     `json:"intent_id,omitempty"`
	RefundAmount  int64      `json:"refund_amount"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
}

type Review struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type Cancellation struct {
	CancelledBy     string    `json:"cancelled_by"`
	CancelledByRole string    `json:"cancelled_by_role"`
	Reason          string    `json:"reason"`
	CancelledAt     time.Time `json:"cancelled_at"`
	RefundAmount    int64     `json:"refund_amount"`
}

type Invoice struct {
	Number     string    `json:"number"`
	IssuedAt   time.Time `json:"issued_at"`
	Subtotal   int64     `json:"subtotal"`
	ServiceFee int64     `json:"service_fee"`
	Taxes      int64     `json:"taxes"`
	Discount   int64     `json:"discount"`
	Total      int64     `json:"total"`
	AmountPaid int64     `json:"amount_paid"`
	AmountDue  int64     `json:"amount_due"`
}

// NewPricing computes the quote from a base price. Rates are in basis points.
func NewPricing(basePrice, discount int64, serviceFeeBps, taxBps int) Pricing {
	fee := basePrice * int64(serviceFeeBps) / BasisPoints
	taxes := basePrice * int64(taxBps) / BasisPoints
	return Pricing{
		BasePrice:   basePrice,
		ServiceFee:  fee,
		Taxes:       taxes,
		Discount:    discount,
		TotalAmount: basePrice + fee + taxes - discount,
	}
}

// DepositFor returns the upfront share of total for the given rate.
func DepositFor(total int64, depositBps int) int64 {
	return total * int64(depositBps) / BasisPoints
}

// IsParty reports whether userID is the client or the provider.
func (b *Booking) IsParty(userID string) bool {
	return userID != "" && (userID == b.ClientID || userID == b.ProviderID)
}

// Counterparty returns the other side of the booking for userID.
func (b *Booking) Counterparty(userID string) string {
	if userID == b.ClientID {
		return b.ProviderID
	}
	return b.ClientID
}

// PaidAmount is what the client has paid so far.
func (b *Booking) PaidAmount() int64 {
	switch b.Payment.Status {
	case PaymentDepositPaid:
		return b.Payment.DepositAmount
	case PaymentFullyPaid:
		return b.Pricing.TotalAmount
	default:
		return 0
	}
}

// HasPaidIntent reports whether intentID is already recorded as paid.
func (b *Booking) HasPaidIntent(intentID string) bool {
	if b.Payment.IntentID != intentID {
		return false
	}
	switch b.Payment.Status {
	case PaymentDepositPaid, PaymentFullyPaid, PaymentRefunded:
		return true
	}
	return false
}

// BuildInvoice produces the invoice issued when the booking completes.
func (b *Booking) BuildInvoice(now time.Time) *Invoice {
	paid := b.PaidAmount()
	if b.Payment.Status == PaymentRefunded {
		paid = b.Payment.DepositAmount - b.Payment.RefundAmount
		if paid < 0 {
			paid = 0
		}
	}
	short := b.ID
	if len(short) > 8 {
		short = short[:8]
	}
	due := b.Pricing.TotalAmount - paid
	if due < 0 {
		due = 0
	}
	return &Invoice{
		Number:     fmt.Sprintf("INV-%s-%s", now.Format("20060102"), short),
		IssuedAt:   now,
		Subtotal:   b.Pricing.BasePrice,
		ServiceFee: b.Pricing.ServiceFee,
		Taxes:      b.Pricing.Taxes,
		Discount:   b.Pricing.Discount,
		Total:      b.Pricing.TotalAmount,
		AmountPaid: paid,
		AmountDue:  due,
	}
}

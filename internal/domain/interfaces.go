package domain

import (
	"context"
	"time"

	"chefbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BookingFilter selects bookings for scheduled jobs. Empty fields are ignored.
// Dates are inclusive and formatted as models.DateLayout.
type BookingFilter struct {
	Statuses            []string
	PaymentStatus       string
	EventDateFrom       string
	EventDateTo         string
	StatusChangedFrom   time.Time
	StatusChangedBefore time.Time
	WithoutClientReview bool
	Limit               int
}

type BookingRepository interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	// UpdateBooking writes every mutable field with a version check and
	// appends pending timeline entries in the same transaction.
	UpdateBooking(ctx context.Context, booking *models.Booking) error
	ListBookings(ctx context.Context, filter BookingFilter) ([]*models.Booking, error)
}

type PaymentRepository interface {
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	GetActiveIntent(ctx context.Context, bookingID string) (*models.PaymentIntent, error)
	CountIntents(ctx context.Context, bookingID string) (int, error)
	AttachPaymentIntent(ctx context.Context, booking *models.Booking, intent *models.PaymentIntent) error
	SaveIntent(ctx context.Context, intent *models.PaymentIntent) error
	UpdateIntentStatus(ctx context.Context, id, status string) error
	// ApplyPaymentResult updates the booking and the intent status atomically.
	ApplyPaymentResult(ctx context.Context, booking *models.Booking, intentID, intentStatus string) error
}

type IssueRepository interface {
	CreateReconciliationIssue(ctx context.Context, issue *models.ReconciliationIssue) error
	ListReconciliationIssues(ctx context.Context, status string) ([]*models.ReconciliationIssue, error)
	AcknowledgeIssue(ctx context.Context, id int64) error
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	MarkChannelSent(ctx context.Context, id, channel string) error
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) error
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error)
	HasRecentNotification(ctx context.Context, notifType, bookingID, recipientID string, since time.Time) (bool, error)
}

type ContactRepository interface {
	UpsertContact(ctx context.Context, c *models.Contact) error
	GetContact(ctx context.Context, userID string) (*models.Contact, error)
}

type OutboxRepository interface {
	CreateOutboxEvent(ctx context.Context, ev *models.OutboxEvent) error
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	UpdateOutboxEventStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// NotificationRequest is the input of Notifier.Dispatch.
type NotificationRequest struct {
	RecipientID string
	SenderID    string
	Type        string
	Title       string
	Message     string
	Data        map[string]any
	BookingID   string
	Channels    []string
	Priority    string
	DedupeKey   string
}

type Notifier interface {
	Dispatch(ctx context.Context, req NotificationRequest) (*models.Notification, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type Clock interface {
	Now() time.Time
}

// IntentRequest asks the processor for a new payment intent. Amount is in
// minor currency units. Sequence is the 1-based attempt number for the booking.
type IntentRequest struct {
	BookingID string
	Amount    int64
	Currency  string
	Sequence  int
	Metadata  map[string]any
}

type IntentResult struct {
	ID           string
	ClientSecret string
}

// IntentStatus is the processor-side state of an intent.
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusFailed    IntentStatus = "failed"
)

type PaymentProcessor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResult, error)
	RetrieveIntent(ctx context.Context, intentID string) (IntentStatus, error)
	CreateRefund(ctx context.Context, intentID string, amount int64, reason string) (string, error)
	// Sandbox reports whether intents are synthesized locally.
	Sandbox() bool
}

// LeaseStore hands out TTL-bound exclusive keys.
type LeaseStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type PushPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) (string, error)
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

package models

import "time"

// Notification types.
const (
	NotifyBookingCreated       = "booking_created"
	NotifyBookingStatusChanged = "booking_status_changed"
	NotifyPaymentReceived      = "payment_received"
	NotifyPaymentFailed        = "payment_failed"
	NotifyRefundIssued         = "refund_issued"
	NotifyBookingReminder      = "booking_reminder"
	NotifyReviewRequest        = "review_request"
	NotifyPaymentReminder      = "payment_reminder"
	NotifyDisputeResolved      = "dispute_resolved"
)

// Delivery channels.
const (
	ChannelInApp    = "in_app"
	ChannelPush     = "push"
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

var notificationTypes = map[string]bool{
	NotifyBookingCreated:       true,
	NotifyBookingStatusChanged: true,
	NotifyPaymentReceived:      true,
	NotifyPaymentFailed:        true,
	NotifyRefundIssued:         true,
	NotifyBookingReminder:      true,
	NotifyReviewRequest:        true,
	NotifyPaymentReminder:      true,
	NotifyDisputeResolved:      true,
}

func IsValidNotificationType(t string) bool {
	return notificationTypes[t]
}

func IsValidChannel(c string) bool {
	switch c {
	case ChannelInApp, ChannelPush, ChannelEmail, ChannelTelegram:
		return true
	}
	return false
}

func IsValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

type Notification struct {
	ID           string          `json:"id"`
	RecipientID  string          `json:"recipient_id"`
	SenderID     string          `json:"sender_id,omitempty"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Data         map[string]any  `json:"data,omitempty"`
	BookingID    string          `json:"booking_id,omitempty"`
	Read         bool            `json:"read"`
	ReadAt       *time.Time      `json:"read_at,omitempty"`
	Priority     string          `json:"priority"`
	Channels     []string        `json:"channels"`
	SentChannels map[string]bool `json:"sent_channels"`
	DedupeKey    string          `json:"-"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Contact holds delivery addresses for a user.
type Contact struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	TelegramChatID int64     `json:"telegram_chat_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

package notify

import (
	"context"
	"errors"
	"fmt"

	"chefbook/internal/domain"
	"chefbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// PushChannel publishes to the recipient's redis Pub/Sub channel.
type PushChannel struct {
	publisher domain.PushPublisher
}

func NewPushChannel(publisher domain.PushPublisher) *PushChannel {
	return &PushChannel{publisher: publisher}
}

func (c *PushChannel) Name() string { return models.ChannelPush }

func PushTopic(userID string) string {
	return "notifications:user:" + userID
}

func (c *PushChannel) Deliver(ctx context.Context, n *models.Notification) error {
	return c.publisher.Publish(ctx, PushTopic(n.RecipientID), map[string]any{
		"event":        n.Type,
		"notification": n,
	})
}

// EmailChannel renders a template and sends it to the contact's address.
type EmailChannel struct {
	contacts  domain.ContactRepository
	sender    domain.EmailSender
	templates *Templates
	retries   int
	logger    *zerolog.Logger
}

func NewEmailChannel(contacts domain.ContactRepository, sender domain.EmailSender, templates *Templates, retries int, logger *zerolog.Logger) *EmailChannel {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EmailChannel{
		contacts:  contacts,
		sender:    sender,
		templates: templates,
		retries:   retries,
		logger:    logger,
	}
}

func (c *EmailChannel) Name() string { return models.ChannelEmail }

func (c *EmailChannel) Deliver(ctx context.Context, n *models.Notification) error {
	contact, err := lookupContact(ctx, c.contacts, n.RecipientID)
	if err != nil {
		return err
	}
	if contact.Email == "" {
		return ErrNoAddress
	}

	subject, body, err := c.templates.Render(n)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		id, sendErr := c.sender.Send(ctx, contact.Email, subject, body)
		if sendErr == nil {
			c.logger.Debug().Str("notification_id", n.ID).Str("message_id", id).Msg("email sent")
			return nil
		}
		if attempt >= c.retries || ctx.Err() != nil {
			return sendErr
		}
		c.logger.Warn().Err(sendErr).Str("notification_id", n.ID).Msg("email send failed, retrying")
	}
}

// TelegramChannel sends a plain text message to the contact's chat.
type TelegramChannel struct {
	contacts domain.ContactRepository
	bot      domain.TelegramSender
}

func NewTelegramChannel(contacts domain.ContactRepository, bot domain.TelegramSender) *TelegramChannel {
	return &TelegramChannel{contacts: contacts, bot: bot}
}

func (c *TelegramChannel) Name() string { return models.ChannelTelegram }

func (c *TelegramChannel) Deliver(ctx context.Context, n *models.Notification) error {
	contact, err := lookupContact(ctx, c.contacts, n.RecipientID)
	if err != nil {
		return err
	}
	if contact.TelegramChatID == 0 {
		return ErrNoAddress
	}

	text := n.Message
	if n.Title != "" {
		text = n.Title + "\n\n" + n.Message
	}
	msg := tgbotapi.NewMessage(contact.TelegramChatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func lookupContact(ctx context.Context, contacts domain.ContactRepository, userID string) (*models.Contact, error) {
	contact, err := contacts.GetContact(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrNoAddress
	}
	if err != nil {
		return nil, fmt.Errorf("lookup contact %s: %w", userID, err)
	}
	return contact, nil
}

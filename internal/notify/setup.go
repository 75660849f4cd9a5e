package notify

import (
	"context"
	"fmt"

	"chefbook/internal/config"
	"chefbook/internal/domain"
	"chefbook/internal/google"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ChannelsFromConfig builds the delivery channels that are configured. push
// may be nil when redis is unavailable.
func ChannelsFromConfig(ctx context.Context, cfg config.NotificationConfig, contacts domain.ContactRepository, push domain.PushPublisher, logger *zerolog.Logger) ([]Channel, error) {
	var channels []Channel

	if push != nil {
		channels = append(channels, NewPushChannel(push))
	}

	if cfg.GmailCredentials != "" && cfg.GmailSender != "" {
		templates, err := LoadTemplates(cfg.TemplatesDir)
		if err != nil {
			return nil, err
		}
		sender, err := google.NewGmailSender(ctx, cfg.GmailCredentials, cfg.GmailSender)
		if err != nil {
			return nil, fmt.Errorf("init gmail: %w", err)
		}
		channels = append(channels, NewEmailChannel(contacts, sender, templates, cfg.EmailRetries, logger))
	}

	if cfg.TelegramToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("init telegram bot: %w", err)
		}
		bot.Debug = cfg.TelegramDebug
		channels = append(channels, NewTelegramChannel(contacts, bot))
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	if logger != nil {
		logger.Info().Strs("channels", names).Msg("notification channels configured")
	}
	return channels, nil
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chefbook/internal/models"
	"chefbook/internal/repository"

	"github.com/alicebob/miniredis/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEmailSender struct {
	mock.Mock
}

func (m *mockEmailSender) Send(ctx context.Context, to, subject, htmlBody string) (string, error) {
	args := m.Called(ctx, to, subject, htmlBody)
	return args.String(0), args.Error(1)
}

type mockTelegram struct {
	mock.Mock
}

func (m *mockTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func testNotification() *models.Notification {
	return &models.Notification{
		ID:          "n1",
		RecipientID: "client-1",
		Type:        models.NotifyPaymentReceived,
		Title:       "Payment received",
		Message:     "Your deposit was received.",
		Data:        map[string]any{"amount": 4400, "currency": "eur"},
	}
}

func TestPushChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, PushTopic("client-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ch := NewPushChannel(repository.NewRedisPushPublisher(client))
	assert.Equal(t, models.ChannelPush, ch.Name())
	require.NoError(t, ch.Deliver(ctx, testNotification()))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var payload struct {
		Event        string              `json:"event"`
		Notification models.Notification `json:"notification"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
	assert.Equal(t, models.NotifyPaymentReceived, payload.Event)
	assert.Equal(t, "n1", payload.Notification.ID)
}

func TestEmailChannel(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertContact(ctx, &models.Contact{UserID: "client-1", Email: "client@example.com"}))
	require.NoError(t, store.UpsertContact(ctx, &models.Contact{UserID: "client-2", TelegramChatID: 42}))

	templates, err := LoadTemplates("")
	require.NoError(t, err)

	t.Run("SendsRenderedTemplate", func(t *testing.T) {
		sender := new(mockEmailSender)
		sender.On("Send", mock.Anything, "client@example.com", "Payment received",
			mock.MatchedBy(func(body string) bool { return strings.Contains(body, "4400 eur") })).
			Return("msg-1", nil).Once()

		ch := NewEmailChannel(store, sender, templates, 1, nil)
		require.NoError(t, ch.Deliver(ctx, testNotification()))
		sender.AssertExpectations(t)
	})

	t.Run("RetriesOnce", func(t *testing.T) {
		sender := new(mockEmailSender)
		sender.On("Send", mock.Anything, "client@example.com", mock.Anything, mock.Anything).
			Return("", errors.New("quota")).Twice()

		ch := NewEmailChannel(store, sender, templates, 1, nil)
		assert.Error(t, ch.Deliver(ctx, testNotification()))
		sender.AssertNumberOfCalls(t, "Send", 2)
	})

	t.Run("NoAddress", func(t *testing.T) {
		sender := new(mockEmailSender)
		ch := NewEmailChannel(store, sender, templates, 1, nil)

		n := testNotification()
		n.RecipientID = "client-2"
		assert.ErrorIs(t, ch.Deliver(ctx, n), ErrNoAddress)

		n.RecipientID = "unknown"
		assert.ErrorIs(t, ch.Deliver(ctx, n), ErrNoAddress)
		sender.AssertNotCalled(t, "Send")
	})
}

func TestTelegramChannel(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertContact(ctx, &models.Contact{UserID: "client-1", TelegramChatID: 42}))

	bot := new(mockTelegram)
	bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 42 && msg.Text == "Payment received\n\nYour deposit was received."
	})).Return(tgbotapi.Message{}, nil).Once()

	ch := NewTelegramChannel(store, bot)
	require.NoError(t, ch.Deliver(ctx, testNotification()))
	bot.AssertExpectations(t)

	n := testNotification()
	n.RecipientID = "nobody"
	assert.ErrorIs(t, ch.Deliver(ctx, n), ErrNoAddress)
}

func TestTemplates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, models.NotifyReviewRequest+".html"),
		[]byte(`<p>Rate {{.Data.provider}}</p>`), 0o644))

	templates, err := LoadTemplates(dir)
	require.NoError(t, err)

	subject, body, err := templates.Render(&models.Notification{
		Type: models.NotifyReviewRequest,
		Data: map[string]any{"provider": "Chef Anna"},
	})
	require.NoError(t, err)
	assert.Equal(t, "review request", subject)
	assert.Equal(t, "<p>Rate Chef Anna</p>", body)

	_, body, err = templates.Render(&models.Notification{Type: models.NotifyBookingCreated, Title: "Hi", Message: "<b>x</b>"})
	require.NoError(t, err)
	assert.Contains(t, body, "&lt;b&gt;x&lt;/b&gt;")

	_, err = LoadTemplates(filepath.Join(dir, "missing"))
	assert.NoError(t, err)
}

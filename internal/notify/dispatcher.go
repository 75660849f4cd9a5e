package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/metrics"
	"chefbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrNoAddress means the recipient cannot be reached on a channel. The
// delivery is skipped rather than failed.
var ErrNoAddress = errors.New("recipient has no address for channel")

// Channel delivers a persisted notification over one transport.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, n *models.Notification) error
}

type Store interface {
	domain.NotificationRepository
}

// Dispatcher persists notifications and fans them out to delivery channels.
type Dispatcher struct {
	store    Store
	channels map[string]Channel
	timeout  time.Duration
	logger   *zerolog.Logger
	now      func() time.Time
	inflight sync.WaitGroup
}

func NewDispatcher(store Store, timeout time.Duration, logger *zerolog.Logger, channels ...Channel) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	d := &Dispatcher{
		store:    store,
		channels: make(map[string]Channel, len(channels)),
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
	}
	return d
}

// Dispatch validates and stores the notification, then delivers it in the
// background. The stored record is returned whatever the delivery outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.NotificationRequest) (*models.Notification, error) {
	n, err := d.build(req)
	if err != nil {
		return nil, err
	}

	if err := d.store.CreateNotification(ctx, n); err != nil {
		if errors.Is(err, domain.ErrDuplicateNotification) {
			return nil, err
		}
		return nil, fmt.Errorf("store notification: %w", err)
	}

	var remote []string
	for _, ch := range n.Channels {
		if ch == models.ChannelInApp {
			if d.markSent(ctx, n, ch) {
				n.SentChannels[ch] = true
			}
			metrics.IncNotification(ch, nil)
			continue
		}
		remote = append(remote, ch)
	}

	if len(remote) > 0 {
		snapshot := *n
		snapshot.SentChannels = nil
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			d.deliver(&snapshot, remote)
		}()
	}

	return n, nil
}

func (d *Dispatcher) build(req domain.NotificationRequest) (*models.Notification, error) {
	if req.RecipientID == "" {
		return nil, domain.Validationf("recipient is required")
	}
	if !models.IsValidNotificationType(req.Type) {
		return nil, domain.Validationf("unknown notification type %q", req.Type)
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !models.IsValidPriority(priority) {
		return nil, domain.Validationf("unknown priority %q", req.Priority)
	}

	channels := req.Channels
	if len(channels) == 0 {
		channels = []string{models.ChannelInApp}
	}
	seen := make(map[string]bool, len(channels))
	unique := make([]string, 0, len(channels))
	for _, ch := range channels {
		if !models.IsValidChannel(ch) {
			return nil, domain.Validationf("unknown channel %q", ch)
		}
		if !seen[ch] {
			seen[ch] = true
			unique = append(unique, ch)
		}
	}

	return &models.Notification{
		ID:           uuid.NewString(),
		RecipientID:  req.RecipientID,
		SenderID:     req.SenderID,
		Type:         req.Type,
		Title:        req.Title,
		Message:      req.Message,
		Data:         req.Data,
		BookingID:    req.BookingID,
		Priority:     priority,
		Channels:     unique,
		SentChannels: map[string]bool{},
		DedupeKey:    req.DedupeKey,
		CreatedAt:    d.now().UTC(),
	}, nil
}

func (d *Dispatcher) deliver(n *models.Notification, channels []string) {
	log := d.logger.With().Str("notification_id", n.ID).Str("type", n.Type).Str("recipient_id", n.RecipientID).Logger()

	var g errgroup.Group
	for _, name := range channels {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			ch, ok := d.channels[name]
			if !ok {
				log.Warn().Str("channel", name).Msg("channel not configured, skipping")
				metrics.IncNotification(name, ErrNoAddress)
				return nil
			}

			err := ch.Deliver(ctx, n)
			switch {
			case errors.Is(err, ErrNoAddress):
				log.Warn().Str("channel", name).Msg("recipient unreachable on channel, skipping")
			case err != nil:
				log.Error().Err(err).Str("channel", name).Msg("notification delivery failed")
			default:
				d.markSent(ctx, n, name)
			}
			metrics.IncNotification(name, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) markSent(ctx context.Context, n *models.Notification, channel string) bool {
	if err := d.store.MarkChannelSent(ctx, n.ID, channel); err != nil {
		d.logger.Error().Err(err).Str("notification_id", n.ID).Str("channel", channel).Msg("mark channel sent")
		return false
	}
	return true
}

// Wait blocks until background deliveries finish.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*models.Notification, error) {
	if recipientID == "" {
		return nil, domain.Validationf("recipient is required")
	}
	return d.store.ListNotifications(ctx, recipientID, unreadOnly, limit)
}

func (d *Dispatcher) MarkRead(ctx context.Context, id, recipientID string) error {
	return d.store.MarkRead(ctx, id, recipientID, d.now())
}

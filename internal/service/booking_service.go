package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/events"
	"chefbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingStore is the persistence BookingService needs.
type BookingStore interface {
	domain.BookingRepository
	domain.ContactRepository
}

type BookingService struct {
	repo    BookingStore
	effects effects
	opts    Options
	now     func() time.Time
	logger  *zerolog.Logger
}

func NewBookingService(repo BookingStore, notifier domain.Notifier, publisher domain.EventPublisher, opts Options, logger *zerolog.Logger) *BookingService {
	fx := newEffects(notifier, publisher, logger)
	return &BookingService{
		repo:    repo,
		effects: fx,
		opts:    opts.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  fx.logger,
	}
}

// CreateBookingInput is a client's booking request. Money is in minor units.
type CreateBookingInput struct {
	ProviderID    string `json:"provider_id"`
	ServiceType   string `json:"service_type"`
	EventDate     string `json:"event_date"`
	StartTime     string `json:"start_time"`
	DurationHours int    `json:"duration_hours"`
	GuestCount    int    `json:"guest_count"`
	Category      string `json:"category"`
	BasePrice     int64  `json:"base_price"`
	Discount      int64  `json:"discount"`
	PaymentMethod string `json:"payment_method"`
}

func (s *BookingService) validateInput(in CreateBookingInput, clientID string, now time.Time) (time.Time, error) {
	if in.ProviderID == "" {
		return time.Time{}, domain.Validationf("provider is required")
	}
	if in.ProviderID == clientID {
		return time.Time{}, domain.Validationf("provider and client must differ")
	}
	if !models.IsValidServiceType(in.ServiceType) {
		return time.Time{}, domain.Validationf("unknown service type %q", in.ServiceType)
	}

	date, err := time.Parse(models.DateLayout, in.EventDate)
	if err != nil {
		return time.Time{}, domain.Validationf("event date %q must be YYYY-MM-DD", in.EventDate)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if date.Before(today) {
		return time.Time{}, domain.Validationf("event date %s is in the past", in.EventDate)
	}
	if date.After(today.AddDate(0, 0, s.opts.MaxBookingDays)) {
		return time.Time{}, domain.Validationf("event date %s is more than %d days ahead", in.EventDate, s.opts.MaxBookingDays)
	}

	if _, err := time.Parse(models.TimeLayout, in.StartTime); err != nil {
		return time.Time{}, domain.Validationf("start time %q must be HH:MM", in.StartTime)
	}
	if in.GuestCount < 1 || in.GuestCount > models.MaxGuestCount {
		return time.Time{}, domain.Validationf("guest count must be between 1 and %d", models.MaxGuestCount)
	}
	if in.DurationHours < 1 || in.DurationHours > models.MaxDurationHours {
		return time.Time{}, domain.Validationf("duration must be between 1 and %d hours", models.MaxDurationHours)
	}
	if in.BasePrice <= 0 {
		return time.Time{}, domain.Validationf("base price must be positive")
	}
	if in.Discount < 0 {
		return time.Time{}, domain.Validationf("discount cannot be negative")
	}
	return date, nil
}

// CreateBooking opens a pending booking for the acting client.
func (s *BookingService) CreateBooking(ctx context.Context, in CreateBookingInput, actor models.Actor) (*models.Booking, error) {
	if actor.Role != models.RoleClient || actor.ID == "" {
		return nil, domain.Unauthorizedf("only clients can create bookings")
	}

	now := s.now()
	date, err := s.validateInput(in, actor.ID, now)
	if err != nil {
		return nil, err
	}

	pricing := models.NewPricing(in.BasePrice, 0, int(s.opts.ServiceFeeBps), int(s.opts.TaxBps))
	if in.Discount > pricing.TotalAmount {
		return nil, domain.Validationf("discount %d exceeds the gross amount %d", in.Discount, pricing.TotalAmount)
	}
	pricing = models.NewPricing(in.BasePrice, in.Discount, int(s.opts.ServiceFeeBps), int(s.opts.TaxBps))

	b := &models.Booking{
		ID:          uuid.NewString(),
		ClientID:    actor.ID,
		ProviderID:  in.ProviderID,
		ServiceType: in.ServiceType,
		Event: models.EventDetails{
			Date:          date,
			StartTime:     in.StartTime,
			DurationHours: in.DurationHours,
			GuestCount:    in.GuestCount,
			Category:      in.Category,
		},
		Pricing: pricing,
		Payment: models.Payment{
			Method:        in.PaymentMethod,
			Status:        models.PaymentPending,
			Currency:      s.opts.Currency,
			DepositAmount: models.DepositFor(pricing.TotalAmount, int(s.opts.DepositBps)),
		},
		Status:    models.StatusPending,
		CreatedAt: now,
	}
	b.Timeline.Append(models.TimelineEntry{
		Status:    models.StatusPending,
		At:        now,
		Note:      "Booking created",
		ActorID:   actor.ID,
		ActorRole: models.RoleClient,
	})

	if err := s.repo.CreateBooking(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("actor_id", actor.ID).
		Int64("total", b.Pricing.TotalAmount).
		Msg("booking created")

	s.effects.notify(ctx, domain.NotificationRequest{
		RecipientID: b.ProviderID,
		SenderID:    b.ClientID,
		Type:        models.NotifyBookingCreated,
		Title:       "New booking request",
		Message:     fmt.Sprintf("New %s request for %s with %d guests.", statusLabel(b.ServiceType), eventDate(b), b.Event.GuestCount),
		Data:        map[string]any{"booking_id": b.ID, "event_date": eventDate(b), "guest_count": b.Event.GuestCount},
		BookingID:   b.ID,
	})

	payload := bookingPayload(b)
	payload.Amount = b.Pricing.TotalAmount
	payload.ActorID = actor.ID
	payload.ActorRole = models.RoleClient
	payload.OccurredAt = now
	s.effects.publish(events.EventBookingCreated, payload)

	return b, nil
}

// GetBooking returns the booking to one of its parties or an admin.
func (s *BookingService) GetBooking(ctx context.Context, id string, actor models.Actor) (*models.Booking, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !b.IsParty(actor.ID) {
		return nil, domain.Unauthorizedf("actor %q may not view booking %s", actor.ID, id)
	}
	return b, nil
}

// SubmitReview stores the actor's review of a completed booking. Each party
// reviews once.
func (s *BookingService) SubmitReview(ctx context.Context, bookingID string, actor models.Actor, rating int, comment string) (*models.Booking, error) {
	if rating < 1 || rating > 5 {
		return nil, domain.Validationf("rating must be between 1 and 5")
	}

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	role, err := actorRole(b, actor)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusCompleted {
		return nil, domain.Validationf("only completed bookings can be reviewed")
	}

	review := &models.Review{Rating: rating, Comment: strings.TrimSpace(comment), CreatedAt: s.now()}
	switch role {
	case models.RoleClient:
		if b.ClientReview != nil {
			return nil, domain.Validationf("client already reviewed booking %s", b.ID)
		}
		b.ClientReview = review
	case models.RoleProvider:
		if b.ProviderReview != nil {
			return nil, domain.Validationf("provider already reviewed booking %s", b.ID)
		}
		b.ProviderReview = review
	default:
		return nil, domain.Unauthorizedf("only the client or the provider can review")
	}

	if err := s.repo.UpdateBooking(ctx, b); err != nil {
		return nil, err
	}

	payload := bookingPayload(b)
	payload.ActorID = actor.ID
	payload.ActorRole = role
	payload.Note = fmt.Sprintf("rating %d", rating)
	s.effects.publish(events.EventReviewSubmitted, payload)

	return b, nil
}

// UpsertContact stores delivery addresses. Users manage their own; admins
// manage anyone's.
func (s *BookingService) UpsertContact(ctx context.Context, c *models.Contact, actor models.Actor) error {
	if c.UserID == "" {
		return domain.Validationf("user id is required")
	}
	if !actor.IsAdmin() && actor.ID != c.UserID {
		return domain.Unauthorizedf("actor %q may not edit contacts of %s", actor.ID, c.UserID)
	}
	c.Email = strings.TrimSpace(c.Email)
	if c.Email != "" {
		addr, err := mail.ParseAddress(c.Email)
		if err != nil {
			return domain.Validationf("invalid email %q", c.Email)
		}
		c.Email = addr.Address
	}
	return s.repo.UpsertContact(ctx, c)
}

package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"chefbook/internal/domain"
	"chefbook/internal/events"
	"chefbook/internal/metrics"
	"chefbook/internal/models"
)

// transitions is the booking lifecycle graph. Edges out of disputed are only
// taken by dispute resolution.
var transitions = map[string][]string{
	models.StatusPending:    {models.StatusConfirmed, models.StatusCancelled, models.StatusDisputed},
	models.StatusConfirmed:  {models.StatusInProgress, models.StatusCancelled, models.StatusDisputed},
	models.StatusInProgress: {models.StatusCompleted, models.StatusCancelled, models.StatusDisputed},
	models.StatusDisputed:   {models.StatusCompleted, models.StatusCancelled},
}

// roleRules lists the non-admin roles allowed to move a booking into a status.
var roleRules = map[string][]string{
	models.StatusConfirmed:  {models.RoleProvider, models.RoleSystem},
	models.StatusInProgress: {models.RoleProvider},
	models.StatusCompleted:  {models.RoleProvider, models.RoleClient},
	models.StatusCancelled:  {models.RoleClient, models.RoleProvider},
	models.StatusDisputed:   {models.RoleClient, models.RoleProvider},
}

func canTransition(from, to string) bool {
	return slices.Contains(transitions[from], to)
}

// actorRole resolves the role an actor holds on the booking.
func actorRole(b *models.Booking, actor models.Actor) (string, error) {
	switch {
	case actor.Role == models.RoleAdmin:
		return models.RoleAdmin, nil
	case actor.Role == models.RoleSystem:
		return models.RoleSystem, nil
	case actor.ID != "" && actor.ID == b.ClientID && (actor.Role == "" || actor.Role == models.RoleClient):
		return models.RoleClient, nil
	case actor.ID != "" && actor.ID == b.ProviderID && (actor.Role == "" || actor.Role == models.RoleProvider):
		return models.RoleProvider, nil
	}
	return "", domain.Unauthorizedf("actor %q is not a party to booking %s", actor.ID, b.ID)
}

func checkRole(role, from, to string) error {
	if role == models.RoleAdmin {
		return nil
	}
	if !slices.Contains(roleRules[to], role) {
		return domain.Unauthorizedf("%s may not move a booking from %s to %s", role, from, to)
	}
	return nil
}

// applyTransition mutates the booking into status to and records the change.
// It does not check the graph.
func applyTransition(b *models.Booking, to string, actor models.Actor, role, note string, now time.Time) {
	if note == "" {
		note = "Booking " + statusLabel(to)
	}
	b.Status = to
	b.Timeline.Append(models.TimelineEntry{
		Status:    to,
		At:        now,
		Note:      note,
		ActorID:   actor.ID,
		ActorRole: role,
	})

	switch to {
	case models.StatusCancelled:
		if b.Cancellation == nil {
			b.Cancellation = &models.Cancellation{
				CancelledBy:     actor.ID,
				CancelledByRole: role,
				Reason:          note,
				CancelledAt:     now,
			}
		}
	case models.StatusCompleted:
		b.Invoice = b.BuildInvoice(now)
	}
}

// Transition moves a booking along the lifecycle graph on behalf of actor.
// A lost version race returns domain.ErrConcurrentModification; callers
// re-read and decide again.
func (s *BookingService) Transition(ctx context.Context, bookingID, target string, actor models.Actor, note string) (*models.Booking, error) {
	if !models.IsValidStatus(target) {
		return nil, domain.Validationf("unknown booking status %q", target)
	}

	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	role, err := actorRole(b, actor)
	if err != nil {
		return nil, err
	}

	from := b.Status
	if from == models.StatusDisputed || !canTransition(from, target) {
		return nil, domain.InvalidTransitionf(from, target)
	}
	if err := checkRole(role, from, target); err != nil {
		return nil, err
	}

	applyTransition(b, target, actor, role, note, s.now())
	if err := s.repo.UpdateBooking(ctx, b); err != nil {
		return nil, err
	}
	metrics.IncTransition(from, target)

	s.logger.Info().
		Str("booking_id", b.ID).
		Str("actor_id", actor.ID).
		Str("from", from).
		Str("to", target).
		Msg("booking transitioned")

	s.afterTransition(ctx, b, from, actor, role)
	return b, nil
}

func (s *BookingService) afterTransition(ctx context.Context, b *models.Booking, from string, actor models.Actor, role string) {
	last, _ := b.Timeline.Last()
	for _, recipient := range transitionRecipients(b, actor, role) {
		s.effects.notify(ctx, domain.NotificationRequest{
			RecipientID: recipient,
			SenderID:    actor.ID,
			Type:        models.NotifyBookingStatusChanged,
			Title:       "Booking " + statusLabel(b.Status),
			Message:     fmt.Sprintf("Your booking for %s is now %s. %s", eventDate(b), statusLabel(b.Status), last.Note),
			Data:        map[string]any{"booking_id": b.ID, "from": from, "status": b.Status},
			BookingID:   b.ID,
		})
	}

	payload := bookingPayload(b)
	payload.From = from
	payload.ActorID = actor.ID
	payload.ActorRole = role
	payload.Note = last.Note
	payload.OccurredAt = last.At
	s.effects.publish(events.EventBookingStatusChanged, payload)
}

// transitionRecipients returns the counterparty of a party actor, or both
// parties when an admin or the system acted.
func transitionRecipients(b *models.Booking, actor models.Actor, role string) []string {
	switch role {
	case models.RoleClient, models.RoleProvider:
		return []string{b.Counterparty(actor.ID)}
	}
	return []string{b.ClientID, b.ProviderID}
}

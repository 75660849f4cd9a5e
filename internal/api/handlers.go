package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"chefbook/internal/domain"
	"chefbook/internal/models"
	"chefbook/internal/service"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
	headerSignature = "X-Webhook-Signature"

	maxWebhookBody       = 1 << 20
	defaultNotifications = 50
	maxNotifications     = 200
)

type actorCtxKey struct{}

// requireActor reads the identity set by the upstream gateway. The internal
// system role is never accepted from outside.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := models.Actor{
			ID:   strings.TrimSpace(r.Header.Get(headerActorID)),
			Role: strings.ToLower(strings.TrimSpace(r.Header.Get(headerActorRole))),
		}
		if actor.ID == "" || actor.Role == "" {
			writeError(w, http.StatusUnauthorized, "missing actor headers")
			return
		}
		switch actor.Role {
		case models.RoleClient, models.RoleProvider, models.RoleAdmin:
		default:
			writeError(w, http.StatusForbidden, "role not allowed")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorCtxKey{}, actor)))
	})
}

func actorFrom(r *http.Request) models.Actor {
	actor, _ := r.Context().Value(actorCtxKey{}).(models.Actor)
	return actor
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.Validationf("invalid JSON body")
	}
	return nil
}

// writeDomainError maps core error kinds to HTTP statuses. Processor and
// partial failures get fixed messages so internals never reach the client.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.Kind(err)
	switch kind {
	case domain.ErrValidation:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case domain.ErrUnauthorized:
		writeError(w, http.StatusForbidden, err.Error())
		return
	case domain.ErrNotFound:
		writeError(w, http.StatusNotFound, err.Error())
		return
	case domain.ErrInvalidTransition, domain.ErrConcurrentModification:
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	log := s.log.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
	switch kind {
	case domain.ErrPaymentProcessor:
		log.Warn().Err(err).Msg("payment processor call failed")
		writeError(w, http.StatusBadGateway, "payment could not be processed, no charge was made")
	case domain.ErrPartialFailure:
		log.Error().Err(err).Str("detail", strings.Join(errors.GetAllDetails(err), "; ")).Msg("partial failure")
		writeError(w, http.StatusInternalServerError, "action may have partially completed, support has been notified")
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var in service.CreateBookingInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.svc.Bookings.CreateBooking(r.Context(), in, actorFrom(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Bookings.GetBooking(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.svc.Bookings.Transition(r.Context(), chi.URLParam(r, "id"), body.Status, actorFrom(r), body.Note)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleReview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.svc.Bookings.SubmitReview(r.Context(), chi.URLParam(r, "id"), actorFrom(r), body.Rating, body.Comment)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleDepositIntent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int64 `json:"amount"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			s.writeDomainError(w, r, err)
			return
		}
	}
	intent, err := s.svc.Payments.CreateDepositIntent(r.Context(), chi.URLParam(r, "id"), body.Amount, actorFrom(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

func (s *HTTPServer) handleDepositConfirmation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IntentID string `json:"intent_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if body.IntentID == "" {
		s.writeDomainError(w, r, domain.Validationf("intent_id is required"))
		return
	}

	bookingID := chi.URLParam(r, "id")
	if _, err := s.svc.Bookings.GetBooking(r.Context(), bookingID, actorFrom(r)); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.svc.Payments.ConfirmDeposit(r.Context(), body.IntentID, bookingID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleRefund(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.svc.Payments.Refund(r.Context(), chi.URLParam(r, "id"), body.Amount, body.Reason, actorFrom(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleDisputeResolution(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Outcome      string `json:"outcome"`
		RefundAmount int64  `json:"refund_amount"`
		Note         string `json:"note"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.svc.Disputes.ResolveDispute(r.Context(), service.Resolution{
		BookingID:    chi.URLParam(r, "id"),
		Outcome:      body.Outcome,
		RefundAmount: body.RefundAmount,
		Note:         body.Note,
		Actor:        actorFrom(r),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unread, _ := strconv.ParseBool(q.Get("unread"))
	limit := defaultNotifications
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeDomainError(w, r, domain.Validationf("limit must be a positive integer"))
			return
		}
		limit = min(n, maxNotifications)
	}

	list, err := s.svc.Notifications.ListNotifications(r.Context(), actorFrom(r).ID, unread, limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Notifications.MarkRead(r.Context(), chi.URLParam(r, "id"), actorFrom(r).ID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleUpsertContact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email          string `json:"email"`
		TelegramChatID int64  `json:"telegram_chat_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	c := &models.Contact{
		UserID:         chi.URLParam(r, "userID"),
		Email:          body.Email,
		TelegramChatID: body.TelegramChatID,
	}
	if err := s.svc.Bookings.UpsertContact(r.Context(), c, actorFrom(r)); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleWebhook is reachable without an API key; the HMAC signature is the
// only authentication.
func (s *HTTPServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if s.cfg.WebhookSecret != "" && !service.VerifyWebhookSignature(s.cfg.WebhookSecret, body, r.Header.Get(headerSignature)) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	event, err := service.ParseWebhook(body)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	b, err := s.svc.Payments.HandleWebhook(r.Context(), event)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := map[string]string{"status": "ignored"}
	if b != nil {
		resp = map[string]string{"status": "processed", "booking_id": b.ID, "booking_status": b.Status}
	}
	writeJSON(w, http.StatusOK, resp)
}

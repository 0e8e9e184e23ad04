// internal/adapters/http_server/handlers.go
package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"tourbook/internal/adapters/payments"
	"tourbook/internal/app"
	"tourbook/internal/domain"
)

const (
	maxBodyBytes    = 64 << 10
	maxWebhookBytes = 512 << 10
)

type Handlers struct {
	Bookings      *app.BookingLifecycleManager
	Payments      *app.PaymentReconciler
	Tickets       *app.TicketValidationService
	Geo           *app.GeoAssignmentEngine
	MeetingPoints domain.MeetingPointRepository
	Webhooks      *payments.Verifier
	Auth          *Authenticator
	VerifyLimit   *IPRateLimiter
}

type problem struct {
	Type      string              `json:"type"`
	Title     string              `json:"title"`
	Status    int                 `json:"status"`
	Detail    string              `json:"detail,omitempty"`
	ErrorKind string              `json:"errorKind,omitempty"`
	Errors    map[string][]string `json:"errors,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1", func(r chi.Router) {
		r.Post("/bookings", h.createBooking)
		r.With(h.VerifyLimit.Middleware).Post("/bookings/verify", h.verifyBooking)
		r.Post("/bookings/{id}/cancel", h.cancelBooking)

		r.With(h.Auth.RequireRole(RoleGuide, RoleAdmin)).Post("/tickets/validate", h.validateTicket)

		r.Post("/webhooks/payments", h.paymentWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.Auth.RequireRole(RoleAdmin))
			r.Post("/meeting-points/assign", h.assignMeetingPoints)
			r.Post("/meeting-points/backfill", h.backfillMeetingPoints)
		})
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblemBody(w, problem{Type: "about:blank", Title: title, Status: status, Detail: detail})
}

func writeProblemBody(w http.ResponseWriter, p problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// statusFor maps a domain error onto its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDeadlineExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrExternal):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError renders err as problem+json. Internal and external failures
// keep their detail in the log only.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	p := problem{
		Type:      "about:blank",
		Title:     http.StatusText(status),
		Status:    status,
		ErrorKind: domain.KindOf(err),
	}
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		p.Detail = "request is invalid"
		p.Errors = ve.Fields()
	case errors.Is(err, domain.ErrNotFound):
		p.Detail = "not found"
	case status >= 500:
		log.Error().Err(err).Str("route", routeOf(r)).Msg("request failed")
	default:
		p.Detail = err.Error()
	}
	writeProblemBody(w, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		v := domain.NewValidationError()
		v.Add("body", "invalid JSON")
		return v
	}
	return nil
}

func (h *Handlers) createBooking(w http.ResponseWriter, r *http.Request) {
	var in app.CreateBookingInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.Bookings.CreatePendingBooking(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/bookings/"+id)
	writeJSON(w, http.StatusCreated, map[string]string{"bookingId": id})
}

type verifyRequest struct {
	BookingID string `json:"bookingId"`
	Email     string `json:"email"`
}

func (h *Handlers) verifyBooking(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.Bookings.VerifyBooking(r.Context(), strings.TrimSpace(req.BookingID), req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bookings.CancelBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bookingId":    b.ID,
		"status":       string(b.Status),
		"ticketStatus": string(b.TicketStatus),
	})
}

type ticketResult struct {
	Success   bool            `json:"success"`
	ErrorKind string          `json:"errorKind,omitempty"`
	Booking   *domain.Booking `json:"booking,omitempty"`
}

func (h *Handlers) validateTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingID string `json:"bookingId"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.BookingID) == "" {
		v := domain.NewValidationError()
		v.Add("bookingId", "required")
		writeError(w, r, v)
		return
	}
	b, err := h.Tickets.ValidateTicket(r.Context(), req.BookingID)
	switch {
	case err == nil:
		if c, ok := ClaimsFrom(r.Context()); ok {
			log.Info().Str("booking_id", b.ID).Str("guide", c.Subject).Msg("ticket redeemed")
		}
		writeJSON(w, http.StatusOK, ticketResult{Success: true, Booking: &b})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, ticketResult{Success: false, ErrorKind: domain.KindOf(err)})
	default:
		writeError(w, r, err)
	}
}

// paymentWebhook acknowledges anything the provider must not resend: handled
// events, duplicates, ignored types and payments that lost to another intent.
// Only retryable failures answer 503 so the provider redelivers.
func (h *Handlers) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeProblem(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "body too large")
		return
	}
	if err := h.Webhooks.Verify(payload, r.Header.Get(payments.SignatureHeader)); err != nil {
		log.Warn().Err(err).Str("remote", clientIP(r)).Msg("webhook signature rejected")
		writeError(w, r, err)
		return
	}
	ev, err := payments.DecodeEvent(payload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.Payments.Handle(r.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyConfirmed):
		log.Warn().Err(err).Str("event_id", ev.ID).Str("intent_id", ev.IntentID).Msg("payment for already confirmed booking")
		out = app.Outcome(domain.KindAlreadyConfirmed)
	case errors.Is(err, domain.ErrExternal):
		writeError(w, r, err)
		return
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotFound):
		// Redelivery cannot fix the event as sent.
		log.Error().Err(err).Str("event_id", ev.ID).Msg("payment event rejected")
		p := problem{Type: "about:blank", Title: "Bad Request", Status: http.StatusBadRequest, Detail: err.Error(), ErrorKind: domain.KindOf(err)}
		writeProblemBody(w, p)
		return
	default:
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": out})
}

func (h *Handlers) assignMeetingPoints(w http.ResponseWriter, r *http.Request) {
	res, err := h.Geo.Run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) backfillMeetingPoints(w http.ResponseWriter, r *http.Request) {
	res, err := app.BackfillMeetingPointCoordinates(r.Context(), h.MeetingPoints, log.Logger)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

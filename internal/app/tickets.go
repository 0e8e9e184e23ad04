package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"tourbook/internal/adapters/observability"
	"tourbook/internal/domain"
)

type TicketValidationService struct {
	bookings domain.BookingRepository
	now      func() time.Time
	log      zerolog.Logger
}

func NewTicketValidationService(b domain.BookingRepository, now func() time.Time, log zerolog.Logger) *TicketValidationService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TicketValidationService{bookings: b, now: now, log: log}
}

// ValidateTicket redeems a valid ticket exactly once. Concurrent scans of
// the same ticket race on a conditional write and only one wins.
func (s *TicketValidationService) ValidateTicket(ctx context.Context, id string) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "TicketValidationService.ValidateTicket")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))

	b, err := s.bookings.GetBooking(ctx, id)
	if err != nil {
		s.observe(err)
		return domain.Booking{}, fmt.Errorf("load booking %s: %w", id, err)
	}
	if err := ticketConflict(b.TicketStatus); err != nil {
		s.observe(err)
		return domain.Booking{}, err
	}

	now := s.now()
	ok, err := s.bookings.RedeemTicket(ctx, id, now)
	if err != nil {
		s.observe(err)
		return domain.Booking{}, fmt.Errorf("redeem ticket %s: %w", id, err)
	}
	if !ok {
		// Lost the race. Re-read so the caller learns which way it went.
		cur, err := s.bookings.GetBooking(ctx, id)
		if err != nil {
			s.observe(err)
			return domain.Booking{}, fmt.Errorf("reload booking %s: %w", id, err)
		}
		err = ticketConflict(cur.TicketStatus)
		if err == nil {
			err = domain.ErrAlreadyRedeemed
		}
		s.observe(err)
		return domain.Booking{}, err
	}

	b.TicketStatus = domain.TicketRedeemed
	b.RedeemedAt = &now
	b.UpdatedAt = now
	s.observe(nil)
	s.log.Info().Str("booking_id", id).Msg("ticket redeemed")
	return b, nil
}

func ticketConflict(st domain.TicketStatus) error {
	switch st {
	case domain.TicketRedeemed:
		return domain.ErrAlreadyRedeemed
	case domain.TicketExpired:
		return domain.ErrTicketExpired
	}
	return nil
}

func (s *TicketValidationService) observe(err error) {
	outcome := "redeemed"
	if err != nil {
		outcome = domain.KindOf(err)
	}
	observability.ObserveTicket(outcome)
}

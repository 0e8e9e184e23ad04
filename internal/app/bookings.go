package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"tourbook/internal/adapters/observability"
	"tourbook/internal/domain"
)

// CancellationWindow is the minimum lead time before the tour start. A
// booking exactly this far out may still be cancelled.
const CancellationWindow = 24 * time.Hour

type tourReader interface {
	GetTour(ctx context.Context, id string) (domain.Tour, error)
}

type CreateBookingInput struct {
	TourID         string          `json:"tourId"`
	UserID         string          `json:"userId"`
	Date           string          `json:"date"`
	Adults         int             `json:"adults"`
	Children       int             `json:"children"`
	Infants        int             `json:"infants"`
	Language       string          `json:"language"`
	HotelID        *string         `json:"hotelId,omitempty"`
	MeetingPointID string          `json:"meetingPointId"`
	PaymentType    string          `json:"paymentType"`
	Customer       domain.Customer `json:"customer"`
	// ClientTotal is accepted for diagnostics only and never stored.
	ClientTotal *float64 `json:"totalPrice,omitempty"`
}

type BookingManagerDeps struct {
	Tours         tourReader
	Hotels        domain.HotelRepository
	MeetingPoints domain.MeetingPointRepository
	Bookings      domain.BookingRepository
	Events        domain.EventPublisher
	Refunds       domain.RefundRequester
	Now           func() time.Time
}

type BookingLifecycleManager struct {
	tours    tourReader
	hotels   domain.HotelRepository
	points   domain.MeetingPointRepository
	bookings domain.BookingRepository
	events   domain.EventPublisher
	refunds  domain.RefundRequester
	now      func() time.Time
	log      zerolog.Logger
}

func NewBookingLifecycleManager(d BookingManagerDeps, log zerolog.Logger) *BookingLifecycleManager {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &BookingLifecycleManager{
		tours:    d.Tours,
		hotels:   d.Hotels,
		points:   d.MeetingPoints,
		bookings: d.Bookings,
		events:   d.Events,
		refunds:  d.Refunds,
		now:      now,
		log:      log,
	}
}

// ParseBookingDate accepts an RFC 3339 instant or a bare YYYY-MM-DD day,
// which is read as midnight UTC.
func ParseBookingDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.New("date must be RFC 3339 or YYYY-MM-DD")
	}
	return t.UTC(), nil
}

// validate checks shape only; callers add context-specific rules before
// calling OrNil on the result.
func (in CreateBookingInput) validate() (time.Time, domain.PaymentType, *domain.ValidationError) {
	v := domain.NewValidationError()
	if strings.TrimSpace(in.TourID) == "" {
		v.Add("tourId", "required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		v.Add("userId", "required")
	}
	if strings.TrimSpace(in.MeetingPointID) == "" {
		v.Add("meetingPointId", "required")
	}
	if in.Adults < 1 {
		v.Add("adults", "at least one adult is required")
	}
	if in.Children < 0 {
		v.Add("children", "must not be negative")
	}
	if in.Infants < 0 {
		v.Add("infants", "must not be negative")
	}
	if _, err := mail.ParseAddress(in.Customer.Email); err != nil {
		v.Add("customer.email", "provide a valid email")
	}
	pt, err := domain.ParsePaymentType(in.PaymentType)
	if err != nil {
		v.Add("paymentType", "must be full or deposit")
	}
	date, err := ParseBookingDate(in.Date)
	if err != nil {
		v.Add("date", err.Error())
	}
	return date, pt, v
}

// CreatePendingBooking stores a new pending booking priced from the tour.
func (m *BookingLifecycleManager) CreatePendingBooking(ctx context.Context, in CreateBookingInput) (string, error) {
	ctx, span := tracer.Start(ctx, "BookingLifecycleManager.CreatePendingBooking")
	defer span.End()

	now := m.now()
	date, paymentType, v := in.validate()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if !date.IsZero() && date.Before(today) {
		v.Add("date", "must not be in the past")
	}
	if err := v.OrNil(); err != nil {
		return "", err
	}

	tour, err := m.tours.GetTour(ctx, in.TourID)
	if err != nil {
		return "", fmt.Errorf("load tour %s: %w", in.TourID, err)
	}
	if !tour.Published {
		return "", fmt.Errorf("tour %s is not published: %w", in.TourID, domain.ErrNotFound)
	}
	if !tour.AvailableOn(date) {
		v := domain.NewValidationError()
		v.Add("date", "tour does not run on this date")
		return "", v
	}

	mp, err := m.points.GetMeetingPoint(ctx, in.MeetingPointID)
	if err != nil {
		return "", fmt.Errorf("load meeting point %s: %w", in.MeetingPointID, err)
	}

	var hotelID, hotelName *string
	if in.HotelID != nil && strings.TrimSpace(*in.HotelID) != "" {
		h, err := m.hotels.GetHotel(ctx, *in.HotelID)
		if err != nil {
			return "", fmt.Errorf("load hotel %s: %w", *in.HotelID, err)
		}
		id, name := h.ID, h.Name
		hotelID, hotelName = &id, &name
	}

	quote := PriceBooking(tour, in.Adults, in.Children)
	if in.ClientTotal != nil && math.Abs(*in.ClientTotal-quote.Total) > 0.005 {
		m.log.Warn().
			Str("tour_id", tour.ID).
			Float64("client_total", *in.ClientTotal).
			Float64("server_total", quote.Total).
			Msg("client total ignored")
	}

	b := domain.Booking{
		ID:               uuid.NewString(),
		TourID:           tour.ID,
		UserID:           in.UserID,
		Date:             date,
		Adults:           in.Adults,
		Children:         in.Children,
		Infants:          in.Infants,
		Language:         in.Language,
		HotelID:          hotelID,
		HotelName:        hotelName,
		MeetingPointID:   mp.ID,
		MeetingPointName: mp.Name,
		TotalPrice:       quote.Total,
		AmountPaid:       0,
		AmountDue:        quote.Total,
		Status:           domain.BookingPending,
		TicketStatus:     domain.TicketValid,
		Customer:         normalizeCustomer(in.Customer),
		PaymentType:      paymentType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.bookings.CreateBooking(ctx, b); err != nil {
		return "", fmt.Errorf("store booking: %w", err)
	}

	span.SetAttributes(attribute.String("booking.id", b.ID))
	observability.ObserveBooking("created")
	m.log.Info().Str("booking_id", b.ID).Str("tour_id", b.TourID).Float64("total", b.TotalPrice).Msg("pending booking created")
	return b.ID, nil
}

// CancelBooking cancels a booking at least CancellationWindow before its
// tour date and expires its ticket. Refunds are handed off after commit.
func (m *BookingLifecycleManager) CancelBooking(ctx context.Context, id string) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "BookingLifecycleManager.CancelBooking")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", id))

	b, err := m.bookings.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("load booking %s: %w", id, err)
	}
	if b.Status == domain.BookingCancelled {
		return domain.Booking{}, domain.ErrAlreadyCancelled
	}
	now := m.now()
	if b.Date.Sub(now) < CancellationWindow {
		return domain.Booking{}, fmt.Errorf("tour starts at %s: %w", b.Date.Format(time.RFC3339), domain.ErrDeadlineExceeded)
	}

	cancelled, err := m.bookings.CancelBooking(ctx, id, now)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("cancel booking %s: %w", id, err)
	}
	observability.ObserveBooking("cancelled")
	m.log.Info().Str("booking_id", id).Msg("booking cancelled")

	if m.refunds != nil {
		if err := m.refunds.RequestRefund(ctx, cancelled); err != nil {
			observability.ObserveBooking("refund_request_failed")
			m.log.Error().Str("booking_id", id).Err(err).Msg("refund hand-off failed")
		}
	}
	publishBookingEvent(ctx, m.events, m.log, domain.EventBookingCancelled, cancelled, now)
	return cancelled, nil
}

// VerifyBooking returns the booking only to someone who knows its id and
// customer email. A wrong email and an unknown id are indistinguishable.
func (m *BookingLifecycleManager) VerifyBooking(ctx context.Context, id, email string) (domain.Booking, error) {
	ctx, span := tracer.Start(ctx, "BookingLifecycleManager.VerifyBooking")
	defer span.End()

	b, err := m.bookings.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Booking{}, domain.ErrNotFound
		}
		return domain.Booking{}, fmt.Errorf("load booking: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(b.Customer.Email), strings.TrimSpace(email)) {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (m *BookingLifecycleManager) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	return m.bookings.GetBooking(ctx, id)
}

func normalizeCustomer(c domain.Customer) domain.Customer {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	return c
}

func publishBookingEvent(ctx context.Context, pub domain.EventPublisher, log zerolog.Logger, key string, b domain.Booking, at time.Time) {
	if pub == nil {
		return
	}
	evt := domain.BookingEvent{Event: key, Version: 1, OccurredAt: at, Booking: b}
	if err := pub.PublishJSON(ctx, key, evt); err != nil {
		log.Error().Str("booking_id", b.ID).Str("event", key).Err(err).Msg("publish booking event failed")
	}
}

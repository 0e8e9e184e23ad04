package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"tourbook/internal/adapters/observability"
	"tourbook/internal/domain"
)

// intentNamespace seeds the deterministic booking id for intents that carry
// no booking id, so every redelivery targets the same booking row.
var intentNamespace = uuid.MustParse("5d3c9a0e-6c4b-4a8e-9a34-3f1f0e2d7b61")

type Outcome string

const (
	OutcomeCreated             Outcome = "created"
	OutcomePromoted            Outcome = "promoted"
	OutcomeDuplicate           Outcome = "duplicate"
	OutcomeRecordedOnCancelled Outcome = "recorded_on_cancelled"
	OutcomeFailureRecorded     Outcome = "failure_recorded"
	OutcomeIgnored             Outcome = "ignored"
)

type PaymentReconcilerDeps struct {
	Tours         tourReader
	Hotels        domain.HotelRepository
	MeetingPoints domain.MeetingPointRepository
	Bookings      domain.BookingRepository
	Payments      domain.PaymentRepository
	Events        domain.EventPublisher
	Now           func() time.Time
}

type PaymentReconciler struct {
	tours    tourReader
	hotels   domain.HotelRepository
	points   domain.MeetingPointRepository
	bookings domain.BookingRepository
	payments domain.PaymentRepository
	events   domain.EventPublisher
	now      func() time.Time
	log      zerolog.Logger
}

func NewPaymentReconciler(d PaymentReconcilerDeps, log zerolog.Logger) *PaymentReconciler {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &PaymentReconciler{
		tours:    d.Tours,
		hotels:   d.Hotels,
		points:   d.MeetingPoints,
		bookings: d.Bookings,
		payments: d.Payments,
		events:   d.Events,
		now:      now,
		log:      log,
	}
}

// Handle dispatches a verified provider event. Unknown types are
// acknowledged without action.
func (r *PaymentReconciler) Handle(ctx context.Context, ev domain.PaymentEvent) (Outcome, error) {
	var (
		out   Outcome
		err   error
		label = ev.Type
	)
	switch ev.Type {
	case domain.EventPaymentSucceeded:
		out, err = r.HandlePaymentSucceeded(ctx, ev)
	case domain.EventPaymentFailed:
		out, err = r.HandlePaymentFailed(ctx, ev)
	default:
		r.log.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Msg("payment event ignored")
		out, label = OutcomeIgnored, "other"
	}
	outcome := string(out)
	if err != nil {
		outcome = domain.KindOf(err)
	}
	observability.ObservePaymentEvent(label, outcome)
	return out, err
}

// HandlePaymentSucceeded confirms the booking behind a payment intent and
// records its payment exactly once, however many times the event arrives.
func (r *PaymentReconciler) HandlePaymentSucceeded(ctx context.Context, ev domain.PaymentEvent) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "PaymentReconciler.HandlePaymentSucceeded")
	defer span.End()
	span.SetAttributes(attribute.String("payment.intent_id", ev.IntentID))

	if strings.TrimSpace(ev.IntentID) == "" {
		v := domain.NewValidationError()
		v.Add("data.object.id", "payment intent id is required")
		return "", v
	}

	// Fast path for replays. The unique intent id in the store is what
	// actually guards concurrent deliveries.
	if _, err := r.payments.GetPaymentByIntent(ctx, ev.IntentID); err == nil {
		r.log.Info().Str("intent_id", ev.IntentID).Msg("payment already reconciled")
		return OutcomeDuplicate, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("lookup payment: %w", err)
	}

	md := MapPaymentMetadata(ev.Metadata)
	bookingID := md.BookingID
	if bookingID == "" {
		bookingID = uuid.NewSHA1(intentNamespace, []byte(ev.IntentID)).String()
	}
	now := r.now()

	candidate, err := r.bookings.GetBooking(ctx, bookingID)
	switch {
	case err == nil:
		// existing row: the store promotes it if still pending
	case errors.Is(err, domain.ErrNotFound):
		candidate, err = r.buildConfirmedBooking(ctx, bookingID, md, ev, now)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("load booking %s: %w", bookingID, err)
	}

	payment := domain.Payment{
		ID:                      uuid.NewString(),
		BookingID:               bookingID,
		ProviderPaymentIntentID: ev.IntentID,
		Amount:                  ev.Amount,
		Currency:                strings.ToUpper(ev.Currency),
		Status:                  domain.PaymentSucceeded,
		CreatedAt:               now,
	}

	res, booking, err := r.payments.ConfirmBookingPayment(ctx, domain.ConfirmRequest{Booking: candidate, Payment: payment})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyConfirmed) {
			r.log.Warn().Str("intent_id", ev.IntentID).Str("booking_id", bookingID).Msg("booking already paid by another intent")
		}
		return "", fmt.Errorf("confirm booking %s: %w", bookingID, err)
	}

	log := r.log.With().Str("intent_id", ev.IntentID).Str("booking_id", bookingID).Logger()
	switch res {
	case domain.ConfirmDuplicate:
		log.Info().Msg("concurrent delivery already reconciled")
		return OutcomeDuplicate, nil
	case domain.ConfirmRecordedOnCancelled:
		log.Warn().Float64("amount", ev.Amount).Msg("payment recorded for cancelled booking")
		return OutcomeRecordedOnCancelled, nil
	case domain.ConfirmPromoted:
		observability.ObserveBooking("confirmed")
		log.Info().Float64("amount", ev.Amount).Msg("pending booking confirmed")
		publishBookingEvent(ctx, r.events, r.log, domain.EventBookingConfirmed, booking, now)
		return OutcomePromoted, nil
	default:
		observability.ObserveBooking("confirmed")
		log.Info().Float64("amount", ev.Amount).Msg("booking created from payment")
		publishBookingEvent(ctx, r.events, r.log, domain.EventBookingConfirmed, booking, now)
		return OutcomeCreated, nil
	}
}

// buildConfirmedBooking prices a booking from intent metadata. The payment
// has already been taken, so publication and availability are not
// re-checked; the total is still recomputed from the tour.
func (r *PaymentReconciler) buildConfirmedBooking(ctx context.Context, id string, md PaymentMetadata, ev domain.PaymentEvent, now time.Time) (domain.Booking, error) {
	in := md.BookingInput()
	date, paymentType, v := in.validate()
	if err := v.OrNil(); err != nil {
		return domain.Booking{}, err
	}

	tour, err := r.tours.GetTour(ctx, in.TourID)
	if err != nil {
		return domain.Booking{}, fmt.Errorf("load tour %s: %w", in.TourID, err)
	}
	quote := PriceBooking(tour, in.Adults, in.Children)
	if md.TotalPrice != nil && *md.TotalPrice != quote.Total {
		r.log.Warn().
			Str("intent_id", ev.IntentID).
			Float64("metadata_total", *md.TotalPrice).
			Float64("server_total", quote.Total).
			Msg("metadata total ignored")
	}

	b := domain.Booking{
		ID:             id,
		TourID:         tour.ID,
		UserID:         in.UserID,
		Date:           date,
		Adults:         in.Adults,
		Children:       in.Children,
		Infants:        in.Infants,
		Language:       in.Language,
		MeetingPointID: in.MeetingPointID,
		TotalPrice:     quote.Total,
		AmountPaid:     ev.Amount,
		AmountDue:      domain.AmountDue(quote.Total, ev.Amount),
		Status:         domain.BookingConfirmed,
		TicketStatus:   domain.TicketValid,
		Customer:       normalizeCustomer(in.Customer),
		PaymentType:    paymentType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if mp, err := r.points.GetMeetingPoint(ctx, in.MeetingPointID); err == nil {
		b.MeetingPointName = mp.Name
	} else if errors.Is(err, domain.ErrNotFound) {
		r.log.Warn().Str("intent_id", ev.IntentID).Str("meeting_point_id", in.MeetingPointID).Msg("meeting point in metadata not found")
	} else {
		return domain.Booking{}, fmt.Errorf("load meeting point: %w", err)
	}

	if in.HotelID != nil {
		hid := *in.HotelID
		b.HotelID = &hid
		if h, err := r.hotels.GetHotel(ctx, hid); err == nil {
			name := h.Name
			b.HotelName = &name
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.Booking{}, fmt.Errorf("load hotel: %w", err)
		}
	}

	if paymentType == domain.PaymentFull && ev.Amount+0.005 < quote.Total {
		r.log.Warn().Str("intent_id", ev.IntentID).Float64("amount", ev.Amount).Float64("total", quote.Total).Msg("full payment below booking total")
	}
	return b, nil
}

// HandlePaymentFailed only records the failure. Bookings are never touched
// here; a later successful attempt on the same intent can still confirm.
func (r *PaymentReconciler) HandlePaymentFailed(ctx context.Context, ev domain.PaymentEvent) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "PaymentReconciler.HandlePaymentFailed")
	defer span.End()

	md := MapPaymentMetadata(ev.Metadata)
	f := domain.PaymentFailure{
		IntentID:  ev.IntentID,
		EventID:   ev.ID,
		BookingID: md.BookingID,
		Code:      ev.FailureCode,
		Message:   ev.FailureMessage,
		SeenAt:    r.now(),
	}
	r.log.Warn().
		Str("intent_id", ev.IntentID).
		Str("booking_id", md.BookingID).
		Str("code", ev.FailureCode).
		Str("message", ev.FailureMessage).
		Msg("payment failed")
	if err := r.payments.LogPaymentFailure(ctx, f); err != nil {
		return "", fmt.Errorf("record payment failure: %w", err)
	}
	return OutcomeFailureRecorded, nil
}

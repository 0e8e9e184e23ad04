package domain

import (
	"context"
	"time"
)

type HotelRepository interface {
	ListHotels(ctx context.Context) ([]Hotel, error)
	GetHotel(ctx context.Context, id string) (Hotel, error)
	SetAssignedMeetingPoint(ctx context.Context, hotelID, meetingPointID string) error
	ClearAssignedMeetingPoint(ctx context.Context, hotelID string) error
}

type MeetingPointRepository interface {
	ListMeetingPoints(ctx context.Context) ([]MeetingPoint, error)
	GetMeetingPoint(ctx context.Context, id string) (MeetingPoint, error)
	SetMeetingPointCoords(ctx context.Context, id string, c Coords) error
}

type TourRepository interface {
	GetTour(ctx context.Context, id string) (Tour, error)
}

type BookingRepository interface {
	CreateBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	// CancelBooking moves a non-cancelled booking to cancelled (and a valid
	// ticket to expired) in one conditional write. Returns ErrNotFound or
	// ErrAlreadyCancelled when the precondition does not hold.
	CancelBooking(ctx context.Context, id string, at time.Time) (Booking, error)
	// RedeemTicket sets ticket_status=redeemed only while it is still valid.
	// ok is false when another writer got there first.
	RedeemTicket(ctx context.Context, id string, at time.Time) (ok bool, err error)
}

type ConfirmOutcome string

const (
	ConfirmCreated             ConfirmOutcome = "created"
	ConfirmPromoted            ConfirmOutcome = "promoted"
	ConfirmDuplicate           ConfirmOutcome = "duplicate"
	ConfirmRecordedOnCancelled ConfirmOutcome = "recorded_on_cancelled"
)

type ConfirmRequest struct {
	// Booking is inserted as confirmed when no row with its ID exists yet.
	// An existing pending row is promoted instead, keeping its own totals.
	Booking Booking
	Payment Payment
}

type PaymentRepository interface {
	GetPaymentByIntent(ctx context.Context, intentID string) (Payment, error)
	// ConfirmBookingPayment records the payment and confirms its booking as
	// one unit. The unique payment-intent id decides concurrent duplicates:
	// the loser gets ConfirmDuplicate and nothing is written.
	ConfirmBookingPayment(ctx context.Context, req ConfirmRequest) (ConfirmOutcome, Booking, error)
	LogPaymentFailure(ctx context.Context, f PaymentFailure) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// EventPublisher announces committed lifecycle transitions to other systems.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// RefundRequester is the hand-off point for refund execution after a
// cancellation. The core only guarantees the state transition.
type RefundRequester interface {
	RequestRefund(ctx context.Context, b Booking) error
}

const (
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
)

type BookingEvent struct {
	Event      string    `json:"event"`
	Version    int       `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
	Booking    Booking   `json:"booking"`
}

package domain

import (
	"fmt"
	"time"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type TicketStatus string

const (
	TicketValid    TicketStatus = "valid"
	TicketRedeemed TicketStatus = "redeemed"
	TicketExpired  TicketStatus = "expired"
)

type PaymentType string

const (
	PaymentFull    PaymentType = "full"
	PaymentDeposit PaymentType = "deposit"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

func ParseBookingStatus(s string) (BookingStatus, error) {
	switch st := BookingStatus(s); st {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown booking status %q", ErrMalformedRecord, s)
}

func ParseTicketStatus(s string) (TicketStatus, error) {
	switch st := TicketStatus(s); st {
	case TicketValid, TicketRedeemed, TicketExpired:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown ticket status %q", ErrMalformedRecord, s)
}

func ParsePaymentType(s string) (PaymentType, error) {
	switch pt := PaymentType(s); pt {
	case PaymentFull, PaymentDeposit:
		return pt, nil
	}
	return "", fmt.Errorf("%w: unknown payment type %q", ErrMalformedRecord, s)
}

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(s); st {
	case PaymentPending, PaymentSucceeded, PaymentFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", ErrMalformedRecord, s)
}

type AvailabilityPeriod struct {
	From     time.Time      `json:"from"`
	To       time.Time      `json:"to"`
	Weekdays []time.Weekday `json:"weekdays"`
}

// Covers reports whether the calendar day of t (UTC) lies inside the
// period, both ends inclusive, on one of the active weekdays. An empty
// weekday list means every day.
func (p AvailabilityPeriod) Covers(t time.Time) bool {
	day := truncateDay(t)
	if day.Before(truncateDay(p.From)) || day.After(truncateDay(p.To)) {
		return false
	}
	if len(p.Weekdays) == 0 {
		return true
	}
	for _, wd := range p.Weekdays {
		if wd == day.Weekday() {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type Tour struct {
	ID                  string               `json:"id"`
	Title               string               `json:"title"`
	Price               float64              `json:"price"`
	ChildPrice          float64              `json:"childPrice"`
	PromotionPercentage float64              `json:"promotionPercentage"`
	HasPromotion        bool                 `json:"hasPromotion"`
	DurationHours       float64              `json:"durationHours"`
	Availability        []AvailabilityPeriod `json:"availability"`
	Published           bool                 `json:"published"`
}

// AvailableOn is true when the tour has no periods configured or any
// period covers t.
func (t Tour) AvailableOn(at time.Time) bool {
	if len(t.Availability) == 0 {
		return true
	}
	for _, p := range t.Availability {
		if p.Covers(at) {
			return true
		}
	}
	return false
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Booking struct {
	ID               string        `json:"id"`
	TourID           string        `json:"tourId"`
	UserID           string        `json:"userId"`
	Date             time.Time     `json:"date"`
	Adults           int           `json:"adults"`
	Children         int           `json:"children"`
	Infants          int           `json:"infants"`
	Language         string        `json:"language,omitempty"`
	HotelID          *string       `json:"hotelId,omitempty"`
	HotelName        *string       `json:"hotelName,omitempty"`
	MeetingPointID   string        `json:"meetingPointId"`
	MeetingPointName string        `json:"meetingPointName"`
	TotalPrice       float64       `json:"totalPrice"`
	AmountPaid       float64       `json:"amountPaid"`
	AmountDue        float64       `json:"amountDue"`
	Status           BookingStatus `json:"status"`
	TicketStatus     TicketStatus  `json:"ticketStatus"`
	PaymentID        *string       `json:"paymentId,omitempty"`
	Customer         Customer      `json:"customer"`
	PaymentType      PaymentType   `json:"paymentType"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	CancelledAt      *time.Time    `json:"cancelledAt,omitempty"`
	RedeemedAt       *time.Time    `json:"redeemedAt,omitempty"`
}

type Payment struct {
	ID                      string
	BookingID               string
	ProviderPaymentIntentID string
	Amount                  float64
	Currency                string
	Status                  PaymentStatus
	CreatedAt               time.Time
}

type PaymentFailure struct {
	IntentID  string
	EventID   string
	BookingID string
	Code      string
	Message   string
	SeenAt    time.Time
}

// AmountDue is what remains after paid is collected, never negative.
func AmountDue(total, paid float64) float64 {
	if d := total - paid; d > 0 {
		return d
	}
	return 0
}

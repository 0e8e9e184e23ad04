// Package memory keeps every aggregate in process memory behind one mutex.
// It gives the same conditional-write guarantees as the MySQL store and is
// used by tests and by dev runs without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tourbook/internal/domain"
)

type Store struct {
	mu sync.Mutex

	hotels        map[string]domain.Hotel
	meetingPoints map[string]domain.MeetingPoint
	tours         map[string]domain.Tour
	bookings      map[string]domain.Booking
	payments      map[string]domain.Payment // by id
	intents       map[string]string         // intent id -> payment id
	byBooking     map[string]string         // booking id -> payment id
	failures      []domain.PaymentFailure

	// FailHotelWrites injects write failures per hotel id (tests only).
	FailHotelWrites map[string]error
}

func New() *Store {
	return &Store{
		hotels:        make(map[string]domain.Hotel),
		meetingPoints: make(map[string]domain.MeetingPoint),
		tours:         make(map[string]domain.Tour),
		bookings:      make(map[string]domain.Booking),
		payments:      make(map[string]domain.Payment),
		intents:       make(map[string]string),
		byBooking:     make(map[string]string),
	}
}

// ---- seeding ----

func (s *Store) PutHotel(h domain.Hotel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hotels[h.ID] = cloneHotel(h)
}

func (s *Store) PutMeetingPoint(m domain.MeetingPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetingPoints[m.ID] = m
}

func (s *Store) PutTour(t domain.Tour) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tours[t.ID] = t
}

// ---- hotels ----

func (s *Store) ListHotels(ctx context.Context) ([]domain.Hotel, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.External("list hotels", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Hotel, 0, len(s.hotels))
	for _, h := range s.hotels {
		out = append(out, cloneHotel(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetHotel(ctx context.Context, id string) (domain.Hotel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hotels[id]
	if !ok {
		return domain.Hotel{}, domain.ErrNotFound
	}
	return cloneHotel(h), nil
}

func (s *Store) SetAssignedMeetingPoint(ctx context.Context, hotelID, meetingPointID string) error {
	if err := ctx.Err(); err != nil {
		return domain.External("set assigned meeting point", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailHotelWrites[hotelID]; err != nil {
		return domain.External("set assigned meeting point", err)
	}
	h, ok := s.hotels[hotelID]
	if !ok {
		return domain.ErrNotFound
	}
	mp := meetingPointID
	h.AssignedMeetingPointID = &mp
	s.hotels[hotelID] = h
	return nil
}

func (s *Store) ClearAssignedMeetingPoint(ctx context.Context, hotelID string) error {
	if err := ctx.Err(); err != nil {
		return domain.External("clear assigned meeting point", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FailHotelWrites[hotelID]; err != nil {
		return domain.External("clear assigned meeting point", err)
	}
	h, ok := s.hotels[hotelID]
	if !ok {
		return domain.ErrNotFound
	}
	h.AssignedMeetingPointID = nil
	s.hotels[hotelID] = h
	return nil
}

// ---- meeting points ----

func (s *Store) ListMeetingPoints(ctx context.Context) ([]domain.MeetingPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.External("list meeting points", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MeetingPoint, 0, len(s.meetingPoints))
	for _, m := range s.meetingPoints {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetMeetingPoint(ctx context.Context, id string) (domain.MeetingPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetingPoints[id]
	if !ok {
		return domain.MeetingPoint{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *Store) SetMeetingPointCoords(ctx context.Context, id string, c domain.Coords) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetingPoints[id]
	if !ok {
		return domain.ErrNotFound
	}
	lat, lon := c.Lat, c.Lon
	m.Lat, m.Lon = &lat, &lon
	s.meetingPoints[id] = m
	return nil
}

// ---- tours ----

func (s *Store) GetTour(ctx context.Context, id string) (domain.Tour, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tours[id]
	if !ok {
		return domain.Tour{}, domain.ErrNotFound
	}
	return t, nil
}

// ---- bookings ----

func (s *Store) CreateBooking(ctx context.Context, b domain.Booking) error {
	if err := ctx.Err(); err != nil {
		return domain.External("create booking", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bookings[b.ID]; exists {
		return fmt.Errorf("%w: booking %s exists", domain.ErrConflict, b.ID)
	}
	s.bookings[b.ID] = b
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *Store) CancelBooking(ctx context.Context, id string, at time.Time) (domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return domain.Booking{}, domain.External("cancel booking", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	if b.Status == domain.BookingCancelled {
		return domain.Booking{}, domain.ErrAlreadyCancelled
	}
	b.Status = domain.BookingCancelled
	if b.TicketStatus == domain.TicketValid {
		b.TicketStatus = domain.TicketExpired
	}
	ts := at
	b.CancelledAt = &ts
	b.UpdatedAt = at
	s.bookings[id] = b
	return b, nil
}

func (s *Store) RedeemTicket(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.External("redeem ticket", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.TicketStatus != domain.TicketValid {
		return false, nil
	}
	b.TicketStatus = domain.TicketRedeemed
	ts := at
	b.RedeemedAt = &ts
	b.UpdatedAt = at
	s.bookings[id] = b
	return true, nil
}

// ---- payments ----

func (s *Store) GetPaymentByIntent(ctx context.Context, intentID string) (domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid, ok := s.intents[intentID]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return s.payments[pid], nil
}

func (s *Store) ConfirmBookingPayment(ctx context.Context, req domain.ConfirmRequest) (domain.ConfirmOutcome, domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.Booking{}, domain.External("confirm booking payment", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := req.Payment
	if pid, dup := s.intents[p.ProviderPaymentIntentID]; dup {
		return domain.ConfirmDuplicate, s.bookings[s.payments[pid].BookingID], nil
	}
	if _, taken := s.byBooking[p.BookingID]; taken {
		return "", domain.Booking{}, domain.ErrAlreadyConfirmed
	}

	var outcome domain.ConfirmOutcome
	b, exists := s.bookings[p.BookingID]
	switch {
	case !exists:
		b = req.Booking
		b.Status = domain.BookingConfirmed
		b.PaymentID = &p.ID
		outcome = domain.ConfirmCreated
	case b.Status == domain.BookingPending:
		b.Status = domain.BookingConfirmed
		b.AmountPaid = p.Amount
		b.AmountDue = domain.AmountDue(b.TotalPrice, p.Amount)
		b.PaymentID = &p.ID
		b.UpdatedAt = p.CreatedAt
		outcome = domain.ConfirmPromoted
	case b.Status == domain.BookingCancelled:
		outcome = domain.ConfirmRecordedOnCancelled
	default:
		return "", domain.Booking{}, domain.ErrAlreadyConfirmed
	}

	s.bookings[b.ID] = b
	s.payments[p.ID] = p
	s.intents[p.ProviderPaymentIntentID] = p.ID
	s.byBooking[p.BookingID] = p.ID
	return outcome, b, nil
}

func (s *Store) LogPaymentFailure(ctx context.Context, f domain.PaymentFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seen := range s.failures {
		if seen.IntentID == f.IntentID && seen.EventID == f.EventID {
			return nil
		}
	}
	s.failures = append(s.failures, f)
	return nil
}

// ---- test helpers ----

func (s *Store) CountBookings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookings)
}

func (s *Store) CountPayments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *Store) PaymentFailures() []domain.PaymentFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PaymentFailure(nil), s.failures...)
}

func cloneHotel(h domain.Hotel) domain.Hotel {
	if h.AssignedMeetingPointID != nil {
		v := *h.AssignedMeetingPointID
		h.AssignedMeetingPointID = &v
	}
	return h
}

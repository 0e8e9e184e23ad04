package app_test

import (
	"time"

	"github.com/rs/zerolog"

	"tourbook/internal/app"
	"tourbook/internal/domain"
	"tourbook/internal/storage/memory"
)

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func nopLog() zerolog.Logger { return zerolog.Nop() }

func ptr[T any](v T) *T { return &v }

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// seededStore holds one published tour, two meeting points and a hotel.
func seededStore() *memory.Store {
	s := memory.New()
	s.PutTour(domain.Tour{
		ID:                  "tour-1",
		Title:               "Caldera sunset",
		Price:               100,
		ChildPrice:          50,
		PromotionPercentage: 20,
		HasPromotion:        true,
		Published:           true,
	})
	s.PutTour(domain.Tour{ID: "tour-draft", Title: "Draft", Price: 10, Published: false})
	s.PutMeetingPoint(domain.MeetingPoint{ID: "mp-1", Name: "Fira bus station", Region: domain.RegionCentral, Lat: ptr(36.4166), Lon: ptr(25.4322)})
	s.PutMeetingPoint(domain.MeetingPoint{ID: "mp-2", Name: "Oia square", Region: domain.RegionNorth, Lat: ptr(36.4618), Lon: ptr(25.3753)})
	s.PutHotel(domain.Hotel{ID: "hotel-1", Name: "Aegean View", Region: domain.RegionCentral, Lat: ptr(36.42), Lon: ptr(25.43)})
	return s
}

func bookingInput() app.CreateBookingInput {
	return app.CreateBookingInput{
		TourID:         "tour-1",
		UserID:         "user-1",
		Date:           "2026-06-10",
		Adults:         2,
		Children:       1,
		MeetingPointID: "mp-1",
		PaymentType:    "full",
		Customer:       domain.Customer{Name: "Ana Silva", Email: "ana@example.com"},
	}
}

package app

import (
	"math"

	"tourbook/internal/domain"
)

type Quote struct {
	AdultUnit float64
	ChildUnit float64
	Total     float64
}

// UnitPrice applies the tour's promotion, if active, and rounds to whole
// currency units.
func UnitPrice(base float64, t domain.Tour) float64 {
	if t.HasPromotion && t.PromotionPercentage > 0 {
		return math.Round(base * (1 - t.PromotionPercentage/100))
	}
	return base
}

// PriceBooking is the only source of a booking total. Infants travel free.
func PriceBooking(t domain.Tour, adults, children int) Quote {
	q := Quote{
		AdultUnit: UnitPrice(t.Price, t),
		ChildUnit: UnitPrice(t.ChildPrice, t),
	}
	q.Total = float64(adults)*q.AdultUnit + float64(children)*q.ChildUnit
	return q
}

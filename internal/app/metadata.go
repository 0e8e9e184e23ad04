package app

import (
	"strconv"
	"strings"

	"tourbook/internal/domain"
)

/********** alias registry (single source of truth) **********/

// Metadata is written at intent-creation time by more than one client
// generation, so both spellings are accepted.
var metadataAliases = map[string][]string{
	"bookingId":      {"bookingId", "booking_id"},
	"tourId":         {"tourId", "tour_id"},
	"userId":         {"userId", "user_id"},
	"bookingDate":    {"bookingDate", "booking_date", "date"},
	"adults":         {"adults", "adult_count", "adultCount"},
	"children":       {"children", "child_count", "childCount"},
	"infants":        {"infants", "infant_count", "infantCount"},
	"language":       {"language", "lang"},
	"hotelId":        {"hotelId", "hotel_id"},
	"meetingPointId": {"meetingPointId", "meeting_point_id"},
	"totalPrice":     {"totalPrice", "total_price", "total"},
	"paymentType":    {"paymentType", "payment_type"},
	"customerName":   {"customerName", "customer_name", "name"},
	"customerEmail":  {"customerEmail", "customer_email", "email"},
	"customerPhone":  {"customerPhone", "customer_phone", "phone"},
}

// PaymentMetadata is the typed view of the metadata bag on a payment intent.
type PaymentMetadata struct {
	BookingID      string
	TourID         string
	UserID         string
	BookingDate    string
	Adults         int
	Children       int
	Infants        int
	Language       string
	HotelID        *string
	MeetingPointID string
	TotalPrice     *float64
	PaymentType    string
	Customer       domain.Customer
}

func MapPaymentMetadata(m map[string]any) PaymentMetadata {
	return PaymentMetadata{
		BookingID:      aliasStr(m, "bookingId"),
		TourID:         aliasStr(m, "tourId"),
		UserID:         aliasStr(m, "userId"),
		BookingDate:    aliasStr(m, "bookingDate"),
		Adults:         aliasInt(m, "adults"),
		Children:       aliasInt(m, "children"),
		Infants:        aliasInt(m, "infants"),
		Language:       aliasStr(m, "language"),
		HotelID:        ptrStr(aliasStr(m, "hotelId")),
		MeetingPointID: aliasStr(m, "meetingPointId"),
		TotalPrice:     getFloatFlexible(m, metadataAliases["totalPrice"]...),
		PaymentType:    aliasStr(m, "paymentType"),
		Customer: domain.Customer{
			Name:  aliasStr(m, "customerName"),
			Email: aliasStr(m, "customerEmail"),
			Phone: aliasStr(m, "customerPhone"),
		},
	}
}

// BookingInput turns metadata into the same input a direct booking request
// carries, so both paths share validation and pricing.
func (md PaymentMetadata) BookingInput() CreateBookingInput {
	pt := md.PaymentType
	if pt == "" {
		pt = string(domain.PaymentFull)
	}
	return CreateBookingInput{
		TourID:         md.TourID,
		UserID:         md.UserID,
		Date:           md.BookingDate,
		Adults:         md.Adults,
		Children:       md.Children,
		Infants:        md.Infants,
		Language:       md.Language,
		HotelID:        md.HotelID,
		MeetingPointID: md.MeetingPointID,
		PaymentType:    pt,
		Customer:       md.Customer,
		ClientTotal:    md.TotalPrice,
	}
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// aliasStr: first non-empty string (or number rendered as text) for an alias set.
func aliasStr(m map[string]any, key string) string {
	for _, p := range metadataAliases[key] {
		switch v := lookupAny(m, p).(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func aliasInt(m map[string]any, key string) int {
	if n := firstInt64Flexible(m, metadataAliases[key]...); n != nil {
		return int(*n)
	}
	return 0
}

func ptrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// getFloatFlexible: number from several paths (float64/int/string like "8,0").
func getFloatFlexible(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// firstInt64Flexible: int64 from several paths (float64/int/string).
func firstInt64Flexible(m map[string]any, paths ...string) *int64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			x := int64(v)
			return &x
		case int:
			x := int64(v)
			return &x
		case int64:
			x := v
			return &x
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return &n
			}
		}
	}
	return nil
}

package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"tourbook/internal/adapters/observability"
	"tourbook/internal/domain"
)

const errDuplicateKey = 1062

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
func f64Ptr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// duplicateKey reports whether err is a unique violation on the named key.
func duplicateKey(err error, key string) bool {
	var me *driver.MySQLError
	if !errors.As(err, &me) || me.Number != errDuplicateKey {
		return false
	}
	return key == "" || strings.Contains(me.Message, key)
}

type scanner interface {
	Scan(dest ...any) error
}

// Repo implements every repository port on one *sql.DB.
type Repo struct {
	db      *sql.DB
	timeout time.Duration
}

func New(db *sql.DB) *Repo { return &Repo{db: db, timeout: 5 * time.Second} }

// NormalizeDSN forces the options the scanners depend on: DATETIME columns
// decode into time.Time and are read as UTC, whatever the operator passed.
func NormalizeDSN(dsn string) (string, error) {
	c, err := driver.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN(), nil
}

// Open normalizes dsn and opens a pool. It does not dial; ping to check.
func Open(dsn string) (*sql.DB, error) {
	norm, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	return sql.Open("mysql", norm)
}

// WithTimeout bounds every statement (or transaction) issued by the repo.
func (r *Repo) WithTimeout(d time.Duration) *Repo {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// call runs fn under the statement timeout, records it and tags driver
// failures as external. Domain sentinels pass through untouched.
func (r *Repo) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.ObserveExternal("mysql", op, status, time.Since(start))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrExternal):
		return err
	}
	return domain.External("mysql "+op, err)
}

// ---- hotels ----

func scanHotel(s scanner) (domain.Hotel, error) {
	var (
		h        domain.Hotel
		region   string
		lat, lon sql.NullFloat64
		assigned sql.NullString
	)
	if err := s.Scan(&h.ID, &h.Name, &h.Address, &region, &h.SubRegion, &lat, &lon, &assigned); err != nil {
		return domain.Hotel{}, err
	}
	// An unknown region is kept verbatim; the assignment engine reports it.
	if rg, err := domain.ParseRegion(region); err == nil {
		h.Region = rg
	} else {
		h.Region = domain.Region(region)
	}
	h.Lat, h.Lon = f64Ptr(lat), f64Ptr(lon)
	h.AssignedMeetingPointID = strPtr(assigned)
	return h, nil
}

func (r *Repo) ListHotels(ctx context.Context) ([]domain.Hotel, error) {
	var out []domain.Hotel
	err := r.call(ctx, "list_hotels", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, listHotelsSQL)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			h, err := scanHotel(rows)
			if err != nil {
				log.Warn().Err(err).Msg("hotel row quarantined")
				continue
			}
			out = append(out, h)
		}
		return rows.Err()
	})
	return out, err
}

func (r *Repo) GetHotel(ctx context.Context, id string) (domain.Hotel, error) {
	var h domain.Hotel
	err := r.call(ctx, "get_hotel", func(ctx context.Context) error {
		var err error
		h, err = scanHotel(r.db.QueryRowContext(ctx, getHotelSQL, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	return h, err
}

// SetAssignedMeetingPoint does not report a missing hotel: MySQL counts
// changed rows, so zero affected rows is ambiguous here.
func (r *Repo) SetAssignedMeetingPoint(ctx context.Context, hotelID, meetingPointID string) error {
	return r.call(ctx, "set_assigned_meeting_point", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, setAssignedMeetingPointSQL, meetingPointID, hotelID)
		return err
	})
}

func (r *Repo) ClearAssignedMeetingPoint(ctx context.Context, hotelID string) error {
	return r.call(ctx, "clear_assigned_meeting_point", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, clearAssignedMeetingPointSQL, hotelID)
		return err
	})
}

// ---- meeting points ----

func scanMeetingPoint(s scanner) (domain.MeetingPoint, error) {
	var (
		m        domain.MeetingPoint
		region   string
		lat, lon sql.NullFloat64
	)
	if err := s.Scan(&m.ID, &m.Name, &m.Address, &region, &m.GoogleMapsURL, &lat, &lon); err != nil {
		return domain.MeetingPoint{}, err
	}
	rg, err := domain.ParseRegion(region)
	if err != nil {
		return domain.MeetingPoint{}, fmt.Errorf("meeting point %s: %w", m.ID, err)
	}
	m.Region = rg
	m.Lat, m.Lon = f64Ptr(lat), f64Ptr(lon)
	return m, nil
}

// ListMeetingPoints skips rows with an unknown region so one bad row cannot
// route hotels to the wrong zone or block the rest.
func (r *Repo) ListMeetingPoints(ctx context.Context) ([]domain.MeetingPoint, error) {
	var out []domain.MeetingPoint
	err := r.call(ctx, "list_meeting_points", func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, listMeetingPointsSQL)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMeetingPoint(rows)
			if err != nil {
				log.Warn().Err(err).Msg("meeting point row quarantined")
				continue
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

func (r *Repo) GetMeetingPoint(ctx context.Context, id string) (domain.MeetingPoint, error) {
	var m domain.MeetingPoint
	err := r.call(ctx, "get_meeting_point", func(ctx context.Context) error {
		var err error
		m, err = scanMeetingPoint(r.db.QueryRowContext(ctx, getMeetingPointSQL, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	return m, err
}

func (r *Repo) SetMeetingPointCoords(ctx context.Context, id string, c domain.Coords) error {
	return r.call(ctx, "set_meeting_point_coords", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, setMeetingPointCoordsSQL, c.Lat, c.Lon, id)
		return err
	})
}

// ---- tours ----

type availabilityRow struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Weekdays []int  `json:"weekdays"`
}

// parseAvailability reads the JSON column: [{"from":"2026-05-01","to":"2026-10-31","weekdays":[1,3,5]}].
func parseAvailability(raw []byte) ([]domain.AvailabilityPeriod, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rows []availabilityRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: availability: %v", domain.ErrMalformedRecord, err)
	}
	out := make([]domain.AvailabilityPeriod, 0, len(rows))
	for _, ar := range rows {
		from, err1 := time.Parse(time.DateOnly, ar.From)
		to, err2 := time.Parse(time.DateOnly, ar.To)
		if err1 != nil || err2 != nil || to.Before(from) {
			return nil, fmt.Errorf("%w: availability period %q..%q", domain.ErrMalformedRecord, ar.From, ar.To)
		}
		p := domain.AvailabilityPeriod{From: from, To: to}
		for _, wd := range ar.Weekdays {
			if wd < 0 || wd > 6 {
				return nil, fmt.Errorf("%w: weekday %d", domain.ErrMalformedRecord, wd)
			}
			p.Weekdays = append(p.Weekdays, time.Weekday(wd))
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Repo) GetTour(ctx context.Context, id string) (domain.Tour, error) {
	var t domain.Tour
	err := r.call(ctx, "get_tour", func(ctx context.Context) error {
		var avail []byte
		err := r.db.QueryRowContext(ctx, getTourSQL, id).Scan(
			&t.ID, &t.Title, &t.Price, &t.ChildPrice, &t.PromotionPercentage, &t.HasPromotion,
			&t.DurationHours, &avail, &t.Published,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		t.Availability, err = parseAvailability(avail)
		return err
	})
	return t, err
}

// ---- bookings ----

func scanBooking(s scanner) (domain.Booking, error) {
	var (
		b                                 domain.Booking
		hotelID, hotelName, paymentID     sql.NullString
		status, ticketStatus, paymentType string
		cancelledAt, redeemedAt           sql.NullTime
	)
	err := s.Scan(
		&b.ID, &b.TourID, &b.UserID, &b.Date, &b.Adults, &b.Children, &b.Infants, &b.Language,
		&hotelID, &hotelName, &b.MeetingPointID, &b.MeetingPointName,
		&b.TotalPrice, &b.AmountPaid, &b.AmountDue, &status, &ticketStatus, &paymentID,
		&b.Customer.Name, &b.Customer.Email, &b.Customer.Phone, &paymentType,
		&b.CreatedAt, &b.UpdatedAt, &cancelledAt, &redeemedAt,
	)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.Status, err = domain.ParseBookingStatus(status); err != nil {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	if b.TicketStatus, err = domain.ParseTicketStatus(ticketStatus); err != nil {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	if b.PaymentType, err = domain.ParsePaymentType(paymentType); err != nil {
		return domain.Booking{}, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	b.Date, b.CreatedAt, b.UpdatedAt = b.Date.UTC(), b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	b.HotelID, b.HotelName, b.PaymentID = strPtr(hotelID), strPtr(hotelName), strPtr(paymentID)
	b.CancelledAt, b.RedeemedAt = timePtr(cancelledAt), timePtr(redeemedAt)
	return b, nil
}

func bookingArgs(b domain.Booking) []any {
	return []any{
		b.ID, b.TourID, b.UserID, b.Date.UTC(), b.Adults, b.Children, b.Infants, b.Language,
		valStr(b.HotelID), valStr(b.HotelName), b.MeetingPointID, b.MeetingPointName,
		b.TotalPrice, b.AmountPaid, b.AmountDue, string(b.Status), string(b.TicketStatus), valStr(b.PaymentID),
		b.Customer.Name, b.Customer.Email, b.Customer.Phone, string(b.PaymentType),
		b.CreatedAt.UTC(), b.UpdatedAt.UTC(), valTime(b.CancelledAt), valTime(b.RedeemedAt),
	}
}

func (r *Repo) CreateBooking(ctx context.Context, b domain.Booking) error {
	return r.call(ctx, "create_booking", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, insertBookingSQL, bookingArgs(b)...)
		if duplicateKey(err, "") {
			return fmt.Errorf("%w: booking %s exists", domain.ErrConflict, b.ID)
		}
		return err
	})
}

func (r *Repo) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	var b domain.Booking
	err := r.call(ctx, "get_booking", func(ctx context.Context) error {
		var err error
		b, err = scanBooking(r.db.QueryRowContext(ctx, getBookingSQL, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	return b, err
}

func (r *Repo) CancelBooking(ctx context.Context, id string, at time.Time) (domain.Booking, error) {
	var b domain.Booking
	err := r.call(ctx, "cancel_booking", func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, cancelBookingSQL, at.UTC(), at.UTC(), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		b, err = scanBooking(r.db.QueryRowContext(ctx, getBookingSQL, id))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrAlreadyCancelled
		}
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *Repo) RedeemTicket(ctx context.Context, id string, at time.Time) (bool, error) {
	var ok bool
	err := r.call(ctx, "redeem_ticket", func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, redeemTicketSQL, at.UTC(), at.UTC(), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			ok = true
			return nil
		}
		var one int
		if err := r.db.QueryRowContext(ctx, bookingExistsSQL, id).Scan(&one); errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		} else if err != nil {
			return err
		}
		return nil
	})
	return ok, err
}

// ---- payments ----

func scanPayment(s scanner) (domain.Payment, error) {
	var (
		p      domain.Payment
		status string
	)
	if err := s.Scan(&p.ID, &p.BookingID, &p.ProviderPaymentIntentID, &p.Amount, &p.Currency, &status, &p.CreatedAt); err != nil {
		return domain.Payment{}, err
	}
	st, err := domain.ParsePaymentStatus(status)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("payment %s: %w", p.ID, err)
	}
	p.Status = st
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (r *Repo) GetPaymentByIntent(ctx context.Context, intentID string) (domain.Payment, error) {
	var p domain.Payment
	err := r.call(ctx, "get_payment_by_intent", func(ctx context.Context) error {
		var err error
		p, err = scanPayment(r.db.QueryRowContext(ctx, getPaymentByIntentSQL, intentID))
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	})
	return p, err
}

// ConfirmBookingPayment inserts the payment first so the unique keys on
// payments serialise concurrent deliveries, then locks the booking row and
// inserts or promotes it in the same transaction.
func (r *Repo) ConfirmBookingPayment(ctx context.Context, req domain.ConfirmRequest) (domain.ConfirmOutcome, domain.Booking, error) {
	var (
		outcome domain.ConfirmOutcome
		booking domain.Booking
	)
	err := r.call(ctx, "confirm_booking_payment", func(ctx context.Context) error {
		var err error
		outcome, booking, err = r.confirmTx(ctx, req)
		return err
	})
	if err != nil {
		return "", domain.Booking{}, err
	}
	return outcome, booking, nil
}

func (r *Repo) confirmTx(ctx context.Context, req domain.ConfirmRequest) (domain.ConfirmOutcome, domain.Booking, error) {
	p := req.Payment
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.Booking{}, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, insertPaymentSQL,
		p.ID, p.BookingID, p.ProviderPaymentIntentID, p.Amount, p.Currency, string(p.Status), p.CreatedAt.UTC())
	switch {
	case duplicateKey(err, keyPaymentIntent):
		_ = tx.Rollback()
		return r.duplicateOutcome(ctx, p.ProviderPaymentIntentID)
	case duplicateKey(err, keyPaymentBooking):
		return "", domain.Booking{}, domain.ErrAlreadyConfirmed
	case err != nil:
		return "", domain.Booking{}, err
	}

	var outcome domain.ConfirmOutcome
	b, err := scanBooking(tx.QueryRowContext(ctx, lockBookingSQL, p.BookingID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		b = req.Booking
		b.ID = p.BookingID
		b.Status = domain.BookingConfirmed
		b.PaymentID = &p.ID
		if _, err := tx.ExecContext(ctx, insertBookingSQL, bookingArgs(b)...); err != nil {
			return "", domain.Booking{}, err
		}
		outcome = domain.ConfirmCreated
	case err != nil:
		return "", domain.Booking{}, err
	case b.Status == domain.BookingPending:
		b.Status = domain.BookingConfirmed
		b.AmountPaid = p.Amount
		b.AmountDue = domain.AmountDue(b.TotalPrice, p.Amount)
		b.PaymentID = &p.ID
		b.UpdatedAt = p.CreatedAt.UTC()
		if _, err := tx.ExecContext(ctx, promoteBookingSQL, b.AmountPaid, b.AmountDue, p.ID, b.UpdatedAt, b.ID); err != nil {
			return "", domain.Booking{}, err
		}
		outcome = domain.ConfirmPromoted
	case b.Status == domain.BookingCancelled:
		outcome = domain.ConfirmRecordedOnCancelled
	default:
		return "", domain.Booking{}, domain.ErrAlreadyConfirmed
	}

	if err := tx.Commit(); err != nil {
		return "", domain.Booking{}, err
	}
	return outcome, b, nil
}

// duplicateOutcome reports the booking the original delivery settled on.
func (r *Repo) duplicateOutcome(ctx context.Context, intentID string) (domain.ConfirmOutcome, domain.Booking, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, getPaymentByIntentSQL, intentID))
	if err != nil {
		return "", domain.Booking{}, err
	}
	b, err := scanBooking(r.db.QueryRowContext(ctx, getBookingSQL, p.BookingID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", domain.Booking{}, err
	}
	return domain.ConfirmDuplicate, b, nil
}

func (r *Repo) LogPaymentFailure(ctx context.Context, f domain.PaymentFailure) error {
	return r.call(ctx, "log_payment_failure", func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, insertPaymentFailureSQL,
			f.IntentID, f.EventID, f.BookingID, f.Code, f.Message, f.SeenAt.UTC())
		return err
	})
}

package mysql

// -----------------------------------------------------------------------------
// HOTELS & MEETING POINTS
// -----------------------------------------------------------------------------

const hotelColumns = `id, name, address, region, sub_region, lat, lon, assigned_meeting_point_id`

const listHotelsSQL = `SELECT ` + hotelColumns + ` FROM hotels ORDER BY id`

const getHotelSQL = `SELECT ` + hotelColumns + ` FROM hotels WHERE id = ?`

const setAssignedMeetingPointSQL = `
UPDATE hotels
SET assigned_meeting_point_id = ?
WHERE id = ?
`

const clearAssignedMeetingPointSQL = `
UPDATE hotels
SET assigned_meeting_point_id = NULL
WHERE id = ?
`

const meetingPointColumns = `id, name, address, region, google_maps_url, lat, lon`

const listMeetingPointsSQL = `SELECT ` + meetingPointColumns + ` FROM meeting_points ORDER BY id`

const getMeetingPointSQL = `SELECT ` + meetingPointColumns + ` FROM meeting_points WHERE id = ?`

const setMeetingPointCoordsSQL = `
UPDATE meeting_points
SET lat = ?, lon = ?
WHERE id = ?
`

// -----------------------------------------------------------------------------
// TOURS
// -----------------------------------------------------------------------------

const getTourSQL = `
SELECT id, title, price, child_price, promotion_percentage, has_promotion,
       duration_hours, availability, published
FROM tours
WHERE id = ?
`

// -----------------------------------------------------------------------------
// BOOKINGS
// -----------------------------------------------------------------------------

const bookingColumns = `
  id, tour_id, user_id, tour_date, adults, children, infants, language,
  hotel_id, hotel_name, meeting_point_id, meeting_point_name,
  total_price, amount_paid, amount_due, status, ticket_status, payment_id,
  customer_name, customer_email, customer_phone, payment_type,
  created_at, updated_at, cancelled_at, redeemed_at`

const insertBookingSQL = `INSERT INTO bookings (` + bookingColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const getBookingSQL = `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`

const lockBookingSQL = getBookingSQL + ` FOR UPDATE`

// A valid ticket expires with its booking; a redeemed one stays redeemed.
const cancelBookingSQL = `
UPDATE bookings
SET status        = 'cancelled',
    ticket_status = IF(ticket_status = 'valid', 'expired', ticket_status),
    cancelled_at  = ?,
    updated_at    = ?
WHERE id = ? AND status <> 'cancelled'
`

const redeemTicketSQL = `
UPDATE bookings
SET ticket_status = 'redeemed',
    redeemed_at   = ?,
    updated_at    = ?
WHERE id = ? AND ticket_status = 'valid'
`

const bookingExistsSQL = `SELECT 1 FROM bookings WHERE id = ?`

const promoteBookingSQL = `
UPDATE bookings
SET status      = 'confirmed',
    amount_paid = ?,
    amount_due  = ?,
    payment_id  = ?,
    updated_at  = ?
WHERE id = ? AND status = 'pending'
`

// -----------------------------------------------------------------------------
// PAYMENTS
// -----------------------------------------------------------------------------

// Unique key names; MySQL reports them in 1062 messages.
const (
	keyPaymentIntent  = "uq_payments_intent"
	keyPaymentBooking = "uq_payments_booking"
)

const paymentColumns = `id, booking_id, provider_payment_intent_id, amount, currency, status, created_at`

const insertPaymentSQL = `INSERT INTO payments (` + paymentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`

const getPaymentByIntentSQL = `SELECT ` + paymentColumns + ` FROM payments WHERE provider_payment_intent_id = ?`

// Redelivered failure events only refresh seen_at.
const insertPaymentFailureSQL = `
INSERT INTO payment_failures (intent_id, event_id, booking_id, code, message, seen_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE seen_at = VALUES(seen_at)
`

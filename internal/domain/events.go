package domain

const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// PaymentEvent is a signature-verified provider event reduced to what the
// reconciler needs. Amount is in major currency units.
type PaymentEvent struct {
	ID             string
	Type           string
	IntentID       string
	Amount         float64
	Currency       string
	FailureCode    string
	FailureMessage string
	Metadata       map[string]any
}

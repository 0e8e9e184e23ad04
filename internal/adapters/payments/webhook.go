// Package payments verifies and decodes payment-provider webhook deliveries.
package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tourbook/internal/domain"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>[,v1=...]". The signed
// payload is "<t>.<raw body>".
const SignatureHeader = "Payment-Signature"

type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// WithClock overrides the time source used for the replay window.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the header against the raw body. Any failure is reported as
// domain.ErrSignature so callers can answer 401 without leaking detail.
func (v *Verifier) Verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrSignature)
	}
	ts, sigs, err := parseHeader(header)
	if err != nil {
		return err
	}
	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > v.tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrSignature)
		}
	}
	expected := []byte(computeSignature(v.secret, ts, payload))
	for _, s := range sigs {
		if hmac.Equal(expected, []byte(s)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", domain.ErrSignature)
}

// Sign produces a header value for payload at t. Used by tests and local
// tooling that replays provider events.
func (v *Verifier) Sign(payload []byte, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, computeSignature(v.secret, ts, payload))
}

func computeSignature(secret []byte, ts int64, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseHeader(header string) (int64, []string, error) {
	var (
		ts    int64
		hasTS bool
		sigs  []string
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", domain.ErrSignature)
			}
			ts, hasTS = n, true
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if !hasTS || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed header", domain.ErrSignature)
	}
	return ts, sigs, nil
}

type wireEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID               string         `json:"id"`
			Amount           int64          `json:"amount"`
			AmountReceived   int64          `json:"amount_received"`
			Currency         string         `json:"currency"`
			Status           string         `json:"status"`
			LastPaymentError *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"last_payment_error"`
			Metadata map[string]any `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// DecodeEvent maps a provider event onto domain.PaymentEvent. Amounts
// arrive in minor units; amount_received wins over amount when present.
func DecodeEvent(payload []byte) (domain.PaymentEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		v := domain.NewValidationError()
		v.Add("body", "invalid JSON")
		return domain.PaymentEvent{}, v
	}
	if w.ID == "" || w.Type == "" {
		v := domain.NewValidationError()
		if w.ID == "" {
			v.Add("id", "required")
		}
		if w.Type == "" {
			v.Add("type", "required")
		}
		return domain.PaymentEvent{}, v
	}

	obj := w.Data.Object
	minor := obj.AmountReceived
	if minor == 0 {
		minor = obj.Amount
	}
	ev := domain.PaymentEvent{
		ID:       w.ID,
		Type:     w.Type,
		IntentID: obj.ID,
		Amount:   float64(minor) / 100,
		Currency: obj.Currency,
		Metadata: obj.Metadata,
	}
	if obj.LastPaymentError != nil {
		ev.FailureCode = obj.LastPaymentError.Code
		ev.FailureMessage = obj.LastPaymentError.Message
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	return ev, nil
}

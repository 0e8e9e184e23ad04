package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrDeadlineExceeded = errors.New("cancellation deadline passed")
	ErrExternal         = errors.New("external service failure")
	ErrSignature        = errors.New("signature verification failed")

	ErrAlreadyCancelled = fmt.Errorf("%w: booking already cancelled", ErrConflict)
	ErrAlreadyRedeemed  = fmt.Errorf("%w: ticket already redeemed", ErrConflict)
	ErrTicketExpired    = fmt.Errorf("%w: ticket expired", ErrConflict)
	ErrAlreadyConfirmed = fmt.Errorf("%w: booking already confirmed by another payment", ErrConflict)

	// ErrMalformedRecord marks persisted data that failed strict parsing.
	ErrMalformedRecord = fmt.Errorf("%w: malformed record", ErrExternal)
)

// External tags a storage or provider failure so callers can treat it as
// retryable without losing the driver error.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExternal) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrExternal, err)
}

// ValidationError collects per-field problems with an input.
type ValidationError struct {
	fields map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{fields: make(map[string][]string)}
}

func (v *ValidationError) Add(field, msg string) {
	v.fields[field] = append(v.fields[field], msg)
}

func (v *ValidationError) Fields() map[string][]string { return v.fields }

func (v *ValidationError) Len() int { return len(v.fields) }

// OrNil returns nil when nothing was recorded so callers can return it directly.
func (v *ValidationError) OrNil() error {
	if v.Len() == 0 {
		return nil
	}
	return v
}

func (v *ValidationError) Error() string {
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(v.fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v *ValidationError) Is(target error) bool { return target == ErrValidation }

// Error kinds exposed to clients. Stable strings; UIs switch on them.
const (
	KindValidation       = "ValidationError"
	KindNotFound         = "NotFound"
	KindConflict         = "Conflict"
	KindAlreadyCancelled = "AlreadyCancelled"
	KindAlreadyRedeemed  = "AlreadyRedeemed"
	KindExpired          = "Expired"
	KindAlreadyConfirmed = "AlreadyConfirmed"
	KindDeadlineExceeded = "DeadlineExceeded"
	KindExternal         = "ExternalServiceError"
	KindSignature        = "SignatureVerificationError"
	KindInternal         = "InternalError"
)

func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyCancelled):
		return KindAlreadyCancelled
	case errors.Is(err, ErrAlreadyRedeemed):
		return KindAlreadyRedeemed
	case errors.Is(err, ErrTicketExpired):
		return KindExpired
	case errors.Is(err, ErrAlreadyConfirmed):
		return KindAlreadyConfirmed
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrDeadlineExceeded):
		return KindDeadlineExceeded
	case errors.Is(err, ErrSignature):
		return KindSignature
	case errors.Is(err, ErrExternal):
		return KindExternal
	}
	return KindInternal
}

package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input. Nothing is written when it is returned.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateEvent is returned for a replayed order event; callers absorb it.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrSettledCancellation is returned when a cancellation targets money already settled or in flight.
	ErrSettledCancellation = errors.New("cancellation conflicts with settled commission")
	// ErrConfiguration marks missing reference data such as an empty tier table.
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	// ErrConflict is returned when a unique attribute such as a discount code is already taken.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition is returned when a status change is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInvariant is returned when a write would break a ledger invariant. The transaction is rolled back.
	ErrInvariant = errors.New("ledger invariant violated")
	// ErrDestinationUnverified blocks payouts to creators without a verified bank destination.
	ErrDestinationUnverified = errors.New("payout destination not verified")
)

// Invalid wraps ErrValidation with a message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ProviderErrorClass separates retryable provider failures from final ones.
type ProviderErrorClass string

const (
	ProviderTransient ProviderErrorClass = "transient"
	ProviderPermanent ProviderErrorClass = "permanent"
)

// ProviderError is returned by transfer provider adapters.
type ProviderError struct {
	Class      ProviderErrorClass
	Code       string
	Message    string
	HTTPStatus int
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider %s error %s: %s", e.Class, e.Code, e.Message)
	}
	return fmt.Sprintf("provider %s error: %s", e.Class, e.Message)
}

// IsTransient reports whether err is a retryable provider error.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Class == ProviderTransient
}

// IsPermanent reports whether err is a final provider error.
func IsPermanent(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Class == ProviderPermanent
}

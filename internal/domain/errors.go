package domain

import "errors"

var (
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateRequest       = errors.New("duplicate release request")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrIdempotencyConflict    = errors.New("idempotency conflict")
	ErrUnsupportedEventType   = errors.New("unsupported event type")
	ErrInvalidEnvelope        = errors.New("invalid envelope")
	ErrInvariantViolation     = errors.New("ledger invariant violation")
	ErrDependencyUnavailable  = errors.New("dependency unavailable")
)

// IsUserError reports whether err belongs to the caller-facing taxonomy.
// Anything else is treated as internal.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrUnauthenticated, ErrUnauthorized, ErrInvalidInput, ErrInvalidAmount,
		ErrInsufficientFunds, ErrInvalidStateTransition, ErrDuplicateRequest,
		ErrNotFound, ErrConflict, ErrIdempotencyConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package ledger

import "errors"

// Validation errors: caught before any mutation, fully recoverable.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrUnknownToken  = errors.New("unknown token")
)

// Capacity errors: genuine resource constraints, surfaced verbatim.
var (
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrArithmeticUnderflow   = errors.New("arithmetic underflow")
	ErrMaxExposureExceeded   = errors.New("max exposure per expiration exceeded")
)

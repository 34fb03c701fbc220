package engine

import "errors"

// Validation errors: caught before any mutation.
var (
	ErrTierNotFound         = errors.New("tier not found")
	ErrTierNotActive        = errors.New("tier not active")
	ErrInvalidTierParameter = errors.New("invalid tier parameter")
)

// Capacity errors: genuine resource constraints, no retry inside the engine.
var (
	ErrInsufficientLiquidity          = errors.New("insufficient liquidity")
	ErrNoEligibleProviders            = errors.New("no eligible providers")
	ErrInsufficientFundsForSettlement = errors.New("insufficient locked funds for settlement")
)

// Idempotency violations: sequencing errors in the caller, never silently
// ignored.
var (
	ErrAlreadyProcessed       = errors.New("policy already processed")
	ErrAlreadySettled         = errors.New("policy already settled")
	ErrAlreadyDistributed     = errors.New("premium already distributed")
	ErrPremiumAlreadyRecorded = errors.New("premium already recorded")
)

// Missing-state errors.
var (
	ErrNoAllocations      = errors.New("no allocations for policy")
	ErrPremiumNotRecorded = errors.New("premium not recorded")
	ErrNoPremiumsToClaim  = errors.New("no premiums to claim")
)

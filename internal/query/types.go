package query

import "github.com/google/uuid"

// ProviderBalance is one provider position in a (token, tier) pool.
type ProviderBalance struct {
	ProviderID      uuid.UUID `json:"provider_id"`
	Token           string    `json:"token"`
	Tier            string    `json:"tier"`
	Deposited       int64     `json:"deposited"`
	Allocated       int64     `json:"allocated"`
	Available       int64     `json:"available"` // deposited - allocated
	PendingPremiums int64     `json:"pending_premiums"`
	EarnedPremiums  int64     `json:"earned_premiums"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// AllocationResponse is one provider's collateral backing one policy.
type AllocationResponse struct {
	PolicyID     uuid.UUID `json:"policy_id"`
	ProviderID   uuid.UUID `json:"provider_id"`
	Token        string    `json:"token"`
	Tier         string    `json:"tier"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"` // active | settled | released
	AsOfSequence int64     `json:"as_of_sequence"`
}

// PremiumResponse is the recorded premium for a policy.
type PremiumResponse struct {
	PolicyID           uuid.UUID `json:"policy_id"`
	Token              string    `json:"token"`
	Amount             int64     `json:"amount"`
	Height             int64     `json:"height"`
	Distributed        bool      `json:"distributed"`
	DistributionHeight *int64    `json:"distribution_height,omitempty"`
	AsOfSequence       int64     `json:"as_of_sequence"`
}

// SettlementResponse is the settlement payout record for a policy.
type SettlementResponse struct {
	PolicyID     uuid.UUID `json:"policy_id"`
	Token        string    `json:"token"`
	Amount       int64     `json:"amount"`
	Beneficiary  string    `json:"beneficiary"`
	Height       int64     `json:"height"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// ExpirationAggregate is the total collateral allocated to policies expiring
// at one chain height.
type ExpirationAggregate struct {
	Token            string `json:"token"`
	ExpirationHeight int64  `json:"expiration_height"`
	Allocated        int64  `json:"allocated"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// PoolTotals is the pool-wide state for one token.
type PoolTotals struct {
	Token        string `json:"token"`
	Total        int64  `json:"total"`
	Locked       int64  `json:"locked"`
	Available    int64  `json:"available"` // total - locked
	Premiums     int64  `json:"premiums"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// TierResponse is one risk tier's parameters.
type TierResponse struct {
	Name                       string `json:"name"`
	CollateralRatioBp          int64  `json:"collateral_ratio_bp"`
	PremiumAdjustmentBp        int64  `json:"premium_adjustment_bp"`
	MaxExposurePerPolicyBp     int64  `json:"max_exposure_per_policy_bp"`
	MaxExposurePerExpirationBp int64  `json:"max_exposure_per_expiration_bp"`
	Active                     bool   `json:"active"`
	AsOfSequence               int64  `json:"as_of_sequence"`
}

// EntryHistoryRecord is one audit trail entry for API queries.
type EntryHistoryRecord struct {
	EntryID   string  `json:"entry_id"`
	EventRef  string  `json:"event_ref"`
	Sequence  int64   `json:"sequence"`
	EntryType string  `json:"entry_type"`
	PolicyID  *string `json:"policy_id,omitempty"`
	Token     string  `json:"token"`
	Tier      string  `json:"tier,omitempty"`
	Amount    int64   `json:"amount"`
	Height    int64   `json:"height"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy          bool             `json:"is_healthy"`
	HashChainBreaks    []int64          `json:"hash_chain_breaks,omitempty"`
	InconsistentTokens []TokenImbalance `json:"inconsistent_tokens,omitempty"`
}

// TokenImbalance is a token whose pool totals diverge from the summed
// provider balances.
type TokenImbalance struct {
	Token     string `json:"token"`
	Imbalance int64  `json:"imbalance"`
}

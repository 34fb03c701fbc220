// internal/event/admin.go
package event

import "github.com/google/uuid"

// TierUpdate changes a risk tier's parameters or activation state.
// Admin-only; affects new reservations, never existing allocations.
type TierUpdate struct {
	UpdateID                   uuid.UUID `json:"update_id"`
	Tier                       string    `json:"tier"`
	CollateralRatioBp          int64     `json:"collateral_ratio_bp"`
	PremiumAdjustmentBp        int64     `json:"premium_adjustment_bp"`
	MaxExposurePerPolicyBp     int64     `json:"max_exposure_per_policy_bp"`
	MaxExposurePerExpirationBp int64     `json:"max_exposure_per_expiration_bp"`
	Active                     bool      `json:"active"`
	ChainHeight                int64     `json:"chain_height"`
	Sequence                   int64     `json:"sequence"`
}

func (t *TierUpdate) IdempotencyKey() string {
	return t.UpdateID.String()
}

func (t *TierUpdate) EventType() EventType {
	return EventTypeTierUpdate
}

func (t *TierUpdate) PolicyID() *uuid.UUID {
	return nil
}

func (t *TierUpdate) Partition() string {
	return PartitionAdmin
}

func (t *TierUpdate) SourceSequence() int64 {
	return t.Sequence
}

func (t *TierUpdate) Height() int64 {
	return t.ChainHeight
}

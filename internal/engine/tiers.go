package engine

import (
	"fmt"

	"PoolVault/internal/event"
	"PoolVault/internal/ledger"
	"PoolVault/internal/tier"
)

// handleTierUpdate installs or replaces a risk tier. Privileged (admin
// partition). Existing allocations are unaffected; a deactivated tier only
// rejects new reservations.
func (c *VaultCore) handleTierUpdate(evt *event.TierUpdate) ([]ledger.Entry, error) {
	t := &tier.Tier{
		Name:                       evt.Tier,
		CollateralRatioBp:          evt.CollateralRatioBp,
		PremiumAdjustmentBp:        evt.PremiumAdjustmentBp,
		MaxExposurePerPolicyBp:     evt.MaxExposurePerPolicyBp,
		MaxExposurePerExpirationBp: evt.MaxExposurePerExpirationBp,
		Active:                     evt.Active,
	}
	if err := c.tiers.Set(t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTierParameter, err)
	}

	return []ledger.Entry{
		c.entry(ledger.EntryTierUpdate, evt.IdempotencyKey(), nil, nil,
			0, evt.Tier, 0, evt.ChainHeight),
	}, nil
}

package engine

import (
	"fmt"

	"PoolVault/internal/event"
	"PoolVault/internal/ledger"
	vaultmath "PoolVault/internal/math"
)

// handleRecordPremium records the buyer's paid premium against a policy and
// credits pending shares to the backing providers. Shares are computed and
// frozen on the premium record at recording time: settlement and release
// consume allocation records, and distribution must not depend on them.
func (c *VaultCore) handleRecordPremium(evt *event.PolicyPremium) ([]ledger.Entry, error) {
	token, ok := ledger.GetTokenID(evt.Token)
	if !ok {
		return nil, fmt.Errorf("premium %s: %w", evt.Token, ledger.ErrUnknownToken)
	}
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("premium %d: %w", evt.Amount, ledger.ErrInvalidAmount)
	}
	if _, exists := c.records.Premium(evt.Policy); exists {
		return nil, fmt.Errorf("premium for policy %s: %w", evt.Policy, ErrPremiumAlreadyRecorded)
	}

	allocations := c.records.AllocationsForPolicy(evt.Policy)
	if len(allocations) == 0 {
		return nil, fmt.Errorf("premium for policy %s: %w", evt.Policy, ErrNoAllocations)
	}
	tierName := allocations[0].Tier

	// Proportional to allocation size. Split falls back to an equal split if
	// the summed allocations are zero (defensive; allocations are created
	// positive). Shares sum to exactly the premium amount.
	stakes := make([]vaultmath.Stake, len(allocations))
	for i, rec := range allocations {
		stakes[i] = vaultmath.Stake{ID: rec.Provider, Weight: rec.Amount}
	}
	shares := vaultmath.Split(evt.Amount, stakes)

	if err := c.ledger.CollectPremium(token, evt.Amount); err != nil {
		return nil, err
	}

	recordShares := make([]ledger.PremiumShare, 0, len(shares))
	entries := make([]ledger.Entry, 0, len(shares))
	for _, share := range shares {
		if share.Amount == 0 {
			continue
		}
		provider := share.ID
		key := ledger.AccountKey{Provider: provider, Token: token, Tier: tierName}
		c.book.CreditPending(key, share.Amount)
		recordShares = append(recordShares, ledger.PremiumShare{Provider: provider, Amount: share.Amount})
		entries = append(entries,
			c.entry(ledger.EntryPremiumPending, evt.IdempotencyKey(), &provider, &evt.Policy,
				token, tierName, share.Amount, evt.ChainHeight))
	}

	c.records.PutPremium(&ledger.PremiumRecord{
		PolicyID:         evt.Policy,
		Token:            token,
		Tier:             tierName,
		Amount:           evt.Amount,
		ExpirationHeight: evt.ExpirationHeight,
		Shares:           recordShares,
	})

	if c.metrics != nil {
		c.metrics.PremiumsRecorded.WithLabelValues(evt.Token).Inc()
	}

	return entries, nil
}

// handleDistribute is the out-of-the-money finalization path: every pending
// share becomes earned and the record's distributed flag flips, exactly once.
// Re-entry is rejected, not silently ignored — it would double-credit.
func (c *VaultCore) handleDistribute(evt *event.PremiumDistribute) ([]ledger.Entry, error) {
	rec, ok := c.records.Premium(evt.Policy)
	if !ok {
		return nil, fmt.Errorf("distribute for policy %s: %w", evt.Policy, ErrPremiumNotRecorded)
	}
	if rec.Distributed {
		return nil, fmt.Errorf("distribute for policy %s: %w", evt.Policy, ErrAlreadyDistributed)
	}

	entries := c.convertPremiumShares(rec, evt.IdempotencyKey(), evt.ChainHeight)
	rec.Distributed = true
	rec.DistributionHeight = evt.ChainHeight

	if c.metrics != nil {
		name, _ := ledger.GetTokenName(rec.Token)
		c.metrics.PremiumsDistributed.WithLabelValues(name).Inc()
	}

	return entries, nil
}

// convertPremiumShares moves a record's frozen shares from pending to earned
// and bumps the token-level distributed counter. Shared by the distribute
// path (expiry) and the settlement path (exercise).
func (c *VaultCore) convertPremiumShares(rec *ledger.PremiumRecord, eventRef string, height int64) []ledger.Entry {
	entries := make([]ledger.Entry, 0, len(rec.Shares))
	var total int64
	for _, share := range rec.Shares {
		provider := share.Provider
		key := ledger.AccountKey{Provider: provider, Token: rec.Token, Tier: rec.Tier}
		converted := c.book.ConvertPendingToEarned(key, share.Amount)
		if converted == 0 {
			continue
		}
		total += converted
		entries = append(entries,
			c.entry(ledger.EntryPremiumEarned, eventRef, &provider, &rec.PolicyID,
				rec.Token, rec.Tier, converted, height))
	}
	if total > 0 {
		c.ledger.MarkPremiumDistributed(rec.Token, total)
	}
	return entries
}

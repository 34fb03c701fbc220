package engine

import (
	"fmt"

	"PoolVault/internal/event"
	"PoolVault/internal/ledger"
)

// handleRelease returns an expired policy's collateral to its providers. No
// payout: the pool unlock keeps total unchanged, funds stay in the pool.
func (c *VaultCore) handleRelease(evt *event.PolicyRelease) ([]ledger.Entry, error) {
	token, ok := ledger.GetTokenID(evt.Token)
	if !ok {
		return nil, fmt.Errorf("release %s: %w", evt.Token, ledger.ErrUnknownToken)
	}
	if _, exists := c.records.Settlement(evt.Policy); exists {
		return nil, fmt.Errorf("release policy %s: %w", evt.Policy, ErrAlreadySettled)
	}

	lock, ok := c.records.Lock(evt.Policy)
	if !ok {
		return nil, fmt.Errorf("release policy %s: %w", evt.Policy, ErrNoAllocations)
	}
	if lock.Token != token {
		return nil, fmt.Errorf("release policy %s with token %s, locked token differs: %w",
			evt.Policy, evt.Token, ledger.ErrUnknownToken)
	}

	allocations := c.records.AllocationsForPolicy(evt.Policy)
	if len(allocations) == 0 {
		return nil, fmt.Errorf("release policy %s: %w", evt.Policy, ErrNoAllocations)
	}

	entries := make([]ledger.Entry, 0, len(allocations)*2+1)
	for _, rec := range allocations {
		provider := rec.Provider
		key := ledger.AccountKey{Provider: provider, Token: token, Tier: rec.Tier}
		if err := c.book.ReleaseAllocation(key, rec.Amount); err != nil {
			panic(fmt.Sprintf("FATAL: release allocation: %v", err))
		}
		c.book.ReduceExposure(key, rec.ExpirationHeight, rec.Amount)

		entries = append(entries,
			c.entry(ledger.EntryAllocationRelease, evt.IdempotencyKey(), &provider, &evt.Policy,
				token, rec.Tier, rec.Amount, evt.ChainHeight),
			c.entry(ledger.EntryExposureReduce, evt.IdempotencyKey(), &provider, &evt.Policy,
				token, rec.Tier, rec.Amount, rec.ExpirationHeight),
		)
	}
	c.records.DeleteAllocations(evt.Policy)

	if err := c.ledger.Unlock(token, lock.Amount); err != nil {
		panic(fmt.Sprintf("FATAL: unlock %d on release: %v", lock.Amount, err))
	}
	c.records.DeleteLock(evt.Policy)
	c.records.ReduceAggregate(lock.ExpirationHeight, token, lock.Amount)

	entries = append(entries,
		c.entry(ledger.EntryUnlock, evt.IdempotencyKey(), nil, &evt.Policy,
			token, "", lock.Amount, evt.ChainHeight))

	if c.metrics != nil {
		c.metrics.ReleasesProcessed.WithLabelValues(evt.Token).Inc()
	}

	return entries, nil
}

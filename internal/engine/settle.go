package engine

import (
	"fmt"

	"github.com/google/uuid"

	"PoolVault/internal/event"
	"PoolVault/internal/ledger"
	vaultmath "PoolVault/internal/math"
	"PoolVault/internal/transfer"
)

// handleSettle pays an in-the-money policy's settlement out of locked
// collateral. All-or-nothing: every check and the beneficiary transfer run
// before the first ledger mutation, so a failure at any step leaves all
// ledgers untouched and the caller may retry the whole operation.
//
// The settlement record written at the end is the idempotency guard shared
// with release: a policy is settled or released, never both.
func (c *VaultCore) handleSettle(evt *event.PolicySettle) ([]ledger.Entry, error) {
	token, ok := ledger.GetTokenID(evt.Token)
	if !ok {
		return nil, fmt.Errorf("settle %s: %w", evt.Token, ledger.ErrUnknownToken)
	}
	if evt.SettlementAmount <= 0 {
		return nil, fmt.Errorf("settle %d: %w", evt.SettlementAmount, ledger.ErrInvalidAmount)
	}
	if _, exists := c.records.Settlement(evt.Policy); exists {
		return nil, fmt.Errorf("settle policy %s: %w", evt.Policy, ErrAlreadyProcessed)
	}

	lock, ok := c.records.Lock(evt.Policy)
	if !ok {
		return nil, fmt.Errorf("settle policy %s: %w", evt.Policy, ErrNoAllocations)
	}
	if lock.Token != token {
		return nil, fmt.Errorf("settle policy %s with token %s, locked token differs: %w",
			evt.Policy, evt.Token, ledger.ErrUnknownToken)
	}

	amount := evt.SettlementAmount
	if c.ledger.Locked(token) < amount || amount > lock.Amount {
		return nil, fmt.Errorf("settle %d, lock %d, pool locked %d: %w",
			amount, lock.Amount, c.ledger.Locked(token), ErrInsufficientFundsForSettlement)
	}

	allocations := c.records.AllocationsForPolicy(evt.Policy)
	if len(allocations) == 0 {
		return nil, fmt.Errorf("settle policy %s: %w", evt.Policy, ErrNoAllocations)
	}

	// Proportional contributions summing to exactly the settlement amount.
	// Each provider's paid share never exceeds their allocation because the
	// settlement amount never exceeds the summed allocations.
	stakes := make([]vaultmath.Stake, len(allocations))
	for i, rec := range allocations {
		stakes[i] = vaultmath.Stake{ID: rec.Provider, Weight: rec.Amount}
	}
	shares := vaultmath.Split(amount, stakes)
	paidByProvider := make(map[uuid.UUID]int64, len(shares))
	for _, share := range shares {
		paidByProvider[share.ID] = share.Amount
	}

	// External payout first. A failed transfer aborts with no mutation.
	if err := c.mover.Transfer(token, amount, transfer.VaultParty, evt.Beneficiary); err != nil {
		return nil, fmt.Errorf("settlement transfer: %w: %v", transfer.ErrTransferFailed, err)
	}

	entries := make([]ledger.Entry, 0, len(allocations)*3+2)
	var totalRemaining int64
	for _, rec := range allocations {
		paid := paidByProvider[rec.Provider]
		remaining := rec.Amount - paid
		totalRemaining += remaining

		provider := rec.Provider
		key := ledger.AccountKey{Provider: provider, Token: token, Tier: rec.Tier}
		if err := c.book.SettleAllocation(key, rec.Amount, paid); err != nil {
			panic(fmt.Sprintf("FATAL: settle allocation after plan check: %v", err))
		}
		c.book.ReduceExposure(key, rec.ExpirationHeight, rec.Amount)

		entries = append(entries,
			c.entry(ledger.EntryAllocationReduce, evt.IdempotencyKey(), &provider, &evt.Policy,
				token, rec.Tier, rec.Amount, evt.ChainHeight),
			c.entry(ledger.EntryExposureReduce, evt.IdempotencyKey(), &provider, &evt.Policy,
				token, rec.Tier, rec.Amount, rec.ExpirationHeight),
		)
		// Provider-scoped payout entries carry each contribution so balances
		// can be rebuilt from the audit trail alone.
		if paid > 0 {
			entries = append(entries,
				c.entry(ledger.EntrySettlementPayout, evt.IdempotencyKey(), &provider, &evt.Policy,
					token, rec.Tier, paid, evt.ChainHeight),
			)
		}
	}
	c.records.ZeroAllocations(evt.Policy)

	// The full requested lock comes back to available, then the paid-out
	// amount leaves the pool entirely.
	if err := c.ledger.Unlock(token, lock.Amount); err != nil {
		panic(fmt.Sprintf("FATAL: unlock %d on settle: %v", lock.Amount, err))
	}
	if err := c.ledger.ReduceTotal(token, amount); err != nil {
		panic(fmt.Sprintf("FATAL: reduce total %d on settle: %v", amount, err))
	}

	entries = append(entries,
		c.entry(ledger.EntryUnlock, evt.IdempotencyKey(), nil, &evt.Policy,
			token, "", lock.Amount, evt.ChainHeight),
		c.entry(ledger.EntrySettlementPayout, evt.IdempotencyKey(), nil, &evt.Policy,
			token, "", amount, evt.ChainHeight),
	)

	// ITM premium consumption: pending shares become earned here and the
	// record flips to distributed, so a later distribute is rejected.
	var premiumConsumed int64
	if rec, ok := c.records.Premium(evt.Policy); ok && !rec.Distributed {
		converted := c.convertPremiumShares(rec, evt.IdempotencyKey(), evt.ChainHeight)
		for _, e := range converted {
			premiumConsumed += e.Amount
		}
		rec.Distributed = true
		rec.DistributionHeight = evt.ChainHeight
		entries = append(entries, converted...)
	}

	c.records.DeleteLock(evt.Policy)
	c.records.ReduceAggregate(lock.ExpirationHeight, token, lock.Amount)

	c.records.PutSettlement(&ledger.SettlementRecord{
		PolicyID:            evt.Policy,
		Token:               token,
		Amount:              amount,
		Beneficiary:         evt.Beneficiary,
		Height:              evt.ChainHeight,
		RemainingCollateral: totalRemaining,
		PremiumConsumed:     premiumConsumed,
	})

	if c.metrics != nil {
		c.metrics.SettlementsPaid.WithLabelValues(evt.Token).Inc()
		c.metrics.SettlementPayoutTotal.WithLabelValues(evt.Token).Add(float64(amount))
	}

	return entries, nil
}

package engine

import (
	"fmt"

	"PoolVault/internal/event"
	"PoolVault/internal/ledger"
	vaultmath "PoolVault/internal/math"
)

// handleReserve backs a new policy with provider collateral from one tier.
//
// The split is proportional to each eligible provider's available capital,
// with a minimum-unit bump so small providers are never starved entirely: the
// summed allocations may exceed the requested collateral by at most
// providerCount-1 minimal units. The pool-level lock always tracks the
// *requested* amount; the rounding slack lives only in provider accounts.
//
// Every check runs before any mutation. An exposure-ceiling violation on any
// single provider aborts the whole reservation.
func (c *VaultCore) handleReserve(evt *event.PolicyReserve) ([]ledger.Entry, error) {
	token, ok := ledger.GetTokenID(evt.Token)
	if !ok {
		return nil, fmt.Errorf("reserve %s: %w", evt.Token, ledger.ErrUnknownToken)
	}
	if evt.RequiredCollateral <= 0 {
		return nil, fmt.Errorf("reserve %d: %w", evt.RequiredCollateral, ledger.ErrInvalidAmount)
	}

	t, ok := c.tiers.Get(evt.Tier)
	if !ok {
		return nil, fmt.Errorf("reserve tier %q: %w", evt.Tier, ErrTierNotFound)
	}
	if !t.Active {
		return nil, fmt.Errorf("reserve tier %q: %w", evt.Tier, ErrTierNotActive)
	}

	if _, exists := c.records.Lock(evt.Policy); exists {
		return nil, fmt.Errorf("reserve policy %s: %w", evt.Policy, ErrAlreadyProcessed)
	}
	if _, exists := c.records.Settlement(evt.Policy); exists {
		return nil, fmt.Errorf("reserve policy %s: %w", evt.Policy, ErrAlreadyProcessed)
	}

	required := evt.RequiredCollateral
	if c.ledger.Available(token) < required {
		return nil, fmt.Errorf("reserve %d, pool available %d: %w",
			required, c.ledger.Available(token), ErrInsufficientLiquidity)
	}

	// Eligible set: providers with spare capital in (token, tier), in
	// deterministic provider-ID order.
	providers := c.book.Providers(token, evt.Tier)
	stakes := make([]vaultmath.Stake, 0, len(providers))
	for _, provider := range providers {
		acct := c.book.Get(ledger.AccountKey{Provider: provider, Token: token, Tier: evt.Tier})
		if acct == nil || acct.Available() <= 0 {
			continue
		}
		stakes = append(stakes, vaultmath.Stake{ID: provider, Weight: acct.Available()})
	}
	if len(stakes) == 0 {
		return nil, fmt.Errorf("reserve (%s, %s): %w", evt.Token, evt.Tier, ErrNoEligibleProviders)
	}

	var totalAvailable int64
	for _, s := range stakes {
		totalAvailable += s.Weight
	}
	if totalAvailable < required {
		return nil, fmt.Errorf("reserve %d, tier available %d: %w",
			required, totalAvailable, ErrInsufficientLiquidity)
	}

	shares := vaultmath.SplitAllocation(required, stakes)

	// Ceiling checks over the full plan before touching any account.
	for _, share := range shares {
		if share.Amount == 0 {
			continue
		}
		key := ledger.AccountKey{Provider: share.ID, Token: token, Tier: evt.Tier}
		acct := c.book.Get(key)

		perPolicyLimit := vaultmath.ApplyBp(acct.Deposited, t.MaxExposurePerPolicyBp)
		if share.Amount > perPolicyLimit {
			if c.metrics != nil {
				c.metrics.ExposureRejections.WithLabelValues(evt.Tier).Inc()
			}
			return nil, fmt.Errorf("share %d exceeds per-policy limit %d for %s: %w",
				share.Amount, perPolicyLimit, key.AccountPath(), ledger.ErrMaxExposureExceeded)
		}

		if err := c.book.CheckExposure(key, evt.ExpirationHeight, share.Amount, t.MaxExposurePerExpirationBp); err != nil {
			if c.metrics != nil {
				c.metrics.ExposureRejections.WithLabelValues(evt.Tier).Inc()
			}
			return nil, err
		}
	}

	// Apply: allocation records, account allocations, exposure, pool lock,
	// expiration aggregate.
	entries := make([]ledger.Entry, 0, len(shares)*2+1)
	fanout := 0
	for _, share := range shares {
		if share.Amount == 0 {
			continue
		}
		fanout++
		key := ledger.AccountKey{Provider: share.ID, Token: token, Tier: evt.Tier}
		if err := c.book.Allocate(key, share.Amount); err != nil {
			panic(fmt.Sprintf("FATAL: allocate after plan check: %v", err))
		}
		c.book.AddExposure(key, evt.ExpirationHeight, share.Amount)

		c.records.PutAllocation(&ledger.AllocationRecord{
			Provider:         share.ID,
			PolicyID:         evt.Policy,
			Token:            token,
			Tier:             evt.Tier,
			Amount:           share.Amount,
			ExpirationHeight: evt.ExpirationHeight,
		})

		provider := share.ID
		entries = append(entries,
			c.entry(ledger.EntryAllocate, evt.IdempotencyKey(), &provider, &evt.Policy,
				token, evt.Tier, share.Amount, evt.ChainHeight),
			c.entry(ledger.EntryExposureAdd, evt.IdempotencyKey(), &provider, &evt.Policy,
				token, evt.Tier, share.Amount, evt.ExpirationHeight),
		)

		if c.metrics != nil {
			c.metrics.AllocationsCreated.WithLabelValues(evt.Token, evt.Tier).Inc()
		}
	}

	if err := c.ledger.Lock(token, required); err != nil {
		panic(fmt.Sprintf("FATAL: pool lock after plan check: %v", err))
	}
	c.records.PutLock(&ledger.PolicyLock{
		PolicyID:         evt.Policy,
		Token:            token,
		Tier:             evt.Tier,
		Amount:           required,
		ExpirationHeight: evt.ExpirationHeight,
	})
	c.records.AddToAggregate(evt.ExpirationHeight, token, required)

	entries = append(entries,
		c.entry(ledger.EntryLock, evt.IdempotencyKey(), nil, &evt.Policy,
			token, "", required, evt.ChainHeight))

	if c.metrics != nil {
		c.metrics.AllocationFanout.WithLabelValues(evt.Tier).Observe(float64(fanout))
	}

	return entries, nil
}

package engine

import (
	"fmt"

	"PoolVault/internal/event"
	"PoolVault/internal/ledger"
	"PoolVault/internal/transfer"
)

// handleDeposit credits provider capital into a tiered pool. The token
// transfer into the vault runs before any ledger mutation; a failed transfer
// leaves everything untouched.
func (c *VaultCore) handleDeposit(evt *event.ProviderDeposit) ([]ledger.Entry, error) {
	token, ok := ledger.GetTokenID(evt.Token)
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", evt.Token, ledger.ErrUnknownToken)
	}
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("deposit %d: %w", evt.Amount, ledger.ErrInvalidAmount)
	}
	if _, ok := c.tiers.Get(evt.Tier); !ok {
		return nil, fmt.Errorf("deposit into tier %q: %w", evt.Tier, ErrTierNotFound)
	}

	if err := c.mover.Transfer(token, evt.Amount, transfer.ProviderParty(evt.Provider), transfer.VaultParty); err != nil {
		return nil, fmt.Errorf("deposit transfer: %w: %v", transfer.ErrTransferFailed, err)
	}

	key := ledger.AccountKey{Provider: evt.Provider, Token: token, Tier: evt.Tier}
	if err := c.ledger.Deposit(token, evt.Amount); err != nil {
		return nil, err
	}
	if err := c.book.Credit(key, evt.Amount); err != nil {
		// Credit only fails on non-positive amounts, checked above.
		panic(fmt.Sprintf("FATAL: deposit credit after ledger deposit: %v", err))
	}

	return []ledger.Entry{
		c.entry(ledger.EntryDeposit, evt.IdempotencyKey(), &evt.Provider, nil,
			token, evt.Tier, evt.Amount, evt.ChainHeight),
	}, nil
}

// handleWithdrawal debits unallocated provider capital. Both the account and
// the pool are checked before the outbound transfer runs.
func (c *VaultCore) handleWithdrawal(evt *event.ProviderWithdrawal) ([]ledger.Entry, error) {
	token, ok := ledger.GetTokenID(evt.Token)
	if !ok {
		return nil, fmt.Errorf("withdraw %s: %w", evt.Token, ledger.ErrUnknownToken)
	}
	if evt.Amount <= 0 {
		return nil, fmt.Errorf("withdraw %d: %w", evt.Amount, ledger.ErrInvalidAmount)
	}

	key := ledger.AccountKey{Provider: evt.Provider, Token: token, Tier: evt.Tier}
	acct := c.book.Get(key)
	if acct == nil || evt.Amount > acct.Available() {
		return nil, fmt.Errorf("withdraw %d from %s: %w",
			evt.Amount, key.AccountPath(), ledger.ErrInsufficientAvailable)
	}
	if evt.Amount > c.ledger.Available(token) {
		return nil, fmt.Errorf("withdraw %d, pool available %d: %w",
			evt.Amount, c.ledger.Available(token), ledger.ErrInsufficientAvailable)
	}

	if err := c.mover.Transfer(token, evt.Amount, transfer.VaultParty, transfer.ProviderParty(evt.Provider)); err != nil {
		return nil, fmt.Errorf("withdrawal transfer: %w: %v", transfer.ErrTransferFailed, err)
	}

	if err := c.book.Debit(key, evt.Amount); err != nil {
		panic(fmt.Sprintf("FATAL: withdrawal debit after plan check: %v", err))
	}
	if err := c.ledger.Withdraw(token, evt.Amount); err != nil {
		panic(fmt.Sprintf("FATAL: pool withdraw after plan check: %v", err))
	}

	return []ledger.Entry{
		c.entry(ledger.EntryWithdrawal, evt.IdempotencyKey(), &evt.Provider, nil,
			token, evt.Tier, evt.Amount, evt.ChainHeight),
	}, nil
}

// handleClaim transfers a provider's earned premiums out of the vault. The
// only operation that moves value out on the premium side.
func (c *VaultCore) handleClaim(evt *event.PremiumClaim) ([]ledger.Entry, error) {
	token, ok := ledger.GetTokenID(evt.Token)
	if !ok {
		return nil, fmt.Errorf("claim %s: %w", evt.Token, ledger.ErrUnknownToken)
	}

	key := ledger.AccountKey{Provider: evt.Provider, Token: token, Tier: evt.Tier}
	acct := c.book.Get(key)
	if acct == nil || acct.EarnedPremiums <= 0 {
		return nil, fmt.Errorf("claim on %s: %w", key.AccountPath(), ErrNoPremiumsToClaim)
	}
	amount := acct.EarnedPremiums

	if err := c.mover.Transfer(token, amount, transfer.VaultParty, transfer.ProviderParty(evt.Provider)); err != nil {
		return nil, fmt.Errorf("claim transfer: %w: %v", transfer.ErrTransferFailed, err)
	}

	c.book.DrainEarned(key)
	if err := c.ledger.ClaimPremium(token, amount); err != nil {
		panic(fmt.Sprintf("FATAL: premium pool claim after drain: %v", err))
	}

	if c.metrics != nil {
		c.metrics.PremiumsClaimed.WithLabelValues(evt.Token).Inc()
	}

	return []ledger.Entry{
		c.entry(ledger.EntryPremiumClaim, evt.IdempotencyKey(), &evt.Provider, nil,
			token, evt.Tier, amount, evt.ChainHeight),
	}, nil
}

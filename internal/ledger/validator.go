package ledger

import "fmt"

// InvariantValidator checks cross-record invariants after mutations. The
// core runs the token-scoped checks after every applied event and panics on
// violation: a broken conservation invariant means the in-memory state can
// no longer be trusted.
type InvariantValidator struct {
	ledger *CollateralLedger
	book   *AccountBook
}

func NewInvariantValidator(ledger *CollateralLedger, book *AccountBook) *InvariantValidator {
	return &InvariantValidator{ledger: ledger, book: book}
}

// ValidateLedgerIdentity checks available + locked == total and both parts
// are non-negative.
func (v *InvariantValidator) ValidateLedgerIdentity(token TokenID) error {
	p := v.ledger.Pool(token)
	if p.Available < 0 {
		return fmt.Errorf("token %d available is negative: %d", token, p.Available)
	}
	if p.Locked < 0 {
		return fmt.Errorf("token %d locked is negative: %d", token, p.Locked)
	}
	if p.Available+p.Locked != p.Total {
		return fmt.Errorf("token %d ledger identity broken: available=%d locked=%d total=%d",
			token, p.Available, p.Locked, p.Total)
	}
	return nil
}

// ValidateConservation checks ledger.total == Σ accounts.deposited for a
// token. Premiums are tracked separately and excluded.
func (v *InvariantValidator) ValidateConservation(token TokenID) error {
	total := v.ledger.Total(token)
	deposited := v.book.TotalDeposited(token)
	if total != deposited {
		return fmt.Errorf("token %d conservation broken: ledger.total=%d sum(deposited)=%d",
			token, total, deposited)
	}
	return nil
}

// ValidatePremiumConservation checks collected - claimed == Σ pending + earned.
func (v *InvariantValidator) ValidatePremiumConservation(token TokenID) error {
	pool := v.ledger.Premiums(token)
	pending, earned := v.book.TotalPremiumBalances(token)
	held := pool.Collected - pool.Claimed
	if held != pending+earned {
		return fmt.Errorf("token %d premium conservation broken: held=%d pending=%d earned=%d",
			token, held, pending, earned)
	}
	return nil
}

// ValidateAccounts checks every account of a token has non-negative
// deposited, allocated, and available balances.
func (v *InvariantValidator) ValidateAccounts(token TokenID) error {
	for _, acct := range v.book.All() {
		if acct.Token != token {
			continue
		}
		if acct.Deposited < 0 || acct.Allocated < 0 {
			return fmt.Errorf("account %s has negative balance: deposited=%d allocated=%d",
				AccountKey{Provider: acct.Provider, Token: acct.Token, Tier: acct.Tier}.AccountPath(),
				acct.Deposited, acct.Allocated)
		}
		if acct.Available() < 0 {
			return fmt.Errorf("account %s has negative available: %d",
				AccountKey{Provider: acct.Provider, Token: acct.Token, Tier: acct.Tier}.AccountPath(),
				acct.Available())
		}
		if acct.PendingPremiums < 0 || acct.EarnedPremiums < 0 {
			return fmt.Errorf("account %s has negative premium balance: pending=%d earned=%d",
				AccountKey{Provider: acct.Provider, Token: acct.Token, Tier: acct.Tier}.AccountPath(),
				acct.PendingPremiums, acct.EarnedPremiums)
		}
	}
	return nil
}

// ValidateToken runs all token-scoped checks.
func (v *InvariantValidator) ValidateToken(token TokenID) error {
	if err := v.ValidateLedgerIdentity(token); err != nil {
		return err
	}
	if err := v.ValidateConservation(token); err != nil {
		return err
	}
	if err := v.ValidatePremiumConservation(token); err != nil {
		return err
	}
	return v.ValidateAccounts(token)
}

// ValidateAll sweeps every known token. Run periodically, not per event.
func (v *InvariantValidator) ValidateAll() error {
	for _, token := range Tokens() {
		if err := v.ValidateToken(token); err != nil {
			return err
		}
	}
	return nil
}

package ledger

import "fmt"

// TokenPool is the per-token aggregate collateral position of the vault.
// Invariant: Available + Locked == Total, Available >= 0, Locked >= 0.
type TokenPool struct {
	Total     int64
	Available int64
	Locked    int64
}

// PremiumPool tracks premium money per token, separately from collateral.
// Invariant: Collected - Claimed == Σ accounts.(pending + earned).
type PremiumPool struct {
	Collected   int64 // premium paid into the vault
	Distributed int64 // pending -> earned conversions to date
	Claimed     int64 // transferred out to providers
}

// CollateralLedger is the per-token aggregate accounting used for admission
// checks. It is exclusively owned by the vault core; every mutation here is
// paired with provider capital account mutations in the same operation.
// Not thread-safe — only accessed from the single-threaded vault core.
type CollateralLedger struct {
	pools    map[TokenID]*TokenPool
	premiums map[TokenID]*PremiumPool

	// Count of clamped unlocks. A non-zero value means an engine asked to
	// unlock more than was locked; tolerated in degraded mode, surfaced via
	// metrics and logs.
	inconsistencies int64
}

func NewCollateralLedger() *CollateralLedger {
	return &CollateralLedger{
		pools:    make(map[TokenID]*TokenPool),
		premiums: make(map[TokenID]*PremiumPool),
	}
}

func (cl *CollateralLedger) pool(token TokenID) *TokenPool {
	p, ok := cl.pools[token]
	if !ok {
		p = &TokenPool{}
		cl.pools[token] = p
	}
	return p
}

func (cl *CollateralLedger) premiumPool(token TokenID) *PremiumPool {
	p, ok := cl.premiums[token]
	if !ok {
		p = &PremiumPool{}
		cl.premiums[token] = p
	}
	return p
}

// Deposit increases total and available.
func (cl *CollateralLedger) Deposit(token TokenID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit %d: %w", amount, ErrInvalidAmount)
	}
	p := cl.pool(token)
	p.Total += amount
	p.Available += amount
	return nil
}

// Withdraw decreases total and available.
func (cl *CollateralLedger) Withdraw(token TokenID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw %d: %w", amount, ErrInvalidAmount)
	}
	p := cl.pool(token)
	if amount > p.Available {
		return fmt.Errorf("withdraw %d, available %d: %w", amount, p.Available, ErrInsufficientAvailable)
	}
	p.Total -= amount
	p.Available -= amount
	return nil
}

// Lock moves amount from available to locked.
func (cl *CollateralLedger) Lock(token TokenID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("lock %d: %w", amount, ErrInvalidAmount)
	}
	p := cl.pool(token)
	if amount > p.Available {
		return fmt.Errorf("lock %d, available %d: %w", amount, p.Available, ErrInsufficientAvailable)
	}
	p.Available -= amount
	p.Locked += amount
	return nil
}

// Unlock moves amount from locked back to available. Strict: unlocking more
// than is locked is an underflow.
func (cl *CollateralLedger) Unlock(token TokenID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("unlock %d: %w", amount, ErrInvalidAmount)
	}
	p := cl.pool(token)
	if amount > p.Locked {
		return fmt.Errorf("unlock %d, locked %d: %w", amount, p.Locked, ErrArithmeticUnderflow)
	}
	p.Locked -= amount
	p.Available += amount
	return nil
}

// UnlockClamped unlocks at most the locked amount and returns what was
// actually unlocked. Exceeding the locked balance is recorded as an
// inconsistency rather than failing the operation: by the time an engine
// reaches the unlock step it has already validated and mutated provider
// accounts, so the ledger degrades instead of aborting.
func (cl *CollateralLedger) UnlockClamped(token TokenID, amount int64) (int64, bool) {
	p := cl.pool(token)
	clamped := false
	if amount > p.Locked {
		amount = p.Locked
		clamped = true
		cl.inconsistencies++
	}
	p.Locked -= amount
	p.Available += amount
	return amount, clamped
}

// ReduceTotal removes settled funds from the pool (payout left the vault).
// The caller must have unlocked the amount first.
func (cl *CollateralLedger) ReduceTotal(token TokenID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("reduce total %d: %w", amount, ErrInvalidAmount)
	}
	p := cl.pool(token)
	if amount > p.Available {
		return fmt.Errorf("reduce total %d, available %d: %w", amount, p.Available, ErrInsufficientAvailable)
	}
	p.Total -= amount
	p.Available -= amount
	return nil
}

func (cl *CollateralLedger) Total(token TokenID) int64     { return cl.pool(token).Total }
func (cl *CollateralLedger) Available(token TokenID) int64 { return cl.pool(token).Available }
func (cl *CollateralLedger) Locked(token TokenID) int64    { return cl.pool(token).Locked }

// Pool returns a copy of the token pool.
func (cl *CollateralLedger) Pool(token TokenID) TokenPool {
	return *cl.pool(token)
}

// Inconsistencies returns the count of clamped unlocks to date.
func (cl *CollateralLedger) Inconsistencies() int64 {
	return cl.inconsistencies
}

// --- Premium side ---

// CollectPremium records premium money entering the vault.
func (cl *CollateralLedger) CollectPremium(token TokenID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("collect premium %d: %w", amount, ErrInvalidAmount)
	}
	cl.premiumPool(token).Collected += amount
	return nil
}

// MarkPremiumDistributed bumps the token-level total-distributed counter.
func (cl *CollateralLedger) MarkPremiumDistributed(token TokenID, amount int64) {
	cl.premiumPool(token).Distributed += amount
}

// ClaimPremium records premium money leaving the vault to a provider.
func (cl *CollateralLedger) ClaimPremium(token TokenID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("claim premium %d: %w", amount, ErrInvalidAmount)
	}
	p := cl.premiumPool(token)
	if p.Claimed+amount > p.Collected {
		return fmt.Errorf("claim premium %d, collected %d, claimed %d: %w",
			amount, p.Collected, p.Claimed, ErrInsufficientAvailable)
	}
	p.Claimed += amount
	return nil
}

// Premiums returns a copy of the premium pool for a token.
func (cl *CollateralLedger) Premiums(token TokenID) PremiumPool {
	return *cl.premiumPool(token)
}

// SetPool overwrites a token pool. Used only during snapshot restore.
func (cl *CollateralLedger) SetPool(token TokenID, p TokenPool) {
	cl.pools[token] = &TokenPool{Total: p.Total, Available: p.Available, Locked: p.Locked}
}

// SetPremiumPool overwrites a premium pool. Used only during snapshot restore.
func (cl *CollateralLedger) SetPremiumPool(token TokenID, p PremiumPool) {
	cl.premiums[token] = &PremiumPool{Collected: p.Collected, Distributed: p.Distributed, Claimed: p.Claimed}
}

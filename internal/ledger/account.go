package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// AccountKey identifies a provider capital account: one record per
// (provider, token, tier) triple.
type AccountKey struct {
	Provider uuid.UUID
	Token    TokenID
	Tier     string
}

// AccountPath returns the string representation for storage and logging.
func (k AccountKey) AccountPath() string {
	name, _ := GetTokenName(k.Token)
	return fmt.Sprintf("provider:%s:%s:%s", k.Provider.String(), k.Tier, name)
}

// Account is a provider's capital position within one token and tier.
// Invariant: Available() == Deposited - Allocated >= 0.
// ExposureByExpiration is advisory bookkeeping for the per-expiration
// ceiling; it is floored at zero on reduction, never a strict ledger.
type Account struct {
	Provider uuid.UUID
	Token    TokenID
	Tier     string

	Deposited       int64
	Allocated       int64
	PendingPremiums int64
	EarnedPremiums  int64

	ExposureByExpiration map[int64]int64
}

// Available is the capital not currently backing any policy.
func (a *Account) Available() int64 {
	return a.Deposited - a.Allocated
}

// Exposure returns the committed collateral at an expiration height.
func (a *Account) Exposure(height int64) int64 {
	return a.ExposureByExpiration[height]
}

type poolKey struct {
	Token TokenID
	Tier  string
}

// AccountBook holds all provider capital accounts plus a sorted secondary
// index by (token, tier) so the eligible-provider scan is not bounded by any
// fixed list size.
// Not thread-safe — only accessed from the single-threaded vault core.
type AccountBook struct {
	accounts map[AccountKey]*Account
	index    map[poolKey][]uuid.UUID // sorted by provider ID bytes
}

func NewAccountBook() *AccountBook {
	return &AccountBook{
		accounts: make(map[AccountKey]*Account),
		index:    make(map[poolKey][]uuid.UUID),
	}
}

// Get returns the account for key, or nil if none exists.
func (b *AccountBook) Get(key AccountKey) *Account {
	return b.accounts[key]
}

// GetOrCreate returns the account for key, creating an empty one if needed.
func (b *AccountBook) GetOrCreate(key AccountKey) *Account {
	acct, ok := b.accounts[key]
	if !ok {
		acct = &Account{
			Provider:             key.Provider,
			Token:                key.Token,
			Tier:                 key.Tier,
			ExposureByExpiration: make(map[int64]int64),
		}
		b.accounts[key] = acct
		b.indexInsert(poolKey{Token: key.Token, Tier: key.Tier}, key.Provider)
	}
	return acct
}

func (b *AccountBook) indexInsert(pk poolKey, provider uuid.UUID) {
	ids := b.index[pk]
	pos := sort.Search(len(ids), func(i int) bool {
		return bytes.Compare(ids[i][:], provider[:]) >= 0
	})
	if pos < len(ids) && ids[pos] == provider {
		return
	}
	ids = append(ids, uuid.UUID{})
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = provider
	b.index[pk] = ids
}

// Providers returns the providers holding an account in (token, tier),
// sorted by provider ID for deterministic iteration.
func (b *AccountBook) Providers(token TokenID, tier string) []uuid.UUID {
	ids := b.index[poolKey{Token: token, Tier: tier}]
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out
}

// Credit increases a provider's deposited capital.
func (b *AccountBook) Credit(key AccountKey, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit %d: %w", amount, ErrInvalidAmount)
	}
	acct := b.GetOrCreate(key)
	acct.Deposited += amount
	return nil
}

// Debit decreases a provider's deposited capital. Only unallocated capital
// can be withdrawn.
func (b *AccountBook) Debit(key AccountKey, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("debit %d: %w", amount, ErrInvalidAmount)
	}
	acct := b.Get(key)
	if acct == nil || amount > acct.Available() {
		return fmt.Errorf("debit %d from %s: %w", amount, key.AccountPath(), ErrInsufficientAvailable)
	}
	acct.Deposited -= amount
	return nil
}

// CheckExposure verifies that adding amount at height stays within the
// tier ceiling (deposited * ceilingBp / 10000). Read-only.
func (b *AccountBook) CheckExposure(key AccountKey, height, amount, ceilingBp int64) error {
	acct := b.Get(key)
	if acct == nil {
		return fmt.Errorf("no account %s: %w", key.AccountPath(), ErrInsufficientAvailable)
	}
	newExposure := acct.Exposure(height) + amount
	limit := acct.Deposited * ceilingBp / 10_000
	if newExposure > limit {
		return fmt.Errorf("exposure %d at height %d exceeds limit %d for %s: %w",
			newExposure, height, limit, key.AccountPath(), ErrMaxExposureExceeded)
	}
	return nil
}

// AddExposure records committed collateral at an expiration height. Callers
// must have validated the ceiling with CheckExposure during planning.
func (b *AccountBook) AddExposure(key AccountKey, height, amount int64) {
	acct := b.GetOrCreate(key)
	acct.ExposureByExpiration[height] += amount
}

// ReduceExposure floors at zero: expiration exposure is best-effort
// bookkeeping, not a conservation-critical value.
func (b *AccountBook) ReduceExposure(key AccountKey, height, amount int64) {
	acct := b.Get(key)
	if acct == nil {
		return
	}
	current := acct.ExposureByExpiration[height]
	if amount >= current {
		delete(acct.ExposureByExpiration, height)
		return
	}
	acct.ExposureByExpiration[height] = current - amount
}

// Allocate moves capital from available to allocated. Callers validate
// availability during planning; exceeding it here is a programming error.
func (b *AccountBook) Allocate(key AccountKey, amount int64) error {
	acct := b.Get(key)
	if acct == nil || amount > acct.Available() {
		return fmt.Errorf("allocate %d on %s: %w", amount, key.AccountPath(), ErrInsufficientAvailable)
	}
	acct.Allocated += amount
	return nil
}

// SettleAllocation removes a policy's allocation after settlement: the
// provider's paid share leaves their capital, the remainder returns to
// available (allocated drops by the full allocation).
func (b *AccountBook) SettleAllocation(key AccountKey, allocated, paidShare int64) error {
	acct := b.Get(key)
	if acct == nil {
		return fmt.Errorf("settle on missing account %s: %w", key.AccountPath(), ErrInsufficientAvailable)
	}
	if allocated > acct.Allocated || paidShare > allocated {
		return fmt.Errorf("settle allocated=%d paid=%d on %s (allocated=%d): %w",
			allocated, paidShare, key.AccountPath(), acct.Allocated, ErrArithmeticUnderflow)
	}
	acct.Allocated -= allocated
	acct.Deposited -= paidShare
	return nil
}

// ReleaseAllocation returns a policy's full allocation to available.
func (b *AccountBook) ReleaseAllocation(key AccountKey, allocated int64) error {
	acct := b.Get(key)
	if acct == nil || allocated > acct.Allocated {
		return fmt.Errorf("release %d on %s: %w", allocated, key.AccountPath(), ErrArithmeticUnderflow)
	}
	acct.Allocated -= allocated
	return nil
}

// CreditPending adds a premium share to a provider's pending balance.
func (b *AccountBook) CreditPending(key AccountKey, amount int64) {
	b.GetOrCreate(key).PendingPremiums += amount
}

// ConvertPendingToEarned moves a premium share from pending to earned,
// clamped to what is actually pending.
func (b *AccountBook) ConvertPendingToEarned(key AccountKey, amount int64) int64 {
	acct := b.Get(key)
	if acct == nil {
		return 0
	}
	if amount > acct.PendingPremiums {
		amount = acct.PendingPremiums
	}
	acct.PendingPremiums -= amount
	acct.EarnedPremiums += amount
	return amount
}

// DrainEarned zeroes a provider's earned premiums and returns the amount.
func (b *AccountBook) DrainEarned(key AccountKey) int64 {
	acct := b.Get(key)
	if acct == nil {
		return 0
	}
	amount := acct.EarnedPremiums
	acct.EarnedPremiums = 0
	return amount
}

// TotalDeposited sums deposited capital across all accounts of a token.
func (b *AccountBook) TotalDeposited(token TokenID) int64 {
	var total int64
	for key, acct := range b.accounts {
		if key.Token == token {
			total += acct.Deposited
		}
	}
	return total
}

// TotalPremiumBalances sums pending+earned across all accounts of a token.
func (b *AccountBook) TotalPremiumBalances(token TokenID) (pending, earned int64) {
	for key, acct := range b.accounts {
		if key.Token == token {
			pending += acct.PendingPremiums
			earned += acct.EarnedPremiums
		}
	}
	return pending, earned
}

// All returns every account, sorted by account path for deterministic
// iteration (snapshots, digests).
func (b *AccountBook) All() []*Account {
	out := make([]*Account, 0, len(b.accounts))
	for _, acct := range b.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool {
		ki := AccountKey{Provider: out[i].Provider, Token: out[i].Token, Tier: out[i].Tier}
		kj := AccountKey{Provider: out[j].Provider, Token: out[j].Token, Tier: out[j].Tier}
		return ki.AccountPath() < kj.AccountPath()
	})
	return out
}

// Restore installs an account during snapshot restore.
func (b *AccountBook) Restore(acct *Account) {
	key := AccountKey{Provider: acct.Provider, Token: acct.Token, Tier: acct.Tier}
	if acct.ExposureByExpiration == nil {
		acct.ExposureByExpiration = make(map[int64]int64)
	}
	b.accounts[key] = acct
	b.indexInsert(poolKey{Token: key.Token, Tier: key.Tier}, key.Provider)
}

package ledger

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// AllocationRecord attributes part of a policy's collateral to one provider.
// Created exactly once per (provider, policy) pair by the allocation engine;
// reduced to zero by settlement, deleted by release.
type AllocationRecord struct {
	Provider         uuid.UUID
	PolicyID         uuid.UUID
	Token            TokenID
	Tier             string // tier at allocation time
	Amount           int64
	ExpirationHeight int64
}

// PolicyLock records the ledger-level lock taken for a policy: the
// *requested* collateral, not the summed provider shares. Rounding slack from
// the minimum-unit bump lives only in provider accounts.
type PolicyLock struct {
	PolicyID         uuid.UUID
	Token            TokenID
	Tier             string
	Amount           int64
	ExpirationHeight int64
}

// PremiumShare is one provider's slice of a policy premium, fixed at
// recording time so distribution does not depend on allocation records that
// settlement or release may have consumed.
type PremiumShare struct {
	Provider uuid.UUID
	Amount   int64
}

// PremiumRecord is the per-policy premium audit record. Distributed flips
// exactly once: by the distribute path (expiry) or by settlement (exercise).
type PremiumRecord struct {
	PolicyID           uuid.UUID
	Token              TokenID
	Tier               string // tier of the backing allocations
	Amount             int64
	ExpirationHeight   int64
	Distributed        bool
	DistributionHeight int64
	Shares             []PremiumShare
}

// SettlementRecord is the one-time settlement entry. Its presence is the
// idempotency guard: required absent for both settle and release.
type SettlementRecord struct {
	PolicyID            uuid.UUID
	Token               TokenID
	Amount              int64
	Beneficiary         string
	Height              int64
	RemainingCollateral int64
	PremiumConsumed     int64
}

// ExpirationAggregate tracks committed collateral per expiration height for
// capacity planning. Updated monotonically up by reserve, down (floored at
// zero) by settlement and release.
type ExpirationAggregate struct {
	Height                  int64
	TotalCollateralRequired int64
	TokenDistributions      map[TokenID]int64
	PolicyCount             int64
}

// RecordStore owns all policy-scoped records.
// Not thread-safe — only accessed from the single-threaded vault core.
type RecordStore struct {
	allocations map[uuid.UUID]map[uuid.UUID]*AllocationRecord // policy -> provider -> record
	byProvider  map[uuid.UUID]map[uuid.UUID]struct{}          // provider -> policy set
	locks       map[uuid.UUID]*PolicyLock
	premiums    map[uuid.UUID]*PremiumRecord
	settlements map[uuid.UUID]*SettlementRecord
	aggregates  map[int64]*ExpirationAggregate
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		allocations: make(map[uuid.UUID]map[uuid.UUID]*AllocationRecord),
		byProvider:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		locks:       make(map[uuid.UUID]*PolicyLock),
		premiums:    make(map[uuid.UUID]*PremiumRecord),
		settlements: make(map[uuid.UUID]*SettlementRecord),
		aggregates:  make(map[int64]*ExpirationAggregate),
	}
}

// --- Allocations ---

// PutAllocation stores a new allocation record.
func (rs *RecordStore) PutAllocation(rec *AllocationRecord) {
	byPolicy, ok := rs.allocations[rec.PolicyID]
	if !ok {
		byPolicy = make(map[uuid.UUID]*AllocationRecord)
		rs.allocations[rec.PolicyID] = byPolicy
	}
	byPolicy[rec.Provider] = rec

	policies, ok := rs.byProvider[rec.Provider]
	if !ok {
		policies = make(map[uuid.UUID]struct{})
		rs.byProvider[rec.Provider] = policies
	}
	policies[rec.PolicyID] = struct{}{}
}

// AllocationsForPolicy returns the policy's allocation records sorted by
// provider ID for deterministic iteration.
func (rs *RecordStore) AllocationsForPolicy(policyID uuid.UUID) []*AllocationRecord {
	byPolicy := rs.allocations[policyID]
	out := make([]*AllocationRecord, 0, len(byPolicy))
	for _, rec := range byPolicy {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Provider[:], out[j].Provider[:]) < 0
	})
	return out
}

// AllocationsForProvider returns all of a provider's allocation records,
// sorted by policy ID.
func (rs *RecordStore) AllocationsForProvider(provider uuid.UUID) []*AllocationRecord {
	policies := rs.byProvider[provider]
	out := make([]*AllocationRecord, 0, len(policies))
	for policyID := range policies {
		if rec, ok := rs.allocations[policyID][provider]; ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].PolicyID[:], out[j].PolicyID[:]) < 0
	})
	return out
}

// ZeroAllocations reduces a policy's allocation records to zero (settlement
// path): records stay for audit, provider indexes stay.
func (rs *RecordStore) ZeroAllocations(policyID uuid.UUID) {
	for _, rec := range rs.allocations[policyID] {
		rec.Amount = 0
	}
}

// DeleteAllocations removes a policy's allocation records (release path).
func (rs *RecordStore) DeleteAllocations(policyID uuid.UUID) {
	for provider := range rs.allocations[policyID] {
		delete(rs.byProvider[provider], policyID)
		if len(rs.byProvider[provider]) == 0 {
			delete(rs.byProvider, provider)
		}
	}
	delete(rs.allocations, policyID)
}

// --- Policy locks ---

func (rs *RecordStore) PutLock(lock *PolicyLock) {
	rs.locks[lock.PolicyID] = lock
}

func (rs *RecordStore) Lock(policyID uuid.UUID) (*PolicyLock, bool) {
	lock, ok := rs.locks[policyID]
	return lock, ok
}

func (rs *RecordStore) DeleteLock(policyID uuid.UUID) {
	delete(rs.locks, policyID)
}

// --- Premium records ---

func (rs *RecordStore) PutPremium(rec *PremiumRecord) {
	rs.premiums[rec.PolicyID] = rec
}

func (rs *RecordStore) Premium(policyID uuid.UUID) (*PremiumRecord, bool) {
	rec, ok := rs.premiums[policyID]
	return rec, ok
}

// --- Settlement records ---

func (rs *RecordStore) PutSettlement(rec *SettlementRecord) {
	rs.settlements[rec.PolicyID] = rec
}

func (rs *RecordStore) Settlement(policyID uuid.UUID) (*SettlementRecord, bool) {
	rec, ok := rs.settlements[policyID]
	return rec, ok
}

// --- Expiration aggregates ---

func (rs *RecordStore) aggregate(height int64) *ExpirationAggregate {
	agg, ok := rs.aggregates[height]
	if !ok {
		agg = &ExpirationAggregate{
			Height:             height,
			TokenDistributions: make(map[TokenID]int64),
		}
		rs.aggregates[height] = agg
	}
	return agg
}

// AddToAggregate records a new policy's collateral at an expiration height.
func (rs *RecordStore) AddToAggregate(height int64, token TokenID, amount int64) {
	agg := rs.aggregate(height)
	agg.TotalCollateralRequired += amount
	agg.TokenDistributions[token] += amount
	agg.PolicyCount++
}

// ReduceAggregate backs a resolved policy out of an expiration height,
// floored at zero.
func (rs *RecordStore) ReduceAggregate(height int64, token TokenID, amount int64) {
	agg := rs.aggregate(height)
	agg.TotalCollateralRequired -= amount
	if agg.TotalCollateralRequired < 0 {
		agg.TotalCollateralRequired = 0
	}
	agg.TokenDistributions[token] -= amount
	if agg.TokenDistributions[token] < 0 {
		agg.TokenDistributions[token] = 0
	}
	if agg.PolicyCount > 0 {
		agg.PolicyCount--
	}
}

// Aggregate returns a copy of the aggregate at height.
func (rs *RecordStore) Aggregate(height int64) ExpirationAggregate {
	agg := rs.aggregate(height)
	dist := make(map[TokenID]int64, len(agg.TokenDistributions))
	for k, v := range agg.TokenDistributions {
		dist[k] = v
	}
	return ExpirationAggregate{
		Height:                  agg.Height,
		TotalCollateralRequired: agg.TotalCollateralRequired,
		TokenDistributions:      dist,
		PolicyCount:             agg.PolicyCount,
	}
}

// Aggregates returns all aggregates sorted by height.
func (rs *RecordStore) Aggregates() []ExpirationAggregate {
	heights := make([]int64, 0, len(rs.aggregates))
	for h := range rs.aggregates {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	out := make([]ExpirationAggregate, 0, len(heights))
	for _, h := range heights {
		out = append(out, rs.Aggregate(h))
	}
	return out
}

// --- Snapshot support ---

// AllLocks returns every policy lock sorted by policy ID.
func (rs *RecordStore) AllLocks() []*PolicyLock {
	out := make([]*PolicyLock, 0, len(rs.locks))
	for _, lock := range rs.locks {
		out = append(out, lock)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].PolicyID[:], out[j].PolicyID[:]) < 0
	})
	return out
}

// AllAllocations returns every allocation record sorted by (policy, provider).
func (rs *RecordStore) AllAllocations() []*AllocationRecord {
	out := make([]*AllocationRecord, 0)
	for _, byPolicy := range rs.allocations {
		for _, rec := range byPolicy {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].PolicyID[:], out[j].PolicyID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Provider[:], out[j].Provider[:]) < 0
	})
	return out
}

// AllPremiums returns every premium record sorted by policy ID.
func (rs *RecordStore) AllPremiums() []*PremiumRecord {
	out := make([]*PremiumRecord, 0, len(rs.premiums))
	for _, rec := range rs.premiums {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].PolicyID[:], out[j].PolicyID[:]) < 0
	})
	return out
}

// AllSettlements returns every settlement record sorted by policy ID.
func (rs *RecordStore) AllSettlements() []*SettlementRecord {
	out := make([]*SettlementRecord, 0, len(rs.settlements))
	for _, rec := range rs.settlements {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].PolicyID[:], out[j].PolicyID[:]) < 0
	})
	return out
}

// RestoreAggregate installs an aggregate during snapshot restore.
func (rs *RecordStore) RestoreAggregate(agg *ExpirationAggregate) {
	if agg.TokenDistributions == nil {
		agg.TokenDistributions = make(map[TokenID]int64)
	}
	rs.aggregates[agg.Height] = agg
}

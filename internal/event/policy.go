// internal/event/policy.go
package event

import "github.com/google/uuid"

// PolicyReserve asks the allocation engine to back a new policy with
// provider collateral. Emitted by the policy component at issuance.
type PolicyReserve struct {
	Policy             uuid.UUID `json:"policy_id"`
	RequiredCollateral int64     `json:"required_collateral"`
	Token              string    `json:"token"`
	Tier               string    `json:"tier"`
	ExpirationHeight   int64     `json:"expiration_height"`
	ChainHeight        int64     `json:"chain_height"`
	Sequence           int64     `json:"sequence"`
}

func (r *PolicyReserve) IdempotencyKey() string {
	return "reserve:" + r.Policy.String()
}

func (r *PolicyReserve) EventType() EventType {
	return EventTypePolicyReserve
}

func (r *PolicyReserve) PolicyID() *uuid.UUID {
	return &r.Policy
}

func (r *PolicyReserve) Partition() string {
	return PartitionPolicies
}

func (r *PolicyReserve) SourceSequence() int64 {
	return r.Sequence
}

func (r *PolicyReserve) Height() int64 {
	return r.ChainHeight
}

// PolicyPremium records the buyer's paid premium against a policy and
// credits pending shares to the backing providers.
type PolicyPremium struct {
	Policy           uuid.UUID `json:"policy_id"`
	Amount           int64     `json:"amount"`
	Token            string    `json:"token"`
	ExpirationHeight int64     `json:"expiration_height"`
	ChainHeight      int64     `json:"chain_height"`
	Sequence         int64     `json:"sequence"`
}

func (p *PolicyPremium) IdempotencyKey() string {
	return "premium:" + p.Policy.String()
}

func (p *PolicyPremium) EventType() EventType {
	return EventTypePolicyPremium
}

func (p *PolicyPremium) PolicyID() *uuid.UUID {
	return &p.Policy
}

func (p *PolicyPremium) Partition() string {
	return PartitionPolicies
}

func (p *PolicyPremium) SourceSequence() int64 {
	return p.Sequence
}

func (p *PolicyPremium) Height() int64 {
	return p.ChainHeight
}

// PremiumDistribute finalizes an out-of-the-money policy's premium:
// pending shares become earned. At most once per policy.
type PremiumDistribute struct {
	Policy      uuid.UUID `json:"policy_id"`
	ChainHeight int64     `json:"chain_height"`
	Sequence    int64     `json:"sequence"`
}

func (d *PremiumDistribute) IdempotencyKey() string {
	return "distribute:" + d.Policy.String()
}

func (d *PremiumDistribute) EventType() EventType {
	return EventTypePremiumDistribute
}

func (d *PremiumDistribute) PolicyID() *uuid.UUID {
	return &d.Policy
}

func (d *PremiumDistribute) Partition() string {
	return PartitionPolicies
}

func (d *PremiumDistribute) SourceSequence() int64 {
	return d.Sequence
}

func (d *PremiumDistribute) Height() int64 {
	return d.ChainHeight
}

// PolicySettle pays an in-the-money policy's settlement to the beneficiary
// out of locked collateral. The settlement amount is supplied by the policy
// component; the vault trusts its caller for moneyness.
type PolicySettle struct {
	Policy           uuid.UUID `json:"policy_id"`
	SettlementAmount int64     `json:"settlement_amount"`
	Token            string    `json:"token"`
	Beneficiary      string    `json:"beneficiary"`
	ChainHeight      int64     `json:"chain_height"`
	Sequence         int64     `json:"sequence"`
}

func (s *PolicySettle) IdempotencyKey() string {
	return "settle:" + s.Policy.String()
}

func (s *PolicySettle) EventType() EventType {
	return EventTypePolicySettle
}

func (s *PolicySettle) PolicyID() *uuid.UUID {
	return &s.Policy
}

func (s *PolicySettle) Partition() string {
	return PartitionPolicies
}

func (s *PolicySettle) SourceSequence() int64 {
	return s.Sequence
}

func (s *PolicySettle) Height() int64 {
	return s.ChainHeight
}

// PolicyRelease returns an expired policy's collateral to its providers.
type PolicyRelease struct {
	Policy           uuid.UUID `json:"policy_id"`
	Token            string    `json:"token"`
	ExpirationHeight int64     `json:"expiration_height"`
	ChainHeight      int64     `json:"chain_height"`
	Sequence         int64     `json:"sequence"`
}

func (r *PolicyRelease) IdempotencyKey() string {
	return "release:" + r.Policy.String()
}

func (r *PolicyRelease) EventType() EventType {
	return EventTypePolicyRelease
}

func (r *PolicyRelease) PolicyID() *uuid.UUID {
	return &r.Policy
}

func (r *PolicyRelease) Partition() string {
	return PartitionPolicies
}

func (r *PolicyRelease) SourceSequence() int64 {
	return r.Sequence
}

func (r *PolicyRelease) Height() int64 {
	return r.ChainHeight
}

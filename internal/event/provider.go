// internal/event/provider.go
package event

import "github.com/google/uuid"

// ProviderDeposit credits provider capital into a tiered pool.
type ProviderDeposit struct {
	DepositID   uuid.UUID `json:"deposit_id"`
	Provider    uuid.UUID `json:"provider_id"`
	Token       string    `json:"token"`
	Tier        string    `json:"tier"`
	Amount      int64     `json:"amount"` // fixed-point
	ChainHeight int64     `json:"chain_height"`
	Sequence    int64     `json:"sequence"`
}

func (d *ProviderDeposit) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *ProviderDeposit) EventType() EventType {
	return EventTypeProviderDeposit
}

func (d *ProviderDeposit) PolicyID() *uuid.UUID {
	return nil // provider-scoped event
}

func (d *ProviderDeposit) Partition() string {
	return PartitionProviders
}

func (d *ProviderDeposit) SourceSequence() int64 {
	return d.Sequence
}

func (d *ProviderDeposit) Height() int64 {
	return d.ChainHeight
}

// ProviderWithdrawal debits unallocated provider capital out of a pool.
type ProviderWithdrawal struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	Provider     uuid.UUID `json:"provider_id"`
	Token        string    `json:"token"`
	Tier         string    `json:"tier"`
	Amount       int64     `json:"amount"`
	ChainHeight  int64     `json:"chain_height"`
	Sequence     int64     `json:"sequence"`
}

func (w *ProviderWithdrawal) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *ProviderWithdrawal) EventType() EventType {
	return EventTypeProviderWithdrawal
}

func (w *ProviderWithdrawal) PolicyID() *uuid.UUID {
	return nil
}

func (w *ProviderWithdrawal) Partition() string {
	return PartitionProviders
}

func (w *ProviderWithdrawal) SourceSequence() int64 {
	return w.Sequence
}

func (w *ProviderWithdrawal) Height() int64 {
	return w.ChainHeight
}

// PremiumClaim transfers a provider's earned premiums out of the vault.
type PremiumClaim struct {
	ClaimID     uuid.UUID `json:"claim_id"`
	Provider    uuid.UUID `json:"provider_id"`
	Token       string    `json:"token"`
	Tier        string    `json:"tier"`
	ChainHeight int64     `json:"chain_height"`
	Sequence    int64     `json:"sequence"`
}

func (c *PremiumClaim) IdempotencyKey() string {
	return c.ClaimID.String()
}

func (c *PremiumClaim) EventType() EventType {
	return EventTypePremiumClaim
}

func (c *PremiumClaim) PolicyID() *uuid.UUID {
	return nil
}

func (c *PremiumClaim) Partition() string {
	return PartitionProviders
}

func (c *PremiumClaim) SourceSequence() int64 {
	return c.Sequence
}

func (c *PremiumClaim) Height() int64 {
	return c.ChainHeight
}

package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"PoolVault/internal/event"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses, and converts raw
// events before sending to the vault core; the core never sees wire bytes.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	switch raw.EventType {
	case "ProviderDeposit":
		return parseProviderDeposit(raw.Data)
	case "ProviderWithdrawal":
		return parseProviderWithdrawal(raw.Data)
	case "PremiumClaim":
		return parsePremiumClaim(raw.Data)
	case "PolicyReserve":
		return parsePolicyReserve(raw.Data)
	case "PolicyPremium":
		return parsePolicyPremium(raw.Data)
	case "PremiumDistribute":
		return parsePremiumDistribute(raw.Data)
	case "PolicySettle":
		return parsePolicySettle(raw.Data)
	case "PolicyRelease":
		return parsePolicyRelease(raw.Data)
	case "TierUpdate":
		return parseTierUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", raw.EventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match the upstream policy component.

type providerDepositJSON struct {
	DepositID   string `json:"deposit_id"`
	ProviderID  string `json:"provider_id"`
	Token       string `json:"token"`
	Tier        string `json:"tier"`
	Amount      int64  `json:"amount"`
	ChainHeight int64  `json:"chain_height"`
	Sequence    int64  `json:"sequence"`
}

func parseProviderDeposit(data []byte) (*event.ProviderDeposit, error) {
	var j providerDepositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ProviderDeposit: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	provider, err := uuid.Parse(j.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("parse provider_id: %w", err)
	}
	return &event.ProviderDeposit{
		DepositID:   depositID,
		Provider:    provider,
		Token:       j.Token,
		Tier:        j.Tier,
		Amount:      j.Amount,
		ChainHeight: j.ChainHeight,
		Sequence:    j.Sequence,
	}, nil
}

type providerWithdrawalJSON struct {
	WithdrawalID string `json:"withdrawal_id"`
	ProviderID   string `json:"provider_id"`
	Token        string `json:"token"`
	Tier         string `json:"tier"`
	Amount       int64  `json:"amount"`
	ChainHeight  int64  `json:"chain_height"`
	Sequence     int64  `json:"sequence"`
}

func parseProviderWithdrawal(data []byte) (*event.ProviderWithdrawal, error) {
	var j providerWithdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ProviderWithdrawal: %w", err)
	}
	withdrawalID, err := uuid.Parse(j.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("parse withdrawal_id: %w", err)
	}
	provider, err := uuid.Parse(j.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("parse provider_id: %w", err)
	}
	return &event.ProviderWithdrawal{
		WithdrawalID: withdrawalID,
		Provider:     provider,
		Token:        j.Token,
		Tier:         j.Tier,
		Amount:       j.Amount,
		ChainHeight:  j.ChainHeight,
		Sequence:     j.Sequence,
	}, nil
}

type premiumClaimJSON struct {
	ClaimID     string `json:"claim_id"`
	ProviderID  string `json:"provider_id"`
	Token       string `json:"token"`
	Tier        string `json:"tier"`
	ChainHeight int64  `json:"chain_height"`
	Sequence    int64  `json:"sequence"`
}

func parsePremiumClaim(data []byte) (*event.PremiumClaim, error) {
	var j premiumClaimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PremiumClaim: %w", err)
	}
	claimID, err := uuid.Parse(j.ClaimID)
	if err != nil {
		return nil, fmt.Errorf("parse claim_id: %w", err)
	}
	provider, err := uuid.Parse(j.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("parse provider_id: %w", err)
	}
	return &event.PremiumClaim{
		ClaimID:     claimID,
		Provider:    provider,
		Token:       j.Token,
		Tier:        j.Tier,
		ChainHeight: j.ChainHeight,
		Sequence:    j.Sequence,
	}, nil
}

type policyReserveJSON struct {
	PolicyID           string `json:"policy_id"`
	RequiredCollateral int64  `json:"required_collateral"`
	Token              string `json:"token"`
	Tier               string `json:"tier"`
	ExpirationHeight   int64  `json:"expiration_height"`
	ChainHeight        int64  `json:"chain_height"`
	Sequence           int64  `json:"sequence"`
}

func parsePolicyReserve(data []byte) (*event.PolicyReserve, error) {
	var j policyReserveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PolicyReserve: %w", err)
	}
	policy, err := uuid.Parse(j.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("parse policy_id: %w", err)
	}
	return &event.PolicyReserve{
		Policy:             policy,
		RequiredCollateral: j.RequiredCollateral,
		Token:              j.Token,
		Tier:               j.Tier,
		ExpirationHeight:   j.ExpirationHeight,
		ChainHeight:        j.ChainHeight,
		Sequence:           j.Sequence,
	}, nil
}

type policyPremiumJSON struct {
	PolicyID         string `json:"policy_id"`
	Amount           int64  `json:"amount"`
	Token            string `json:"token"`
	ExpirationHeight int64  `json:"expiration_height"`
	ChainHeight      int64  `json:"chain_height"`
	Sequence         int64  `json:"sequence"`
}

func parsePolicyPremium(data []byte) (*event.PolicyPremium, error) {
	var j policyPremiumJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PolicyPremium: %w", err)
	}
	policy, err := uuid.Parse(j.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("parse policy_id: %w", err)
	}
	return &event.PolicyPremium{
		Policy:           policy,
		Amount:           j.Amount,
		Token:            j.Token,
		ExpirationHeight: j.ExpirationHeight,
		ChainHeight:      j.ChainHeight,
		Sequence:         j.Sequence,
	}, nil
}

type premiumDistributeJSON struct {
	PolicyID    string `json:"policy_id"`
	ChainHeight int64  `json:"chain_height"`
	Sequence    int64  `json:"sequence"`
}

func parsePremiumDistribute(data []byte) (*event.PremiumDistribute, error) {
	var j premiumDistributeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PremiumDistribute: %w", err)
	}
	policy, err := uuid.Parse(j.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("parse policy_id: %w", err)
	}
	return &event.PremiumDistribute{
		Policy:      policy,
		ChainHeight: j.ChainHeight,
		Sequence:    j.Sequence,
	}, nil
}

type policySettleJSON struct {
	PolicyID         string `json:"policy_id"`
	SettlementAmount int64  `json:"settlement_amount"`
	Token            string `json:"token"`
	Beneficiary      string `json:"beneficiary"`
	ChainHeight      int64  `json:"chain_height"`
	Sequence         int64  `json:"sequence"`
}

func parsePolicySettle(data []byte) (*event.PolicySettle, error) {
	var j policySettleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PolicySettle: %w", err)
	}
	policy, err := uuid.Parse(j.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("parse policy_id: %w", err)
	}
	if j.Beneficiary == "" {
		return nil, fmt.Errorf("parse PolicySettle: empty beneficiary")
	}
	return &event.PolicySettle{
		Policy:           policy,
		SettlementAmount: j.SettlementAmount,
		Token:            j.Token,
		Beneficiary:      j.Beneficiary,
		ChainHeight:      j.ChainHeight,
		Sequence:         j.Sequence,
	}, nil
}

type policyReleaseJSON struct {
	PolicyID         string `json:"policy_id"`
	Token            string `json:"token"`
	ExpirationHeight int64  `json:"expiration_height"`
	ChainHeight      int64  `json:"chain_height"`
	Sequence         int64  `json:"sequence"`
}

func parsePolicyRelease(data []byte) (*event.PolicyRelease, error) {
	var j policyReleaseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PolicyRelease: %w", err)
	}
	policy, err := uuid.Parse(j.PolicyID)
	if err != nil {
		return nil, fmt.Errorf("parse policy_id: %w", err)
	}
	return &event.PolicyRelease{
		Policy:           policy,
		Token:            j.Token,
		ExpirationHeight: j.ExpirationHeight,
		ChainHeight:      j.ChainHeight,
		Sequence:         j.Sequence,
	}, nil
}

type tierUpdateJSON struct {
	UpdateID                   string `json:"update_id"`
	Tier                       string `json:"tier"`
	CollateralRatioBp          int64  `json:"collateral_ratio_bp"`
	PremiumAdjustmentBp        int64  `json:"premium_adjustment_bp"`
	MaxExposurePerPolicyBp     int64  `json:"max_exposure_per_policy_bp"`
	MaxExposurePerExpirationBp int64  `json:"max_exposure_per_expiration_bp"`
	Active                     bool   `json:"active"`
	ChainHeight                int64  `json:"chain_height"`
	Sequence                   int64  `json:"sequence"`
}

func parseTierUpdate(data []byte) (*event.TierUpdate, error) {
	var j tierUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TierUpdate: %w", err)
	}
	updateID, err := uuid.Parse(j.UpdateID)
	if err != nil {
		return nil, fmt.Errorf("parse update_id: %w", err)
	}
	return &event.TierUpdate{
		UpdateID:                   updateID,
		Tier:                       j.Tier,
		CollateralRatioBp:          j.CollateralRatioBp,
		PremiumAdjustmentBp:        j.PremiumAdjustmentBp,
		MaxExposurePerPolicyBp:     j.MaxExposurePerPolicyBp,
		MaxExposurePerExpirationBp: j.MaxExposurePerExpirationBp,
		Active:                     j.Active,
		ChainHeight:                j.ChainHeight,
		Sequence:                   j.Sequence,
	}, nil
}

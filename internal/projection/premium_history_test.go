package projection

import (
	"testing"

	"github.com/google/uuid"
)

func premiumOutput(seq int64, provider, policy uuid.UUID, entryType string, amount int64) Output {
	providerStr := provider.String()
	policyStr := policy.String()
	return Output{
		Sequence:  seq,
		EventType: "PolicyPremium",
		PolicyID:  &policyStr,
		Height:    840_000 + seq,
		Entries: []Entry{
			{
				EntryType: entryType,
				Provider:  &providerStr,
				PolicyID:  &policyStr,
				Token:     "STX",
				Tier:      "balanced",
				Amount:    amount,
				Height:    840_000 + seq,
			},
		},
	}
}

func TestPremiumHistory_RecordsPremiumFlowOnly(t *testing.T) {
	h := NewPremiumHistory()
	provider := uuid.New()
	policy := uuid.New()

	h.Record(premiumOutput(1, provider, policy, "premium_pending", 30))
	h.Record(premiumOutput(2, provider, policy, "premium_earned", 30))
	h.Record(premiumOutput(3, provider, policy, "premium_claim", 30))

	// Non-premium entries are ignored.
	h.Record(premiumOutput(4, provider, policy, "deposit", 1000))

	flows := h.QueryByProvider(provider, 10)
	if len(flows) != 3 {
		t.Fatalf("expected 3 flows, got %d", len(flows))
	}

	// Newest first.
	if flows[0].Kind != "claimed" || flows[1].Kind != "earned" || flows[2].Kind != "pending" {
		t.Errorf("flow order: %s, %s, %s", flows[0].Kind, flows[1].Kind, flows[2].Kind)
	}
	if flows[0].Sequence != 3 {
		t.Errorf("newest sequence = %d, want 3", flows[0].Sequence)
	}
	if flows[2].PolicyID == nil || *flows[2].PolicyID != policy {
		t.Errorf("policy not carried: %v", flows[2].PolicyID)
	}
}

func TestPremiumHistory_FiltersByProvider(t *testing.T) {
	h := NewPremiumHistory()
	providerA := uuid.New()
	providerB := uuid.New()
	policy := uuid.New()

	h.Record(premiumOutput(1, providerA, policy, "premium_pending", 30))
	h.Record(premiumOutput(2, providerB, policy, "premium_pending", 70))

	if got := h.QueryByProvider(providerA, 10); len(got) != 1 || got[0].Amount != 30 {
		t.Errorf("provider A flows: %+v", got)
	}
	if got := h.QueryByProvider(providerB, 10); len(got) != 1 || got[0].Amount != 70 {
		t.Errorf("provider B flows: %+v", got)
	}
}

func TestPremiumHistory_LimitApplies(t *testing.T) {
	h := NewPremiumHistory()
	provider := uuid.New()
	policy := uuid.New()

	for i := int64(1); i <= 20; i++ {
		h.Record(premiumOutput(i, provider, policy, "premium_pending", i))
	}

	flows := h.QueryByProvider(provider, 5)
	if len(flows) != 5 {
		t.Fatalf("expected 5 flows, got %d", len(flows))
	}
	if flows[0].Sequence != 20 || flows[4].Sequence != 16 {
		t.Errorf("limit window wrong: first=%d last=%d", flows[0].Sequence, flows[4].Sequence)
	}
}

func TestPremiumHistory_SkipsPoolLevelEntries(t *testing.T) {
	h := NewPremiumHistory()
	policy := uuid.New()
	policyStr := policy.String()

	h.Record(Output{
		Sequence: 1,
		Entries: []Entry{
			{EntryType: "premium_pending", Provider: nil, PolicyID: &policyStr, Token: "STX", Amount: 100},
		},
	})

	if got := h.QueryByProvider(uuid.New(), 10); len(got) != 0 {
		t.Errorf("pool-level entry recorded: %+v", got)
	}
}

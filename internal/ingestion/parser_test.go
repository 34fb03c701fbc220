package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"PoolVault/internal/event"
	"PoolVault/internal/ingestion"
)

func rawFromJSON(t *testing.T, eventType string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		EventType: eventType,
		Data:      data,
		Received:  time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseProviderDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "550e8400-e29b-41d4-a716-446655440000",
		"provider_id":  "660e8400-e29b-41d4-a716-446655440001",
		"token":        "STX",
		"tier":         "balanced",
		"amount":       int64(1_000_000),
		"chain_height": int64(850_000),
		"sequence":     int64(1),
	}

	raw := rawFromJSON(t, "ProviderDeposit", payload)
	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := evt.(*event.ProviderDeposit)
	if !ok {
		t.Fatalf("expected *event.ProviderDeposit, got %T", evt)
	}

	if dep.Token != "STX" {
		t.Errorf("token: got %s, want STX", dep.Token)
	}
	if dep.Tier != "balanced" {
		t.Errorf("tier: got %s, want balanced", dep.Tier)
	}
	if dep.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", dep.Amount)
	}
	if dep.ChainHeight != 850_000 {
		t.Errorf("chain_height: got %d, want 850_000", dep.ChainHeight)
	}
	if dep.EventType() != event.EventTypeProviderDeposit {
		t.Errorf("event type: got %v, want ProviderDeposit", dep.EventType())
	}
	if dep.Partition() != event.PartitionProviders {
		t.Errorf("partition: got %s, want %s", dep.Partition(), event.PartitionProviders)
	}
}

func TestParsePolicyReserve(t *testing.T) {
	payload := map[string]interface{}{
		"policy_id":           "770e8400-e29b-41d4-a716-446655440002",
		"required_collateral": int64(500_000),
		"token":               "SBTC",
		"tier":                "conservative",
		"expiration_height":   int64(851_000),
		"chain_height":        int64(850_100),
		"sequence":            int64(7),
	}

	raw := rawFromJSON(t, "PolicyReserve", payload)
	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	res, ok := evt.(*event.PolicyReserve)
	if !ok {
		t.Fatalf("expected *event.PolicyReserve, got %T", evt)
	}

	if res.RequiredCollateral != 500_000 {
		t.Errorf("required_collateral: got %d, want 500_000", res.RequiredCollateral)
	}
	if res.Tier != "conservative" {
		t.Errorf("tier: got %s, want conservative", res.Tier)
	}
	if res.ExpirationHeight != 851_000 {
		t.Errorf("expiration_height: got %d, want 851_000", res.ExpirationHeight)
	}
	if res.IdempotencyKey() != "reserve:770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("idempotency key: got %s", res.IdempotencyKey())
	}
	if res.PolicyID() == nil || res.PolicyID().String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("policy id: got %v", res.PolicyID())
	}
}

func TestParsePolicySettle(t *testing.T) {
	payload := map[string]interface{}{
		"policy_id":         "770e8400-e29b-41d4-a716-446655440002",
		"settlement_amount": int64(200),
		"token":             "STX",
		"beneficiary":       "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7",
		"chain_height":      int64(851_050),
		"sequence":          int64(9),
	}

	raw := rawFromJSON(t, "PolicySettle", payload)
	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	st, ok := evt.(*event.PolicySettle)
	if !ok {
		t.Fatalf("expected *event.PolicySettle, got %T", evt)
	}

	if st.SettlementAmount != 200 {
		t.Errorf("settlement_amount: got %d, want 200", st.SettlementAmount)
	}
	if st.Beneficiary != "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7" {
		t.Errorf("beneficiary: got %s", st.Beneficiary)
	}
	if st.Partition() != event.PartitionPolicies {
		t.Errorf("partition: got %s, want %s", st.Partition(), event.PartitionPolicies)
	}
}

func TestParsePolicySettle_EmptyBeneficiaryFails(t *testing.T) {
	payload := map[string]interface{}{
		"policy_id":         "770e8400-e29b-41d4-a716-446655440002",
		"settlement_amount": int64(200),
		"token":             "STX",
		"beneficiary":       "",
		"chain_height":      int64(851_050),
		"sequence":          int64(9),
	}

	raw := rawFromJSON(t, "PolicySettle", payload)
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Fatal("expected error for empty beneficiary")
	}
}

func TestParseTierUpdate(t *testing.T) {
	payload := map[string]interface{}{
		"update_id":                      "880e8400-e29b-41d4-a716-446655440003",
		"tier":                           "aggressive",
		"collateral_ratio_bp":            int64(10_000),
		"premium_adjustment_bp":          int64(13_000),
		"max_exposure_per_policy_bp":     int64(10_000),
		"max_exposure_per_expiration_bp": int64(10_000),
		"active":                         true,
		"chain_height":                   int64(850_200),
		"sequence":                       int64(3),
	}

	raw := rawFromJSON(t, "TierUpdate", payload)
	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tu, ok := evt.(*event.TierUpdate)
	if !ok {
		t.Fatalf("expected *event.TierUpdate, got %T", evt)
	}

	if tu.Tier != "aggressive" {
		t.Errorf("tier: got %s, want aggressive", tu.Tier)
	}
	if tu.PremiumAdjustmentBp != 13_000 {
		t.Errorf("premium_adjustment_bp: got %d, want 13_000", tu.PremiumAdjustmentBp)
	}
	if !tu.Active {
		t.Error("active: got false, want true")
	}
	if tu.Partition() != event.PartitionAdmin {
		t.Errorf("partition: got %s, want %s", tu.Partition(), event.PartitionAdmin)
	}
}

func TestParsePremiumDistribute(t *testing.T) {
	payload := map[string]interface{}{
		"policy_id":    "990e8400-e29b-41d4-a716-446655440004",
		"chain_height": int64(851_100),
		"sequence":     int64(11),
	}

	raw := rawFromJSON(t, "PremiumDistribute", payload)
	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pd, ok := evt.(*event.PremiumDistribute)
	if !ok {
		t.Fatalf("expected *event.PremiumDistribute, got %T", evt)
	}
	if pd.IdempotencyKey() != "distribute:990e8400-e29b-41d4-a716-446655440004" {
		t.Errorf("idempotency key: got %s", pd.IdempotencyKey())
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{EventType: "NonExistentType", Data: []byte(`{}`)}
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{EventType: "ProviderDeposit", Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"deposit_id":   "not-a-uuid",
		"provider_id":  "also-not-a-uuid",
		"token":        "STX",
		"tier":         "balanced",
		"amount":       int64(1),
		"chain_height": int64(0),
		"sequence":     int64(0),
	}

	raw := rawFromJSON(t, "ProviderDeposit", payload)
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

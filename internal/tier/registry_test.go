package tier_test

import (
	"testing"

	"PoolVault/internal/tier"
)

func TestNewRegistry_HasDefaultTiers(t *testing.T) {
	r := tier.NewRegistry()

	for _, name := range []string{tier.TierConservative, tier.TierBalanced, tier.TierAggressive} {
		got, ok := r.Get(name)
		if !ok {
			t.Fatalf("default tier %q missing", name)
		}
		if !got.Active {
			t.Errorf("default tier %q not active", name)
		}
	}

	if len(r.Names()) != 3 {
		t.Errorf("expected 3 default tiers, got %d", len(r.Names()))
	}
}

func TestRegistry_SetDoesNotAliasInput(t *testing.T) {
	r := tier.NewRegistry()

	custom := &tier.Tier{
		Name:                       "custom",
		CollateralRatioBp:          12_000,
		PremiumAdjustmentBp:        9_000,
		MaxExposurePerPolicyBp:     3_000,
		MaxExposurePerExpirationBp: 5_000,
		Active:                     true,
	}
	if err := r.Set(custom); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Mutating the caller's struct must not affect the registry.
	custom.CollateralRatioBp = 99_999

	got, ok := r.Get("custom")
	if !ok {
		t.Fatal("custom tier missing after Set")
	}
	if got.CollateralRatioBp != 12_000 {
		t.Errorf("registry tier mutated through caller pointer: %d", got.CollateralRatioBp)
	}
}

func TestRegistry_SetReplacesExisting(t *testing.T) {
	r := tier.NewRegistry()

	updated := &tier.Tier{
		Name:                       tier.TierBalanced,
		CollateralRatioBp:          10_500,
		PremiumAdjustmentBp:        11_000,
		MaxExposurePerPolicyBp:     4_000,
		MaxExposurePerExpirationBp: 6_000,
		Active:                     false,
	}
	if err := r.Set(updated); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, _ := r.Get(tier.TierBalanced)
	if got.Active {
		t.Error("deactivation did not stick")
	}
	if got.CollateralRatioBp != 10_500 {
		t.Errorf("collateral ratio = %d, want 10500", got.CollateralRatioBp)
	}
}

func TestValidate_RejectsBadParameters(t *testing.T) {
	base := tier.Tier{
		Name:                       "x",
		CollateralRatioBp:          11_000,
		PremiumAdjustmentBp:        10_000,
		MaxExposurePerPolicyBp:     5_000,
		MaxExposurePerExpirationBp: 7_000,
		Active:                     true,
	}

	cases := []struct {
		name   string
		mutate func(*tier.Tier)
	}{
		{"empty name", func(t *tier.Tier) { t.Name = "" }},
		{"under-collateralized", func(t *tier.Tier) { t.CollateralRatioBp = 9_999 }},
		{"zero policy ceiling", func(t *tier.Tier) { t.MaxExposurePerPolicyBp = 0 }},
		{"policy ceiling over 100%", func(t *tier.Tier) { t.MaxExposurePerPolicyBp = 10_001 }},
		{"zero expiration ceiling", func(t *tier.Tier) { t.MaxExposurePerExpirationBp = 0 }},
		{"expiration ceiling over 100%", func(t *tier.Tier) { t.MaxExposurePerExpirationBp = 10_001 }},
		{"zero premium adjustment", func(t *tier.Tier) { t.PremiumAdjustmentBp = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bad := base
			tc.mutate(&bad)
			if err := tier.Validate(&bad); err == nil {
				t.Errorf("Validate accepted %s", tc.name)
			}
		})
	}

	if err := tier.Validate(&base); err != nil {
		t.Errorf("Validate rejected valid tier: %v", err)
	}
}

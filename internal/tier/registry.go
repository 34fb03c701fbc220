package tier

import "fmt"

// BasisPointDenom is the divisor for basis-point parameters (10000 = 100%).
const BasisPointDenom = 10_000

// Tier defines one risk/reward bucket for provider capital.
// CollateralRatioBp is the over-collateralization requirement for the tier
// (>= 10000, i.e. at least 100%). PremiumAdjustmentBp scales the tier's share
// of premium yield. The two exposure ceilings bound how much of a provider's
// deposit can back a single policy / a single expiration height.
type Tier struct {
	Name                       string
	CollateralRatioBp          int64
	PremiumAdjustmentBp        int64
	MaxExposurePerPolicyBp     int64
	MaxExposurePerExpirationBp int64
	Active                     bool
}

// Built-in tier names.
const (
	TierConservative = "conservative"
	TierBalanced     = "balanced"
	TierAggressive   = "aggressive"
)

// DefaultTiers are the launch parameters. Governance overwrites them via
// TierUpdate events; the defaults keep a fresh node usable without one.
var DefaultTiers = map[string]*Tier{
	TierConservative: {
		Name:                       TierConservative,
		CollateralRatioBp:          11_000, // 110%
		PremiumAdjustmentBp:        8_000,  // 0.8x premium
		MaxExposurePerPolicyBp:     2_500,  // 25% of deposit per policy
		MaxExposurePerExpirationBp: 4_000,  // 40% of deposit per expiration
		Active:                     true,
	},
	TierBalanced: {
		Name:                       TierBalanced,
		CollateralRatioBp:          10_000, // 100%
		PremiumAdjustmentBp:        10_000, // 1.0x premium
		MaxExposurePerPolicyBp:     5_000,
		MaxExposurePerExpirationBp: 7_000,
		Active:                     true,
	},
	TierAggressive: {
		Name:                       TierAggressive,
		CollateralRatioBp:          10_000,
		PremiumAdjustmentBp:        13_000, // 1.3x premium
		MaxExposurePerPolicyBp:     10_000,
		MaxExposurePerExpirationBp: 10_000,
		Active:                     true,
	},
}

// Registry holds the current tier parameters.
// Not thread-safe — only accessed from the single-threaded vault core.
type Registry struct {
	tiers map[string]*Tier
}

func NewRegistry() *Registry {
	tiers := make(map[string]*Tier, len(DefaultTiers))
	for name, t := range DefaultTiers {
		copied := *t
		tiers[name] = &copied
	}
	return &Registry{tiers: tiers}
}

// Get returns the tier by name. Callers must re-check Active at use time:
// a tier may be deactivated between reads.
func (r *Registry) Get(name string) (*Tier, bool) {
	t, ok := r.tiers[name]
	return t, ok
}

// Names returns all known tier names (unsorted).
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tiers))
	for name := range r.tiers {
		names = append(names, name)
	}
	return names
}

// Validate checks tier parameters.
// Provider tiers must be at least fully collateralized, and no exposure
// ceiling may exceed 100%.
func Validate(t *Tier) error {
	if t.Name == "" {
		return fmt.Errorf("tier name must not be empty")
	}
	if t.CollateralRatioBp < BasisPointDenom {
		return fmt.Errorf("collateral_ratio_bp must be >= %d, got %d", BasisPointDenom, t.CollateralRatioBp)
	}
	if t.MaxExposurePerPolicyBp <= 0 || t.MaxExposurePerPolicyBp > BasisPointDenom {
		return fmt.Errorf("max_exposure_per_policy_bp must be in (0, %d], got %d", BasisPointDenom, t.MaxExposurePerPolicyBp)
	}
	if t.MaxExposurePerExpirationBp <= 0 || t.MaxExposurePerExpirationBp > BasisPointDenom {
		return fmt.Errorf("max_exposure_per_expiration_bp must be in (0, %d], got %d", BasisPointDenom, t.MaxExposurePerExpirationBp)
	}
	if t.PremiumAdjustmentBp <= 0 {
		return fmt.Errorf("premium_adjustment_bp must be > 0, got %d", t.PremiumAdjustmentBp)
	}
	return nil
}

// Set installs or replaces a tier. Privileged: only reachable through the
// admin event path. Existing allocations are unaffected.
func (r *Registry) Set(t *Tier) error {
	if err := Validate(t); err != nil {
		return fmt.Errorf("invalid tier %q: %w", t.Name, err)
	}
	copied := *t
	r.tiers[t.Name] = &copied
	return nil
}

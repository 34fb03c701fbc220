package math_test

import (
	"testing"

	"github.com/google/uuid"

	vaultmath "PoolVault/internal/math"
)

func stakesOf(weights ...int64) []vaultmath.Stake {
	stakes := make([]vaultmath.Stake, len(weights))
	for i, w := range weights {
		stakes[i] = vaultmath.Stake{ID: uuid.New(), Weight: w}
	}
	return stakes
}

func TestMulDiv_NoOverflow(t *testing.T) {
	// 2^40 * 2^40 overflows int64; MulDiv must not.
	a := int64(1) << 40
	got := vaultmath.MulDiv(a, a, a)
	if got != a {
		t.Errorf("MulDiv(2^40, 2^40, 2^40) = %d, want %d", got, a)
	}

	if got := vaultmath.MulDiv(300, 500, 1000); got != 150 {
		t.Errorf("MulDiv(300, 500, 1000) = %d, want 150", got)
	}
	// Floor behavior
	if got := vaultmath.MulDiv(1, 1, 3); got != 0 {
		t.Errorf("MulDiv(1, 1, 3) = %d, want 0", got)
	}
}

func TestSplit_ExactSum(t *testing.T) {
	cases := []struct {
		amount  int64
		weights []int64
	}{
		{500, []int64{300, 700}},
		{200, []int64{150, 350}},
		{1, []int64{1, 1, 1}},
		{999, []int64{1, 2, 3, 4, 5}},
		{7, []int64{100, 100, 100}},
	}

	for _, tc := range cases {
		shares := vaultmath.Split(tc.amount, stakesOf(tc.weights...))
		if sum := vaultmath.Sum(shares); sum != tc.amount {
			t.Errorf("Split(%d, %v): shares sum to %d", tc.amount, tc.weights, sum)
		}
	}
}

func TestSplit_Proportional(t *testing.T) {
	stakes := stakesOf(300, 700)
	shares := vaultmath.Split(500, stakes)

	if shares[0].Amount != 150 {
		t.Errorf("weight 300: got %d, want 150", shares[0].Amount)
	}
	if shares[1].Amount != 350 {
		t.Errorf("weight 700: got %d, want 350", shares[1].Amount)
	}
}

func TestSplit_Monotonic(t *testing.T) {
	stakes := stakesOf(10, 500, 499, 1000, 3)
	shares := vaultmath.Split(777, stakes)

	for i := range stakes {
		for j := range stakes {
			if stakes[i].Weight > stakes[j].Weight && shares[i].Amount < shares[j].Amount {
				t.Errorf("weight %d got %d but weight %d got %d",
					stakes[i].Weight, shares[i].Amount, stakes[j].Weight, shares[j].Amount)
			}
		}
	}
}

func TestSplit_ZeroTotalWeight_EqualSplit(t *testing.T) {
	shares := vaultmath.Split(10, stakesOf(0, 0, 0))
	if sum := vaultmath.Sum(shares); sum != 10 {
		t.Errorf("equal split sums to %d, want 10", sum)
	}
}

func TestSplit_EmptyAndNonPositive(t *testing.T) {
	if shares := vaultmath.Split(100, nil); len(shares) != 0 {
		t.Errorf("expected no shares for no stakes, got %d", len(shares))
	}

	shares := vaultmath.Split(0, stakesOf(100, 200))
	for _, s := range shares {
		if s.Amount != 0 {
			t.Errorf("zero amount split produced share %d", s.Amount)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	stakes := stakesOf(100, 100, 100)
	first := vaultmath.Split(7, stakes)
	for i := 0; i < 10; i++ {
		again := vaultmath.Split(7, stakes)
		for j := range first {
			if first[j].Amount != again[j].Amount {
				t.Fatalf("run %d: share %d changed from %d to %d",
					i, j, first[j].Amount, again[j].Amount)
			}
		}
	}
}

func TestSplitAllocation_CappedAtWeight(t *testing.T) {
	// One dominant stake: shares must never exceed the stake's capital.
	stakes := stakesOf(10, 990)
	shares := vaultmath.SplitAllocation(1000, stakes)

	for i, s := range shares {
		if s.Amount > stakes[i].Weight {
			t.Errorf("share %d exceeds weight %d", s.Amount, stakes[i].Weight)
		}
	}
	if sum := vaultmath.Sum(shares); sum < 1000 {
		t.Errorf("allocation covers %d, want >= 1000", sum)
	}
}

func TestSplitAllocation_MinimumUnitBump(t *testing.T) {
	// A tiny stake that floors to zero still gets one unit.
	stakes := stakesOf(1, 1_000_000)
	shares := vaultmath.SplitAllocation(1000, stakes)

	if shares[0].Amount != 1 {
		t.Errorf("tiny stake got %d, want 1", shares[0].Amount)
	}
	// Slack bounded by len(stakes)-1.
	if sum := vaultmath.Sum(shares); sum > 1000+int64(len(stakes)-1) {
		t.Errorf("allocation sum %d exceeds amount plus slack", sum)
	}
}

func TestSplitAllocation_CoversRequested(t *testing.T) {
	cases := []struct {
		amount  int64
		weights []int64
	}{
		{500, []int64{300, 700}},
		{999, []int64{400, 300, 300}},
		{10, []int64{3, 3, 4}},
	}

	for _, tc := range cases {
		shares := vaultmath.SplitAllocation(tc.amount, stakesOf(tc.weights...))
		if sum := vaultmath.Sum(shares); sum < tc.amount {
			t.Errorf("SplitAllocation(%d, %v) covers only %d", tc.amount, tc.weights, sum)
		}
	}
}

func TestApplyBp(t *testing.T) {
	if got := vaultmath.ApplyBp(1000, 5_000); got != 500 {
		t.Errorf("ApplyBp(1000, 5000) = %d, want 500", got)
	}
	if got := vaultmath.ApplyBp(1000, 10_000); got != 1000 {
		t.Errorf("ApplyBp(1000, 10000) = %d, want 1000", got)
	}
	if got := vaultmath.ApplyBp(333, 2_500); got != 83 {
		t.Errorf("ApplyBp(333, 2500) = %d, want 83", got)
	}
}

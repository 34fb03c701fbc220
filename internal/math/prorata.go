package math

import (
	"bytes"
	"math/big"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Stake is one participant in a proportional split.
type Stake struct {
	ID     uuid.UUID
	Weight int64
}

// Share is one participant's computed slice.
type Share struct {
	ID     uuid.UUID
	Amount int64
}

// Pooled big.Ints for the 128-bit intermediate products. Weights and amounts
// are int64 satoshi-scale values whose product overflows int64.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes floor(a * b / denom) without int64 overflow.
// denom must be positive.
func MulDiv(a, b, denom int64) int64 {
	num := getInt()
	num.Mul(big.NewInt(a), big.NewInt(b))
	num.Quo(num, big.NewInt(denom))
	result := num.Int64()
	putInt(num)
	return result
}

// byRemainderPriority orders stakes for deterministic remainder assignment:
// descending weight, ties broken by ascending ID bytes.
func byRemainderPriority(stakes []Stake) []int {
	order := make([]int, len(stakes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := stakes[order[a]], stakes[order[b]]
		if sa.Weight != sb.Weight {
			return sa.Weight > sb.Weight
		}
		return bytes.Compare(sa.ID[:], sb.ID[:]) < 0
	})
	return order
}

// Split divides amount across stakes proportionally to weight. Base shares
// are floor(weight_i * amount / totalWeight); the rounding remainder is then
// handed out one minimal unit at a time in remainder-priority order, so the
// shares always sum to exactly amount. Shares are returned in input order.
// Monotonicity holds: a larger weight never receives a smaller share.
func Split(amount int64, stakes []Stake) []Share {
	shares := make([]Share, len(stakes))
	if len(stakes) == 0 || amount <= 0 {
		for i, s := range stakes {
			shares[i] = Share{ID: s.ID}
		}
		return shares
	}

	var totalWeight int64
	for _, s := range stakes {
		totalWeight += s.Weight
	}

	if totalWeight == 0 {
		// Defensive fallback: equal split, remainder to the front.
		return equalSplit(amount, stakes)
	}

	var assigned int64
	for i, s := range stakes {
		share := MulDiv(s.Weight, amount, totalWeight)
		shares[i] = Share{ID: s.ID, Amount: share}
		assigned += share
	}

	remainder := amount - assigned
	for _, idx := range byRemainderPriority(stakes) {
		if remainder == 0 {
			break
		}
		shares[idx].Amount++
		remainder--
	}

	return shares
}

// equalSplit divides amount evenly, assigning the remainder to the first
// stakes in remainder-priority order.
func equalSplit(amount int64, stakes []Stake) []Share {
	shares := make([]Share, len(stakes))
	n := int64(len(stakes))
	base := amount / n
	remainder := amount - base*n
	for i, s := range stakes {
		shares[i] = Share{ID: s.ID, Amount: base}
	}
	for _, idx := range byRemainderPriority(stakes) {
		if remainder == 0 {
			break
		}
		shares[idx].Amount++
		remainder--
	}
	return shares
}

// SplitAllocation computes collateral allocations for a reservation. Like
// Split, but with two extra rules:
//
//   - each share is capped at the stake's weight (a provider can never be
//     allocated more than its available capital), and the remainder units are
//     only given to stakes with headroom;
//   - any stake with weight > 0 whose share rounds to zero is bumped to one
//     minimal unit so small providers are never starved entirely. The summed
//     allocations may therefore exceed amount by at most len(stakes)-1 units;
//     callers must tolerate this slack.
//
// Requires totalWeight >= amount; the ledger-level liquidity check rejects
// reservations before this point otherwise.
func SplitAllocation(amount int64, stakes []Stake) []Share {
	shares := make([]Share, len(stakes))
	if len(stakes) == 0 || amount <= 0 {
		for i, s := range stakes {
			shares[i] = Share{ID: s.ID}
		}
		return shares
	}

	var totalWeight int64
	for _, s := range stakes {
		totalWeight += s.Weight
	}
	if totalWeight == 0 {
		for i, s := range stakes {
			shares[i] = Share{ID: s.ID}
		}
		return shares
	}

	var assigned int64
	for i, s := range stakes {
		share := MulDiv(s.Weight, amount, totalWeight)
		if share > s.Weight {
			share = s.Weight
		}
		shares[i] = Share{ID: s.ID, Amount: share}
		assigned += share
	}

	// Top up the floor dust so the total covers the requested amount.
	remainder := amount - assigned
	for _, idx := range byRemainderPriority(stakes) {
		if remainder <= 0 {
			break
		}
		if shares[idx].Amount < stakes[idx].Weight {
			shares[idx].Amount++
			remainder--
		}
	}

	// Minimum-unit bump for nonzero stakes that rounded to zero.
	for i, s := range stakes {
		if s.Weight > 0 && shares[i].Amount == 0 {
			shares[i].Amount = 1
		}
	}

	return shares
}

// Sum adds up share amounts.
func Sum(shares []Share) int64 {
	var total int64
	for _, s := range shares {
		total += s.Amount
	}
	return total
}

// ApplyBp scales amount by a basis-point factor: floor(amount * bp / 10000).
func ApplyBp(amount, bp int64) int64 {
	return MulDiv(amount, bp, 10_000)
}

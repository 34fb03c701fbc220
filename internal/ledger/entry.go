package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// EntryType classifies an audit ledger entry.
type EntryType int32

const (
	EntryDeposit EntryType = iota
	EntryWithdrawal
	EntryLock
	EntryUnlock
	EntryAllocate
	EntryAllocationReduce
	EntryAllocationRelease
	EntryExposureAdd
	EntryExposureReduce
	EntryPremiumPending
	EntryPremiumEarned
	EntryPremiumClaim
	EntrySettlementPayout
	EntryTierUpdate
)

func (t EntryType) String() string {
	switch t {
	case EntryDeposit:
		return "deposit"
	case EntryWithdrawal:
		return "withdrawal"
	case EntryLock:
		return "lock"
	case EntryUnlock:
		return "unlock"
	case EntryAllocate:
		return "allocate"
	case EntryAllocationReduce:
		return "allocation_reduce"
	case EntryAllocationRelease:
		return "allocation_release"
	case EntryExposureAdd:
		return "exposure_add"
	case EntryExposureReduce:
		return "exposure_reduce"
	case EntryPremiumPending:
		return "premium_pending"
	case EntryPremiumEarned:
		return "premium_earned"
	case EntryPremiumClaim:
		return "premium_claim"
	case EntrySettlementPayout:
		return "settlement_payout"
	case EntryTierUpdate:
		return "tier_update"
	default:
		return "unknown"
	}
}

// Entry is one audit record of a vault mutation. Every handler emits the
// entries describing exactly what it changed; the persistence worker appends
// them to event_log.entries and the projection worker folds them into the
// read models.
type Entry struct {
	EntryID   uuid.UUID
	EventRef  string // idempotency key of the source event
	Sequence  int64  // global event sequence
	EntryType EntryType
	Provider  *uuid.UUID // nil for pool-level entries
	PolicyID  *uuid.UUID // nil for provider-only entries
	Token     TokenID
	Tier      string // empty for pool-level entries
	Amount    int64  // always positive
	Height    int64  // chain height of the source event; expiration height for exposure entries
}

// Validate checks an entry is well-formed before persistence.
func (e *Entry) Validate() error {
	if e.Amount < 0 {
		return fmt.Errorf("entry %s has negative amount %d", e.EntryID, e.Amount)
	}
	if e.EventRef == "" {
		return fmt.Errorf("entry %s has empty event ref", e.EntryID)
	}
	return nil
}

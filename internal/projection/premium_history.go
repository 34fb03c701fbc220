package projection

import (
	"sync"

	"github.com/google/uuid"
)

// PremiumFlowEntry is one premium movement on a provider's account:
// a pending credit at record time, an earned conversion at distribution
// or settlement, or an outbound claim.
type PremiumFlowEntry struct {
	Provider uuid.UUID
	PolicyID *uuid.UUID
	Token    string
	Tier     string
	Kind     string // pending | earned | claimed
	Amount   int64
	Height   int64
	Sequence int64
}

// PremiumHistory keeps a queryable in-memory premium flow history, fed by
// the projection worker. Guarded by a lock because the HTTP query surface
// reads it while the worker appends.
type PremiumHistory struct {
	mu      sync.RWMutex
	entries []PremiumFlowEntry
}

func NewPremiumHistory() *PremiumHistory {
	return &PremiumHistory{
		entries: make([]PremiumFlowEntry, 0),
	}
}

// Record appends premium flow entries from one processed event.
func (p *PremiumHistory) Record(output Output) {
	var kind string
	flows := make([]PremiumFlowEntry, 0, len(output.Entries))

	for _, e := range output.Entries {
		switch e.EntryType {
		case "premium_pending":
			kind = "pending"
		case "premium_earned":
			kind = "earned"
		case "premium_claim":
			kind = "claimed"
		default:
			continue
		}
		if e.Provider == nil {
			continue
		}
		provider, err := uuid.Parse(*e.Provider)
		if err != nil {
			continue
		}

		flow := PremiumFlowEntry{
			Provider: provider,
			Token:    e.Token,
			Tier:     e.Tier,
			Kind:     kind,
			Amount:   e.Amount,
			Height:   e.Height,
			Sequence: output.Sequence,
		}
		if e.PolicyID != nil {
			if policy, err := uuid.Parse(*e.PolicyID); err == nil {
				flow.PolicyID = &policy
			}
		}
		flows = append(flows, flow)
	}

	if len(flows) == 0 {
		return
	}

	p.mu.Lock()
	p.entries = append(p.entries, flows...)
	p.mu.Unlock()
}

// QueryByProvider returns the most recent premium flows for a provider,
// newest first.
func (p *PremiumHistory) QueryByProvider(provider uuid.UUID, limit int) []PremiumFlowEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]PremiumFlowEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].Provider == provider {
			result = append(result, p.entries[i])
		}
	}
	return result
}

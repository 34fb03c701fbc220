package event

import "github.com/google/uuid"

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeProviderDeposit
	EventTypeProviderWithdrawal
	EventTypePremiumClaim
	EventTypePolicyReserve
	EventTypePolicyPremium
	EventTypePremiumDistribute
	EventTypePolicySettle
	EventTypePolicyRelease
	EventTypeTierUpdate
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Policy context (nullable for provider/admin events)
	PolicyID *uuid.UUID

	// Chain height carried by the event (NOT wall-clock time)
	Height int64

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PolicyID returns the policy context (nil for provider/admin events)
	PolicyID() *uuid.UUID

	// Partition returns the ordering partition for sequence validation
	Partition() string

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// Height returns the chain height the event was observed at
	Height() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeProviderDeposit:
		return "ProviderDeposit"
	case EventTypeProviderWithdrawal:
		return "ProviderWithdrawal"
	case EventTypePremiumClaim:
		return "PremiumClaim"
	case EventTypePolicyReserve:
		return "PolicyReserve"
	case EventTypePolicyPremium:
		return "PolicyPremium"
	case EventTypePremiumDistribute:
		return "PremiumDistribute"
	case EventTypePolicySettle:
		return "PolicySettle"
	case EventTypePolicyRelease:
		return "PolicyRelease"
	case EventTypeTierUpdate:
		return "TierUpdate"
	default:
		return "Unknown"
	}
}

// Partition names for sequence validation. Policy lifecycle events share one
// serialized stream from the policy component; provider operations and admin
// operations each have their own.
const (
	PartitionPolicies  = "policies"
	PartitionProviders = "providers"
	PartitionAdmin     = "admin"
)

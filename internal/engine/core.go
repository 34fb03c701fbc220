package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"PoolVault/internal/event"
	"PoolVault/internal/ledger"
	"PoolVault/internal/observability"
	"PoolVault/internal/tier"
	"PoolVault/internal/transfer"
)

// VaultCore is the single-threaded event processor. Every public operation
// of the vault is one event: all-or-nothing. The core never calls time.Now()
// for state decisions; all heights are versioned inputs carried by the event.
type VaultCore struct {
	sequence          int64
	hasher            *StateHasher
	ledger            *ledger.CollateralLedger
	book              *ledger.AccountBook
	records           *ledger.RecordStore
	tiers             *tier.Registry
	validator         *ledger.InvariantValidator
	mover             transfer.Mover
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one applied event plus everything downstream needs: the
// envelope for the event log, the audit entries for projections, and the
// canonical state delta covered by the hash.
type CoreOutput struct {
	Envelope   *event.Envelope
	Entries    []ledger.Entry
	StateDelta []byte
}

func NewVaultCore(
	startSequence int64,
	mover transfer.Mover,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *VaultCore {
	collateral := ledger.NewCollateralLedger()
	book := ledger.NewAccountBook()

	// Capacity of 1M idempotency entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)

	return &VaultCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		ledger:            collateral,
		book:              book,
		records:           ledger.NewRecordStore(),
		tiers:             tier.NewRegistry(),
		validator:         ledger.NewInvariantValidator(collateral, book),
		mover:             mover,
		idempotency:       idempotencyChecker,
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline
func (c *VaultCore) ProcessEvent(evt event.Event) error {
	return c.processEvent(evt, false)
}

// ReplayEvent re-applies an event already present in the event log during
// startup recovery. Skips the duplicate check (the log IS the duplicate) and
// the output channels (rows are already persisted); the hash chain and
// sequence state advance exactly as they did on first application.
func (c *VaultCore) ReplayEvent(evt event.Event) error {
	return c.processEvent(evt, true)
}

func (c *VaultCore) processEvent(evt event.Event, replay bool) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := !replay && c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	if err := c.sequenceValidator.ValidateSequence(
		evt.Partition(), evt.SourceSequence(), idempotencyKey, isDuplicate,
	); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Event dispatch. Each handler plans, validates, runs the
	// external transfer, and only then mutates; a returned error means
	// nothing changed.
	entries, err := c.dispatchEvent(evt)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "rejected").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Compute state digest and hash
	stateDigest := c.computeStateDigest(entries)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	// Step 5: Create envelope
	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot marshal applied event %s: %v", eventType, err))
	}
	envelope := &event.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		PolicyID:       evt.PolicyID(),
		Height:         evt.Height(),
		SourceSequence: evt.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Entries:    entries,
		StateDelta: stateDigest,
	}
	c.sequence++

	// Step 6: Post-checks. A broken conservation invariant means the
	// in-memory state can no longer be trusted.
	if err := c.postCheckInvariants(entries); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Emit outputs (skipped during replay — rows already exist).
	// Persistence: blocking send — the core stalls until the persistence
	// worker drains. This guarantees no event is lost.
	if !replay {
		c.persistChan <- output

		// Projections: non-blocking send — drop on full. Projection workers
		// rebuild from the event log if they fall behind.
		select {
		case c.projectionChan <- output:
		default:
		}
	}

	// Step 8: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		for _, e := range entries {
			c.metrics.CoreEntries.WithLabelValues(e.EntryType.String()).Inc()
		}
	}

	return nil
}

func (c *VaultCore) dispatchEvent(evt event.Event) ([]ledger.Entry, error) {
	switch e := evt.(type) {
	case *event.ProviderDeposit:
		return c.handleDeposit(e)
	case *event.ProviderWithdrawal:
		return c.handleWithdrawal(e)
	case *event.PremiumClaim:
		return c.handleClaim(e)
	case *event.PolicyReserve:
		return c.handleReserve(e)
	case *event.PolicyPremium:
		return c.handleRecordPremium(e)
	case *event.PremiumDistribute:
		return c.handleDistribute(e)
	case *event.PolicySettle:
		return c.handleSettle(e)
	case *event.PolicyRelease:
		return c.handleRelease(e)
	case *event.TierUpdate:
		return c.handleTierUpdate(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

// entry builds an audit entry stamped with the current sequence.
func (c *VaultCore) entry(
	entryType ledger.EntryType,
	eventRef string,
	provider, policyID *uuid.UUID,
	token ledger.TokenID,
	tierName string,
	amount, height int64,
) ledger.Entry {
	return ledger.Entry{
		EntryID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  c.sequence,
		EntryType: entryType,
		Provider:  provider,
		PolicyID:  policyID,
		Token:     token,
		Tier:      tierName,
		Amount:    amount,
		Height:    height,
	}
}

// computeStateDigest creates canonical bytes for the state hash: the affected
// provider accounts (sorted by path) followed by the affected token pools.
func (c *VaultCore) computeStateDigest(entries []ledger.Entry) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)
	affectedTokens := make(map[ledger.TokenID]bool)

	for _, e := range entries {
		if e.Provider != nil {
			affectedAccounts[ledger.AccountKey{
				Provider: *e.Provider,
				Token:    e.Token,
				Tier:     e.Tier,
			}] = true
		}
		if e.Token != 0 {
			affectedTokens[e.Token] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	tokens := make([]ledger.TokenID, 0, len(affectedTokens))
	for token := range affectedTokens {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	digest := make([]byte, 0, len(accounts)*96+len(tokens)*56)

	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		acct := c.book.Get(key)
		if acct == nil {
			digest = appendInt64LE(digest, 0)
			digest = appendInt64LE(digest, 0)
			digest = appendInt64LE(digest, 0)
			digest = appendInt64LE(digest, 0)
			continue
		}
		digest = appendInt64LE(digest, acct.Deposited)
		digest = appendInt64LE(digest, acct.Allocated)
		digest = appendInt64LE(digest, acct.PendingPremiums)
		digest = appendInt64LE(digest, acct.EarnedPremiums)
	}

	for _, token := range tokens {
		digest = append(digest, byte(token>>8), byte(token))
		pool := c.ledger.Pool(token)
		digest = appendInt64LE(digest, pool.Total)
		digest = appendInt64LE(digest, pool.Available)
		digest = appendInt64LE(digest, pool.Locked)
		premiums := c.ledger.Premiums(token)
		digest = appendInt64LE(digest, premiums.Collected)
		digest = appendInt64LE(digest, premiums.Distributed)
		digest = appendInt64LE(digest, premiums.Claimed)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates token-scoped invariants after the mutations.
func (c *VaultCore) postCheckInvariants(entries []ledger.Entry) error {
	checked := make(map[ledger.TokenID]bool)
	for _, e := range entries {
		if e.Token == 0 || checked[e.Token] {
			continue
		}
		checked[e.Token] = true
		if err := c.validator.ValidateToken(e.Token); err != nil {
			return err
		}
	}

	// Periodic full sweep across all tokens and accounts.
	if c.sequence > 0 && c.sequence%1000 == 0 {
		return c.validator.ValidateAll()
	}

	return nil
}

// --- Snapshot restore & startup ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte
	PrevHash  [32]byte

	Pools        map[ledger.TokenID]ledger.TokenPool
	PremiumPools map[ledger.TokenID]ledger.PremiumPool
	Accounts     []*ledger.Account
	Locks        []*ledger.PolicyLock
	Allocations  []*ledger.AllocationRecord
	Premiums     []*ledger.PremiumRecord
	Settlements  []*ledger.SettlementRecord
	Aggregates   []*ledger.ExpirationAggregate
	Tiers        []*tier.Tier

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a snapshot.
// Warm restart: load the latest snapshot, then replay the event log.
func (c *VaultCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign

	c.hasher.SetPrevHash(snap.StateHash)

	for token, pool := range snap.Pools {
		c.ledger.SetPool(token, pool)
	}
	for token, pool := range snap.PremiumPools {
		c.ledger.SetPremiumPool(token, pool)
	}

	for _, acct := range snap.Accounts {
		c.book.Restore(acct)
	}

	for _, lock := range snap.Locks {
		c.records.PutLock(lock)
	}
	for _, rec := range snap.Allocations {
		c.records.PutAllocation(rec)
	}
	for _, rec := range snap.Premiums {
		c.records.PutPremium(rec)
	}
	for _, rec := range snap.Settlements {
		c.records.PutSettlement(rec)
	}
	for _, agg := range snap.Aggregates {
		c.records.RestoreAggregate(agg)
	}

	for _, t := range snap.Tiers {
		// Snapshot tiers were validated when set; Set re-validates.
		_ = c.tiers.Set(t)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *VaultCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *VaultCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *VaultCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *VaultCore) CreateSnapshotState() *SnapshotState {
	pools := make(map[ledger.TokenID]ledger.TokenPool)
	premiumPools := make(map[ledger.TokenID]ledger.PremiumPool)
	for _, token := range ledger.Tokens() {
		pools[token] = c.ledger.Pool(token)
		premiumPools[token] = c.ledger.Premiums(token)
	}

	aggregates := c.records.Aggregates()
	aggPtrs := make([]*ledger.ExpirationAggregate, len(aggregates))
	for i := range aggregates {
		agg := aggregates[i]
		aggPtrs[i] = &agg
	}

	tierNames := c.tiers.Names()
	sort.Strings(tierNames)
	tiers := make([]*tier.Tier, 0, len(tierNames))
	for _, name := range tierNames {
		if t, ok := c.tiers.Get(name); ok {
			copied := *t
			tiers = append(tiers, &copied)
		}
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Pools:           pools,
		PremiumPools:    premiumPools,
		Accounts:        c.book.All(),
		Locks:           c.records.AllLocks(),
		Allocations:     c.records.AllAllocations(),
		Premiums:        c.records.AllPremiums(),
		Settlements:     c.records.AllSettlements(),
		Aggregates:      aggPtrs,
		Tiers:           tiers,
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// execer abstracts *sql.DB and *sql.Tx so batch writes can run inside the
// persistence worker's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events and audit entries to Postgres using multi-row
// INSERT batches. ON CONFLICT DO NOTHING keeps replays idempotent.
type EventLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	PolicyID       *string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Height         int64
	SourceSequence int64
}

// EntryRow represents a row in event_log.entries
type EntryRow struct {
	EntryID   string
	EventRef  string
	Sequence  int64
	EntryType string
	Provider  *string
	PolicyID  *string
	Token     string
	Tier      string
	Amount    int64
	Height    int64
}

func NewEventLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *EventLogWriter {
	return &EventLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, policy_id, payload, state_hash, prev_hash, height, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.PolicyID,
			e.Payload, e.StateHash, e.PrevHash, e.Height, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteEntryBatch writes a batch of audit entries to event_log.entries.
func (w *EventLogWriter) WriteEntryBatch(ctx context.Context, ex execer, entries []EntryRow) error {
	if len(entries) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.entries
		(entry_id, event_ref, sequence, entry_type, provider_id, policy_id, token, tier, amount, height)
		VALUES `

	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*10)

	for i, e := range entries {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			e.EntryID, e.EventRef, e.Sequence, e.EntryType,
			e.Provider, e.PolicyID, e.Token, e.Tier, e.Amount, e.Height,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager stores and loads state snapshots for warm restart. The
// snapshot payload is the JSON-encoded core state; the orchestrator
// (cmd/poolvault/main.go) owns the encoding so this package stays decoupled
// from the engine types.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotRecord is one stored snapshot.
type SnapshotRecord struct {
	Sequence  int64
	StateHash []byte
	Data      []byte
	CreatedAt time.Time
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying events from the snapshot sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded core state

	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, rec.Sequence, rec.Data, rec.StateHash, formatVersion, len(rec.Data), rec.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil on a
// cold start. Warm restart: restore from it, then replay events from
// snapshot.Sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, data, created_at
		FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var rec SnapshotRecord
	if err := row.Scan(&rec.Sequence, &rec.StateHash, &rec.Data, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	return &rec, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay. Used for warm
// restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, policy_id, payload,
		       state_hash, prev_hash, height, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.PolicyID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Height, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty event log
	}
	return seq.Int64, nil
}

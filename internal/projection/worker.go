package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"PoolVault/internal/event"
	"PoolVault/internal/observability"
)

// Output mirrors the data needed by projection workers. The orchestrator
// bridges between engine.CoreOutput and this.
type Output struct {
	Sequence  int64
	EventType string
	PolicyID  *string
	Height    int64
	Payload   []byte // JSON-encoded event payload
	Entries   []Entry
}

// Entry is a simplified audit entry for projection consumption.
type Entry struct {
	EntryType string
	Provider  *string
	PolicyID  *string
	Token     string
	Tier      string
	Amount    int64
	Height    int64
}

// ProjectionWorker updates projection tables from processed events. The
// projection channel is non-blocking with drop: if projections fall behind,
// they can be rebuilt from the event log.
type ProjectionWorker struct {
	db             *sql.DB
	inputChan      <-chan Output
	lastSeq        int64
	premiumHistory *PremiumHistory
	logger         zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan Output) *ProjectionWorker {
	return &ProjectionWorker{
		db:             db,
		inputChan:      inputChan,
		premiumHistory: NewPremiumHistory(),
		logger:         observability.NewLogger("projection"),
	}
}

// PremiumHistory exposes the in-memory premium flow history for queries.
func (pw *ProjectionWorker) PremiumHistory() *PremiumHistory {
	return pw.premiumHistory
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			pw.lastSeq = output.Sequence
			if err := pw.processOutput(ctx, output); err != nil {
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
				pw.logger.Warn().
					Err(err).
					Int64("sequence", output.Sequence).
					Msg("projection update failed")
			}

			pw.premiumHistory.Record(output)
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output Output) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range output.Entries {
		if err := pw.applyEntry(ctx, tx, e); err != nil {
			return fmt.Errorf("entry projection (%s): %w", e.EntryType, err)
		}
	}

	if err := pw.applyEventRecord(ctx, tx, output); err != nil {
		return fmt.Errorf("event projection (%s): %w", output.EventType, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyEntry translates one audit entry into arithmetic upserts. Every update
// is an increment, so replaying a missed batch after a rebuild converges to
// the same totals.
func (pw *ProjectionWorker) applyEntry(ctx context.Context, tx *sql.Tx, e Entry) error {
	switch e.EntryType {
	case "deposit":
		if err := pw.bumpBalance(ctx, tx, e, "deposited", e.Amount); err != nil {
			return err
		}
		return pw.bumpPool(ctx, tx, e.Token, "total", e.Amount)

	case "withdrawal":
		if err := pw.bumpBalance(ctx, tx, e, "deposited", -e.Amount); err != nil {
			return err
		}
		return pw.bumpPool(ctx, tx, e.Token, "total", -e.Amount)

	case "lock":
		return pw.bumpPool(ctx, tx, e.Token, "locked", e.Amount)

	case "unlock":
		return pw.bumpPool(ctx, tx, e.Token, "locked", -e.Amount)

	case "allocate":
		if err := pw.bumpBalance(ctx, tx, e, "allocated", e.Amount); err != nil {
			return err
		}
		return pw.upsertAllocation(ctx, tx, e)

	case "allocation_reduce":
		if err := pw.bumpBalance(ctx, tx, e, "allocated", -e.Amount); err != nil {
			return err
		}
		return pw.markAllocation(ctx, tx, e, "settled")

	case "allocation_release":
		if err := pw.bumpBalance(ctx, tx, e, "allocated", -e.Amount); err != nil {
			return err
		}
		return pw.markAllocation(ctx, tx, e, "released")

	case "exposure_add":
		return pw.bumpAggregate(ctx, tx, e.Token, e.Height, e.Amount)

	case "exposure_reduce":
		return pw.bumpAggregate(ctx, tx, e.Token, e.Height, -e.Amount)

	case "premium_pending":
		if err := pw.bumpBalance(ctx, tx, e, "pending_premiums", e.Amount); err != nil {
			return err
		}
		return pw.bumpPool(ctx, tx, e.Token, "premiums", e.Amount)

	case "premium_earned":
		if err := pw.bumpBalance(ctx, tx, e, "pending_premiums", -e.Amount); err != nil {
			return err
		}
		return pw.bumpBalance(ctx, tx, e, "earned_premiums", e.Amount)

	case "premium_claim":
		if err := pw.bumpBalance(ctx, tx, e, "earned_premiums", -e.Amount); err != nil {
			return err
		}
		return pw.bumpPool(ctx, tx, e.Token, "premiums", -e.Amount)

	case "settlement_payout":
		if e.Provider != nil {
			// Provider-scoped contribution
			return pw.bumpBalance(ctx, tx, e, "deposited", -e.Amount)
		}
		// Pool-scoped payout
		return pw.bumpPool(ctx, tx, e.Token, "total", -e.Amount)

	case "tier_update":
		return nil // handled from the event payload

	default:
		pw.logger.Warn().Str("entry_type", e.EntryType).Msg("unknown entry type in projection")
		return nil
	}
}

// applyEventRecord maintains record-shaped projections that need fields
// beyond what the audit entries carry (beneficiary, tier parameters).
func (pw *ProjectionWorker) applyEventRecord(ctx context.Context, tx *sql.Tx, output Output) error {
	switch output.EventType {
	case "PolicyPremium":
		var evt event.PolicyPremium
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.premium_records
				(policy_id, token, amount, height, distributed, last_sequence)
			VALUES ($1, $2, $3, $4, FALSE, $5)
			ON CONFLICT (policy_id) DO NOTHING
		`, evt.Policy, evt.Token, evt.Amount, evt.ChainHeight, output.Sequence)
		return err

	case "PremiumDistribute":
		var evt event.PremiumDistribute
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.premium_records
			SET distributed = TRUE, distribution_height = $2, last_sequence = $3
			WHERE policy_id = $1
		`, evt.Policy, evt.ChainHeight, output.Sequence)
		return err

	case "PolicySettle":
		var evt event.PolicySettle
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.settlement_records
				(policy_id, token, amount, beneficiary, height, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (policy_id) DO NOTHING
		`, evt.Policy, evt.Token, evt.SettlementAmount, evt.Beneficiary, evt.ChainHeight, output.Sequence); err != nil {
			return err
		}
		// Settlement consumes the premium if one was recorded
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.premium_records
			SET distributed = TRUE, distribution_height = $2, last_sequence = $3
			WHERE policy_id = $1 AND distributed = FALSE
		`, evt.Policy, evt.ChainHeight, output.Sequence)
		return err

	case "TierUpdate":
		var evt event.TierUpdate
		if err := json.Unmarshal(output.Payload, &evt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.tiers
				(name, collateral_ratio_bp, premium_adjustment_bp,
				 max_exposure_per_policy_bp, max_exposure_per_expiration_bp,
				 active, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (name) DO UPDATE SET
				collateral_ratio_bp = $2,
				premium_adjustment_bp = $3,
				max_exposure_per_policy_bp = $4,
				max_exposure_per_expiration_bp = $5,
				active = $6,
				last_sequence = $7
		`, evt.Tier, evt.CollateralRatioBp, evt.PremiumAdjustmentBp,
			evt.MaxExposurePerPolicyBp, evt.MaxExposurePerExpirationBp,
			evt.Active, output.Sequence)
		return err

	default:
		return nil
	}
}

func (pw *ProjectionWorker) bumpBalance(ctx context.Context, tx *sql.Tx, e Entry, column string, delta int64) error {
	if e.Provider == nil {
		return nil
	}
	query := fmt.Sprintf(`
		INSERT INTO projections.provider_balances
			(provider_id, token, tier, %s, last_sequence)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider_id, token, tier)
		DO UPDATE SET %s = projections.provider_balances.%s + $4, last_sequence = $5
	`, column, column, column)
	_, err := tx.ExecContext(ctx, query, *e.Provider, e.Token, e.Tier, delta, pw.lastSeq)
	return err
}

func (pw *ProjectionWorker) bumpPool(ctx context.Context, tx *sql.Tx, token, column string, delta int64) error {
	query := fmt.Sprintf(`
		INSERT INTO projections.pool_totals (token, %s, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (token)
		DO UPDATE SET %s = projections.pool_totals.%s + $2, last_sequence = $3
	`, column, column, column)
	_, err := tx.ExecContext(ctx, query, token, delta, pw.lastSeq)
	return err
}

func (pw *ProjectionWorker) bumpAggregate(ctx context.Context, tx *sql.Tx, token string, expirationHeight, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.expiration_aggregates
			(token, expiration_height, allocated, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token, expiration_height)
		DO UPDATE SET allocated = projections.expiration_aggregates.allocated + $3, last_sequence = $4
	`, token, expirationHeight, delta, pw.lastSeq)
	return err
}

func (pw *ProjectionWorker) upsertAllocation(ctx context.Context, tx *sql.Tx, e Entry) error {
	if e.Provider == nil || e.PolicyID == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.policy_allocations
			(policy_id, provider_id, token, tier, amount, status, last_sequence)
		VALUES ($1, $2, $3, $4, $5, 'active', $6)
		ON CONFLICT (policy_id, provider_id)
		DO UPDATE SET amount = projections.policy_allocations.amount + $5, last_sequence = $6
	`, *e.PolicyID, *e.Provider, e.Token, e.Tier, e.Amount, pw.lastSeq)
	return err
}

func (pw *ProjectionWorker) markAllocation(ctx context.Context, tx *sql.Tx, e Entry, status string) error {
	if e.Provider == nil || e.PolicyID == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.policy_allocations
		SET status = $3, last_sequence = $4
		WHERE policy_id = $1 AND provider_id = $2
	`, *e.PolicyID, *e.Provider, status, pw.lastSeq)
	return err
}

// RebuildProjections rebuilds the arithmetic projection tables from the event
// log. Record-shaped projections (premiums, settlements, tiers) rebuild by
// replaying the event log through the worker instead.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	logger := observability.NewLogger("projection")

	truncateStatements := []string{
		`TRUNCATE projections.provider_balances`,
		`TRUNCATE projections.pool_totals`,
		`TRUNCATE projections.expiration_aggregates`,
		`TRUNCATE projections.policy_allocations`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Provider balances rebuild in one aggregation pass over the audit trail.
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.provider_balances
			(provider_id, token, tier, deposited, allocated, pending_premiums, earned_premiums, last_sequence)
		SELECT
			provider_id,
			token,
			tier,
			SUM(CASE entry_type
				WHEN 'deposit' THEN amount
				WHEN 'withdrawal' THEN -amount
				WHEN 'settlement_payout' THEN -amount
				ELSE 0 END) AS deposited,
			SUM(CASE entry_type
				WHEN 'allocate' THEN amount
				WHEN 'allocation_reduce' THEN -amount
				WHEN 'allocation_release' THEN -amount
				ELSE 0 END) AS allocated,
			SUM(CASE entry_type
				WHEN 'premium_pending' THEN amount
				WHEN 'premium_earned' THEN -amount
				ELSE 0 END) AS pending_premiums,
			SUM(CASE entry_type
				WHEN 'premium_earned' THEN amount
				WHEN 'premium_claim' THEN -amount
				ELSE 0 END) AS earned_premiums,
			MAX(sequence) AS last_sequence
		FROM event_log.entries
		WHERE provider_id IS NOT NULL
		GROUP BY provider_id, token, tier
	`)
	if err != nil {
		return fmt.Errorf("rebuild provider balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.pool_totals (token, total, locked, premiums, last_sequence)
		SELECT
			token,
			SUM(CASE entry_type
				WHEN 'deposit' THEN amount
				WHEN 'withdrawal' THEN -amount
				WHEN 'settlement_payout' THEN CASE WHEN provider_id IS NULL THEN -amount ELSE 0 END
				ELSE 0 END) AS total,
			SUM(CASE entry_type
				WHEN 'lock' THEN amount
				WHEN 'unlock' THEN -amount
				ELSE 0 END) AS locked,
			SUM(CASE entry_type
				WHEN 'premium_pending' THEN amount
				WHEN 'premium_claim' THEN -amount
				ELSE 0 END) AS premiums,
			MAX(sequence) AS last_sequence
		FROM event_log.entries
		WHERE entry_type != 'tier_update'
		GROUP BY token
	`)
	if err != nil {
		return fmt.Errorf("rebuild pool totals: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.expiration_aggregates (token, expiration_height, allocated, last_sequence)
		SELECT
			token,
			height AS expiration_height,
			SUM(CASE entry_type
				WHEN 'exposure_add' THEN amount
				WHEN 'exposure_reduce' THEN -amount
				ELSE 0 END) AS allocated,
			MAX(sequence) AS last_sequence
		FROM event_log.entries
		WHERE entry_type IN ('exposure_add', 'exposure_reduce')
		GROUP BY token, height
	`)
	if err != nil {
		return fmt.Errorf("rebuild expiration aggregates: %w", err)
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}

package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. Queries are
// served over HTTP/JSON, reading from PostgreSQL projections. All responses
// include as_of_sequence for freshness semantics: a reader who just submitted
// an event at sequence N knows the projection caught up once as_of >= N.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetProviderBalances returns a provider's positions across all (token, tier)
// pools they participate in.
func (qs *QueryService) GetProviderBalances(ctx context.Context, providerID uuid.UUID) ([]ProviderBalance, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT token, tier, deposited, allocated, pending_premiums, earned_premiums
		FROM projections.provider_balances
		WHERE provider_id = $1
		ORDER BY token, tier
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []ProviderBalance
	for rows.Next() {
		var b ProviderBalance
		b.ProviderID = providerID
		b.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&b.Token, &b.Tier, &b.Deposited, &b.Allocated,
			&b.PendingPremiums, &b.EarnedPremiums,
		); err != nil {
			return nil, err
		}
		b.Available = b.Deposited - b.Allocated
		balances = append(balances, b)
	}

	return balances, rows.Err()
}

// GetProviderAllocations returns a provider's active allocations.
func (qs *QueryService) GetProviderAllocations(ctx context.Context, providerID uuid.UUID) ([]AllocationResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT policy_id, token, tier, amount, status
		FROM projections.policy_allocations
		WHERE provider_id = $1 AND status = 'active'
		ORDER BY policy_id
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []AllocationResponse
	for rows.Next() {
		var a AllocationResponse
		a.ProviderID = providerID
		a.AsOfSequence = asOfSeq
		if err := rows.Scan(&a.PolicyID, &a.Token, &a.Tier, &a.Amount, &a.Status); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}

	return allocations, rows.Err()
}

// GetPolicyAllocations returns the providers backing one policy.
func (qs *QueryService) GetPolicyAllocations(ctx context.Context, policyID uuid.UUID) ([]AllocationResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT provider_id, token, tier, amount, status
		FROM projections.policy_allocations
		WHERE policy_id = $1
		ORDER BY amount DESC, provider_id
	`, policyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []AllocationResponse
	for rows.Next() {
		var a AllocationResponse
		a.PolicyID = policyID
		a.AsOfSequence = asOfSeq
		if err := rows.Scan(&a.ProviderID, &a.Token, &a.Tier, &a.Amount, &a.Status); err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}

	return allocations, rows.Err()
}

// GetPolicyPremium returns the recorded premium for a policy, or nil if none
// was recorded.
func (qs *QueryService) GetPolicyPremium(ctx context.Context, policyID uuid.UUID) (*PremiumResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var p PremiumResponse
	p.PolicyID = policyID
	p.AsOfSequence = asOfSeq
	var distHeight sql.NullInt64

	err = qs.db.QueryRowContext(ctx, `
		SELECT token, amount, height, distributed, distribution_height
		FROM projections.premium_records
		WHERE policy_id = $1
	`, policyID).Scan(&p.Token, &p.Amount, &p.Height, &p.Distributed, &distHeight)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if distHeight.Valid {
		p.DistributionHeight = &distHeight.Int64
	}

	return &p, nil
}

// GetPolicySettlement returns the settlement record for a policy, or nil if
// the policy has not settled.
func (qs *QueryService) GetPolicySettlement(ctx context.Context, policyID uuid.UUID) (*SettlementResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var s SettlementResponse
	s.PolicyID = policyID
	s.AsOfSequence = asOfSeq

	err = qs.db.QueryRowContext(ctx, `
		SELECT token, amount, beneficiary, height
		FROM projections.settlement_records
		WHERE policy_id = $1
	`, policyID).Scan(&s.Token, &s.Amount, &s.Beneficiary, &s.Height)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// GetExpirationAggregates returns the allocated collateral per token for one
// expiration height.
func (qs *QueryService) GetExpirationAggregates(ctx context.Context, expirationHeight int64) ([]ExpirationAggregate, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT token, allocated
		FROM projections.expiration_aggregates
		WHERE expiration_height = $1 AND allocated > 0
		ORDER BY token
	`, expirationHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggregates []ExpirationAggregate
	for rows.Next() {
		var a ExpirationAggregate
		a.ExpirationHeight = expirationHeight
		a.AsOfSequence = asOfSeq
		if err := rows.Scan(&a.Token, &a.Allocated); err != nil {
			return nil, err
		}
		aggregates = append(aggregates, a)
	}

	return aggregates, rows.Err()
}

// GetPoolTotals returns pool-wide totals for one token.
func (qs *QueryService) GetPoolTotals(ctx context.Context, token string) (*PoolTotals, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	p := PoolTotals{Token: token, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT total, locked, premiums
		FROM projections.pool_totals
		WHERE token = $1
	`, token).Scan(&p.Total, &p.Locked, &p.Premiums)
	if err == sql.ErrNoRows {
		return &p, nil // no activity yet — zero totals
	}
	if err != nil {
		return nil, err
	}
	p.Available = p.Total - p.Locked

	return &p, nil
}

// ListTiers returns all known risk tiers.
func (qs *QueryService) ListTiers(ctx context.Context) ([]TierResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT name, collateral_ratio_bp, premium_adjustment_bp,
		       max_exposure_per_policy_bp, max_exposure_per_expiration_bp, active
		FROM projections.tiers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []TierResponse
	for rows.Next() {
		var t TierResponse
		t.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&t.Name, &t.CollateralRatioBp, &t.PremiumAdjustmentBp,
			&t.MaxExposurePerPolicyBp, &t.MaxExposurePerExpirationBp, &t.Active,
		); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}

	return tiers, rows.Err()
}

// GetEntryHistory returns audit trail entries for a provider with
// cursor-based pagination.
func (qs *QueryService) GetEntryHistory(
	ctx context.Context,
	providerID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]EntryHistoryRecord, error) {
	query := `
		SELECT entry_id, event_ref, sequence, entry_type, policy_id, token, tier, amount, height
		FROM event_log.entries
		WHERE provider_id = $1
	`
	args := []interface{}{providerID.String()}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EntryHistoryRecord
	for rows.Next() {
		var e EntryHistoryRecord
		var policyID sql.NullString
		if err := rows.Scan(
			&e.EntryID, &e.EventRef, &e.Sequence, &e.EntryType,
			&policyID, &e.Token, &e.Tier, &e.Amount, &e.Height,
		); err != nil {
			return nil, err
		}
		if policyID.Valid {
			e.PolicyID = &policyID.String
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and pool/provider balance
// consistency from the persisted projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Pool total must equal the summed provider deposits per token
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT p.token, p.total - COALESCE(b.deposited, 0) AS imbalance
		FROM projections.pool_totals p
		LEFT JOIN (
			SELECT token, SUM(deposited) AS deposited
			FROM projections.provider_balances
			GROUP BY token
		) b ON b.token = p.token
		WHERE p.total != COALESCE(b.deposited, 0)
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var ti TokenImbalance
		if err := balanceRows.Scan(&ti.Token, &ti.Imbalance); err != nil {
			return nil, err
		}
		report.InconsistentTokens = append(report.InconsistentTokens, ti)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.InconsistentTokens) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

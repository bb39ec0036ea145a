package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"StableGuard/internal/protocol"
)

// QueryService provides read-only access to the guard.* projection tables.
// All responses carry as_of_sequence so callers can tell how far behind the
// core the read is.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetPool returns the pool projection for a collateral asset.
func (qs *QueryService) GetPool(ctx context.Context, asset protocol.Asset) (*PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var p PoolResponse
	p.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT address, collateral_asset, share_mint, vault_balance, total_insured_value
		FROM guard.pools
		WHERE collateral_asset = $1
	`, string(asset)).Scan(
		&p.Address, &p.CollateralAsset, &p.ShareMint, &p.VaultBalance, &p.TotalInsuredValue,
	)
	if err == sql.ErrNoRows {
		return nil, protocol.ErrPoolNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPools returns all pool projections.
func (qs *QueryService) ListPools(ctx context.Context) ([]PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT address, collateral_asset, share_mint, vault_balance, total_insured_value
		FROM guard.pools
		ORDER BY collateral_asset
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []PoolResponse
	for rows.Next() {
		var p PoolResponse
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.Address, &p.CollateralAsset, &p.ShareMint, &p.VaultBalance, &p.TotalInsuredValue,
		); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// GetPolicy returns a single policy projection by buyer and policy id.
func (qs *QueryService) GetPolicy(ctx context.Context, buyer uuid.UUID, policyID int64) (*PolicyResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var p PolicyResponse
	p.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT address, buyer, policy_id, insured_asset, insured_amount, premium_paid,
		       payout_amount, premium_currency, start_timestamp, expiry_timestamp, status
		FROM guard.policies
		WHERE buyer = $1 AND policy_id = $2
	`, buyer.String(), policyID).Scan(
		&p.Address, &p.Buyer, &p.PolicyID, &p.InsuredAsset, &p.InsuredAmount,
		&p.PremiumPaid, &p.PayoutAmount, &p.PremiumCurrency,
		&p.StartTimestamp, &p.ExpiryTimestamp, &p.Status,
	)
	if err == sql.ErrNoRows {
		return nil, protocol.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPoliciesByBuyer returns a buyer's policies, newest first, with
// cursor-based pagination on policy_id.
func (qs *QueryService) ListPoliciesByBuyer(
	ctx context.Context,
	buyer uuid.UUID,
	status *string,
	limit int,
	beforePolicyID *int64,
) ([]PolicyResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT address, buyer, policy_id, insured_asset, insured_amount, premium_paid,
		       payout_amount, premium_currency, start_timestamp, expiry_timestamp, status
		FROM guard.policies
		WHERE buyer = $1
	`
	args := []interface{}{buyer.String()}
	argIdx := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, *status)
		argIdx++
	}
	if beforePolicyID != nil {
		query += fmt.Sprintf(" AND policy_id < $%d", argIdx)
		args = append(args, *beforePolicyID)
		argIdx++
	}

	query += " ORDER BY policy_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []PolicyResponse
	for rows.Next() {
		var p PolicyResponse
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.Address, &p.Buyer, &p.PolicyID, &p.InsuredAsset, &p.InsuredAmount,
			&p.PremiumPaid, &p.PayoutAmount, &p.PremiumCurrency,
			&p.StartTimestamp, &p.ExpiryTimestamp, &p.Status,
		); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// ListOperations returns the operation log, newest first, with cursor-based
// pagination on sequence.
func (qs *QueryService) ListOperations(
	ctx context.Context,
	actor *uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]OperationResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, op_id, op_type, actor, asset, policy_id, amount, detail,
		       timestamp, state_hash, prev_hash
		FROM guard.operations
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if actor != nil {
		query += fmt.Sprintf(" AND actor = $%d", argIdx)
		args = append(args, actor.String())
		argIdx++
	}
	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
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

	var ops []OperationResponse
	for rows.Next() {
		var o OperationResponse
		o.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&o.Sequence, &o.OpID, &o.OpType, &o.Actor, &o.Asset, &o.PolicyID,
			&o.Amount, &o.Detail, &o.Timestamp, &o.StateHash, &o.PrevHash,
		); err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}
	return ops, rows.Err()
}

// VerifyIntegrity scans guard.operations for breaks in the hash chain:
// every row's prev_hash must equal the previous row's state_hash.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	lastSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	report.LastSequence = lastSeq

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o.sequence
		FROM guard.operations o
		JOIN guard.operations prev ON prev.sequence = o.sequence - 1
		WHERE o.prev_hash != prev.state_hash
		ORDER BY o.sequence
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

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM guard.watermark WHERE id = 1
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

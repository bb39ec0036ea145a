package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// StateWriter mirrors committed operations into Postgres: an append-only
// operation log plus pool and policy projections, written with multi-row
// INSERT ... ON CONFLICT so replays after a crash are idempotent.
type StateWriter struct {
	db *sql.DB
}

func NewStateWriter(db *sql.DB) *StateWriter {
	return &StateWriter{db: db}
}

// OperationRow is a row in guard.operations.
type OperationRow struct {
	Sequence  int64
	OpID      string
	OpType    string
	Actor     string
	Asset     string
	PolicyID  *int64
	Amount    int64
	Detail    string
	Timestamp time.Time
	StateHash []byte
	PrevHash  []byte
}

// PoolRow is a row in guard.pools.
type PoolRow struct {
	Address           string
	CollateralAsset   string
	ShareMint         string
	VaultBalance      int64
	TotalInsuredValue int64
	AuthorityBump     int16
	Bump              int16
}

// PolicyRow is a row in guard.policies.
type PolicyRow struct {
	Address         string
	Buyer           string
	PolicyID        int64
	InsuredAsset    string
	InsuredAmount   int64
	PremiumPaid     int64
	PayoutAmount    int64
	PremiumCurrency string
	StartTimestamp  time.Time
	ExpiryTimestamp time.Time
	Status          string
	Bump            int16
}

// WriteOperationBatch appends operation rows to guard.operations.
func (w *StateWriter) WriteOperationBatch(ctx context.Context, ops []OperationRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO guard.operations
		(sequence, op_id, op_type, actor, asset, policy_id, amount, detail, timestamp, state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*11)

	for i, o := range ops {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			o.Sequence, o.OpID, o.OpType, o.Actor, o.Asset, o.PolicyID,
			o.Amount, o.Detail, o.Timestamp, hex.EncodeToString(o.StateHash), hex.EncodeToString(o.PrevHash),
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// UpsertPools writes pool projection rows.
func (w *StateWriter) UpsertPools(ctx context.Context, pools []PoolRow) error {
	if len(pools) == 0 {
		return nil
	}

	query := `INSERT INTO guard.pools
		(address, collateral_asset, share_mint, vault_balance, total_insured_value, authority_bump, bump)
		VALUES `

	values := make([]string, 0, len(pools))
	args := make([]interface{}, 0, len(pools)*7)

	for i, p := range pools {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			p.Address, p.CollateralAsset, p.ShareMint,
			p.VaultBalance, p.TotalInsuredValue, p.AuthorityBump, p.Bump,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (address) DO UPDATE SET
		vault_balance = EXCLUDED.vault_balance,
		total_insured_value = EXCLUDED.total_insured_value`

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// UpsertPolicies writes policy projection rows. Only the status ever
// changes after creation.
func (w *StateWriter) UpsertPolicies(ctx context.Context, policies []PolicyRow) error {
	if len(policies) == 0 {
		return nil
	}

	query := `INSERT INTO guard.policies
		(address, buyer, policy_id, insured_asset, insured_amount, premium_paid,
		 payout_amount, premium_currency, start_timestamp, expiry_timestamp, status, bump)
		VALUES `

	values := make([]string, 0, len(policies))
	args := make([]interface{}, 0, len(policies)*12)

	for i, p := range policies {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			p.Address, p.Buyer, p.PolicyID, p.InsuredAsset, p.InsuredAmount,
			p.PremiumPaid, p.PayoutAmount, p.PremiumCurrency,
			p.StartTimestamp, p.ExpiryTimestamp, p.Status, p.Bump,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (address) DO UPDATE SET status = EXCLUDED.status`

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// UpdateWatermark records the highest durably written sequence.
func (w *StateWriter) UpdateWatermark(ctx context.Context, sequence int64) error {
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO guard.watermark (id, last_sequence, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET
			last_sequence = GREATEST(guard.watermark.last_sequence, EXCLUDED.last_sequence),
			updated_at = now()`,
		sequence,
	)
	return err
}

package query

import (
	"time"

	"github.com/google/uuid"
)

// PoolResponse mirrors a row of guard.pools. AsOfSequence is the persistence
// watermark at query time, so callers can reason about read freshness.
type PoolResponse struct {
	Address           string `json:"address"`
	CollateralAsset   string `json:"collateral_asset"`
	ShareMint         string `json:"share_mint"`
	VaultBalance      int64  `json:"vault_balance"`
	TotalInsuredValue int64  `json:"total_insured_value"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// PolicyResponse mirrors a row of guard.policies.
type PolicyResponse struct {
	Address         string    `json:"address"`
	Buyer           uuid.UUID `json:"buyer"`
	PolicyID        int64     `json:"policy_id"`
	InsuredAsset    string    `json:"insured_asset"`
	InsuredAmount   int64     `json:"insured_amount"`
	PremiumPaid     int64     `json:"premium_paid"`
	PayoutAmount    int64     `json:"payout_amount"`
	PremiumCurrency string    `json:"premium_currency"`
	StartTimestamp  time.Time `json:"start_timestamp"`
	ExpiryTimestamp time.Time `json:"expiry_timestamp"`
	Status          string    `json:"status"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// OperationResponse is one entry of the operation log.
type OperationResponse struct {
	Sequence     int64     `json:"sequence"`
	OpID         uuid.UUID `json:"op_id"`
	OpType       string    `json:"op_type"`
	Actor        uuid.UUID `json:"actor"`
	Asset        string    `json:"asset"`
	PolicyID     *int64    `json:"policy_id,omitempty"`
	Amount       int64     `json:"amount"`
	Detail       string    `json:"detail,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	StateHash    string    `json:"state_hash"`
	PrevHash     string    `json:"prev_hash"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// IntegrityReport is the result of a hash chain scan over guard.operations.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LastSequence    int64   `json:"last_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}

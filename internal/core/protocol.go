package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableGuard/internal/observability"
	"StableGuard/internal/oracle"
	"StableGuard/internal/policy"
	"StableGuard/internal/pool"
	"StableGuard/internal/protocol"
	"StableGuard/internal/settlement"
	"StableGuard/internal/token"
)

// OpType discriminates committed operations in the log.
type OpType int32

const (
	OpInitialize OpType = iota
	OpDepositCollateral
	OpWithdrawCollateral
	OpCreatePolicy
	OpCheckAndPayout
)

func (t OpType) String() string {
	switch t {
	case OpInitialize:
		return "Initialize"
	case OpDepositCollateral:
		return "DepositCollateral"
	case OpWithdrawCollateral:
		return "WithdrawCollateral"
	case OpCreatePolicy:
		return "CreatePolicy"
	case OpCheckAndPayout:
		return "CheckAndPayout"
	default:
		return "Unknown"
	}
}

// OperationRecord is one committed operation with its chained state hash.
type OperationRecord struct {
	Sequence  int64
	OpID      uuid.UUID
	Type      OpType
	Actor     uuid.UUID
	Asset     protocol.Asset
	PolicyID  *uint64
	Amount    uint64
	Detail    string
	Timestamp time.Time
	StateHash [32]byte
	PrevHash  [32]byte
}

// Output is what the persistence worker receives per committed operation:
// the log record plus snapshots of the records the operation touched.
type Output struct {
	Record OperationRecord
	Pool   *pool.Pool
	Policy *policy.Policy
}

// Protocol is the single-threaded operation processor. It owns the bank,
// pool registry, policy ledger and settlement engine, and exposes exactly
// the five protocol operations. Methods never run concurrently: the serving
// layer linearizes all calls onto one goroutine, the way the hosting ledger
// serializes operations naming the same records. The core itself takes no
// locks and never reads the wall clock; every timestamp is an input.
type Protocol struct {
	sequence int64
	hasher   *StateHasher

	bank     *token.Bank
	registry *pool.Registry
	policies *policy.Ledger
	engine   *settlement.Engine

	metrics *observability.Metrics
	log     zerolog.Logger

	outputChan chan<- Output
}

func NewProtocol(
	adapter oracle.Adapter,
	outputChan chan<- Output,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Protocol {
	bank := token.NewBank()
	registry := pool.NewRegistry(bank, log.With().Str("component", "pool").Logger())
	policies := policy.NewLedger(registry, bank, log.With().Str("component", "policy").Logger())
	engine := settlement.NewEngine(registry, policies, adapter, bank,
		log.With().Str("component", "settlement").Logger())

	return &Protocol{
		hasher:     NewStateHasher(),
		bank:       bank,
		registry:   registry,
		policies:   policies,
		engine:     engine,
		metrics:    metrics,
		log:        log,
		outputChan: outputChan,
	}
}

// Resume continues the operation log from a persisted tip. sequence is the
// last committed sequence; the next operation is assigned sequence+1 so a
// restart never reuses a persisted sequence. In-memory records are not
// rebuilt here; the hosting ledger remains the source of truth for balances.
func (p *Protocol) Resume(sequence int64, stateHash [32]byte) {
	p.sequence = sequence + 1
	p.hasher.SetPrevHash(stateHash)
}

// Bank exposes the asset-transfer collaborator for host-side funding.
func (p *Protocol) Bank() *token.Bank { return p.bank }

// Registry exposes read access to pools.
func (p *Protocol) Registry() *pool.Registry { return p.registry }

// Policies exposes read access to the policy ledger.
func (p *Protocol) Policies() *policy.Ledger { return p.policies }

// InitializePool creates the collateral pool for an asset. Protocol
// authority is established by the serving layer before dispatch.
func (p *Protocol) InitializePool(asset protocol.Asset, now time.Time) (*pool.Pool, error) {
	start := time.Now()

	pl, err := p.registry.Initialize(asset)
	if err != nil {
		p.reject(OpInitialize, err)
		return nil, err
	}

	p.commit(Output{
		Record: OperationRecord{
			OpID:      uuid.New(),
			Type:      OpInitialize,
			Asset:     asset,
			Timestamp: now,
		},
		Pool: snapshotPool(pl),
	}, start)
	return pl, nil
}

// DepositCollateral moves collateral from the underwriter into the pool
// vault and mints proportional shares.
func (p *Protocol) DepositCollateral(underwriter uuid.UUID, asset protocol.Asset, amount uint64, now time.Time) (uint64, error) {
	start := time.Now()

	shares, err := p.registry.Deposit(underwriter, asset, amount)
	if err != nil {
		p.reject(OpDepositCollateral, err)
		return 0, err
	}

	pl, _ := p.registry.Get(asset)
	p.commit(Output{
		Record: OperationRecord{
			OpID:      uuid.New(),
			Type:      OpDepositCollateral,
			Actor:     underwriter,
			Asset:     asset,
			Amount:    amount,
			Detail:    fmt.Sprintf("shares_minted=%d", shares),
			Timestamp: now,
		},
		Pool: snapshotPool(pl),
	}, start)
	p.gaugePool(pl)
	return shares, nil
}

// WithdrawCollateral burns shares and returns proportional collateral.
func (p *Protocol) WithdrawCollateral(underwriter uuid.UUID, asset protocol.Asset, sharesToBurn uint64, now time.Time) (uint64, error) {
	start := time.Now()

	out, err := p.registry.Withdraw(underwriter, asset, sharesToBurn)
	if err != nil {
		p.reject(OpWithdrawCollateral, err)
		return 0, err
	}

	pl, _ := p.registry.Get(asset)
	p.commit(Output{
		Record: OperationRecord{
			OpID:      uuid.New(),
			Type:      OpWithdrawCollateral,
			Actor:     underwriter,
			Asset:     asset,
			Amount:    sharesToBurn,
			Detail:    fmt.Sprintf("collateral_returned=%d", out),
			Timestamp: now,
		},
		Pool: snapshotPool(pl),
	}, start)
	p.gaugePool(pl)
	return out, nil
}

// CreatePolicy writes a new Active policy and collects the premium.
func (p *Protocol) CreatePolicy(
	buyer uuid.UUID,
	policyID uint64,
	insuredAsset protocol.Asset,
	insuredAmount uint64,
	premiumCurrency protocol.Asset,
	now time.Time,
) (*policy.Policy, error) {
	start := time.Now()

	pol, err := p.policies.Create(buyer, policyID, insuredAsset, insuredAmount, premiumCurrency, now)
	if err != nil {
		p.reject(OpCreatePolicy, err)
		return nil, err
	}

	pl, _ := p.registry.Get(premiumCurrency)
	id := pol.PolicyID
	p.commit(Output{
		Record: OperationRecord{
			OpID:      uuid.New(),
			Type:      OpCreatePolicy,
			Actor:     buyer,
			Asset:     insuredAsset,
			PolicyID:  &id,
			Amount:    insuredAmount,
			Timestamp: now,
		},
		Pool:   snapshotPool(pl),
		Policy: snapshotPolicy(pol),
	}, start)

	if p.metrics != nil {
		p.metrics.PoliciesCreated.Inc()
		p.metrics.PoliciesActive.WithLabelValues(string(pol.InsuredAsset)).Inc()
		p.metrics.PremiumsTotal.WithLabelValues(string(premiumCurrency)).Add(float64(pol.PremiumPaid))
	}
	p.gaugePool(pl)
	return pol, nil
}

// CheckAndPayout settles one matured policy against the oracle.
func (p *Protocol) CheckAndPayout(ctx context.Context, buyer uuid.UUID, policyID uint64, now time.Time) (*settlement.Result, error) {
	start := time.Now()

	res, err := p.engine.CheckAndPayout(ctx, buyer, policyID, now)
	if err != nil {
		if p.metrics != nil {
			switch {
			case errors.Is(err, protocol.ErrStalePrice),
				errors.Is(err, protocol.ErrFeedUnavailable),
				errors.Is(err, protocol.ErrOracleConfidenceTooWide):
				p.metrics.OracleRejections.WithLabelValues(protocol.Code(err)).Inc()
			}
		}
		p.reject(OpCheckAndPayout, err)
		return nil, err
	}

	pol, _ := p.policies.Get(buyer, policyID)
	pl, _ := p.registry.Get(pol.PremiumCurrency)
	id := policyID
	p.commit(Output{
		Record: OperationRecord{
			OpID:      uuid.New(),
			Type:      OpCheckAndPayout,
			Actor:     buyer,
			Asset:     pol.InsuredAsset,
			PolicyID:  &id,
			Amount:    res.Paid,
			Detail:    res.Status.String(),
			Timestamp: now,
		},
		Pool:   snapshotPool(pl),
		Policy: snapshotPolicy(pol),
	}, start)

	if p.metrics != nil {
		p.metrics.PoliciesSettled.WithLabelValues(res.Status.String()).Inc()
		p.metrics.PoliciesActive.WithLabelValues(string(pol.InsuredAsset)).Dec()
		p.metrics.OracleQuoteAge.Observe(res.QuoteAge.Seconds())
		if res.Paid > 0 {
			p.metrics.PayoutsTotal.WithLabelValues(string(pol.PremiumCurrency)).Add(float64(res.Paid))
		}
	}
	p.gaugePool(pl)
	return res, nil
}

// Sequence returns the next operation sequence to assign.
func (p *Protocol) Sequence() int64 { return p.sequence }

// StateHash returns the current operation-log chain tip.
func (p *Protocol) StateHash() [32]byte { return p.hasher.GetPrevHash() }

func (p *Protocol) reject(op OpType, err error) {
	if p.metrics != nil {
		p.metrics.OpsRejected.WithLabelValues(op.String(), protocol.Code(err)).Inc()
	}
	p.log.Debug().Str("op", op.String()).Err(err).Msg("operation rejected")
}

// commit assigns the sequence, chains the state hash and emits the output.
// The send is blocking: the core stalls until the persistence worker drains,
// so no committed operation is ever lost.
func (p *Protocol) commit(out Output, start time.Time) {
	out.Record.Sequence = p.sequence
	out.Record.PrevHash = p.hasher.GetPrevHash()
	digest := computeStateDigest(out)
	out.Record.StateHash = p.hasher.ComputeHash(p.sequence, digest)
	p.sequence++

	if p.outputChan != nil {
		p.outputChan <- out
	}

	if p.metrics != nil {
		p.metrics.OpsApplied.WithLabelValues(out.Record.Type.String()).Inc()
		p.metrics.OpDuration.WithLabelValues(out.Record.Type.String()).Observe(time.Since(start).Seconds())
		p.metrics.OpSequence.Set(float64(p.sequence))
	}
}

func (p *Protocol) gaugePool(pl *pool.Pool) {
	if p.metrics == nil || pl == nil {
		return
	}
	asset := string(pl.CollateralAsset)
	p.metrics.VaultBalance.WithLabelValues(asset).Set(float64(pl.VaultBalance))
	p.metrics.ShareSupply.WithLabelValues(asset).Set(float64(p.bank.Supply(pl.ShareMint)))
	p.metrics.TotalInsuredValue.WithLabelValues(asset).Set(float64(pl.TotalInsuredValue))
}

// computeStateDigest builds canonical bytes over the records the operation
// touched, hashed into the operation-log chain.
func computeStateDigest(out Output) []byte {
	digest := make([]byte, 0, 128)

	if out.Pool != nil {
		digest = append(digest, out.Pool.Address[:]...)
		digest = appendUint64LE(digest, out.Pool.VaultBalance)
		digest = appendUint64LE(digest, out.Pool.TotalInsuredValue)
	}
	if out.Policy != nil {
		digest = append(digest, out.Policy.Address[:]...)
		digest = appendUint64LE(digest, out.Policy.PolicyID)
		digest = appendUint64LE(digest, uint64(out.Policy.Status))
		digest = appendUint64LE(digest, out.Policy.PayoutAmount)
	}

	return digest
}

func snapshotPool(pl *pool.Pool) *pool.Pool {
	if pl == nil {
		return nil
	}
	cp := *pl
	return &cp
}

func snapshotPolicy(pol *policy.Policy) *policy.Policy {
	if pol == nil {
		return nil
	}
	cp := *pol
	return &cp
}

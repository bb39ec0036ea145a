package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableGuard/internal/addr"
	"StableGuard/internal/fpmath"
	"StableGuard/internal/oracle"
	"StableGuard/internal/policy"
	"StableGuard/internal/pool"
	"StableGuard/internal/protocol"
	"StableGuard/internal/token"
)

// Engine resolves matured policies: it reads the policy ledger, consults the
// oracle adapter, conditionally pays out of the pool vault and commits the
// terminal status. The payout transfer and the status write commit together
// or not at all: every failure path returns before the first mutation.
//
// Settlement is permissionless: the preconditions (Active + past expiry)
// identify the policy, not the caller, so any party may trigger it once the
// policy has matured. This guarantees timely payout even if the buyer is
// inactive.
type Engine struct {
	registry *pool.Registry
	policies *policy.Ledger
	adapter  oracle.Adapter
	bank     *token.Bank
	log      zerolog.Logger
}

func NewEngine(
	registry *pool.Registry,
	policies *policy.Ledger,
	adapter oracle.Adapter,
	bank *token.Bank,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		registry: registry,
		policies: policies,
		adapter:  adapter,
		bank:     bank,
		log:      log,
	}
}

// Result reports what a settlement committed.
type Result struct {
	Status      policy.Status
	ScaledPrice int64 // normalized oracle price, 1e8 scale
	QuoteAge    time.Duration
	Paid        uint64
}

// CheckAndPayout runs the settlement state machine for one policy.
//
// Active → ExpiredPaid when the normalized price is strictly below the depeg
// threshold and the vault can cover the payout; Active → ExpiredNotPaid
// otherwise. Terminal states reject re-settlement; an underfunded payout
// aborts with the policy still Active so the caller can retry after
// deposits land.
func (e *Engine) CheckAndPayout(ctx context.Context, buyer uuid.UUID, policyID uint64, now time.Time) (*Result, error) {
	pol, err := e.policies.Get(buyer, policyID)
	if err != nil {
		return nil, err
	}

	if pol.Status != policy.StatusActive {
		return nil, fmt.Errorf("%w: status=%s", protocol.ErrPolicyAlreadyProcessed, pol.Status)
	}
	if !pol.Expired(now) {
		return nil, fmt.Errorf("%w: expires %s", protocol.ErrPolicyNotExpired, pol.ExpiryTimestamp)
	}

	// Unreachable given the allow-list check at creation, but the feed
	// mapping is re-validated before any monetary decision.
	feedID, ok := protocol.FeedID(pol.InsuredAsset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrInvalidStablecoinMint, pol.InsuredAsset)
	}

	quote, err := e.adapter.Fetch(ctx, feedID, protocol.MaxOracleAgeSeconds*time.Second, now)
	if err != nil {
		return nil, err
	}

	scaled, err := oracle.Normalize(quote)
	if err != nil {
		return nil, err
	}
	if err := oracle.CheckConfidence(quote); err != nil {
		return nil, err
	}

	target, err := e.registry.Get(pol.PremiumCurrency)
	if err != nil {
		return nil, err
	}

	// The insured-notional reduction applies on both branches; precheck it
	// so no arithmetic can fail after the payout transfer.
	if _, err := fpmath.CheckedSub(target.TotalInsuredValue, pol.InsuredAmount); err != nil {
		return nil, err
	}

	res := &Result{ScaledPrice: scaled, QuoteAge: now.Sub(quote.PublishTime)}

	if scaled < protocol.DepegThresholdPrice {
		if target.VaultBalance < pol.PayoutAmount {
			return nil, fmt.Errorf("%w: vault=%d payout=%d",
				protocol.ErrInsufficientPoolCollateral, target.VaultBalance, pol.PayoutAmount)
		}

		authority := addr.DeriveAuthority(target.AuthorityBump)
		buyerHolder := addr.ForParticipant(buyer)

		if err := e.bank.Transfer(target.Address, buyerHolder, pol.PremiumCurrency, pol.PayoutAmount, authority); err != nil {
			// Vault balance was checked above; a failure here would leave
			// the status write unreachable, which must not happen.
			panic(fmt.Sprintf("payout transfer failed after precondition check: %v", err))
		}
		target.VaultBalance -= pol.PayoutAmount
		pol.Status = policy.StatusExpiredPaid
		res.Status = policy.StatusExpiredPaid
		res.Paid = pol.PayoutAmount
	} else {
		pol.Status = policy.StatusExpiredNotPaid
		res.Status = policy.StatusExpiredNotPaid
	}

	if err := e.registry.ReduceInsured(target, pol.InsuredAmount); err != nil {
		panic(fmt.Sprintf("insured reduction failed after precheck: %v", err))
	}

	e.log.Info().
		Str("buyer", buyer.String()).
		Uint64("policy_id", policyID).
		Int64("scaled_price", scaled).
		Int64("threshold", int64(protocol.DepegThresholdPrice)).
		Str("status", res.Status.String()).
		Uint64("paid", res.Paid).
		Msg("policy settled")

	return res, nil
}

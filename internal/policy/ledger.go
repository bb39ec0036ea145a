package policy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableGuard/internal/addr"
	"StableGuard/internal/fpmath"
	"StableGuard/internal/pool"
	"StableGuard/internal/protocol"
	"StableGuard/internal/token"
)

// Ledger creates, stores and validates policy records keyed by their derived
// (buyer, policy_id) address. Like the pool registry, every method validates
// and computes before the first mutation; an error means nothing changed.
type Ledger struct {
	policies map[addr.Address]*Policy
	registry *pool.Registry
	bank     *token.Bank
	log      zerolog.Logger
}

func NewLedger(registry *pool.Registry, bank *token.Bank, log zerolog.Logger) *Ledger {
	return &Ledger{
		policies: make(map[addr.Address]*Policy),
		registry: registry,
		bank:     bank,
		log:      log,
	}
}

// Get resolves a policy by re-deriving its address from (buyer, policy_id).
func (l *Ledger) Get(buyer uuid.UUID, policyID uint64) (*Policy, error) {
	policyAddr, _ := addr.ForPolicy(buyer, policyID)
	p, ok := l.policies[policyAddr]
	if !ok {
		return nil, fmt.Errorf("%w: buyer=%s policy_id=%d", protocol.ErrPolicyNotFound, buyer, policyID)
	}
	return p, nil
}

// All returns every policy record.
func (l *Ledger) All() []*Policy {
	out := make([]*Policy, 0, len(l.policies))
	for _, p := range l.policies {
		out = append(out, p)
	}
	return out
}

// Create writes a new Active policy and transfers the premium from the buyer
// into the target pool's vault.
//
// The insured asset must be on the build-time stablecoin allow-list and the
// premium currency must equal the pool's collateral asset. The buyer-chosen
// policy_id must be fresh for that buyer: the derived record address already
// existing is the duplicate check.
func (l *Ledger) Create(
	buyer uuid.UUID,
	policyID uint64,
	insuredAsset protocol.Asset,
	insuredAmount uint64,
	premiumCurrency protocol.Asset,
	now time.Time,
) (*Policy, error) {
	if insuredAmount == 0 {
		return nil, protocol.ErrInsuredAmountMustBePositive
	}
	if !protocol.IsInsurable(insuredAsset) {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnsupportedStablecoin, insuredAsset)
	}

	target, err := l.registry.Get(premiumCurrency)
	if err != nil {
		return nil, err
	}
	if premiumCurrency != target.CollateralAsset {
		return nil, fmt.Errorf("%w: premium in %s, pool holds %s",
			protocol.ErrPremiumCurrencyMismatch, premiumCurrency, target.CollateralAsset)
	}

	policyAddr, bump := addr.ForPolicy(buyer, policyID)
	if _, ok := l.policies[policyAddr]; ok {
		return nil, fmt.Errorf("%w: buyer=%s policy_id=%d", protocol.ErrDuplicatePolicyID, buyer, policyID)
	}

	premium, err := Premium(insuredAmount)
	if err != nil {
		return nil, err
	}
	payout, err := Payout(insuredAmount)
	if err != nil {
		return nil, err
	}

	holder := addr.ForParticipant(buyer)
	if l.bank.Balance(holder, premiumCurrency) < premium {
		return nil, fmt.Errorf("%w: premium of %d", protocol.ErrInsufficientFunds, premium)
	}

	// Overflow prechecks so nothing can fail after the premium moves.
	if _, err := fpmath.CheckedAdd(target.VaultBalance, premium); err != nil {
		return nil, err
	}
	if _, err := fpmath.CheckedAdd(target.TotalInsuredValue, insuredAmount); err != nil {
		return nil, err
	}

	if err := l.bank.Transfer(holder, target.Address, premiumCurrency, premium, addr.ParticipantSigner(buyer)); err != nil {
		return nil, err
	}
	if err := l.registry.CreditPremium(target, premium, insuredAmount); err != nil {
		panic(fmt.Sprintf("premium credit after successful transfer failed: %v", err))
	}

	p := &Policy{
		Address:         policyAddr,
		Buyer:           buyer,
		PolicyID:        policyID,
		InsuredAsset:    insuredAsset,
		InsuredAmount:   insuredAmount,
		PremiumPaid:     premium,
		PayoutAmount:    payout,
		PremiumCurrency: premiumCurrency,
		StartTimestamp:  now,
		ExpiryTimestamp: now.Add(protocol.PolicyTermSeconds * time.Second),
		Status:          StatusActive,
		Bump:            bump,
	}
	l.policies[policyAddr] = p

	l.log.Info().
		Str("buyer", buyer.String()).
		Uint64("policy_id", policyID).
		Str("insured_asset", string(insuredAsset)).
		Uint64("insured_amount", insuredAmount).
		Uint64("premium", premium).
		Uint64("payout", payout).
		Time("expiry", p.ExpiryTimestamp).
		Msg("policy created")

	return p, nil
}

package pool

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableGuard/internal/addr"
	"StableGuard/internal/fpmath"
	"StableGuard/internal/protocol"
	"StableGuard/internal/token"
)

// Registry creates and tracks one collateral pool per insurable asset class.
// Pools are looked up by their derived address, recomputed on every call.
//
// Every method either commits all of its effects or none: all validation and
// arithmetic happens before the first bank mutation, so an error return
// means zero observable state change.
type Registry struct {
	pools map[addr.Address]*Pool
	bank  *token.Bank
	log   zerolog.Logger
}

func NewRegistry(bank *token.Bank, log zerolog.Logger) *Registry {
	return &Registry{
		pools: make(map[addr.Address]*Pool),
		bank:  bank,
		log:   log,
	}
}

// Get resolves the pool for a collateral asset by re-deriving its address.
func (r *Registry) Get(asset protocol.Asset) (*Pool, error) {
	poolAddr, _ := addr.ForPool(asset)
	p, ok := r.pools[poolAddr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrPoolNotFound, asset)
	}
	return p, nil
}

// All returns every initialized pool.
func (r *Registry) All() []*Pool {
	out := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out
}

// Initialize creates the pool for a collateral asset: an empty vault owned
// by the pool authority and a share mint with supply zero whose mint
// authority is the same capability. Exactly-once per asset: the derived
// address already existing is the only failure mode.
func (r *Registry) Initialize(asset protocol.Asset) (*Pool, error) {
	poolAddr, poolBump := addr.ForPool(asset)
	if _, ok := r.pools[poolAddr]; ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrAlreadyInitialized, asset)
	}

	shareMint, mintBump := addr.ForShareMint(asset)
	authority := addr.DeriveAuthority(addr.DefaultBump)

	if err := r.bank.OpenAccount(poolAddr, asset, authority.Address); err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}
	if err := r.bank.CreateMint(shareMint, authority.Address); err != nil {
		return nil, fmt.Errorf("create share mint: %w", err)
	}

	p := &Pool{
		Address:         poolAddr,
		CollateralAsset: asset,
		ShareMint:       shareMint,
		AuthorityBump:   addr.DefaultBump,
		Bump:            poolBump,
		ShareMintBump:   mintBump,
	}
	r.pools[poolAddr] = p

	r.log.Info().
		Str("asset", string(asset)).
		Str("pool", poolAddr.String()).
		Str("share_mint", shareMint.String()).
		Msg("pool initialized")

	return p, nil
}

// Deposit transfers collateral from the underwriter into the vault and
// mints proportional shares.
//
// Share-minting rule: 1:1 on the first deposit (or whenever the vault has
// been drained to zero), otherwise floor(amount * supply / vault). Floor
// rounding favors the pool.
func (r *Registry) Deposit(underwriter uuid.UUID, asset protocol.Asset, amount uint64) (sharesMinted uint64, err error) {
	if amount == 0 {
		return 0, protocol.ErrDepositAmountMustBePositive
	}

	p, err := r.Get(asset)
	if err != nil {
		return 0, err
	}

	supply := r.bank.Supply(p.ShareMint)

	if supply == 0 || p.VaultBalance == 0 {
		sharesMinted = amount
	} else {
		sharesMinted, err = fpmath.MulDivFloor(amount, supply, p.VaultBalance)
		if err != nil {
			return 0, err
		}
		if sharesMinted == 0 {
			return 0, fmt.Errorf("%w: amount=%d supply=%d vault=%d",
				protocol.ErrDepositTooSmallToMintShares, amount, supply, p.VaultBalance)
		}
	}

	holder := addr.ForParticipant(underwriter)
	if r.bank.Balance(holder, asset) < amount {
		return 0, fmt.Errorf("%w: deposit of %d", protocol.ErrInsufficientFunds, amount)
	}

	// Overflow checks before any mutation.
	newVault, err := fpmath.CheckedAdd(p.VaultBalance, amount)
	if err != nil {
		return 0, err
	}
	if _, err := fpmath.CheckedAdd(supply, sharesMinted); err != nil {
		return 0, err
	}

	authority := addr.DeriveAuthority(p.AuthorityBump)

	if err := r.bank.Transfer(holder, p.Address, asset, amount, addr.ParticipantSigner(underwriter)); err != nil {
		return 0, err
	}
	if err := r.bank.MintTo(p.ShareMint, holder, sharesMinted, authority); err != nil {
		// Unreachable after the prechecks above; surfacing it would leave
		// the transfer dangling, so treat as fatal programming error.
		panic(fmt.Sprintf("mint after successful transfer failed: %v", err))
	}
	p.VaultBalance = newVault

	r.log.Info().
		Str("asset", string(asset)).
		Str("underwriter", underwriter.String()).
		Uint64("amount", amount).
		Uint64("shares_minted", sharesMinted).
		Uint64("vault_balance", p.VaultBalance).
		Msg("collateral deposited")

	return sharesMinted, nil
}

// Withdraw burns the underwriter's shares and returns the proportional
// collateral: floor(shares * vault / supply).
func (r *Registry) Withdraw(underwriter uuid.UUID, asset protocol.Asset, sharesToBurn uint64) (collateralOut uint64, err error) {
	if sharesToBurn == 0 {
		return 0, protocol.ErrWithdrawalAmountZero
	}

	p, err := r.Get(asset)
	if err != nil {
		return 0, err
	}

	holder := addr.ForParticipant(underwriter)
	if r.bank.ShareBalance(p.ShareMint, holder) < sharesToBurn {
		return 0, fmt.Errorf("%w: burn %d", protocol.ErrInsufficientSharesToBurn, sharesToBurn)
	}

	supply := r.bank.Supply(p.ShareMint)
	if supply == 0 {
		return 0, fmt.Errorf("%w: share supply is zero", protocol.ErrCalculation)
	}

	collateralOut, err = fpmath.MulDivFloor(sharesToBurn, p.VaultBalance, supply)
	if err != nil {
		return 0, err
	}
	if collateralOut == 0 {
		return 0, fmt.Errorf("%w: shares=%d vault=%d supply=%d",
			protocol.ErrWithdrawalResultsInZeroCollateral, sharesToBurn, p.VaultBalance, supply)
	}

	authority := addr.DeriveAuthority(p.AuthorityBump)

	if err := r.bank.Burn(p.ShareMint, holder, sharesToBurn, addr.ParticipantSigner(underwriter)); err != nil {
		return 0, err
	}
	if err := r.bank.Transfer(p.Address, holder, asset, collateralOut, authority); err != nil {
		// collateralOut <= vault balance by construction.
		panic(fmt.Sprintf("vault transfer after successful burn failed: %v", err))
	}
	p.VaultBalance -= collateralOut

	r.log.Info().
		Str("asset", string(asset)).
		Str("underwriter", underwriter.String()).
		Uint64("shares_burned", sharesToBurn).
		Uint64("collateral_out", collateralOut).
		Uint64("vault_balance", p.VaultBalance).
		Msg("collateral withdrawn")

	return collateralOut, nil
}

// CreditPremium moves an already-transferred premium into the vault counter
// and raises the insured-notional total. Called by the policy ledger after
// it has validated and executed the buyer's premium transfer.
func (r *Registry) CreditPremium(p *Pool, premium, insuredAmount uint64) error {
	newVault, err := fpmath.CheckedAdd(p.VaultBalance, premium)
	if err != nil {
		return err
	}
	newInsured, err := fpmath.CheckedAdd(p.TotalInsuredValue, insuredAmount)
	if err != nil {
		return err
	}
	p.VaultBalance = newVault
	p.TotalInsuredValue = newInsured
	return nil
}

// ReduceInsured lowers the insured-notional total when a policy reaches a
// terminal state.
func (r *Registry) ReduceInsured(p *Pool, insuredAmount uint64) error {
	next, err := fpmath.CheckedSub(p.TotalInsuredValue, insuredAmount)
	if err != nil {
		return err
	}
	p.TotalInsuredValue = next
	return nil
}

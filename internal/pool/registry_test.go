package pool_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableGuard/internal/addr"
	"StableGuard/internal/pool"
	"StableGuard/internal/protocol"
	"StableGuard/internal/token"
)

func newRegistry() (*pool.Registry, *token.Bank) {
	bank := token.NewBank()
	return pool.NewRegistry(bank, zerolog.Nop()), bank
}

func fundedUnderwriter(bank *token.Bank, asset protocol.Asset, amount uint64) uuid.UUID {
	id := uuid.New()
	bank.Deposit(addr.ForParticipant(id), asset, amount)
	return id
}

// ============================================================================
// Test: Initialize
// ============================================================================

func TestRegistry_InitializeOncePerAsset(t *testing.T) {
	r, bank := newRegistry()

	p, err := r.Initialize(protocol.AssetUSDC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.VaultBalance != 0 {
		t.Errorf("new vault balance: got %d, want 0", p.VaultBalance)
	}
	if got := bank.Supply(p.ShareMint); got != 0 {
		t.Errorf("new share supply: got %d, want 0", got)
	}

	if _, err := r.Initialize(protocol.AssetUSDC); !errors.Is(err, protocol.ErrAlreadyInitialized) {
		t.Errorf("got %v, want ErrAlreadyInitialized", err)
	}

	// A second asset gets its own pool.
	if _, err := r.Initialize(protocol.AssetUSDT); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistry_GetUnknownAsset(t *testing.T) {
	r, _ := newRegistry()
	if _, err := r.Get(protocol.AssetUSDC); !errors.Is(err, protocol.ErrPoolNotFound) {
		t.Errorf("got %v, want ErrPoolNotFound", err)
	}
}

// ============================================================================
// Test: Deposit
// ============================================================================

func TestRegistry_FirstDepositMintsOneToOne(t *testing.T) {
	r, bank := newRegistry()
	r.Initialize(protocol.AssetUSDC)
	uw := fundedUnderwriter(bank, protocol.AssetUSDC, 1_000_000)

	shares, err := r.Deposit(uw, protocol.AssetUSDC, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares != 1_000_000 {
		t.Errorf("shares: got %d, want 1_000_000", shares)
	}

	p, _ := r.Get(protocol.AssetUSDC)
	if p.VaultBalance != 1_000_000 {
		t.Errorf("vault: got %d, want 1_000_000", p.VaultBalance)
	}
	if got := bank.Balance(addr.ForParticipant(uw), protocol.AssetUSDC); got != 0 {
		t.Errorf("underwriter balance: got %d, want 0", got)
	}
}

func TestRegistry_SecondDepositProportional(t *testing.T) {
	r, bank := newRegistry()
	r.Initialize(protocol.AssetUSDC)
	first := fundedUnderwriter(bank, protocol.AssetUSDC, 1_000)
	second := fundedUnderwriter(bank, protocol.AssetUSDC, 500)

	r.Deposit(first, protocol.AssetUSDC, 1_000)

	// Premium income grows the vault without minting shares.
	p, _ := r.Get(protocol.AssetUSDC)
	if err := r.CreditPremium(p, 1_000, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// vault=2000, supply=1000: 500 in mints floor(500*1000/2000)=250.
	shares, err := r.Deposit(second, protocol.AssetUSDC, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares != 250 {
		t.Errorf("shares: got %d, want 250", shares)
	}
}

func TestRegistry_DepositZeroAmount(t *testing.T) {
	r, _ := newRegistry()
	r.Initialize(protocol.AssetUSDC)

	_, err := r.Deposit(uuid.New(), protocol.AssetUSDC, 0)
	if !errors.Is(err, protocol.ErrDepositAmountMustBePositive) {
		t.Errorf("got %v, want ErrDepositAmountMustBePositive", err)
	}
}

func TestRegistry_DepositInsufficientFunds(t *testing.T) {
	r, bank := newRegistry()
	r.Initialize(protocol.AssetUSDC)
	uw := fundedUnderwriter(bank, protocol.AssetUSDC, 99)

	_, err := r.Deposit(uw, protocol.AssetUSDC, 100)
	if !errors.Is(err, protocol.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}

	p, _ := r.Get(protocol.AssetUSDC)
	if p.VaultBalance != 0 {
		t.Errorf("vault changed after rejected deposit: got %d", p.VaultBalance)
	}
}

func TestRegistry_DepositTooSmallToMintShares(t *testing.T) {
	r, bank := newRegistry()
	r.Initialize(protocol.AssetUSDC)
	first := fundedUnderwriter(bank, protocol.AssetUSDC, 1_000)
	dust := fundedUnderwriter(bank, protocol.AssetUSDC, 1)

	r.Deposit(first, protocol.AssetUSDC, 1_000)
	p, _ := r.Get(protocol.AssetUSDC)
	r.CreditPremium(p, 1_000, 0)

	// vault=2000, supply=1000: 1 in mints floor(1*1000/2000)=0 shares.
	_, err := r.Deposit(dust, protocol.AssetUSDC, 1)
	if !errors.Is(err, protocol.ErrDepositTooSmallToMintShares) {
		t.Errorf("got %v, want ErrDepositTooSmallToMintShares", err)
	}
	if got := bank.Balance(addr.ForParticipant(dust), protocol.AssetUSDC); got != 1 {
		t.Errorf("dust balance changed after rejected deposit: got %d", got)
	}
}

// ============================================================================
// Test: Withdraw
// ============================================================================

func TestRegistry_WithdrawRoundTrip(t *testing.T) {
	r, bank := newRegistry()
	r.Initialize(protocol.AssetUSDC)
	uw := fundedUnderwriter(bank, protocol.AssetUSDC, 1_000)

	shares, _ := r.Deposit(uw, protocol.AssetUSDC, 1_000)

	out, err := r.Withdraw(uw, protocol.AssetUSDC, shares)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 1_000 {
		t.Errorf("collateral out: got %d, want 1_000", out)
	}

	p, _ := r.Get(protocol.AssetUSDC)
	if p.VaultBalance != 0 {
		t.Errorf("vault: got %d, want 0", p.VaultBalance)
	}
	if got := bank.Supply(p.ShareMint); got != 0 {
		t.Errorf("supply: got %d, want 0", got)
	}
}

func TestRegistry_WithdrawCapturesPremiumUpside(t *testing.T) {
	r, bank := newRegistry()
	r.Initialize(protocol.AssetUSDC)
	uw := fundedUnderwriter(bank, protocol.AssetUSDC, 1_000)

	shares, _ := r.Deposit(uw, protocol.AssetUSDC, 1_000)
	p, _ := r.Get(protocol.AssetUSDC)
	r.CreditPremium(p, 500, 0)

	// vault=1500, supply=1000: full burn returns floor(1000*1500/1000)=1500.
	out, err := r.Withdraw(uw, protocol.AssetUSDC, shares)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 1_500 {
		t.Errorf("collateral out: got %d, want 1_500", out)
	}
}

func TestRegistry_WithdrawZeroShares(t *testing.T) {
	r, _ := newRegistry()
	r.Initialize(protocol.AssetUSDC)

	_, err := r.Withdraw(uuid.New(), protocol.AssetUSDC, 0)
	if !errors.Is(err, protocol.ErrWithdrawalAmountZero) {
		t.Errorf("got %v, want ErrWithdrawalAmountZero", err)
	}
}

func TestRegistry_WithdrawMoreSharesThanHeld(t *testing.T) {
	r, bank := newRegistry()
	r.Initialize(protocol.AssetUSDC)
	uw := fundedUnderwriter(bank, protocol.AssetUSDC, 1_000)
	r.Deposit(uw, protocol.AssetUSDC, 1_000)

	_, err := r.Withdraw(uw, protocol.AssetUSDC, 1_001)
	if !errors.Is(err, protocol.ErrInsufficientSharesToBurn) {
		t.Errorf("got %v, want ErrInsufficientSharesToBurn", err)
	}
}

func TestRegistry_WithdrawDustShares(t *testing.T) {
	r, bank := newRegistry()
	r.Initialize(protocol.AssetUSDC)
	uw := fundedUnderwriter(bank, protocol.AssetUSDC, 1_000)
	r.Deposit(uw, protocol.AssetUSDC, 1_000)

	// Drain the vault below parity so one share rounds to zero collateral.
	p, _ := r.Get(protocol.AssetUSDC)
	p.VaultBalance = 0

	_, err := r.Withdraw(uw, protocol.AssetUSDC, 1)
	if !errors.Is(err, protocol.ErrWithdrawalResultsInZeroCollateral) {
		t.Errorf("got %v, want ErrWithdrawalResultsInZeroCollateral", err)
	}
}

// ============================================================================
// Test: Insured-notional tracking
// ============================================================================

func TestRegistry_InsuredValueLifecycle(t *testing.T) {
	r, _ := newRegistry()
	p, _ := r.Initialize(protocol.AssetUSDC)

	if err := r.CreditPremium(p, 50, 10_000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TotalInsuredValue != 10_000 {
		t.Errorf("insured value: got %d, want 10_000", p.TotalInsuredValue)
	}
	if p.VaultBalance != 50 {
		t.Errorf("vault: got %d, want 50", p.VaultBalance)
	}

	if err := r.ReduceInsured(p, 10_000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TotalInsuredValue != 0 {
		t.Errorf("insured value after reduce: got %d, want 0", p.TotalInsuredValue)
	}

	if err := r.ReduceInsured(p, 1); !errors.Is(err, protocol.ErrCalculation) {
		t.Errorf("got %v, want ErrCalculation", err)
	}
}

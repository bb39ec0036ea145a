package core_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableGuard/internal/addr"
	"StableGuard/internal/core"
	"StableGuard/internal/oracle"
	"StableGuard/internal/policy"
	"StableGuard/internal/protocol"
)

func newProtocol(chanSize int) (*core.Protocol, chan core.Output, *oracle.StaticAdapter) {
	adapter := oracle.NewStaticAdapter()
	outputChan := make(chan core.Output, chanSize)
	p := core.NewProtocol(adapter, outputChan, nil, zerolog.Nop())
	return p, outputChan, adapter
}

func drain(t *testing.T, ch chan core.Output, n int) []core.Output {
	t.Helper()
	outs := make([]core.Output, 0, n)
	for i := 0; i < n; i++ {
		select {
		case out := <-ch:
			outs = append(outs, out)
		default:
			t.Fatalf("expected %d outputs, got %d", n, i)
		}
	}
	return outs
}

// ============================================================================
// Test: Sequencing and hash chain
// ============================================================================

func TestProtocol_SequenceAndHashChain(t *testing.T) {
	p, outputChan, _ := newProtocol(16)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	uw := uuid.New()
	p.Bank().Deposit(addr.ForParticipant(uw), protocol.AssetUSDC, 1_000)

	if _, err := p.InitializePool(protocol.AssetUSDC, now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := p.DepositCollateral(uw, protocol.AssetUSDC, 1_000, now); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	outs := drain(t, outputChan, 2)

	if outs[0].Record.Sequence != 0 || outs[1].Record.Sequence != 1 {
		t.Errorf("sequences: got %d, %d, want 0, 1", outs[0].Record.Sequence, outs[1].Record.Sequence)
	}

	genesis := sha256.Sum256([]byte(core.GenesisHashSeed))
	if outs[0].Record.PrevHash != genesis {
		t.Error("first operation should chain from the genesis hash")
	}
	if outs[1].Record.PrevHash != outs[0].Record.StateHash {
		t.Error("second operation's prev hash should equal the first operation's state hash")
	}
	if outs[1].Record.StateHash == outs[1].Record.PrevHash {
		t.Error("state hash should advance on every commit")
	}

	if p.Sequence() != 2 {
		t.Errorf("next sequence: got %d, want 2", p.Sequence())
	}
	if p.StateHash() != outs[1].Record.StateHash {
		t.Error("chain tip should equal the last committed state hash")
	}
}

func TestProtocol_RecordDetailCarriesResultQuantities(t *testing.T) {
	p, outputChan, _ := newProtocol(16)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	uw := uuid.New()
	p.Bank().Deposit(addr.ForParticipant(uw), protocol.AssetUSDC, 1_000)
	p.InitializePool(protocol.AssetUSDC, now)

	shares, err := p.DepositCollateral(uw, protocol.AssetUSDC, 1_000, now)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	returned, err := p.WithdrawCollateral(uw, protocol.AssetUSDC, 400, now)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	outs := drain(t, outputChan, 3)

	deposit := outs[1].Record
	if deposit.Amount != 1_000 {
		t.Errorf("deposit amount: got %d, want 1000", deposit.Amount)
	}
	if want := fmt.Sprintf("shares_minted=%d", shares); deposit.Detail != want {
		t.Errorf("deposit detail: got %q, want %q", deposit.Detail, want)
	}

	withdraw := outs[2].Record
	if withdraw.Amount != 400 {
		t.Errorf("withdraw amount: got %d, want 400", withdraw.Amount)
	}
	if want := fmt.Sprintf("collateral_returned=%d", returned); withdraw.Detail != want {
		t.Errorf("withdraw detail: got %q, want %q", withdraw.Detail, want)
	}
}

func TestProtocol_RejectedOperationsDoNotCommit(t *testing.T) {
	p, outputChan, _ := newProtocol(16)
	now := time.Now()

	if _, err := p.InitializePool(protocol.AssetUSDC, now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	drain(t, outputChan, 1)
	tipBefore := p.StateHash()

	// Rejected: no such pool.
	_, err := p.DepositCollateral(uuid.New(), protocol.AssetUSDT, 100, now)
	if !errors.Is(err, protocol.ErrPoolNotFound) {
		t.Fatalf("got %v, want ErrPoolNotFound", err)
	}

	if p.Sequence() != 1 {
		t.Errorf("sequence advanced on rejected op: got %d", p.Sequence())
	}
	if p.StateHash() != tipBefore {
		t.Error("chain tip advanced on rejected op")
	}
	select {
	case <-outputChan:
		t.Error("rejected op emitted an output")
	default:
	}
}

func TestProtocol_Resume(t *testing.T) {
	p, _, _ := newProtocol(16)

	var tip [32]byte
	tip[0] = 0xAB
	p.Resume(42, tip)

	if p.Sequence() != 43 {
		t.Errorf("next sequence: got %d, want 43", p.Sequence())
	}
	if p.StateHash() != tip {
		t.Error("chain tip not restored")
	}
}

func TestProtocol_ResumeDoesNotReuseSequences(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	uw := uuid.New()

	first, firstChan, _ := newProtocol(16)
	first.Bank().Deposit(addr.ForParticipant(uw), protocol.AssetUSDC, 1_000)
	if _, err := first.InitializePool(protocol.AssetUSDC, now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := first.DepositCollateral(uw, protocol.AssetUSDC, 1_000, now); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	outs := drain(t, firstChan, 2)
	last := outs[1].Record

	// A new process resumes from the persisted tip: the last committed
	// sequence and its state hash, exactly what the watermark records.
	second, secondChan, _ := newProtocol(16)
	second.Resume(last.Sequence, last.StateHash)

	if _, err := second.InitializePool(protocol.AssetUSDT, now); err != nil {
		t.Fatalf("initialize after resume: %v", err)
	}
	out := drain(t, secondChan, 1)[0].Record

	if out.Sequence == last.Sequence {
		t.Fatalf("sequence %d reused after resume", out.Sequence)
	}
	if out.Sequence != last.Sequence+1 {
		t.Errorf("sequence after resume: got %d, want %d", out.Sequence, last.Sequence+1)
	}
	if out.PrevHash != last.StateHash {
		t.Error("resumed operation should chain from the persisted tip")
	}
}

func TestProtocol_ResumeAfterSingleOperation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, firstChan, _ := newProtocol(16)
	if _, err := first.InitializePool(protocol.AssetUSDC, now); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	only := drain(t, firstChan, 1)[0].Record

	// Sequence 0 is a real committed operation; a restart after it must
	// resume at 1, not start cold.
	second, secondChan, _ := newProtocol(16)
	second.Resume(only.Sequence, only.StateHash)

	if _, err := second.InitializePool(protocol.AssetUSDT, now); err != nil {
		t.Fatalf("initialize after resume: %v", err)
	}
	out := drain(t, secondChan, 1)[0].Record

	if out.Sequence != 1 {
		t.Errorf("sequence after resume: got %d, want 1", out.Sequence)
	}
	if out.PrevHash != only.StateHash {
		t.Error("resumed operation should chain from sequence 0's state hash")
	}
}

// ============================================================================
// Test: Operation outputs
// ============================================================================

func TestProtocol_PolicyLifecycleOutputs(t *testing.T) {
	p, outputChan, adapter := newProtocol(16)
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	uw := uuid.New()
	buyer := uuid.New()
	p.Bank().Deposit(addr.ForParticipant(uw), protocol.AssetUSDC, 1_000_000)
	p.Bank().Deposit(addr.ForParticipant(buyer), protocol.AssetUSDC, 10_000)

	p.InitializePool(protocol.AssetUSDC, createdAt)
	p.DepositCollateral(uw, protocol.AssetUSDC, 1_000_000, createdAt)

	if _, err := p.CreatePolicy(buyer, 1, protocol.AssetUSDC, 1_000_000, protocol.AssetUSDC, createdAt); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	settleAt := createdAt.Add(7*24*time.Hour + time.Minute)
	feedID, _ := protocol.FeedID(protocol.AssetUSDC)
	adapter.Set(oracle.Quote{FeedID: feedID, Mantissa: 97_000_000, Exponent: -8, Confidence: 1_000, PublishTime: settleAt})

	res, err := p.CheckAndPayout(context.Background(), buyer, 1, settleAt)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if res.Status != policy.StatusExpiredPaid {
		t.Fatalf("status: got %s, want %s", res.Status, policy.StatusExpiredPaid)
	}

	outs := drain(t, outputChan, 4)

	createOut := outs[2]
	if createOut.Record.Type != core.OpCreatePolicy {
		t.Errorf("op type: got %s, want CreatePolicy", createOut.Record.Type)
	}
	if createOut.Policy == nil || createOut.Policy.Status != policy.StatusActive {
		t.Error("create output should carry an Active policy snapshot")
	}

	settleOut := outs[3]
	if settleOut.Record.Type != core.OpCheckAndPayout {
		t.Errorf("op type: got %s, want CheckAndPayout", settleOut.Record.Type)
	}
	if settleOut.Record.Amount != 100_000 {
		t.Errorf("settle amount: got %d, want 100_000", settleOut.Record.Amount)
	}
	if settleOut.Policy == nil || settleOut.Policy.Status != policy.StatusExpiredPaid {
		t.Error("settle output should carry the terminal policy snapshot")
	}
	if settleOut.Pool == nil || settleOut.Pool.VaultBalance != 905_000 {
		t.Error("settle output should carry the post-payout pool snapshot")
	}

	// Snapshots are copies: mutating live state must not change emitted ones.
	livePool, _ := p.Registry().Get(protocol.AssetUSDC)
	livePool.VaultBalance = 0
	if settleOut.Pool.VaultBalance != 905_000 {
		t.Error("emitted pool snapshot aliases live state")
	}
}

package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/microlend/lending-engine/internal/accrual"
	"github.com/microlend/lending-engine/internal/ledger"
)

func TestPool_BootstrapMintsOneToOne(t *testing.T) {
	env := newTestEnv(t, nil, 2000)

	// newTestEnv seeded the pool with 5,000,000 as its first supplier.
	state := env.ledger.PoolState()
	if !state.ShareSupply.Equal(i(5_000_000)) {
		t.Errorf("share supply = %s, want 5000000", state.ShareSupply)
	}
	if !state.PoolBalance.Equal(i(5_000_000)) {
		t.Errorf("pool balance = %s, want 5000000", state.PoolBalance)
	}
	if !env.bank.Shares("lender").Equal(i(5_000_000)) {
		t.Errorf("lender shares = %s, want 5000000", env.bank.Shares("lender"))
	}
}

func TestPool_SecondSupplierAtParMintsOneToOne(t *testing.T) {
	env := newTestEnv(t, nil, 2000)

	receipt, err := env.ledger.SupplyLiquidity(context.Background(), "bob", i(250_000))
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if !receipt.Shares.Equal(i(250_000)) {
		t.Errorf("minted %s shares at par, want 250000", receipt.Shares)
	}
}

func TestPool_SharePriceGrowsWithRealizedInterest(t *testing.T) {
	env := newTestEnv(t, nil, 2000)
	ctx := context.Background()

	mustDeposit(t, env, "alice", 100)
	mustBorrow(t, env, "alice", 100_000)
	env.clock.AdvanceSeconds(accrual.SecondsPerYear)

	// Full repayment realizes exactly 5,000 interest into the pool.
	if _, err := env.ledger.Repay(ctx, "alice", i(105_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if !env.ledger.PoolState().PoolBalance.Equal(i(5_005_000)) {
		t.Fatalf("pool balance = %s, want 5005000", env.ledger.PoolState().PoolBalance)
	}

	// Backing per share is now 1.001, so 1,001,000 buys 1,000,000 shares.
	receipt, err := env.ledger.SupplyLiquidity(ctx, "bob", i(1_001_000))
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if !receipt.Shares.Equal(i(1_000_000)) {
		t.Errorf("minted %s shares, want 1000000", receipt.Shares)
	}
}

func TestPool_SharePriceCountsUnrealizedInterest(t *testing.T) {
	// Interest that has accrued but not yet been realized onto any
	// position must already back the shares, otherwise a supplier
	// arriving just before realization would buy in too cheap.
	env := newTestEnv(t, nil, 2000)
	ctx := context.Background()

	mustDeposit(t, env, "alice", 100)
	mustBorrow(t, env, "alice", 100_000)
	env.clock.AdvanceSeconds(accrual.SecondsPerYear)

	// No realization has happened; pending interest is 5,000.
	receipt, err := env.ledger.SupplyLiquidity(ctx, "bob", i(1_001_000))
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if !receipt.Shares.Equal(i(1_000_000)) {
		t.Errorf("minted %s shares against unrealized interest, want 1000000", receipt.Shares)
	}
}

func TestPool_WithdrawReturnsProportionalAmount(t *testing.T) {
	env := newTestEnv(t, nil, 2000)
	ctx := context.Background()

	mustDeposit(t, env, "alice", 100)
	mustBorrow(t, env, "alice", 100_000)
	env.clock.AdvanceSeconds(accrual.SecondsPerYear)
	if _, err := env.ledger.Repay(ctx, "alice", i(105_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if _, err := env.ledger.SupplyLiquidity(ctx, "bob", i(1_001_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	// Bob bought 1,000,000 shares for 1,001,000; redeeming them at the
	// unchanged share price returns exactly what he paid.
	receipt, err := env.ledger.WithdrawLiquidity(ctx, "bob", i(1_000_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !receipt.Amount.Equal(i(1_001_000)) {
		t.Errorf("withdrew %s, want 1001000", receipt.Amount)
	}
}

func TestPool_SupplierEarnsLendingInterest(t *testing.T) {
	env := newTestEnv(t, nil, 2000)
	ctx := context.Background()

	mustDeposit(t, env, "alice", 100)
	mustBorrow(t, env, "alice", 100_000)
	env.clock.AdvanceSeconds(accrual.SecondsPerYear)
	if _, err := env.ledger.Repay(ctx, "alice", i(105_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}

	// The sole supplier redeems everything and collects the 5,000 of
	// realized interest on top of the principal.
	receipt, err := env.ledger.WithdrawLiquidity(ctx, "lender", i(5_000_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !receipt.Amount.Equal(i(5_005_000)) {
		t.Errorf("withdrew %s, want 5005000", receipt.Amount)
	}

	state := env.ledger.PoolState()
	if !state.PoolBalance.IsZero() || !state.ShareSupply.IsZero() {
		t.Errorf("pool not empty after full redemption: balance=%s supply=%s",
			state.PoolBalance, state.ShareSupply)
	}
}

func TestPool_WithdrawBlockedWhileFundsAreLentOut(t *testing.T) {
	env := newTestEnv(t, nil, 2000)
	mustDeposit(t, env, "alice", 10_000)
	mustBorrow(t, env, "alice", 4_000_000)

	// The lender's shares are worth ~5M but only 1M sits in the pool.
	_, err := env.ledger.WithdrawLiquidity(context.Background(), "lender", i(5_000_000))
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	// A partial withdrawal within the idle balance still works.
	if _, err := env.ledger.WithdrawLiquidity(context.Background(), "lender", i(500_000)); err != nil {
		t.Errorf("partial withdraw: %v", err)
	}
}

func TestPool_WithdrawMoreSharesThanOwnedRejected(t *testing.T) {
	env := newTestEnv(t, nil, 2000)

	_, err := env.ledger.WithdrawLiquidity(context.Background(), "bob", i(100))
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("expected ErrTransferFailed for unowned shares, got %v", err)
	}
}

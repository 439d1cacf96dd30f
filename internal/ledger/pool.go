package ledger

import (
	sdkmath "cosmossdk.io/math"

	"github.com/microlend/lending-engine/internal/accrual"
	"github.com/microlend/lending-engine/internal/model"
)

// backingFractions is the pool's total backing value in fractional units:
// the idle pool balance plus all outstanding debt, scaled to fractions, plus
// interest accrued but not yet attributed to any position, plus interest
// pending since the last global accrual. Including pending interest means
// depositors and withdrawers see it in the share price immediately, not only
// after some position's next interaction.
func backingFractions(state model.PoolState, now int64) sdkmath.Int {
	backing := state.PoolBalance.Add(state.TotalDebt).Mul(accrual.Divisor())
	backing = backing.Add(state.UnrealizedInterestFractions)
	return backing.Add(accrual.PendingFractions(state.TotalDebt, state.LastGlobalAccrualTime, now))
}

// sharesForDeposit returns the shares minted for depositing amount into the
// pool, priced against the backing before the deposit is added. The
// bootstrap deposit mints 1:1; later deposits round down to avoid
// over-minting.
func sharesForDeposit(state model.PoolState, amount sdkmath.Int, now int64) sdkmath.Int {
	if state.ShareSupply.IsZero() {
		return amount
	}
	backing := backingFractions(state, now)
	if backing.IsZero() {
		return amount
	}
	return amount.Mul(state.ShareSupply).Mul(accrual.Divisor()).Quo(backing)
}

// amountForShares returns the debt-asset amount released for burning shares,
// rounding down so the pool is never drained beyond its backing.
func amountForShares(state model.PoolState, shares sdkmath.Int, now int64) sdkmath.Int {
	if state.ShareSupply.IsZero() {
		return sdkmath.ZeroInt()
	}
	backing := backingFractions(state, now)
	return shares.Mul(backing).Quo(state.ShareSupply.Mul(accrual.Divisor()))
}

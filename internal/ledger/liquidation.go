package ledger

import (
	sdkmath "cosmossdk.io/math"

	"github.com/microlend/lending-engine/internal/accrual"
)

// LiquidationPolicy computes the seize/repay split for liquidating an
// unhealthy position. Implementations must never seize more collateral than
// the position holds, and must reduce the repay amount proportionally when
// collateral cannot cover the nominal target. A deployment picks exactly one
// policy; they are never combined.
type LiquidationPolicy interface {
	// Split takes the borrower's post-accrual collateral and debt and the
	// current scaled oracle price, and returns the collateral units to
	// seize and the debt units the liquidator repays.
	Split(collateral, debt, price, priceScale sdkmath.Int) (seize, repay sdkmath.Int)
}

// BonusPolicy is the partial-liquidation policy: the liquidator repays up to
// CloseFactorPercent of the outstanding debt and seizes collateral worth the
// repayment plus BonusPercent.
type BonusPolicy struct {
	// BonusPercent is the liquidator's incentive over the repaid debt.
	BonusPercent int64

	// CloseFactorPercent caps the debt fraction repayable per call.
	CloseFactorPercent int64
}

// DefaultBonusPolicy is the deployment default: half the debt per call with
// a 10% bonus.
func DefaultBonusPolicy() BonusPolicy {
	return BonusPolicy{BonusPercent: 10, CloseFactorPercent: 50}
}

func (p BonusPolicy) Split(collateral, debt, price, priceScale sdkmath.Int) (sdkmath.Int, sdkmath.Int) {
	repay := debt.MulRaw(p.CloseFactorPercent).QuoRaw(100)
	seizeValue := repay.MulRaw(100 + p.BonusPercent).QuoRaw(100)

	collateralValue := collateral.Mul(price).Quo(priceScale)
	if seizeValue.GT(collateralValue) {
		// Collateral cannot cover the bonus-adjusted target: seize all
		// of it and back-solve the smaller repayment, flooring so the
		// liquidator never pays more than the collateral is worth.
		seizeValue = collateralValue
		repay = seizeValue.MulRaw(100).QuoRaw(100 + p.BonusPercent)
	}

	seize := valueToCollateral(seizeValue, price, priceScale)
	return sdkmath.MinInt(seize, collateral), repay
}

// FullSeizurePolicy closes a position in one call: collateral is seized up
// to the entire outstanding debt value with no bonus.
type FullSeizurePolicy struct{}

func (FullSeizurePolicy) Split(collateral, debt, price, priceScale sdkmath.Int) (sdkmath.Int, sdkmath.Int) {
	repay := debt
	seizeValue := repay

	collateralValue := collateral.Mul(price).Quo(priceScale)
	if seizeValue.GT(collateralValue) {
		// Undercollateralized: all collateral is consumed and the
		// liquidator covers only what it is worth. The uncollected
		// remainder is bad debt.
		seizeValue = collateralValue
		repay = seizeValue
	}

	seize := valueToCollateral(seizeValue, price, priceScale)
	return sdkmath.MinInt(seize, collateral), repay
}

// valueToCollateral converts a debt-asset value into collateral units at the
// scaled oracle price. Rounds up: at coarse collateral granularity the
// sub-unit remainder goes to the liquidator, who is paying full debt units
// for it. Without this a single-unit seize target floors to zero and the
// liquidator funds the repayment for nothing. Callers clamp to the
// position's collateral.
func valueToCollateral(value, price, priceScale sdkmath.Int) sdkmath.Int {
	if price.IsZero() || !value.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return accrual.DivideCeil(value.Mul(priceScale), price)
}

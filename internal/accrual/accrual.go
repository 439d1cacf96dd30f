// Package accrual implements the fractional-accounting interest engine for
// the lending ledger.
//
// Interest for a time delta is debt × rate × elapsed / (secondsPerYear × 100).
// Computed independently per call with flooring, this undercounts total
// interest across many small calls versus one large call — value leaks out of
// the pool. The engine instead keeps running accumulators in fractional units
// (the numerator before division by Divisor):
//
//   - Pool level: Global.Accrue adds totalDebt × rate × elapsed into the
//     accumulator with no division, so no rounding occurs pool-wide.
//   - Position level: Realize converts one position's pending fractions to
//     whole debt units with round-up division (the borrower is never
//     undercharged) and subtracts the same unrounded fractions from the
//     shared accumulator, which therefore absorbs exactly the residual.
//
// All values use cosmossdk.io/math integers — never float64 for money.
package accrual

import (
	sdkmath "cosmossdk.io/math"
)

const (
	// RatePercent is the fixed annual borrow rate in whole percent.
	RatePercent = 5

	// SecondsPerYear is the accrual year length (365 days).
	SecondsPerYear = 365 * 24 * 60 * 60

	// DivisorInt64 converts fractional units (debt × percent × seconds)
	// to whole debt units.
	DivisorInt64 = int64(SecondsPerYear) * 100
)

// Divisor returns DivisorInt64 as a math.Int.
func Divisor() sdkmath.Int {
	return sdkmath.NewInt(DivisorInt64)
}

// Global is the pool-wide accumulator state. The zero value is not usable;
// construct with NewGlobal.
type Global struct {
	// UnrealizedFractions is interest accrued pool-wide but not yet
	// attributed to any position, in fractional units.
	UnrealizedFractions sdkmath.Int

	// LastAccrualTime is the unix time the accumulator was last advanced.
	LastAccrualTime int64
}

// NewGlobal returns an empty global accumulator.
func NewGlobal() Global {
	return Global{UnrealizedFractions: sdkmath.ZeroInt()}
}

// PendingFractions computes the fractional interest accrued on debt between
// last and now. Returns zero when last is unset (0) or now <= last.
func PendingFractions(debt sdkmath.Int, last, now int64) sdkmath.Int {
	if last == 0 || now <= last {
		return sdkmath.ZeroInt()
	}
	return debt.MulRaw(RatePercent).MulRaw(now - last)
}

// PendingInterest is the read-only forecast of the whole-unit interest that
// Realize would charge right now: the ceiling of the pending fractions over
// the divisor. Used by the solvency check so that health reflects interest
// not yet realized.
func PendingInterest(debt sdkmath.Int, last, now int64) sdkmath.Int {
	return DivideCeil(PendingFractions(debt, last, now), Divisor())
}

// Accrue advances the global accumulator to now, adding the pool-wide
// pending fractions for the elapsed interval. No division is performed, so
// no rounding occurs at the pool level.
func (g *Global) Accrue(totalDebt sdkmath.Int, now int64) {
	pending := PendingFractions(totalDebt, g.LastAccrualTime, now)
	if !pending.IsZero() {
		g.UnrealizedFractions = g.UnrealizedFractions.Add(pending)
	}
	g.LastAccrualTime = now
}

// Realize converts a position's pending fractions to whole debt units,
// rounding up, and deducts the exact unrounded fractions from the global
// accumulator. The caller must have advanced the global accumulator to now
// first and must add the returned interest to both the position's debt and
// the pool's total debt.
//
// A position that has never accrued (last == 0) is charged nothing; the
// caller initializes its accrual time to now.
func (g *Global) Realize(debt sdkmath.Int, last, now int64) sdkmath.Int {
	fractions := PendingFractions(debt, last, now)
	if fractions.IsZero() {
		return sdkmath.ZeroInt()
	}
	g.UnrealizedFractions = g.UnrealizedFractions.Sub(fractions)
	return DivideCeil(fractions, Divisor())
}

// DivideCeil returns n/d rounded toward positive infinity. Both arguments
// must be non-negative and d must be positive.
func DivideCeil(n, d sdkmath.Int) sdkmath.Int {
	quo := n.Quo(d)
	if n.Mod(d).IsZero() {
		return quo
	}
	return quo.Add(sdkmath.OneInt())
}

// Package model defines the core domain types shared across the lending
// engine. All monetary values use cosmossdk.io/math integers in smallest
// asset units — never float64 for money.
package model

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Position is one user's collateral/debt record. Debt includes all interest
// realized so far; interest accrued since LastAccrualTime is not yet part of
// Debt and lives in the pool's fractional accumulator.
type Position struct {
	UserID          string      `json:"user_id" db:"user_id"`
	Collateral      sdkmath.Int `json:"collateral" db:"collateral"`
	Debt            sdkmath.Int `json:"debt" db:"debt"`
	LastAccrualTime int64       `json:"last_accrual_time" db:"last_accrual_time"` // unix seconds; 0 = never accrued
}

// NewPosition returns a zero-valued position for a user.
func NewPosition(userID string) *Position {
	return &Position{
		UserID:     userID,
		Collateral: sdkmath.ZeroInt(),
		Debt:       sdkmath.ZeroInt(),
	}
}

// PoolState is the singleton aggregate state for one ledger instance.
//
// UnrealizedInterestFractions holds interest that has accrued pool-wide but
// has not yet been attributed to any position, in fractional units (debt
// units × rate × seconds, before division by the accrual divisor).
type PoolState struct {
	TotalCollateral             sdkmath.Int `json:"total_collateral" db:"total_collateral"`
	TotalDebt                   sdkmath.Int `json:"total_debt" db:"total_debt"`
	UnrealizedInterestFractions sdkmath.Int `json:"unrealized_interest_fractions" db:"unrealized_interest_fractions"`
	LastGlobalAccrualTime       int64       `json:"last_global_accrual_time" db:"last_global_accrual_time"`

	// Liquidity-pool state. PoolBalance is the debt-asset custody the
	// ledger holds for lending out; ShareSupply is the total pool shares
	// outstanding.
	PoolBalance sdkmath.Int `json:"pool_balance" db:"pool_balance"`
	ShareSupply sdkmath.Int `json:"share_supply" db:"share_supply"`
}

// NewPoolState returns an empty aggregate state.
func NewPoolState() PoolState {
	return PoolState{
		TotalCollateral:             sdkmath.ZeroInt(),
		TotalDebt:                   sdkmath.ZeroInt(),
		UnrealizedInterestFractions: sdkmath.ZeroInt(),
		PoolBalance:                 sdkmath.ZeroInt(),
		ShareSupply:                 sdkmath.ZeroInt(),
	}
}

// Event kinds recorded in the immutable ledger history.
const (
	EventDeposit      = "deposit_collateral"
	EventWithdraw     = "withdraw_collateral"
	EventBorrow       = "borrow"
	EventRepay        = "repay"
	EventLiquidate    = "liquidate"
	EventPoolSupply   = "pool_supply"
	EventPoolWithdraw = "pool_withdraw"
)

// LedgerEvent is an immutable record of one committed ledger operation.
// Once created, these are never modified or deleted.
type LedgerEvent struct {
	ID     string `json:"id" db:"id"`
	Kind   string `json:"kind" db:"kind"`
	UserID string `json:"user_id" db:"user_id"`

	// Amount is the primary amount of the operation: collateral units for
	// deposit/withdraw, debt units for borrow/repay, shares for the pool
	// operations, repaid debt for liquidations.
	Amount sdkmath.Int `json:"amount" db:"amount"`

	// InterestRealized is the interest folded into the position's debt as
	// part of this operation.
	InterestRealized sdkmath.Int `json:"interest_realized" db:"interest_realized"`

	// Liquidation-only fields.
	Liquidator       string      `json:"liquidator,omitempty" db:"liquidator"`
	SeizedCollateral sdkmath.Int `json:"seized_collateral" db:"seized_collateral"`

	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

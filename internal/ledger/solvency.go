package ledger

import (
	sdkmath "cosmossdk.io/math"

	"github.com/microlend/lending-engine/internal/accrual"
	"github.com/microlend/lending-engine/internal/model"
)

// LTVPercent is the maximum borrowable value as a percentage of collateral
// value. Not runtime-configurable.
const LTVPercent = 75

// Health is the solvency snapshot of one position at a point in time.
type Health struct {
	Healthy bool `json:"healthy"`

	// CollateralValue is the collateral valued in debt-asset units at the
	// current oracle price.
	CollateralValue sdkmath.Int `json:"collateral_value"`

	// MaxBorrow is CollateralValue scaled by the loan-to-value ratio.
	MaxBorrow sdkmath.Int `json:"max_borrow"`

	// DebtWithPending is realized debt plus the forecast interest that
	// would be charged if realized right now.
	DebtWithPending sdkmath.Int `json:"debt_with_pending"`
}

// CheckSolvency evaluates a position against the oracle price without
// mutating anything. Pending interest is included as a round-up forecast so
// health reflects what the position would owe if accrual ran now.
func CheckSolvency(pos *model.Position, price, priceScale sdkmath.Int, now int64) Health {
	value := pos.Collateral.Mul(price).Quo(priceScale)
	maxBorrow := value.MulRaw(LTVPercent).QuoRaw(100)
	debt := pos.Debt.Add(accrual.PendingInterest(pos.Debt, pos.LastAccrualTime, now))

	return Health{
		Healthy:         debt.LTE(maxBorrow),
		CollateralValue: value,
		MaxBorrow:       maxBorrow,
		DebtWithPending: debt,
	}
}

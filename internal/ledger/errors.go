package ledger

import "errors"

var (
	// ErrInvalidAmount is returned when a positive amount is required and
	// a zero or negative amount was given.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInsufficientPosition is returned when withdrawing more collateral
	// than a position holds.
	ErrInsufficientPosition = errors.New("ledger: insufficient position")

	// ErrUnhealthy is returned when an operation would leave a position
	// unhealthy, or when a liquidation target is not unhealthy.
	ErrUnhealthy = errors.New("ledger: position health requirement not met")

	// ErrTransferFailed wraps an asset-transfer collaborator failure. The
	// whole operation is rolled back.
	ErrTransferFailed = errors.New("ledger: asset transfer failed")

	// ErrConsistencyFault indicates the aggregate totals diverged from the
	// per-position sums. The ledger refuses all further mutation once this
	// is observed.
	ErrConsistencyFault = errors.New("ledger: aggregate state inconsistent")

	// ErrOracle wraps a price-oracle failure.
	ErrOracle = errors.New("ledger: price oracle unavailable")
)

package ledger

import (
	"context"

	sdkmath "cosmossdk.io/math"
)

// AssetTransfer moves asset balances between the ledger's custody and user
// accounts. Implementations must fail atomically: either the full amount
// moves or none of it does.
type AssetTransfer interface {
	// Pull moves amount of asset from the user's account into the
	// ledger's custody. Fails if the source cannot cover the amount.
	Pull(ctx context.Context, asset, from string, amount sdkmath.Int) error

	// Push moves amount of asset from the ledger's custody to the user's
	// account. Fails if the ledger's custody balance is short.
	Push(ctx context.Context, asset, to string, amount sdkmath.Int) error
}

// PriceOracle supplies the collateral-to-debt-asset exchange rate, scaled by
// the ledger's configured price scale.
type PriceOracle interface {
	Price(ctx context.Context) (sdkmath.Int, error)
}

// ShareToken issues and destroys liquidity-pool shares. The ledger is the
// sole caller.
type ShareToken interface {
	Mint(ctx context.Context, to string, amount sdkmath.Int) error
	Burn(ctx context.Context, from string, amount sdkmath.Int) error
}

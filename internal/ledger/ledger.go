// Package ledger implements the collateralized-lending state machine:
// per-user positions, pool-wide aggregates, the solvency gate, liquidation,
// and liquidity-pool share accounting.
//
// All mutating operations execute under a single mutex and are atomic:
// either every state change and asset movement takes effect, or the call is
// rolled back with no observable side effects.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/microlend/lending-engine/internal/accrual"
	"github.com/microlend/lending-engine/internal/model"
)

// Config fixes a ledger deployment's asset names, oracle scale, and
// liquidation policy.
type Config struct {
	CollateralAsset string
	DebtAsset       string

	// PriceScale is the fixed-point scale of oracle prices: the oracle
	// quotes debt-asset smallest units per collateral smallest unit,
	// multiplied by this scale.
	PriceScale sdkmath.Int

	// Policy decides the seize/repay split for liquidations. Defaults to
	// DefaultBonusPolicy.
	Policy LiquidationPolicy

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Ledger owns the position map and aggregate totals for one deployment.
type Ledger struct {
	mu sync.Mutex

	cfg      Config
	transfer AssetTransfer
	oracle   PriceOracle
	shares   ShareToken

	positions       map[string]*model.Position
	totalCollateral sdkmath.Int
	totalDebt       sdkmath.Int
	global          accrual.Global

	poolBalance sdkmath.Int
	shareSupply sdkmath.Int

	// halted is set when a consistency fault is observed; all further
	// mutation is refused rather than compounding the error.
	halted bool
}

// New constructs a ledger with empty state.
func New(cfg Config, transfer AssetTransfer, oracle PriceOracle, shares ShareToken) *Ledger {
	if cfg.PriceScale.IsNil() || !cfg.PriceScale.IsPositive() {
		cfg.PriceScale = DefaultPriceScale()
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultBonusPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		cfg:             cfg,
		transfer:        transfer,
		oracle:          oracle,
		shares:          shares,
		positions:       make(map[string]*model.Position),
		totalCollateral: sdkmath.ZeroInt(),
		totalDebt:       sdkmath.ZeroInt(),
		global:          accrual.NewGlobal(),
		poolBalance:     sdkmath.ZeroInt(),
		shareSupply:     sdkmath.ZeroInt(),
	}
}

// DefaultPriceScale is the fixed-point scale oracle prices are quoted at.
func DefaultPriceScale() sdkmath.Int {
	return sdkmath.NewInt(100_000_000) // 1e8
}

// Receipt reports the outcome of a position-mutating operation.
type Receipt struct {
	Position         model.Position `json:"position"`
	Amount           sdkmath.Int    `json:"amount"`
	InterestRealized sdkmath.Int    `json:"interest_realized"`
}

// LiquidationReceipt reports the outcome of a liquidation.
type LiquidationReceipt struct {
	Borrower         model.Position `json:"borrower"`
	SeizedCollateral sdkmath.Int    `json:"seized_collateral"`
	RepaidDebt       sdkmath.Int    `json:"repaid_debt"`
	InterestRealized sdkmath.Int    `json:"interest_realized"`
}

// PoolReceipt reports the outcome of a liquidity-pool operation.
type PoolReceipt struct {
	Shares sdkmath.Int `json:"shares"`
	Amount sdkmath.Int `json:"amount"`
}

// --- internal helpers ---

type snapshot struct {
	pos             model.Position
	hadPos          bool
	totalCollateral sdkmath.Int
	totalDebt       sdkmath.Int
	global          accrual.Global
	poolBalance     sdkmath.Int
	shareSupply     sdkmath.Int
}

func (l *Ledger) snapshotLocked(user string) snapshot {
	s := snapshot{
		totalCollateral: l.totalCollateral,
		totalDebt:       l.totalDebt,
		global:          l.global,
		poolBalance:     l.poolBalance,
		shareSupply:     l.shareSupply,
	}
	if pos, ok := l.positions[user]; ok {
		s.pos = *pos
		s.hadPos = true
	}
	return s
}

func (l *Ledger) restoreLocked(user string, s snapshot) {
	l.totalCollateral = s.totalCollateral
	l.totalDebt = s.totalDebt
	l.global = s.global
	l.poolBalance = s.poolBalance
	l.shareSupply = s.shareSupply
	if s.hadPos {
		restored := s.pos
		l.positions[user] = &restored
	} else {
		delete(l.positions, user)
	}
}

func (l *Ledger) positionLocked(user string) *model.Position {
	pos, ok := l.positions[user]
	if !ok {
		pos = model.NewPosition(user)
		l.positions[user] = pos
	}
	return pos
}

// realizeLocked folds pending interest into a position's debt and the pool
// total, advancing both accrual clocks to now.
func (l *Ledger) realizeLocked(pos *model.Position, now int64) sdkmath.Int {
	l.global.Accrue(l.totalDebt, now)
	if pos.LastAccrualTime == 0 {
		pos.LastAccrualTime = now
		return sdkmath.ZeroInt()
	}
	interest := l.global.Realize(pos.Debt, pos.LastAccrualTime, now)
	if !interest.IsZero() {
		pos.Debt = pos.Debt.Add(interest)
		l.totalDebt = l.totalDebt.Add(interest)
	}
	pos.LastAccrualTime = now
	return interest
}

// guardLocked halts the ledger if any aggregate went negative. Reached only
// through a bug; once tripped, every further mutation returns
// ErrConsistencyFault.
func (l *Ledger) guardLocked() error {
	if l.totalCollateral.IsNegative() || l.totalDebt.IsNegative() ||
		l.global.UnrealizedFractions.IsNegative() ||
		l.poolBalance.IsNegative() || l.shareSupply.IsNegative() {
		l.halted = true
		return ErrConsistencyFault
	}
	return nil
}

func (l *Ledger) priceLocked(ctx context.Context) (sdkmath.Int, error) {
	price, err := l.oracle.Price(ctx)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %v", ErrOracle, err)
	}
	return price, nil
}

func validAmount(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// --- operations ---

// DepositCollateral adds collateral to the user's position and pulls the
// asset from the user.
func (l *Ledger) DepositCollateral(ctx context.Context, user string, amount sdkmath.Int) (*Receipt, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil, ErrConsistencyFault
	}

	now := l.cfg.Now().Unix()
	snap := l.snapshotLocked(user)
	pos := l.positionLocked(user)

	interest := l.realizeLocked(pos, now)
	pos.Collateral = pos.Collateral.Add(amount)
	l.totalCollateral = l.totalCollateral.Add(amount)

	if err := l.transfer.Pull(ctx, l.cfg.CollateralAsset, user, amount); err != nil {
		l.restoreLocked(user, snap)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := l.guardLocked(); err != nil {
		return nil, err
	}
	return &Receipt{Position: *pos, Amount: amount, InterestRealized: interest}, nil
}

// WithdrawCollateral removes collateral from the user's position, rejecting
// withdrawals that would leave the position unhealthy.
func (l *Ledger) WithdrawCollateral(ctx context.Context, user string, amount sdkmath.Int) (*Receipt, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil, ErrConsistencyFault
	}

	pos, ok := l.positions[user]
	if !ok || amount.GT(pos.Collateral) {
		return nil, ErrInsufficientPosition
	}

	now := l.cfg.Now().Unix()
	snap := l.snapshotLocked(user)

	interest := l.realizeLocked(pos, now)
	pos.Collateral = pos.Collateral.Sub(amount)
	l.totalCollateral = l.totalCollateral.Sub(amount)

	price, err := l.priceLocked(ctx)
	if err != nil {
		l.restoreLocked(user, snap)
		return nil, err
	}
	if !CheckSolvency(pos, price, l.cfg.PriceScale, now).Healthy {
		l.restoreLocked(user, snap)
		return nil, ErrUnhealthy
	}

	if err := l.transfer.Push(ctx, l.cfg.CollateralAsset, user, amount); err != nil {
		l.restoreLocked(user, snap)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := l.guardLocked(); err != nil {
		return nil, err
	}
	return &Receipt{Position: *pos, Amount: amount, InterestRealized: interest}, nil
}

// Borrow lends debt asset from the pool against the user's collateral,
// rejecting borrows that would leave the position unhealthy.
func (l *Ledger) Borrow(ctx context.Context, user string, amount sdkmath.Int) (*Receipt, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil, ErrConsistencyFault
	}

	now := l.cfg.Now().Unix()
	snap := l.snapshotLocked(user)
	pos := l.positionLocked(user)

	interest := l.realizeLocked(pos, now)
	pos.Debt = pos.Debt.Add(amount)
	l.totalDebt = l.totalDebt.Add(amount)

	price, err := l.priceLocked(ctx)
	if err != nil {
		l.restoreLocked(user, snap)
		return nil, err
	}
	if !CheckSolvency(pos, price, l.cfg.PriceScale, now).Healthy {
		l.restoreLocked(user, snap)
		return nil, ErrUnhealthy
	}

	if amount.GT(l.poolBalance) {
		l.restoreLocked(user, snap)
		return nil, fmt.Errorf("%w: insufficient pool liquidity", ErrTransferFailed)
	}
	if err := l.transfer.Push(ctx, l.cfg.DebtAsset, user, amount); err != nil {
		l.restoreLocked(user, snap)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.poolBalance = l.poolBalance.Sub(amount)

	if err := l.guardLocked(); err != nil {
		return nil, err
	}
	return &Receipt{Position: *pos, Amount: amount, InterestRealized: interest}, nil
}

// Repay pays down the user's debt, silently capping overpayment at the
// outstanding debt. The receipt's Amount is the amount actually repaid.
func (l *Ledger) Repay(ctx context.Context, user string, amount sdkmath.Int) (*Receipt, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil, ErrConsistencyFault
	}

	now := l.cfg.Now().Unix()
	snap := l.snapshotLocked(user)
	pos := l.positionLocked(user)

	interest := l.realizeLocked(pos, now)
	repay := sdkmath.MinInt(amount, pos.Debt)
	if repay.IsZero() {
		// Nothing owed: no transfer, the realization (a no-op for a
		// debtless position) stands.
		return &Receipt{Position: *pos, Amount: repay, InterestRealized: interest}, nil
	}

	pos.Debt = pos.Debt.Sub(repay)
	l.totalDebt = l.totalDebt.Sub(repay)

	if err := l.transfer.Pull(ctx, l.cfg.DebtAsset, user, repay); err != nil {
		l.restoreLocked(user, snap)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.poolBalance = l.poolBalance.Add(repay)

	if err := l.guardLocked(); err != nil {
		return nil, err
	}
	return &Receipt{Position: *pos, Amount: repay, InterestRealized: interest}, nil
}

// Liquidate lets liquidator repay part of an unhealthy borrower's debt in
// exchange for seized collateral, per the configured policy. Liquidating a
// healthy position is an error.
func (l *Ledger) Liquidate(ctx context.Context, liquidator, borrower string) (*LiquidationReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil, ErrConsistencyFault
	}

	pos, ok := l.positions[borrower]
	if !ok {
		return nil, ErrInsufficientPosition
	}

	now := l.cfg.Now().Unix()
	snap := l.snapshotLocked(borrower)

	interest := l.realizeLocked(pos, now)

	price, err := l.priceLocked(ctx)
	if err != nil {
		l.restoreLocked(borrower, snap)
		return nil, err
	}
	if CheckSolvency(pos, price, l.cfg.PriceScale, now).Healthy {
		l.restoreLocked(borrower, snap)
		return nil, ErrUnhealthy
	}

	seize, repay := l.cfg.Policy.Split(pos.Collateral, pos.Debt, price, l.cfg.PriceScale)

	pos.Collateral = pos.Collateral.Sub(seize)
	l.totalCollateral = l.totalCollateral.Sub(seize)
	pos.Debt = pos.Debt.Sub(repay)
	l.totalDebt = l.totalDebt.Sub(repay)

	if repay.IsPositive() {
		if err := l.transfer.Pull(ctx, l.cfg.DebtAsset, liquidator, repay); err != nil {
			l.restoreLocked(borrower, snap)
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		l.poolBalance = l.poolBalance.Add(repay)
	}
	if seize.IsPositive() {
		if err := l.transfer.Push(ctx, l.cfg.CollateralAsset, liquidator, seize); err != nil {
			// Refund the repayment already pulled before rolling back.
			if repay.IsPositive() {
				_ = l.transfer.Push(ctx, l.cfg.DebtAsset, liquidator, repay)
			}
			l.restoreLocked(borrower, snap)
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	if err := l.guardLocked(); err != nil {
		return nil, err
	}
	return &LiquidationReceipt{
		Borrower:         *pos,
		SeizedCollateral: seize,
		RepaidDebt:       repay,
		InterestRealized: interest,
	}, nil
}

// SupplyLiquidity deposits debt asset into the pool and mints proportional
// shares. The share price includes interest not yet realized into any
// position, so suppliers neither dilute nor get diluted by pending interest.
func (l *Ledger) SupplyLiquidity(ctx context.Context, from string, amount sdkmath.Int) (*PoolReceipt, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil, ErrConsistencyFault
	}

	now := l.cfg.Now().Unix()
	snap := l.snapshotLocked(from)

	minted := sharesForDeposit(l.poolStateLocked(), amount, now)

	if err := l.transfer.Pull(ctx, l.cfg.DebtAsset, from, amount); err != nil {
		l.restoreLocked(from, snap)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := l.shares.Mint(ctx, from, minted); err != nil {
		_ = l.transfer.Push(ctx, l.cfg.DebtAsset, from, amount)
		l.restoreLocked(from, snap)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.poolBalance = l.poolBalance.Add(amount)
	l.shareSupply = l.shareSupply.Add(minted)

	if err := l.guardLocked(); err != nil {
		return nil, err
	}
	return &PoolReceipt{Shares: minted, Amount: amount}, nil
}

// WithdrawLiquidity burns shares and releases the proportional debt-asset
// amount, rounded down so the pool is never drained beyond its backing.
func (l *Ledger) WithdrawLiquidity(ctx context.Context, to string, shareAmount sdkmath.Int) (*PoolReceipt, error) {
	if err := validAmount(shareAmount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil, ErrConsistencyFault
	}

	now := l.cfg.Now().Unix()
	snap := l.snapshotLocked(to)

	amount := amountForShares(l.poolStateLocked(), shareAmount, now)
	if amount.GT(l.poolBalance) {
		return nil, fmt.Errorf("%w: insufficient pool liquidity", ErrTransferFailed)
	}

	if err := l.shares.Burn(ctx, to, shareAmount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := l.transfer.Push(ctx, l.cfg.DebtAsset, to, amount); err != nil {
		_ = l.shares.Mint(ctx, to, shareAmount)
		l.restoreLocked(to, snap)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	l.poolBalance = l.poolBalance.Sub(amount)
	l.shareSupply = l.shareSupply.Sub(shareAmount)

	if err := l.guardLocked(); err != nil {
		return nil, err
	}
	return &PoolReceipt{Shares: shareAmount, Amount: amount}, nil
}

// --- queries ---

// Position returns a copy of the user's position. The zero position is
// returned for users that have never touched the ledger.
func (l *Ledger) Position(user string) model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[user]; ok {
		return *pos
	}
	return *model.NewPosition(user)
}

// HealthOf evaluates the user's solvency at the current oracle price without
// mutating anything.
func (l *Ledger) HealthOf(ctx context.Context, user string) (Health, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	price, err := l.priceLocked(ctx)
	if err != nil {
		return Health{}, err
	}
	pos, ok := l.positions[user]
	if !ok {
		pos = model.NewPosition(user)
	}
	return CheckSolvency(pos, price, l.cfg.PriceScale, l.cfg.Now().Unix()), nil
}

// Now reports the current time on the ledger's configured clock. Callers
// valuing pool state must use this rather than the wall clock so displayed
// values agree with what the ledger itself would compute.
func (l *Ledger) Now() time.Time {
	return l.cfg.Now()
}

// PoolState returns a copy of the aggregate state.
func (l *Ledger) PoolState() model.PoolState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poolStateLocked()
}

func (l *Ledger) poolStateLocked() model.PoolState {
	return model.PoolState{
		TotalCollateral:             l.totalCollateral,
		TotalDebt:                   l.totalDebt,
		UnrealizedInterestFractions: l.global.UnrealizedFractions,
		LastGlobalAccrualTime:       l.global.LastAccrualTime,
		PoolBalance:                 l.poolBalance,
		ShareSupply:                 l.shareSupply,
	}
}

// BackingFractions returns the pool's total backing value in fractional
// units at the given time, including unrealized and pending interest.
func BackingFractions(state model.PoolState, now int64) sdkmath.Int {
	return backingFractions(state, now)
}

// CheckConsistency recomputes the per-position sums and compares them
// against the aggregates. A mismatch halts the ledger.
func (l *Ledger) CheckConsistency() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sumCollateral := sdkmath.ZeroInt()
	sumDebt := sdkmath.ZeroInt()
	for _, pos := range l.positions {
		sumCollateral = sumCollateral.Add(pos.Collateral)
		sumDebt = sumDebt.Add(pos.Debt)
	}
	if !sumCollateral.Equal(l.totalCollateral) || !sumDebt.Equal(l.totalDebt) {
		l.halted = true
		return ErrConsistencyFault
	}
	return l.guardLocked()
}

// Restore loads previously persisted positions and aggregate state, e.g. at
// process startup. Must be called before any operation.
func (l *Ledger) Restore(positions []model.Position, state model.PoolState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.positions = make(map[string]*model.Position, len(positions))
	for i := range positions {
		pos := positions[i]
		l.positions[pos.UserID] = &pos
	}
	l.totalCollateral = state.TotalCollateral
	l.totalDebt = state.TotalDebt
	l.global = accrual.Global{
		UnrealizedFractions: state.UnrealizedInterestFractions,
		LastAccrualTime:     state.LastGlobalAccrualTime,
	}
	l.poolBalance = state.PoolBalance
	l.shareSupply = state.ShareSupply
}

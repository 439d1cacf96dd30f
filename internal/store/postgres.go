package store

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/microlend/lending-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact precision and scanned
// through TEXT.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func parseInt(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("store: malformed numeric %q", s)
	}
	return v, nil
}

func (s *PostgresStore) SavePosition(ctx context.Context, pos *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (user_id, collateral, debt, last_accrual_time)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET collateral = EXCLUDED.collateral,
		     debt = EXCLUDED.debt,
		     last_accrual_time = EXCLUDED.last_accrual_time`,
		pos.UserID, pos.Collateral.String(), pos.Debt.String(), pos.LastAccrualTime,
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID string) (*model.Position, error) {
	var pos model.Position
	var collateral, debt string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, collateral::TEXT, debt::TEXT, last_accrual_time
		 FROM positions WHERE user_id = $1`, userID).
		Scan(&pos.UserID, &collateral, &debt, &pos.LastAccrualTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", userID, err)
	}

	if pos.Collateral, err = parseInt(collateral); err != nil {
		return nil, err
	}
	if pos.Debt, err = parseInt(debt); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, collateral::TEXT, debt::TEXT, last_accrual_time
		 FROM positions ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var pos model.Position
		var collateral, debt string
		if err := rows.Scan(&pos.UserID, &collateral, &debt, &pos.LastAccrualTime); err != nil {
			return nil, err
		}
		if pos.Collateral, err = parseInt(collateral); err != nil {
			return nil, err
		}
		if pos.Debt, err = parseInt(debt); err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) SavePoolState(ctx context.Context, state model.PoolState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pool_state (id, total_collateral, total_debt,
		        unrealized_interest_fractions, last_global_accrual_time,
		        pool_balance, share_supply)
		 VALUES (1, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4, $5::NUMERIC, $6::NUMERIC)
		 ON CONFLICT (id) DO UPDATE
		 SET total_collateral = EXCLUDED.total_collateral,
		     total_debt = EXCLUDED.total_debt,
		     unrealized_interest_fractions = EXCLUDED.unrealized_interest_fractions,
		     last_global_accrual_time = EXCLUDED.last_global_accrual_time,
		     pool_balance = EXCLUDED.pool_balance,
		     share_supply = EXCLUDED.share_supply`,
		state.TotalCollateral.String(), state.TotalDebt.String(),
		state.UnrealizedInterestFractions.String(), state.LastGlobalAccrualTime,
		state.PoolBalance.String(), state.ShareSupply.String(),
	)
	return err
}

func (s *PostgresStore) GetPoolState(ctx context.Context) (model.PoolState, error) {
	var state model.PoolState
	var totalCollateral, totalDebt, unrealized, poolBalance, shareSupply string

	err := s.pool.QueryRow(ctx,
		`SELECT total_collateral::TEXT, total_debt::TEXT,
		        unrealized_interest_fractions::TEXT, last_global_accrual_time,
		        pool_balance::TEXT, share_supply::TEXT
		 FROM pool_state WHERE id = 1`).
		Scan(&totalCollateral, &totalDebt, &unrealized,
			&state.LastGlobalAccrualTime, &poolBalance, &shareSupply)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PoolState{}, fmt.Errorf("%w: pool state", ErrNotFound)
	}
	if err != nil {
		return model.PoolState{}, fmt.Errorf("get pool state: %w", err)
	}

	if state.TotalCollateral, err = parseInt(totalCollateral); err != nil {
		return model.PoolState{}, err
	}
	if state.TotalDebt, err = parseInt(totalDebt); err != nil {
		return model.PoolState{}, err
	}
	if state.UnrealizedInterestFractions, err = parseInt(unrealized); err != nil {
		return model.PoolState{}, err
	}
	if state.PoolBalance, err = parseInt(poolBalance); err != nil {
		return model.PoolState{}, err
	}
	if state.ShareSupply, err = parseInt(shareSupply); err != nil {
		return model.PoolState{}, err
	}
	return state, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *model.LedgerEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_events (id, kind, user_id, amount, interest_realized,
		        liquidator, seized_collateral, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7::NUMERIC, $8)`,
		e.ID, e.Kind, e.UserID, e.Amount.String(), e.InterestRealized.String(),
		e.Liquidator, e.SeizedCollateral.String(), e.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetEventsByUser(ctx context.Context, userID string) ([]model.LedgerEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, user_id, amount::TEXT, interest_realized::TEXT,
		        liquidator, seized_collateral::TEXT, timestamp
		 FROM ledger_events
		 WHERE user_id = $1 OR liquidator = $1
		 ORDER BY timestamp`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.LedgerEvent
	for rows.Next() {
		var e model.LedgerEvent
		var amount, interest, seized string
		if err := rows.Scan(&e.ID, &e.Kind, &e.UserID, &amount, &interest,
			&e.Liquidator, &seized, &e.Timestamp); err != nil {
			return nil, err
		}
		if e.Amount, err = parseInt(amount); err != nil {
			return nil, err
		}
		if e.InterestRealized, err = parseInt(interest); err != nil {
			return nil, err
		}
		if e.SeizedCollateral, err = parseInt(seized); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

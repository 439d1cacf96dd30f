// Package store defines the persistence interface for the lending engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/microlend/lending-engine/internal/model"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. The in-memory ledger is the source of
// truth during a process lifetime; every committed operation is written
// through, and state is reloaded at startup.
type Store interface {
	// --- Positions ---

	// SavePosition upserts a position snapshot.
	SavePosition(ctx context.Context, pos *model.Position) error

	// GetPosition retrieves a position by user ID.
	GetPosition(ctx context.Context, userID string) (*model.Position, error)

	// ListPositions returns all persisted positions.
	ListPositions(ctx context.Context) ([]model.Position, error)

	// --- Aggregate state ---

	// SavePoolState upserts the singleton aggregate state.
	SavePoolState(ctx context.Context, state model.PoolState) error

	// GetPoolState retrieves the aggregate state.
	GetPoolState(ctx context.Context) (model.PoolState, error)

	// --- Immutable event ledger ---

	// AppendEvent appends an immutable operation record.
	AppendEvent(ctx context.Context, event *model.LedgerEvent) error

	// GetEventsByUser returns all events touching a user, oldest first.
	GetEventsByUser(ctx context.Context, userID string) ([]model.LedgerEvent, error)
}

package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/microlend/lending-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]model.Position
	state     model.PoolState
	hasState  bool
	events    []model.LedgerEvent
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]model.Position),
	}
}

func (s *MemoryStore) SavePosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.UserID] = *pos
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, userID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[userID]
	if !ok {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, userID)
	}
	copy := pos
	return &copy, nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	positions := make([]model.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		positions = append(positions, pos)
	}
	return positions, nil
}

func (s *MemoryStore) SavePoolState(_ context.Context, state model.PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.hasState = true
	return nil
}

func (s *MemoryStore) GetPoolState(_ context.Context) (model.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasState {
		return model.PoolState{}, fmt.Errorf("%w: pool state", ErrNotFound)
	}
	return s.state, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event *model.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *MemoryStore) GetEventsByUser(_ context.Context, userID string) ([]model.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.LedgerEvent
	for _, e := range s.events {
		if e.UserID == userID || e.Liquidator == userID {
			result = append(result, e)
		}
	}
	return result, nil
}

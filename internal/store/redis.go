package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/microlend/lending-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) SavePosition(ctx context.Context, pos *model.Position) error {
	if err := s.primary.SavePosition(ctx, pos); err != nil {
		return err
	}
	s.cachePosition(ctx, pos)
	return nil
}

func (s *CachedStore) SavePoolState(ctx context.Context, state model.PoolState) error {
	if err := s.primary.SavePoolState(ctx, state); err != nil {
		return err
	}
	if data, err := json.Marshal(state); err == nil {
		s.rdb.Set(ctx, poolStateKey(), data, s.ttl)
	}
	return nil
}

func (s *CachedStore) AppendEvent(ctx context.Context, event *model.LedgerEvent) error {
	if err := s.primary.AppendEvent(ctx, event); err != nil {
		return err
	}
	// Invalidate the event caches touched by this record.
	s.rdb.Del(ctx, eventsKey(event.UserID))
	if event.Liquidator != "" {
		s.rdb.Del(ctx, eventsKey(event.Liquidator))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPosition(ctx context.Context, userID string) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(userID)).Bytes()
	if err == nil {
		var pos model.Position
		if json.Unmarshal(data, &pos) == nil {
			return &pos, nil
		}
	}

	pos, err := s.primary.GetPosition(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cachePosition(ctx, pos)
	return pos, nil
}

func (s *CachedStore) GetPoolState(ctx context.Context) (model.PoolState, error) {
	data, err := s.rdb.Get(ctx, poolStateKey()).Bytes()
	if err == nil {
		var state model.PoolState
		if json.Unmarshal(data, &state) == nil {
			return state, nil
		}
	}

	state, err := s.primary.GetPoolState(ctx)
	if err != nil {
		return model.PoolState{}, err
	}
	if data, err := json.Marshal(state); err == nil {
		s.rdb.Set(ctx, poolStateKey(), data, s.ttl)
	}
	return state, nil
}

func (s *CachedStore) GetEventsByUser(ctx context.Context, userID string) ([]model.LedgerEvent, error) {
	data, err := s.rdb.Get(ctx, eventsKey(userID)).Bytes()
	if err == nil {
		var events []model.LedgerEvent
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.GetEventsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, eventsKey(userID), data, s.ttl)
	}
	return events, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositions(ctx context.Context) ([]model.Position, error) {
	return s.primary.ListPositions(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cachePosition(ctx context.Context, pos *model.Position) {
	if data, err := json.Marshal(pos); err == nil {
		s.rdb.Set(ctx, positionKey(pos.UserID), data, s.ttl)
	}
}

func positionKey(uid string) string { return fmt.Sprintf("position:%s", uid) }
func poolStateKey() string          { return "pool_state" }
func eventsKey(uid string) string   { return fmt.Sprintf("events:%s", uid) }

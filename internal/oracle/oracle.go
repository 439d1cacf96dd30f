// Package oracle provides price-feed implementations for the ledger.
//
// Prices are quoted as debt-asset smallest units per collateral smallest
// unit, multiplied by the ledger's price scale (1e8 by default). The feed
// itself is an external collaborator; this package only adapts feeds to the
// ledger.PriceOracle interface.
package oracle

import (
	"context"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/redis/go-redis/v9"
)

// Static is a fixed-price oracle for tests and single-asset dev
// deployments. The price may be swapped at runtime with SetPrice.
type Static struct {
	mu    sync.RWMutex
	price sdkmath.Int
}

// NewStatic creates a fixed-price oracle.
func NewStatic(price sdkmath.Int) *Static {
	return &Static{price: price}
}

func (s *Static) Price(_ context.Context) (sdkmath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price, nil
}

// SetPrice replaces the quoted price. Used by tests to simulate collateral
// price movement.
func (s *Static) SetPrice(price sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
}

// Redis reads the scaled price from a Redis key written by an external
// price feeder. No caching: the ledger serializes reads anyway, and a stale
// cached price is worse than a Redis round trip.
type Redis struct {
	rdb *redis.Client
	key string
}

// NewRedis creates a Redis-backed oracle reading the given key.
func NewRedis(rdb *redis.Client, key string) *Redis {
	return &Redis{rdb: rdb, key: key}
}

func (r *Redis) Price(ctx context.Context) (sdkmath.Int, error) {
	raw, err := r.rdb.Get(ctx, r.key).Result()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("oracle: read %s: %w", r.key, err)
	}
	price, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("oracle: malformed price %q at %s", raw, r.key)
	}
	if !price.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("oracle: non-positive price %s at %s", price, r.key)
	}
	return price, nil
}

package store

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"

	"github.com/microlend/lending-engine/internal/model"
)

func TestMemoryStore_PositionRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pos := model.NewPosition("alice")
	pos.Collateral = sdkmath.NewInt(100)
	pos.Debt = sdkmath.NewInt(1500)
	pos.LastAccrualTime = 1_700_000_000

	if err := s.SavePosition(ctx, pos); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetPosition(ctx, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Collateral.Equal(pos.Collateral) || !got.Debt.Equal(pos.Debt) || got.LastAccrualTime != pos.LastAccrualTime {
		t.Errorf("got %+v, want %+v", got, pos)
	}

	// Returned copy must not alias the stored value.
	got.Debt = sdkmath.NewInt(9999)
	again, _ := s.GetPosition(ctx, "alice")
	if !again.Debt.Equal(sdkmath.NewInt(1500)) {
		t.Error("GetPosition leaked a mutable reference to stored state")
	}
}

func TestMemoryStore_MissingPosition(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetPosition(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_PoolState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.GetPoolState(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty store should return ErrNotFound, got %v", err)
	}

	state := model.NewPoolState()
	state.TotalDebt = sdkmath.NewInt(42)
	if err := s.SavePoolState(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetPoolState(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.TotalDebt.Equal(sdkmath.NewInt(42)) {
		t.Errorf("total debt = %s, want 42", got.TotalDebt)
	}
}

func TestMemoryStore_EventsMatchUserAndLiquidator(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	events := []*model.LedgerEvent{
		{ID: "1", Kind: model.EventBorrow, UserID: "alice", Amount: sdkmath.NewInt(100)},
		{ID: "2", Kind: model.EventLiquidate, UserID: "alice", Liquidator: "bob", Amount: sdkmath.NewInt(50)},
		{ID: "3", Kind: model.EventDeposit, UserID: "carol", Amount: sdkmath.NewInt(10)},
	}
	for _, e := range events {
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	aliceEvents, err := s.GetEventsByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	if len(aliceEvents) != 2 {
		t.Errorf("alice has %d events, want 2", len(aliceEvents))
	}

	// The liquidator sees the liquidation in their own feed.
	bobEvents, err := s.GetEventsByUser(ctx, "bob")
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if len(bobEvents) != 1 || bobEvents[0].ID != "2" {
		t.Errorf("bob events = %+v, want the liquidation only", bobEvents)
	}
}

func TestMemoryStore_ListPositions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, user := range []string{"alice", "bob"} {
		if err := s.SavePosition(ctx, model.NewPosition(user)); err != nil {
			t.Fatalf("save %s: %v", user, err)
		}
	}

	positions, err := s.ListPositions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(positions) != 2 {
		t.Errorf("got %d positions, want 2", len(positions))
	}
}

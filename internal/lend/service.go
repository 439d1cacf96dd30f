// Package lend provides the HTTP surface for the lending ledger: collateral
// and debt operations, liquidations, liquidity-pool supply/withdraw, and
// position/pool queries.
//
// All monetary values use cosmossdk.io/math integers — never float64 for
// money. Decimals appear only in read-only response fields (health factor,
// share price) for human consumption.
package lend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/microlend/lending-engine/internal/accrual"
	"github.com/microlend/lending-engine/internal/ledger"
	"github.com/microlend/lending-engine/internal/metrics"
	"github.com/microlend/lending-engine/internal/model"
	"github.com/microlend/lending-engine/internal/store"
)

// Service exposes the ledger over HTTP. The ledger serializes mutating
// calls itself; the service adds persistence write-through, metrics, and
// WebSocket broadcasts on top of each committed operation.
type Service struct {
	ledger *ledger.Ledger
	store  store.Store
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new lending service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(l *ledger.Ledger, st store.Store, hub *WSHub) *Service {
	return &Service{
		ledger: l,
		store:  st,
		wsHub:  hub,
	}
}

// --- Request types ---

// AmountRequest is the JSON body for the collateral, debt, and pool-supply
// operations.
type AmountRequest struct {
	UserID string      `json:"user_id"`
	Amount sdkmath.Int `json:"amount"`
}

// SharesRequest is the JSON body for POST /pool/withdraw.
type SharesRequest struct {
	UserID string      `json:"user_id"`
	Shares sdkmath.Int `json:"shares"`
}

// LiquidateRequest is the JSON body for POST /liquidate.
type LiquidateRequest struct {
	Liquidator string `json:"liquidator"`
	Borrower   string `json:"borrower"`
}

// --- Response types ---

// HealthResponse augments the solvency snapshot with a display-only health
// factor (maxBorrow / debtWithPending; omitted while debt is zero).
type HealthResponse struct {
	ledger.Health
	HealthFactor *decimal.Decimal `json:"health_factor,omitempty"`
}

// PoolResponse reports the liquidity pool's state and display share price.
type PoolResponse struct {
	model.PoolState
	SharePrice decimal.Decimal `json:"share_price"`
}

// --- Mutating handlers ---

// DepositCollateral handles POST /api/v1/collateral/deposit
func (s *Service) DepositCollateral(w http.ResponseWriter, r *http.Request) {
	s.positionOp(w, r, model.EventDeposit, s.ledger.DepositCollateral)
}

// WithdrawCollateral handles POST /api/v1/collateral/withdraw
func (s *Service) WithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	s.positionOp(w, r, model.EventWithdraw, s.ledger.WithdrawCollateral)
}

// Borrow handles POST /api/v1/borrow
func (s *Service) Borrow(w http.ResponseWriter, r *http.Request) {
	s.positionOp(w, r, model.EventBorrow, s.ledger.Borrow)
}

// Repay handles POST /api/v1/repay
func (s *Service) Repay(w http.ResponseWriter, r *http.Request) {
	s.positionOp(w, r, model.EventRepay, s.ledger.Repay)
}

type positionOpFunc func(ctx context.Context, user string, amount sdkmath.Int) (*ledger.Receipt, error)

// positionOp runs one of the four balance-mutating position operations and
// handles the shared persistence/broadcast/metrics tail.
func (s *Service) positionOp(w http.ResponseWriter, r *http.Request, kind string, op positionOpFunc) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()
	receipt, err := op(ctx, req.UserID, req.Amount)
	metrics.OperationLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		s.rejectOp(w, kind, req.UserID, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(kind, "ok").Inc()
	metrics.AddInterest(receipt.InterestRealized)

	event := &model.LedgerEvent{
		ID:               uuid.New().String(),
		Kind:             kind,
		UserID:           req.UserID,
		Amount:           receipt.Amount,
		InterestRealized: receipt.InterestRealized,
		SeizedCollateral: sdkmath.ZeroInt(),
		Timestamp:        time.Now().UTC(),
	}
	s.commit(ctx, event, &receipt.Position)

	slog.Info("ledger operation committed",
		"kind", kind,
		"user", req.UserID,
		"amount", receipt.Amount.String(),
		"interest", receipt.InterestRealized.String(),
	)

	writeJSON(w, http.StatusOK, receipt)
}

// Liquidate handles POST /api/v1/liquidate
func (s *Service) Liquidate(w http.ResponseWriter, r *http.Request) {
	var req LiquidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Liquidator == "" || req.Borrower == "" {
		writeError(w, "liquidator and borrower are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	start := time.Now()
	receipt, err := s.ledger.Liquidate(ctx, req.Liquidator, req.Borrower)
	metrics.OperationLatency.WithLabelValues(model.EventLiquidate).Observe(time.Since(start).Seconds())
	if err != nil {
		s.rejectOp(w, model.EventLiquidate, req.Borrower, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(model.EventLiquidate, "ok").Inc()
	metrics.LiquidationsTotal.Inc()
	metrics.AddInterest(receipt.InterestRealized)

	event := &model.LedgerEvent{
		ID:               uuid.New().String(),
		Kind:             model.EventLiquidate,
		UserID:           req.Borrower,
		Amount:           receipt.RepaidDebt,
		InterestRealized: receipt.InterestRealized,
		Liquidator:       req.Liquidator,
		SeizedCollateral: receipt.SeizedCollateral,
		Timestamp:        time.Now().UTC(),
	}
	s.commit(ctx, event, &receipt.Borrower)

	slog.Info("position liquidated",
		"borrower", req.Borrower,
		"liquidator", req.Liquidator,
		"repaid", receipt.RepaidDebt.String(),
		"seized", receipt.SeizedCollateral.String(),
	)

	writeJSON(w, http.StatusOK, receipt)
}

// SupplyLiquidity handles POST /api/v1/pool/supply
func (s *Service) SupplyLiquidity(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	receipt, err := s.ledger.SupplyLiquidity(ctx, req.UserID, req.Amount)
	if err != nil {
		s.rejectOp(w, model.EventPoolSupply, req.UserID, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(model.EventPoolSupply, "ok").Inc()
	s.commitPool(ctx, model.EventPoolSupply, req.UserID, receipt)

	writeJSON(w, http.StatusOK, receipt)
}

// WithdrawLiquidity handles POST /api/v1/pool/withdraw
func (s *Service) WithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	var req SharesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	receipt, err := s.ledger.WithdrawLiquidity(ctx, req.UserID, req.Shares)
	if err != nil {
		s.rejectOp(w, model.EventPoolWithdraw, req.UserID, err)
		return
	}
	metrics.OperationsTotal.WithLabelValues(model.EventPoolWithdraw, "ok").Inc()
	s.commitPool(ctx, model.EventPoolWithdraw, req.UserID, receipt)

	writeJSON(w, http.StatusOK, receipt)
}

// --- Query handlers ---

// GetPosition handles GET /api/v1/positions/{userID}
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	pos := s.ledger.Position(userID)
	writeJSON(w, http.StatusOK, pos)
}

// GetHealth handles GET /api/v1/positions/{userID}/health
func (s *Service) GetHealth(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	health, err := s.ledger.HealthOf(r.Context(), userID)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := HealthResponse{Health: health}
	if health.DebtWithPending.IsPositive() {
		factor := decimal.NewFromBigInt(health.MaxBorrow.BigInt(), 0).
			Div(decimal.NewFromBigInt(health.DebtWithPending.BigInt(), 0)).
			Round(4)
		resp.HealthFactor = &factor
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPool handles GET /api/v1/pool
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	state := s.ledger.PoolState()
	writeJSON(w, http.StatusOK, PoolResponse{
		PoolState:  state,
		SharePrice: sharePrice(state, s.ledger.Now().Unix()),
	})
}

// GetEvents handles GET /api/v1/events/{userID}
func (s *Service) GetEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	events, err := s.store.GetEventsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.LedgerEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// CheckHealth handles GET /health, verifying ledger consistency.
func (s *Service) CheckHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.CheckConsistency(); err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"lending-engine"}`))
}

// --- Shared tails ---

// commit persists the committed operation and broadcasts it. Persistence
// failures are logged, not surfaced: the in-memory ledger already committed
// and the store is reloaded from it on the next write.
func (s *Service) commit(ctx context.Context, event *model.LedgerEvent, pos *model.Position) {
	if err := s.store.SavePosition(ctx, pos); err != nil {
		slog.Error("persist position failed", "user", pos.UserID, "err", err)
	}
	if err := s.store.SavePoolState(ctx, s.ledger.PoolState()); err != nil {
		slog.Error("persist pool state failed", "err", err)
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		slog.Error("persist event failed", "event", event.ID, "err", err)
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:             event.Kind,
			UserID:           event.UserID,
			Amount:           event.Amount.String(),
			InterestRealized: event.InterestRealized.String(),
			Liquidator:       event.Liquidator,
			SeizedCollateral: event.SeizedCollateral.String(),
			TotalDebt:        s.ledger.PoolState().TotalDebt.String(),
		})
	}
}

func (s *Service) commitPool(ctx context.Context, kind, user string, receipt *ledger.PoolReceipt) {
	event := &model.LedgerEvent{
		ID:               uuid.New().String(),
		Kind:             kind,
		UserID:           user,
		Amount:           receipt.Shares,
		InterestRealized: sdkmath.ZeroInt(),
		SeizedCollateral: sdkmath.ZeroInt(),
		Timestamp:        time.Now().UTC(),
	}
	if err := s.store.SavePoolState(ctx, s.ledger.PoolState()); err != nil {
		slog.Error("persist pool state failed", "err", err)
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		slog.Error("persist event failed", "event", event.ID, "err", err)
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:   kind,
			UserID: user,
			Amount: receipt.Amount.String(),
		})
	}

	slog.Info("pool operation committed",
		"kind", kind,
		"user", user,
		"shares", receipt.Shares.String(),
		"amount", receipt.Amount.String(),
	)
}

// rejectOp maps ledger errors to HTTP statuses and records the rejection.
func (s *Service) rejectOp(w http.ResponseWriter, kind, user string, err error) {
	metrics.OperationsTotal.WithLabelValues(kind, "rejected").Inc()

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientPosition):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrUnhealthy):
		metrics.UnhealthyRejections.Inc()
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrTransferFailed):
		status = http.StatusConflict
	}

	slog.Warn("ledger operation rejected", "kind", kind, "user", user, "err", err)
	writeError(w, err.Error(), status)
}

// sharePrice computes the display-only pool share price: backing value per
// share, 1 when no shares exist.
func sharePrice(state model.PoolState, now int64) decimal.Decimal {
	if state.ShareSupply.IsZero() {
		return decimal.NewFromInt(1)
	}
	backing := ledger.BackingFractions(state, now)
	denom := state.ShareSupply.Mul(accrual.Divisor())
	return decimal.NewFromBigInt(backing.BigInt(), 0).
		Div(decimal.NewFromBigInt(denom.BigInt(), 0)).
		Round(8)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

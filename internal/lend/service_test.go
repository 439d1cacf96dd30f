package lend_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"

	"github.com/microlend/lending-engine/internal/accrual"
	"github.com/microlend/lending-engine/internal/bank"
	"github.com/microlend/lending-engine/internal/ledger"
	"github.com/microlend/lending-engine/internal/lend"
	"github.com/microlend/lending-engine/internal/model"
	"github.com/microlend/lending-engine/internal/oracle"
	"github.com/microlend/lending-engine/internal/store"
)

type testEnv struct {
	router *chi.Mux
	ledger *ledger.Ledger
	bank   *bank.Memory
	store  *store.MemoryStore
	now    time.Time
}

func (e *testEnv) advance(secs int64) {
	e.now = e.now.Add(time.Duration(secs) * time.Second)
}

// newTestEnv wires a service over the in-memory bank and store with a static
// oracle price of 2000 (scaled by 1e8) and a funded pool.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		bank:  bank.NewMemory(),
		store: store.NewMemoryStore(),
		now:   time.Unix(1_700_000_000, 0),
	}

	price := sdkmath.NewInt(2000).Mul(ledger.DefaultPriceScale())
	env.ledger = ledger.New(ledger.Config{
		CollateralAsset: "COLL",
		DebtAsset:       "DEBT",
		Now:             func() time.Time { return env.now },
	}, env.bank, oracle.NewStatic(price), env.bank)

	for _, user := range []string{"alice", "bob", "lender"} {
		env.bank.Credit("COLL", user, sdkmath.NewInt(1_000_000))
		env.bank.Credit("DEBT", user, sdkmath.NewInt(10_000_000))
	}

	svc := lend.NewService(env.ledger, env.store, nil)

	r := chi.NewRouter()
	r.Get("/health", svc.CheckHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/collateral/deposit", svc.DepositCollateral)
		r.Post("/collateral/withdraw", svc.WithdrawCollateral)
		r.Post("/borrow", svc.Borrow)
		r.Post("/repay", svc.Repay)
		r.Post("/liquidate", svc.Liquidate)
		r.Post("/pool/supply", svc.SupplyLiquidity)
		r.Post("/pool/withdraw", svc.WithdrawLiquidity)
		r.Get("/pool", svc.GetPool)
		r.Get("/positions/{userID}", svc.GetPosition)
		r.Get("/positions/{userID}/health", svc.GetHealth)
		r.Get("/events/{userID}", svc.GetEvents)
	})
	env.router = r

	// Fund the pool so borrowing can proceed.
	env.doJSON(t, "POST", "/api/v1/pool/supply", map[string]any{
		"user_id": "lender", "amount": "5000000",
	}, http.StatusOK)

	return env
}

// doJSON performs a request with a JSON body and asserts the status code.
func (e *testEnv) doJSON(t *testing.T, method, path string, body any, wantStatus int) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s: status %d, want %d (body: %s)", method, path, rec.Code, wantStatus, rec.Body.String())
	}
	return rec
}

func amountBody(user string, amount int64) map[string]any {
	return map[string]any{"user_id": user, "amount": fmt.Sprintf("%d", amount)}
}

func TestDepositCollateral_HTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, "POST", "/api/v1/collateral/deposit", amountBody("alice", 100), http.StatusOK)

	var receipt ledger.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decoding receipt: %v", err)
	}
	if !receipt.Position.Collateral.Equal(sdkmath.NewInt(100)) {
		t.Errorf("collateral = %s, want 100", receipt.Position.Collateral)
	}
}

func TestDepositCollateral_Validation(t *testing.T) {
	env := newTestEnv(t)

	// Missing user.
	env.doJSON(t, "POST", "/api/v1/collateral/deposit", map[string]any{"amount": "100"}, http.StatusBadRequest)
	// Missing amount.
	env.doJSON(t, "POST", "/api/v1/collateral/deposit", map[string]any{"user_id": "alice"}, http.StatusBadRequest)
	// Negative amount.
	env.doJSON(t, "POST", "/api/v1/collateral/deposit", amountBody("alice", -5), http.StatusBadRequest)
}

func TestBorrow_OverLimitReturnsConflict(t *testing.T) {
	env := newTestEnv(t)

	env.doJSON(t, "POST", "/api/v1/collateral/deposit", amountBody("alice", 1), http.StatusOK)
	env.doJSON(t, "POST", "/api/v1/borrow", amountBody("alice", 1500), http.StatusOK)
	env.doJSON(t, "POST", "/api/v1/borrow", amountBody("alice", 1), http.StatusConflict)
}

func TestWithdraw_InsufficientReturnsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.doJSON(t, "POST", "/api/v1/collateral/withdraw", amountBody("alice", 10), http.StatusConflict)
}

func TestGetPosition_HTTP(t *testing.T) {
	env := newTestEnv(t)
	env.doJSON(t, "POST", "/api/v1/collateral/deposit", amountBody("alice", 250), http.StatusOK)

	rec := env.doJSON(t, "GET", "/api/v1/positions/alice", nil, http.StatusOK)

	var pos model.Position
	if err := json.Unmarshal(rec.Body.Bytes(), &pos); err != nil {
		t.Fatalf("decoding position: %v", err)
	}
	if pos.UserID != "alice" || !pos.Collateral.Equal(sdkmath.NewInt(250)) {
		t.Errorf("position = %+v", pos)
	}
}

func TestGetPosition_UnknownUserIsZero(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, "GET", "/api/v1/positions/nobody", nil, http.StatusOK)

	var pos model.Position
	if err := json.Unmarshal(rec.Body.Bytes(), &pos); err != nil {
		t.Fatalf("decoding position: %v", err)
	}
	if !pos.Collateral.IsZero() || !pos.Debt.IsZero() {
		t.Errorf("unknown user position = %+v, want zero", pos)
	}
}

func TestGetHealth_HTTP(t *testing.T) {
	env := newTestEnv(t)
	env.doJSON(t, "POST", "/api/v1/collateral/deposit", amountBody("alice", 1), http.StatusOK)
	env.doJSON(t, "POST", "/api/v1/borrow", amountBody("alice", 750), http.StatusOK)

	rec := env.doJSON(t, "GET", "/api/v1/positions/alice/health", nil, http.StatusOK)

	var resp lend.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if !resp.Healthy {
		t.Error("750 against a 1500 limit should be healthy")
	}
	if resp.HealthFactor == nil {
		t.Fatal("health factor missing for an indebted position")
	}
	if resp.HealthFactor.String() != "2" {
		t.Errorf("health factor = %s, want 2", resp.HealthFactor)
	}
}

func TestLiquidate_HTTPFlow(t *testing.T) {
	env := newTestEnv(t)

	env.doJSON(t, "POST", "/api/v1/collateral/deposit", amountBody("alice", 1), http.StatusOK)
	env.doJSON(t, "POST", "/api/v1/borrow", amountBody("alice", 1500), http.StatusOK)

	// Healthy positions cannot be liquidated.
	env.doJSON(t, "POST", "/api/v1/liquidate", map[string]any{
		"liquidator": "bob", "borrower": "alice",
	}, http.StatusConflict)

	env.advance(accrual.SecondsPerYear)

	rec := env.doJSON(t, "POST", "/api/v1/liquidate", map[string]any{
		"liquidator": "bob", "borrower": "alice",
	}, http.StatusOK)

	var receipt ledger.LiquidationReceipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decoding receipt: %v", err)
	}
	// Post-accrual debt 1575, close factor 50%.
	if !receipt.RepaidDebt.Equal(sdkmath.NewInt(787)) {
		t.Errorf("repaid = %s, want 787", receipt.RepaidDebt)
	}
	if !receipt.InterestRealized.Equal(sdkmath.NewInt(75)) {
		t.Errorf("interest realized = %s, want 75", receipt.InterestRealized)
	}
}

func TestLiquidate_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.doJSON(t, "POST", "/api/v1/liquidate", map[string]any{"liquidator": "bob"}, http.StatusBadRequest)
	env.doJSON(t, "POST", "/api/v1/liquidate", map[string]any{"borrower": "alice"}, http.StatusBadRequest)
}

func TestGetPool_HTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, "GET", "/api/v1/pool", nil, http.StatusOK)

	var resp lend.PoolResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding pool: %v", err)
	}
	if !resp.PoolBalance.Equal(sdkmath.NewInt(5_000_000)) {
		t.Errorf("pool balance = %s, want 5000000", resp.PoolBalance)
	}
	if resp.SharePrice.String() != "1" {
		t.Errorf("share price = %s, want 1", resp.SharePrice)
	}
}

func TestGetPool_SharePriceFollowsLedgerClock(t *testing.T) {
	// The display price must be valued at the ledger's clock, not the
	// wall clock, or pending interest would be computed over the wrong
	// interval.
	env := newTestEnv(t)

	env.doJSON(t, "POST", "/api/v1/collateral/deposit", amountBody("alice", 100), http.StatusOK)
	env.doJSON(t, "POST", "/api/v1/borrow", amountBody("alice", 100_000), http.StatusOK)
	env.advance(accrual.SecondsPerYear)

	rec := env.doJSON(t, "GET", "/api/v1/pool", nil, http.StatusOK)

	var resp lend.PoolResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding pool: %v", err)
	}
	// One year of 5% on 100,000 borrowed against a 5,000,000 pool.
	if resp.SharePrice.String() != "1.001" {
		t.Errorf("share price = %s, want 1.001", resp.SharePrice)
	}
}

func TestPoolWithdraw_HTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, "POST", "/api/v1/pool/withdraw", map[string]any{
		"user_id": "lender", "shares": "1000000",
	}, http.StatusOK)

	var receipt ledger.PoolReceipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decoding receipt: %v", err)
	}
	if !receipt.Amount.Equal(sdkmath.NewInt(1_000_000)) {
		t.Errorf("withdrew %s, want 1000000", receipt.Amount)
	}
}

func TestEvents_RecordedPerUser(t *testing.T) {
	env := newTestEnv(t)

	env.doJSON(t, "POST", "/api/v1/collateral/deposit", amountBody("alice", 10), http.StatusOK)
	env.doJSON(t, "POST", "/api/v1/borrow", amountBody("alice", 1000), http.StatusOK)
	env.doJSON(t, "POST", "/api/v1/repay", amountBody("alice", 500), http.StatusOK)
	env.doJSON(t, "POST", "/api/v1/collateral/deposit", amountBody("bob", 5), http.StatusOK)

	rec := env.doJSON(t, "GET", "/api/v1/events/alice", nil, http.StatusOK)

	var events []model.LedgerEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decoding events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events for alice, want 3", len(events))
	}
	kinds := []string{events[0].Kind, events[1].Kind, events[2].Kind}
	want := []string{model.EventDeposit, model.EventBorrow, model.EventRepay}
	for idx, kind := range want {
		if kinds[idx] != kind {
			t.Errorf("event[%d].Kind = %s, want %s", idx, kinds[idx], kind)
		}
	}
}

func TestEvents_EmptyForUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, "GET", "/api/v1/events/nobody", nil, http.StatusOK)
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}

func TestCheckHealth_HTTP(t *testing.T) {
	env := newTestEnv(t)
	env.doJSON(t, "GET", "/health", nil, http.StatusOK)
}

func TestInvalidJSON_Rejected(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/api/v1/borrow", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

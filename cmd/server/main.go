package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/microlend/lending-engine/internal/bank"
	"github.com/microlend/lending-engine/internal/ledger"
	"github.com/microlend/lending-engine/internal/lend"
	"github.com/microlend/lending-engine/internal/metrics"
	"github.com/microlend/lending-engine/internal/oracle"
	"github.com/microlend/lending-engine/internal/store"
)

const (
	collateralAsset = "COLL"
	debtAsset       = "DEBT"
	oraclePriceKey  = "oracle:price"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, 30*time.Second)
		slog.Info("Redis cache enabled")
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price oracle ---
	// A Redis deployment reads the price written by an external feeder;
	// otherwise a static price from the environment is used.
	var priceOracle ledger.PriceOracle
	if rdb != nil {
		priceOracle = oracle.NewRedis(rdb, oraclePriceKey)
		slog.Info("Redis oracle enabled", "key", oraclePriceKey)
	} else {
		raw := os.Getenv("ORACLE_PRICE")
		if raw == "" {
			raw = "200000000000" // 2000 × 1e8
		}
		price, ok := sdkmath.NewIntFromString(raw)
		if !ok || !price.IsPositive() {
			slog.Error("invalid ORACLE_PRICE", "value", raw)
			os.Exit(1)
		}
		priceOracle = oracle.NewStatic(price)
		slog.Info("static oracle enabled", "price", price.String())
	}

	// --- Asset custody ---
	// The in-memory bank backs the dev deployment; production substitutes
	// a settlement integration behind the same interfaces.
	custodian := bank.NewMemory()
	seedAccounts(custodian)

	// --- Ledger ---
	l := ledger.New(ledger.Config{
		CollateralAsset: collateralAsset,
		DebtAsset:       debtAsset,
	}, custodian, priceOracle, custodian)

	// Reload persisted state.
	if state, err := st.GetPoolState(context.Background()); err == nil {
		positions, err := st.ListPositions(context.Background())
		if err != nil {
			slog.Error("loading positions failed", "err", err)
			os.Exit(1)
		}
		l.Restore(positions, state)
		slog.Info("ledger state restored",
			"positions", len(positions),
			"total_debt", state.TotalDebt.String(),
		)
	}

	// --- WebSocket hub ---
	wsHub := lend.NewWSHub()
	go wsHub.Run()

	// --- Lending service ---
	svc := lend.NewService(l, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", svc.CheckHealth)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time ledger events.
		r.Get("/ws", wsHub.HandleWS)

		// Position operations.
		r.Post("/collateral/deposit", svc.DepositCollateral)
		r.Post("/collateral/withdraw", svc.WithdrawCollateral)
		r.Post("/borrow", svc.Borrow)
		r.Post("/repay", svc.Repay)
		r.Post("/liquidate", svc.Liquidate)

		// Liquidity pool.
		r.Post("/pool/supply", svc.SupplyLiquidity)
		r.Post("/pool/withdraw", svc.WithdrawLiquidity)
		r.Get("/pool", svc.GetPool)

		// Queries.
		r.Get("/positions/{userID}", svc.GetPosition)
		r.Get("/positions/{userID}/health", svc.GetHealth)
		r.Get("/events/{userID}", svc.GetEvents)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("lending-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down lending-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("lending-engine stopped")
}

// seedAccounts credits dev balances in both assets for the accounts named in
// SEED_ACCOUNTS (comma-separated). Without seeding the in-memory bank holds
// nothing and every mutating endpoint fails on the asset pull.
func seedAccounts(b *bank.Memory) {
	accounts := parseSeedAccounts(os.Getenv("SEED_ACCOUNTS"))
	if len(accounts) == 0 {
		slog.Warn("SEED_ACCOUNTS not set, in-memory bank is empty")
		return
	}

	amount := sdkmath.NewInt(1_000_000_000_000)
	if raw := os.Getenv("SEED_AMOUNT"); raw != "" {
		parsed, ok := sdkmath.NewIntFromString(raw)
		if !ok || !parsed.IsPositive() {
			slog.Error("invalid SEED_AMOUNT", "value", raw)
			os.Exit(1)
		}
		amount = parsed
	}

	for _, account := range accounts {
		b.Credit(collateralAsset, account, amount)
		b.Credit(debtAsset, account, amount)
	}
	slog.Info("seeded dev accounts", "accounts", accounts, "amount", amount.String())
}

func parseSeedAccounts(raw string) []string {
	var accounts []string
	for _, account := range strings.Split(raw, ",") {
		if account = strings.TrimSpace(account); account != "" {
			accounts = append(accounts, account)
		}
	}
	return accounts
}

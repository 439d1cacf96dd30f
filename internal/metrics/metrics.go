// Package metrics provides Prometheus instrumentation for the lending engine.
package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts ledger operations by kind and outcome.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lend_operations_total",
		Help: "Total ledger operations executed",
	}, []string{"kind", "outcome"})

	// OperationLatency tracks ledger operation latency by kind.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lend_operation_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// InterestRealized accumulates interest folded into positions, in debt
	// units. Approximate: counters are float64.
	InterestRealized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lend_interest_realized_units_total",
		Help: "Total interest realized into positions, in debt units",
	})

	// LiquidationsTotal counts completed liquidations.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lend_liquidations_total",
		Help: "Total completed liquidations",
	})

	// UnhealthyRejections counts operations rejected by the solvency gate.
	UnhealthyRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lend_unhealthy_rejections_total",
		Help: "Operations rejected because a position would be (or is not) unhealthy",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lend_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lend_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lend_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// AddInterest records realized interest on the counter. Lossy above 2^53
// debt units; acceptable for telemetry only.
func AddInterest(amount sdkmath.Int) {
	if amount.IsNil() || !amount.IsPositive() {
		return
	}
	f, _ := new(big.Float).SetInt(amount.BigInt()).Float64()
	InterestRealized.Add(f)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the route surface is small.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Package metrics provides Prometheus instrumentation for the risk engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LiquidatablePositions is the number of positions liquidated per shock.
	LiquidatablePositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cdp_risk_liquidatable_positions",
		Help: "Positions below their minimum collateral ratio under each price shock",
	}, []string{"shock"})

	// AtRiskCollateral is the pre-shock collateral value of liquidated positions.
	AtRiskCollateral = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cdp_risk_at_risk_collateral_usd",
		Help: "Collateral value of positions liquidated under each price shock",
	}, []string{"shock"})

	// BadDebt is the debt left unbacked after liquidation per shock.
	BadDebt = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cdp_risk_bad_debt_usd",
		Help: "Debt not covered by shocked collateral under each price shock",
	}, []string{"shock"})

	// LiquidityImpact is liquidation sell pressure over best-bid depth.
	LiquidityImpact = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cdp_risk_liquidity_impact_ratio",
		Help: "Liquidation sell pressure divided by best-bid depth at the focus shock",
	}, []string{"symbol"})

	// TrackedPositions is the number of positions in the latest snapshot.
	TrackedPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdp_risk_tracked_positions",
		Help: "Open positions in the latest snapshot",
	})

	// PerpCDPCorrelation is the Pearson coefficient between open-interest
	// changes and average-ICR changes.
	PerpCDPCorrelation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdp_risk_perp_cdp_correlation",
		Help: "Correlation between open-interest changes and average ICR changes",
	})

	// RefreshesTotal counts refresh cycles by outcome.
	RefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdp_risk_refreshes_total",
		Help: "Total refresh cycles",
	}, []string{"outcome"})

	// RefreshLatency tracks the duration of a refresh cycle.
	RefreshLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cdp_risk_refresh_latency_seconds",
		Help:    "Refresh cycle latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cdp_risk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cdp_risk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cdp_risk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Refresh outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern uses the chi route pattern as the path label to keep
// cardinality bounded.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

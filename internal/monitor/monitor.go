// Package monitor runs the periodic risk refresh: fetch positions and market
// metrics, fuse them, build a report and publish it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atmx/cdp-risk/internal/correlation"
	"github.com/atmx/cdp-risk/internal/fusion"
	"github.com/atmx/cdp-risk/internal/metrics"
	"github.com/atmx/cdp-risk/internal/model"
	"github.com/atmx/cdp-risk/internal/report"
	"github.com/atmx/cdp-risk/internal/source"
)

// ErrNoSnapshot is returned when no refresh has succeeded yet.
var ErrNoSnapshot = errors.New("monitor: no snapshot available yet")

// Broadcaster pushes refresh updates to subscribers.
type Broadcaster interface {
	Broadcast(v any)
}

// Options configures a Monitor.
type Options struct {
	Symbols          []string
	MaxPerCollateral int
	Shocks           []float64
	FocusShock       float64
	DepthOverrides   map[string]float64
	Interval         time.Duration
	FetchTimeout     time.Duration
	HistoryWindow    int
}

// Snapshot is the outcome of one successful refresh.
type Snapshot struct {
	Report    *report.Report
	Fused     []model.FusedRecord
	Market    map[string]model.MarketMetrics
	FetchedAt time.Time
}

// Update is the compact message broadcast after each refresh.
type Update struct {
	Type              string      `json:"type"`
	ReportID          string      `json:"report_id"`
	GeneratedAt       time.Time   `json:"generated_at"`
	Positions         int         `json:"positions"`
	FocusShock        model.Shock `json:"focus_shock"`
	LiquidatableCount int         `json:"liquidatable_count"`
	BadDebt           string      `json:"bad_debt"`
	BadDebtPct        string      `json:"bad_debt_pct"`
	Correlation       string      `json:"correlation"`
}

// Monitor owns the latest snapshot and the correlation history.
type Monitor struct {
	positions source.PositionSource
	market    source.MarketSource
	hub       Broadcaster // optional
	opts      Options
	tracker   *correlation.Tracker

	refreshMu sync.Mutex // one refresh at a time

	mu     sync.RWMutex
	latest *Snapshot
}

// New creates a monitor. Pass nil for hub if broadcasting is not needed.
func New(positions source.PositionSource, market source.MarketSource, hub Broadcaster, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	return &Monitor{
		positions: positions,
		market:    market,
		hub:       hub,
		opts:      opts,
		tracker:   correlation.NewTracker(opts.HistoryWindow),
	}
}

// Options returns the monitor configuration.
func (m *Monitor) Options() Options {
	return m.opts
}

// Tracker returns the correlation history fed by each refresh.
func (m *Monitor) Tracker() *correlation.Tracker {
	return m.tracker
}

// Latest returns the most recent snapshot.
func (m *Monitor) Latest() (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return nil, ErrNoSnapshot
	}
	return m.latest, nil
}

// Refresh runs one cycle. On failure the previous snapshot is kept. Cycles
// aborted because ctx is done are neither logged as errors nor counted.
func (m *Monitor) Refresh(ctx context.Context) (*Snapshot, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	start := time.Now()
	snap, err := m.refresh(ctx)
	metrics.RefreshLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		// A cycle cut short by shutdown or a departed caller is not a failure.
		if ctx.Err() != nil {
			slog.Debug("refresh canceled", "err", err)
			return nil, err
		}
		metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeError).Inc()
		slog.Error("refresh failed", "err", err)
		return nil, err
	}
	metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()

	m.mu.Lock()
	m.latest = snap
	m.mu.Unlock()

	record(snap.Report)
	if m.hub != nil {
		m.hub.Broadcast(updateFor(snap.Report))
	}

	slog.Info("refresh complete",
		"report_id", snap.Report.ID.String(),
		"positions", snap.Report.Summary.Positions,
		"focus_shock", snap.Report.Focus.Label,
		"liquidatable", snap.Report.Focus.LiquidatableCount,
		"bad_debt", snap.Report.Focus.BadDebt.String(),
		"duration", time.Since(start).String(),
	)
	return snap, nil
}

func (m *Monitor) refresh(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()

	positions, err := m.positions.Positions(ctx, source.PositionFilter{
		CollateralTypes:  m.opts.Symbols,
		MaxPerCollateral: m.opts.MaxPerCollateral,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	market, err := m.market.Market(ctx, m.opts.Symbols)
	if err != nil {
		return nil, fmt.Errorf("fetch market: %w", err)
	}

	fused := fusion.Fuse(positions, market)

	if avg, ok := report.AverageICR(fused); ok {
		m.tracker.Observe(correlation.Snapshot{
			OpenInterest: TotalOpenInterest(market),
			AverageICR:   avg,
		})
	}

	rep := report.Build(fused, market, report.Options{
		Shocks:         m.opts.Shocks,
		FocusShock:     m.opts.FocusShock,
		DepthOverrides: m.opts.DepthOverrides,
		History:        m.tracker.History(),
	})

	return &Snapshot{
		Report:    rep,
		Fused:     fused,
		Market:    market,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Run refreshes immediately and then every interval until ctx is done.
// Failed refreshes are logged and retried on the next tick.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	slog.Info("monitor started", "interval", m.opts.Interval.String(), "symbols", m.opts.Symbols)
	for {
		m.Refresh(ctx)

		select {
		case <-ctx.Done():
			slog.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TotalOpenInterest sums the open interest present across symbols.
func TotalOpenInterest(market map[string]model.MarketMetrics) float64 {
	var total float64
	for _, mm := range market {
		total += mm.OpenInterest.Or(0)
	}
	return total
}

func updateFor(r *report.Report) Update {
	return Update{
		Type:              "risk_update",
		ReportID:          r.ID.String(),
		GeneratedAt:       r.GeneratedAt,
		Positions:         r.Summary.Positions,
		FocusShock:        r.Focus.Shock,
		LiquidatableCount: r.Focus.LiquidatableCount,
		BadDebt:           r.Focus.BadDebt.String(),
		BadDebtPct:        r.Focus.BadDebtPct.String(),
		Correlation:       r.Correlation.String(),
	}
}

// record publishes a report to the Prometheus gauges.
func record(r *report.Report) {
	metrics.LiquidatablePositions.Reset()
	metrics.AtRiskCollateral.Reset()
	metrics.BadDebt.Reset()
	for _, s := range r.Scenarios {
		metrics.LiquidatablePositions.WithLabelValues(s.Label).Set(float64(s.LiquidatableCount))
		metrics.AtRiskCollateral.WithLabelValues(s.Label).Set(s.AtRiskCollateral.InexactFloat64())
		metrics.BadDebt.WithLabelValues(s.Label).Set(s.BadDebt.InexactFloat64())
	}

	metrics.LiquidityImpact.Reset()
	for _, row := range r.Impact {
		metrics.LiquidityImpact.WithLabelValues(row.Symbol).Set(row.Ratio.InexactFloat64())
	}

	metrics.TrackedPositions.Set(float64(r.Summary.Positions))
	metrics.PerpCDPCorrelation.Set(r.Correlation.InexactFloat64())
}

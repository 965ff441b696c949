package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/atmx/cdp-risk/internal/metrics"
	"github.com/atmx/cdp-risk/internal/model"
	"github.com/atmx/cdp-risk/internal/source"
)

type recordingHub struct {
	mu   sync.Mutex
	msgs []any
}

func (h *recordingHub) Broadcast(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, v)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

type failingMarket struct{ err error }

func (f failingMarket) Market(context.Context, []string) (map[string]model.MarketMetrics, error) {
	return nil, f.err
}

func testOptions() Options {
	return Options{
		Symbols:       []string{"ETH", "HYPE"},
		FocusShock:    -0.2,
		Interval:      10 * time.Millisecond,
		FetchTimeout:  time.Second,
		HistoryWindow: 8,
	}
}

func TestMonitor_LatestBeforeRefresh(t *testing.T) {
	m := New(source.NewFixtureSource(), source.NewFixtureSource(), nil, testOptions())
	if _, err := m.Latest(); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestMonitor_Refresh(t *testing.T) {
	fx := source.NewFixtureSource()
	hub := &recordingHub{}
	m := New(fx, fx, hub, testOptions())

	snap, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(snap.Fused) != 2 {
		t.Fatalf("expected 2 fused records, got %d", len(snap.Fused))
	}
	if snap.Fused[0].Metrics.Empty() {
		t.Error("fused record should carry market metrics")
	}
	if snap.Report.Focus.LiquidatableCount != 1 {
		t.Errorf("expected 1 liquidatable at -20%%, got %d", snap.Report.Focus.LiquidatableCount)
	}

	latest, err := m.Latest()
	if err != nil || latest != snap {
		t.Errorf("latest should be the refreshed snapshot, got %v %v", latest, err)
	}
	if hub.count() != 1 {
		t.Errorf("expected 1 broadcast, got %d", hub.count())
	}
	msg, ok := hub.msgs[0].(Update)
	if !ok || msg.Type != "risk_update" || msg.ReportID != snap.Report.ID.String() {
		t.Errorf("unexpected broadcast %+v", hub.msgs[0])
	}
	if m.Tracker().Len() != 1 {
		t.Errorf("expected one tracked observation, got %d", m.Tracker().Len())
	}
}

func TestMonitor_SymbolFilter(t *testing.T) {
	fx := source.NewFixtureSource()
	opts := testOptions()
	opts.Symbols = []string{"hype"}
	m := New(fx, fx, nil, opts)

	snap, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(snap.Fused) != 1 || snap.Fused[0].Owner != "0xabc" {
		t.Errorf("expected only the HYPE trove, got %+v", snap.Fused)
	}
}

func TestMonitor_FailureKeepsPrevious(t *testing.T) {
	fx := source.NewFixtureSource()
	m := New(fx, fx, nil, testOptions())

	first, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	boom := errors.New("upstream down")
	m.market = failingMarket{err: boom}
	if _, err := m.Refresh(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}

	latest, err := m.Latest()
	if err != nil || latest != first {
		t.Error("failed refresh should keep the previous snapshot")
	}
}

func TestMonitor_CanceledRefreshNotCounted(t *testing.T) {
	fx := source.NewFixtureSource()
	m := New(fx, fx, nil, testOptions())
	failed := metrics.RefreshesTotal.WithLabelValues(metrics.OutcomeError)

	before := testutil.ToFloat64(failed)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if after := testutil.ToFloat64(failed); after != before {
		t.Errorf("canceled refresh counted as error: %v -> %v", before, after)
	}

	m.market = failingMarket{err: errors.New("upstream down")}
	if _, err := m.Refresh(context.Background()); err == nil {
		t.Fatal("expected upstream error")
	}
	if after := testutil.ToFloat64(failed); after != before+1 {
		t.Errorf("expected one counted failure, got %v -> %v", before, after)
	}
}

func TestMonitor_CorrelationHistory(t *testing.T) {
	fx := source.NewFixtureSource()
	m := New(fx, fx, nil, testOptions())
	ctx := context.Background()

	// Open interest and collateral price rise together.
	for i, mark := range []float64{2000, 2100, 2300, 2600} {
		ps := source.StubPositions()
		ps[0].Price = mark
		fx.SetPositions(ps)

		eth := source.StubMetrics("ETH")
		eth.OpenInterest = model.Some(1_000_000 + float64(i*i)*10_000)
		fx.SetMarket(map[string]model.MarketMetrics{"ETH": eth, "HYPE": source.StubMetrics("HYPE")})

		if _, err := m.Refresh(ctx); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}

	if got := len(m.Tracker().History()); got != 3 {
		t.Fatalf("expected 3 change pairs, got %d", got)
	}
	snap, _ := m.Latest()
	if !snap.Report.Correlation.IsPositive() {
		t.Errorf("expected positive correlation, got %s", snap.Report.Correlation)
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	fx := source.NewFixtureSource()
	hub := &recordingHub{}
	m := New(fx, fx, hub, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for hub.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("monitor did not refresh on its interval")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTotalOpenInterest(t *testing.T) {
	market := map[string]model.MarketMetrics{
		"ETH":  {OpenInterest: model.Some(100)},
		"HYPE": {OpenInterest: model.Some(50)},
		"BTC":  {},
	}
	if got := TotalOpenInterest(market); got != 150 {
		t.Errorf("expected 150, got %v", got)
	}
}

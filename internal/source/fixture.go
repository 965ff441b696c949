package source

import (
	"context"
	"sync"

	"github.com/atmx/cdp-risk/internal/model"
)

// FixtureSource implements PositionSource and MarketSource with in-memory
// data. Used for development, demos and tests.
type FixtureSource struct {
	mu        sync.RWMutex
	positions []model.Position

	// market is nil until SetMarket is called; until then every requested
	// symbol gets StubMetrics.
	market map[string]model.MarketMetrics
}

var (
	_ PositionSource = (*FixtureSource)(nil)
	_ MarketSource   = (*FixtureSource)(nil)
)

// NewFixtureSource creates a source seeded with the stub troves.
func NewFixtureSource() *FixtureSource {
	return &FixtureSource{positions: StubPositions()}
}

// NewFixtureSourceFrom creates a source with the given data. A nil market
// falls back to StubMetrics for every symbol.
func NewFixtureSourceFrom(positions []model.Position, market map[string]model.MarketMetrics) *FixtureSource {
	s := &FixtureSource{}
	s.SetPositions(positions)
	if market != nil {
		s.SetMarket(market)
	}
	return s
}

// StubPositions returns the sample troves used when no live source is wired.
func StubPositions() []model.Position {
	return []model.Position{
		{
			Owner:              "0x123",
			CollateralType:     "ETH",
			CollateralAmount:   10,
			Debt:               5000,
			Price:              2000,
			MinCollateralRatio: 1.5,
		},
		{
			Owner:              "0xabc",
			CollateralType:     "HYPE",
			CollateralAmount:   500,
			Debt:               25000,
			Price:              50,
			MinCollateralRatio: 1.2,
		},
	}
}

// StubMetrics returns sample market metrics for a symbol.
func StubMetrics(symbol string) model.MarketMetrics {
	mark := 50.0
	if symbol == "ETH" {
		mark = 2000
	}
	return model.MarketMetrics{
		OpenInterest:       model.Some(1_000_000),
		FundingRate:        model.Some(0.0005),
		Skew:               model.Some(0.1),
		RealizedVolatility: model.Some(0.2),
		BestBidDepth:       model.Some(500_000),
		BestAskDepth:       model.Some(500_000),
		MarkPrice:          model.Some(mark),
	}
}

// SetPositions replaces the position fixtures.
func (s *FixtureSource) SetPositions(positions []model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.positions = append([]model.Position(nil), positions...)
}

// SetMarket replaces the market fixtures. Keys are upper-cased.
func (s *FixtureSource) SetMarket(market map[string]model.MarketMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.market = make(map[string]model.MarketMetrics, len(market))
	for sym, m := range market {
		for _, key := range normalizeSymbols([]string{sym}) {
			s.market[key] = m
		}
	}
}

func (s *FixtureSource) Positions(ctx context.Context, filter PositionFilter) ([]model.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ApplyFilter(s.positions, filter), nil
}

func (s *FixtureSource) Market(ctx context.Context, symbols []string) (map[string]model.MarketMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.MarketMetrics, len(symbols))
	for _, sym := range normalizeSymbols(symbols) {
		if s.market == nil {
			out[sym] = StubMetrics(sym)
			continue
		}
		if m, ok := s.market[sym]; ok {
			out[sym] = m
		}
	}
	return out, nil
}

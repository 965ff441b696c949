// Package source defines where positions and market metrics come from.
// Implementations include in-memory fixtures (development and tests),
// PostgreSQL (indexed troves), the Hyperliquid info API (live market data)
// and a Redis read-through cache in front of any market source.
//
// The risk engine never picks a source; the caller wires one in.
package source

import (
	"context"
	"strings"

	"github.com/atmx/cdp-risk/internal/model"
)

// PositionSource yields open CDP positions.
type PositionSource interface {
	// Positions returns the open positions matching filter.
	Positions(ctx context.Context, filter PositionFilter) ([]model.Position, error)
}

// MarketSource yields market metrics keyed by upper-cased symbol. Symbols
// the source knows nothing about are simply absent from the result.
type MarketSource interface {
	// Market returns metrics for the requested symbols.
	Market(ctx context.Context, symbols []string) (map[string]model.MarketMetrics, error)
}

// PositionFilter narrows a position query.
type PositionFilter struct {
	// CollateralTypes restricts results to these symbols (case-insensitive).
	// Empty means all collateral types.
	CollateralTypes []string

	// MaxPerCollateral caps the positions returned per collateral type.
	// Zero means no cap.
	MaxPerCollateral int
}

// ApplyFilter returns the positions matching f, keeping input order. The
// cap keeps the first MaxPerCollateral positions of each collateral type.
func ApplyFilter(positions []model.Position, f PositionFilter) []model.Position {
	allowed := make(map[string]bool, len(f.CollateralTypes))
	for _, c := range f.CollateralTypes {
		allowed[strings.ToUpper(c)] = true
	}

	counts := make(map[string]int)
	out := make([]model.Position, 0, len(positions))
	for _, p := range positions {
		sym := p.Symbol()
		if len(allowed) > 0 && !allowed[sym] {
			continue
		}
		if f.MaxPerCollateral > 0 && counts[sym] >= f.MaxPerCollateral {
			continue
		}
		counts[sym]++
		out = append(out, p)
	}
	return out
}

// normalizeSymbols upper-cases and de-duplicates symbols, keeping order.
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Package impact estimates the market impact of forced liquidation sells
// against top-of-book liquidity.
//
// For one shock level, the collateral of every position that would
// liquidate is grouped by asset and divided by that asset's best-bid depth.
// Ratios above 1.0 mean the forced sell exceeds the visible depth.
package impact

import (
	"math"
	"strings"

	"github.com/atmx/cdp-risk/internal/model"
)

const (
	// DefaultDepth is used when no override exists and no record of the
	// symbol carries a best-bid depth.
	DefaultDepth = 1.0

	// MinDepth floors the divisor so a zero depth still yields a finite ratio.
	MinDepth = 1e-8
)

// Band classifies an impact ratio.
type Band string

const (
	BandLow      Band = "low"
	BandModerate Band = "moderate"
	BandHigh     Band = "high"
)

// Band thresholds.
const (
	ModerateThreshold = 0.10
	HighThreshold     = 0.30
)

// ClassifyRatio buckets a ratio: < 10% low, < 30% moderate, else high.
func ClassifyRatio(ratio float64) Band {
	switch {
	case ratio < ModerateThreshold:
		return BandLow
	case ratio < HighThreshold:
		return BandModerate
	default:
		return BandHigh
	}
}

// ComputeLiquidityImpact returns symbol → sell-pressure / depth for the
// positions that liquidate under shock. Symbols without liquidations are
// absent. Depth resolution per symbol: overrides[symbol], then the best-bid
// depth of the first record of that symbol carrying one (input order), then
// DefaultDepth.
func ComputeLiquidityImpact(fused []model.FusedRecord, shock float64, overrides map[string]float64) map[string]float64 {
	toSell := make(map[string]float64)
	for _, r := range fused {
		if r.LiquidatableAt(shock) {
			toSell[r.Symbol()] += r.CollateralValue()
		}
	}

	normalized := make(map[string]float64, len(overrides))
	for sym, depth := range overrides {
		normalized[strings.ToUpper(sym)] = depth
	}

	impact := make(map[string]float64, len(toSell))
	for symbol, amount := range toSell {
		if amount <= 0 {
			continue
		}
		impact[symbol] = amount / math.Max(depthFor(fused, symbol, normalized), MinDepth)
	}
	return impact
}

// depthFor resolves the order-book depth for one symbol.
func depthFor(fused []model.FusedRecord, symbol string, overrides map[string]float64) float64 {
	if d, ok := overrides[symbol]; ok {
		return d
	}
	for _, r := range fused {
		if r.Symbol() != symbol {
			continue
		}
		if d, ok := r.Metrics.BestBidDepth.Get(); ok {
			return d
		}
	}
	return DefaultDepth
}

// Package model defines the core domain types shared across the risk engine.
//
// Engine math is float64 so that an infinite ICR (zero debt) and negative
// shocked collateral values stay representable. Monetary figures are only
// converted to shopspring/decimal at the report boundary.
package model

import (
	"math"
	"strings"
)

// Position is one open collateralized debt position (trove).
// Positions are immutable once built by a source.
type Position struct {
	Owner              string  `json:"owner"`
	CollateralType     string  `json:"collateral_type"`
	CollateralAmount   float64 `json:"collateral_amount"`
	Debt               float64 `json:"debt"`  // stable-unit (USD) denominated
	Price              float64 `json:"price"` // USD per collateral unit
	MinCollateralRatio float64 `json:"min_collateral_ratio"`
}

// CollateralValue returns the USD value of the locked collateral.
func (p Position) CollateralValue() float64 {
	return p.CollateralAmount * p.Price
}

// ICR returns the individual collateral ratio. A position without debt has
// an infinite ICR and can never be liquidated.
func (p Position) ICR() float64 {
	if p.Debt == 0 {
		return math.Inf(1)
	}
	return p.CollateralValue() / p.Debt
}

// Symbol returns the market lookup key for the position's collateral.
func (p Position) Symbol() string {
	return strings.ToUpper(p.CollateralType)
}

// MarketMetrics is a per-asset market snapshot. Every field may be absent.
// The zero value is the empty metrics set.
type MarketMetrics struct {
	OpenInterest       Optional `json:"open_interest"`
	FundingRate        Optional `json:"funding_rate"`
	Skew               Optional `json:"skew"`
	RealizedVolatility Optional `json:"realized_volatility"`
	BestBidDepth       Optional `json:"best_bid_depth"`
	BestAskDepth       Optional `json:"best_ask_depth"`
	MarkPrice          Optional `json:"mark_price"`
}

// Empty reports whether no metric is present.
func (m MarketMetrics) Empty() bool {
	return m == MarketMetrics{}
}

// FusedRecord joins a position with the market metrics of its collateral.
type FusedRecord struct {
	Position
	Metrics MarketMetrics `json:"market_metrics"`
}

// ShockedValue applies a fractional price shock to the collateral value.
// The result is not clamped: shocks below -100% yield negative values.
func (r FusedRecord) ShockedValue(shock float64) float64 {
	return r.CollateralValue() * (1 + shock)
}

// ShockedICR is the collateral ratio after the shock, +Inf without debt.
func (r FusedRecord) ShockedICR(shock float64) float64 {
	if r.Debt == 0 {
		return math.Inf(1)
	}
	return r.ShockedValue(shock) / r.Debt
}

// LiquidatableAt reports whether the record falls strictly below its
// minimum collateral ratio under the shock. An ICR equal to the MCR is safe.
func (r FusedRecord) LiquidatableAt(shock float64) bool {
	return r.ShockedICR(shock) < r.MinCollateralRatio
}

// ScenarioResult aggregates the liquidation outcome of one shock level.
// Level is the exact fraction that was evaluated; Shock is its basis-point
// lookup key.
type ScenarioResult struct {
	Level             float64 `json:"level"`
	Shock             Shock   `json:"shock"`
	LiquidatableCount int     `json:"liquidatable_count"`
	AtRiskCollateral  float64 `json:"at_risk_collateral"` // pre-shock value
	BadDebt           float64 `json:"bad_debt"`
}

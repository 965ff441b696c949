// Package report assembles a risk report from fused records: portfolio
// totals, per-position health, scenario results for the configured shocks,
// liquidity impact at the focus shock and the perp/CDP correlation.
//
// Engine results are float64; this is the one place they become
// shopspring/decimal, rounded to two places for presentation.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/cdp-risk/internal/correlation"
	"github.com/atmx/cdp-risk/internal/impact"
	"github.com/atmx/cdp-risk/internal/model"
	"github.com/atmx/cdp-risk/internal/scenario"
)

// Health buckets a position by how far its ICR sits above its MCR.
type Health string

const (
	Healthy Health = "healthy"
	Warning Health = "warning"
	AtRisk  Health = "at_risk"
)

// HealthyMultiple is the MCR multiple above which a position is healthy.
const HealthyMultiple = 1.5

// Options drives Build.
type Options struct {
	Shocks         []float64          // scenario shocks, DefaultShocks when empty
	FocusShock     float64            // shock used for the impact estimate
	DepthOverrides map[string]float64 // symbol -> depth
	History        []correlation.Pair // (Δ open interest, Δ average ICR)
}

// Report is one risk snapshot.
type Report struct {
	ID          uuid.UUID                      `json:"id"`
	GeneratedAt time.Time                      `json:"generated_at"`
	Summary     Summary                        `json:"summary"`
	Positions   []PositionHealth               `json:"positions"`
	Scenarios   []ScenarioRow                  `json:"scenarios"`
	Focus       Focus                          `json:"focus"`
	Impact      []ImpactRow                    `json:"impact"`
	Correlation decimal.Decimal                `json:"correlation"`
	Market      map[string]model.MarketMetrics `json:"market"`
}

// Summary holds portfolio totals.
type Summary struct {
	Positions       int             `json:"positions"`
	TotalCollateral decimal.Decimal `json:"total_collateral"`
	TotalDebt       decimal.Decimal `json:"total_debt"`
	AverageICR      decimal.Decimal `json:"average_icr"`
	Healthy         int             `json:"healthy"`
	Warning         int             `json:"warning"`
	AtRisk          int             `json:"at_risk"`
}

// PositionHealth is one row of the position table. ICR is null for
// positions without debt.
type PositionHealth struct {
	Owner              string           `json:"owner"`
	CollateralType     string           `json:"collateral_type"`
	CollateralValue    decimal.Decimal  `json:"collateral_value"`
	Debt               decimal.Decimal  `json:"debt"`
	ICR                *decimal.Decimal `json:"icr"`
	MinCollateralRatio decimal.Decimal  `json:"min_collateral_ratio"`
	Health             Health           `json:"health"`
}

// ScenarioRow is a scenario result in report units.
type ScenarioRow struct {
	Level             float64         `json:"level"`
	Shock             model.Shock     `json:"shock"`
	Label             string          `json:"label"`
	LiquidatableCount int             `json:"liquidatable_count"`
	AtRiskCollateral  decimal.Decimal `json:"at_risk_collateral"`
	BadDebt           decimal.Decimal `json:"bad_debt"`
}

// Focus is the headline scenario.
type Focus struct {
	ScenarioRow
	BadDebtPct decimal.Decimal `json:"bad_debt_pct"` // of total debt
}

// ImpactRow is the liquidation sell pressure for one symbol.
type ImpactRow struct {
	Symbol string          `json:"symbol"`
	Ratio  decimal.Decimal `json:"ratio"`
	Band   impact.Band     `json:"band"`
}

// Build assembles a report. It does not mutate its inputs.
func Build(fused []model.FusedRecord, market map[string]model.MarketMetrics, opts Options) *Report {
	r := &Report{
		ID:          uuid.New(),
		GeneratedAt: time.Now().UTC(),
		Positions:   make([]PositionHealth, 0, len(fused)),
		Market:      market,
	}
	if r.Market == nil {
		r.Market = map[string]model.MarketMetrics{}
	}

	var totalValue, totalDebt float64
	for _, f := range fused {
		p := f.Position
		totalValue += p.CollateralValue()
		totalDebt += p.Debt

		ph := PositionHealth{
			Owner:              p.Owner,
			CollateralType:     p.CollateralType,
			CollateralValue:    money(p.CollateralValue()),
			Debt:               money(p.Debt),
			MinCollateralRatio: money(p.MinCollateralRatio),
			Health:             Classify(p),
		}
		if icr := p.ICR(); finite(icr) {
			d := money(icr)
			ph.ICR = &d
		}
		r.Positions = append(r.Positions, ph)

		switch ph.Health {
		case Healthy:
			r.Summary.Healthy++
		case Warning:
			r.Summary.Warning++
		default:
			r.Summary.AtRisk++
		}
	}

	r.Summary.Positions = len(fused)
	r.Summary.TotalCollateral = money(totalValue)
	r.Summary.TotalDebt = money(totalDebt)
	if avg, ok := AverageICR(fused); ok {
		r.Summary.AverageICR = money(avg)
	}

	stats := scenario.ComputeLiquidationStats(fused, opts.Shocks...)
	r.Scenarios = ScenarioRows(stats)

	focus, ok := stats.At(opts.FocusShock)
	if !ok || focus.Level != opts.FocusShock {
		focus = scenario.Evaluate(fused, opts.FocusShock)
	}
	r.Focus = Focus{ScenarioRow: row(focus), BadDebtPct: decimal.Zero}
	if totalDebt > 0 {
		r.Focus.BadDebtPct = money(focus.BadDebt / totalDebt * 100)
	}

	ratios := impact.ComputeLiquidityImpact(fused, opts.FocusShock, opts.DepthOverrides)
	r.Impact = ImpactRows(ratios)

	r.Correlation = ratioDecimal(correlation.Pearson(opts.History))
	return r
}

// AverageICR is the mean ICR over positions with a finite ICR. It reports
// false when there are none.
func AverageICR(fused []model.FusedRecord) (float64, bool) {
	var sum float64
	var n int
	for _, f := range fused {
		if icr := f.ICR(); finite(icr) {
			sum += icr
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Classify buckets a position: healthy above 1.5x its MCR, warning above its
// MCR, at risk otherwise. Positions without debt are healthy.
func Classify(p model.Position) Health {
	icr := p.ICR()
	switch {
	case icr > p.MinCollateralRatio*HealthyMultiple:
		return Healthy
	case icr > p.MinCollateralRatio:
		return Warning
	default:
		return AtRisk
	}
}

// ImpactRows converts impact ratios to rows sorted by symbol.
func ImpactRows(ratios map[string]float64) []ImpactRow {
	rows := make([]ImpactRow, 0, len(ratios))
	for sym, ratio := range ratios {
		rows = append(rows, ImpactRow{
			Symbol: sym,
			Ratio:  ratioDecimal(ratio),
			Band:   impact.ClassifyRatio(ratio),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows
}

// ScenarioRows converts engine results to report rows.
func ScenarioRows(stats scenario.Scenarios) []ScenarioRow {
	rows := make([]ScenarioRow, len(stats))
	for i, s := range stats {
		rows[i] = row(s)
	}
	return rows
}

func row(s model.ScenarioResult) ScenarioRow {
	return ScenarioRow{
		Level:             s.Level,
		Shock:             s.Shock,
		Label:             s.Shock.String(),
		LiquidatableCount: s.LiquidatableCount,
		AtRiskCollateral:  money(s.AtRiskCollateral),
		BadDebt:           money(s.BadDebt),
	}
}

// money rounds a float to cents. Non-finite values become zero since
// decimal cannot represent them.
func money(f float64) decimal.Decimal {
	return toDecimal(f, 2)
}

func ratioDecimal(f float64) decimal.Decimal {
	return toDecimal(f, 4)
}

func toDecimal(f float64, places int32) decimal.Decimal {
	if !finite(f) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f).Round(places)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

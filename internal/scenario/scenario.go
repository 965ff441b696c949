// Package scenario implements the liquidation scenario engine: for each
// hypothetical price shock it counts the positions that would fall below
// their minimum collateral ratio, the collateral value exposed and the debt
// left unbacked.
//
// Every shock is evaluated against the original, unshocked records; shocks
// never compound. The engine is stateless and never mutates its inputs, so
// it is safe to call from any number of goroutines.
package scenario

import (
	"math"
	"sync"

	"github.com/atmx/cdp-risk/internal/model"
)

// DefaultShocks are the price drops stressed when the caller names none.
var DefaultShocks = []float64{-0.05, -0.10, -0.20, -0.30, -0.40}

// Scenarios holds one result per requested shock, in request order.
type Scenarios []model.ScenarioResult

// Get returns the first result whose level rounds to the basis-point shock.
func (s Scenarios) Get(shock model.Shock) (model.ScenarioResult, bool) {
	for _, r := range s {
		if r.Shock == shock {
			return r, true
		}
	}
	return model.ScenarioResult{}, false
}

// At returns the result for a fractional shock such as -0.2. An exact level
// match wins; otherwise the lookup falls back to the basis-point key, so
// 0.1+0.2 still finds a result computed for 0.3.
func (s Scenarios) At(shock float64) (model.ScenarioResult, bool) {
	for _, r := range s {
		if r.Level == shock {
			return r, true
		}
	}
	return s.Get(model.ShockFromFloat(shock))
}

// Shocks lists the evaluated shocks in order.
func (s Scenarios) Shocks() []model.Shock {
	out := make([]model.Shock, len(s))
	for i, r := range s {
		out[i] = r.Shock
	}
	return out
}

// ComputeLiquidationStats evaluates every shock level against the fused
// records. With no shocks it evaluates DefaultShocks. Repeated shocks are
// evaluated once, at their first position; shocks that merely round to the
// same basis point are distinct levels.
func ComputeLiquidationStats(fused []model.FusedRecord, shocks ...float64) Scenarios {
	levels := normalize(shocks)
	out := make(Scenarios, len(levels))
	for i, shock := range levels {
		out[i] = Evaluate(fused, shock)
	}
	return out
}

// ComputeLiquidationStatsParallel is ComputeLiquidationStats with one
// goroutine per shock level. Results are identical to the sequential form.
func ComputeLiquidationStatsParallel(fused []model.FusedRecord, shocks ...float64) Scenarios {
	levels := normalize(shocks)
	out := make(Scenarios, len(levels))

	var wg sync.WaitGroup
	for i, shock := range levels {
		wg.Add(1)
		go func(i int, shock float64) {
			defer wg.Done()
			out[i] = Evaluate(fused, shock)
		}(i, shock)
	}
	wg.Wait()
	return out
}

// Evaluate computes the aggregate outcome of a single fractional shock,
// using the same predicate as the liquidity impact estimator:
//
//	shocked     = value * (1 + s)
//	icr         = +Inf if debt == 0 else shocked / debt
//	liquidates  = icr < mcr
//	at_risk    += value            (pre-shock notional)
//	bad_debt   += max(0, debt - shocked)
func Evaluate(fused []model.FusedRecord, s float64) model.ScenarioResult {
	res := model.ScenarioResult{Level: s, Shock: model.ShockFromFloat(s)}
	for _, r := range fused {
		if !r.LiquidatableAt(s) {
			continue
		}
		res.LiquidatableCount++
		res.AtRiskCollateral += r.CollateralValue()
		res.BadDebt += math.Max(0, r.Debt-r.ShockedValue(s))
	}
	return res
}

// normalize drops exact repeats, keeping request order.
func normalize(shocks []float64) []float64 {
	if len(shocks) == 0 {
		shocks = DefaultShocks
	}
	seen := make(map[float64]struct{}, len(shocks))
	levels := make([]float64, 0, len(shocks))
	for _, s := range shocks {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		levels = append(levels, s)
	}
	return levels
}

package scenario

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/atmx/cdp-risk/internal/impact"
	"github.com/atmx/cdp-risk/internal/model"
)

const tolerance = 1e-9

func trove(owner, collateral string, amount, price, debt, mcr float64) model.FusedRecord {
	return model.FusedRecord{Position: model.Position{
		Owner:              owner,
		CollateralType:     collateral,
		CollateralAmount:   amount,
		Debt:               debt,
		Price:              price,
		MinCollateralRatio: mcr,
	}}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) <= tolerance*math.Max(1, math.Abs(b))
}

// randomBook builds a deterministic set of troves with strictly positive debt.
func randomBook(n int, seed int64) []model.FusedRecord {
	rng := rand.New(rand.NewSource(seed))
	symbols := []string{"ETH", "BTC", "HYPE", "sol"}
	book := make([]model.FusedRecord, n)
	for i := range book {
		book[i] = trove(
			"0x"+string(rune('a'+i%26)),
			symbols[rng.Intn(len(symbols))],
			1+rng.Float64()*100,
			10+rng.Float64()*3000,
			1+rng.Float64()*200000,
			1.1+rng.Float64(),
		)
	}
	return book
}

func TestComputeLiquidationStats_SingleTrove(t *testing.T) {
	fused := []model.FusedRecord{trove("0x123", "ETH", 10, 2000, 5000, 1.5)}

	stats := ComputeLiquidationStats(fused, -0.4, -0.9)

	safe, ok := stats.At(-0.4)
	if !ok {
		t.Fatal("missing result for -0.4")
	}
	if safe.LiquidatableCount != 0 || safe.AtRiskCollateral != 0 || safe.BadDebt != 0 {
		t.Errorf("expected all-zero stats at -40%%, got %+v", safe)
	}

	liq, ok := stats.At(-0.9)
	if !ok {
		t.Fatal("missing result for -0.9")
	}
	if liq.LiquidatableCount != 1 {
		t.Errorf("expected 1 liquidatable, got %d", liq.LiquidatableCount)
	}
	if liq.AtRiskCollateral != 20000 {
		t.Errorf("expected at-risk collateral 20000 (pre-shock), got %v", liq.AtRiskCollateral)
	}
	if !approx(liq.BadDebt, 3000) {
		t.Errorf("expected bad debt ≈ 3000, got %v", liq.BadDebt)
	}
}

func TestComputeLiquidationStats_DefaultShocks(t *testing.T) {
	stats := ComputeLiquidationStats(nil)

	want := []model.Shock{-500, -1000, -2000, -3000, -4000}
	if !reflect.DeepEqual(stats.Shocks(), want) {
		t.Errorf("expected default shocks %v, got %v", want, stats.Shocks())
	}
}

func TestComputeLiquidationStats_EmptyInput(t *testing.T) {
	shocks := []float64{-0.05, -0.5, 0, 0.3}
	stats := ComputeLiquidationStats([]model.FusedRecord{}, shocks...)

	if len(stats) != len(shocks) {
		t.Fatalf("expected %d results, got %d", len(shocks), len(stats))
	}
	for _, s := range shocks {
		r, ok := stats.At(s)
		if !ok {
			t.Errorf("missing result for shock %v", s)
			continue
		}
		if r.LiquidatableCount != 0 || r.AtRiskCollateral != 0 || r.BadDebt != 0 {
			t.Errorf("shock %v: expected zero stats, got %+v", s, r)
		}
	}
}

func TestComputeLiquidationStats_ZeroShockChecksUnshockedState(t *testing.T) {
	// icr = 1000/1000 = 1.0 < 1.1 already before any shock.
	fused := []model.FusedRecord{trove("a", "ETH", 1, 1000, 1000, 1.1)}

	r, _ := ComputeLiquidationStats(fused, 0).At(0)
	if r.LiquidatableCount != 1 {
		t.Errorf("undercollateralized trove should liquidate at zero shock, got %+v", r)
	}
	if r.BadDebt != 0 {
		t.Errorf("value covers debt, expected zero bad debt, got %v", r.BadDebt)
	}
}

func TestComputeLiquidationStats_ZeroDebtNeverLiquidates(t *testing.T) {
	fused := []model.FusedRecord{trove("a", "ETH", 10, 2000, 0, 1.5)}

	stats := ComputeLiquidationStats(fused, -0.1, -0.99, -1, -2)
	for _, r := range stats {
		if r.LiquidatableCount != 0 {
			t.Errorf("zero-debt trove liquidated at %s", r.Shock)
		}
	}
}

func TestComputeLiquidationStats_ThresholdIsSafe(t *testing.T) {
	// -0.625 leaves 7500 of collateral against 5000 debt: icr exactly 1.5.
	fused := []model.FusedRecord{trove("a", "ETH", 10, 2000, 5000, 1.5)}

	r, _ := ComputeLiquidationStats(fused, -0.625).At(-0.625)
	if r.LiquidatableCount != 0 {
		t.Errorf("icr equal to mcr must be safe, got %+v", r)
	}
}

func TestComputeLiquidationStats_NegativeValueDrivesBadDebt(t *testing.T) {
	fused := []model.FusedRecord{trove("a", "ETH", 10, 2000, 5000, 1.5)}

	r, _ := ComputeLiquidationStats(fused, -1.5).At(-1.5)
	// shocked value = -10000, shortfall = 5000 - (-10000)
	if r.BadDebt != 15000 {
		t.Errorf("expected bad debt 15000, got %v", r.BadDebt)
	}
	if r.AtRiskCollateral != 20000 {
		t.Errorf("expected pre-shock at-risk 20000, got %v", r.AtRiskCollateral)
	}
}

func TestComputeLiquidationStats_PositiveShockAccepted(t *testing.T) {
	fused := []model.FusedRecord{trove("a", "ETH", 1, 1000, 1000, 1.1)}

	r, ok := ComputeLiquidationStats(fused, 0.2).At(0.2)
	if !ok {
		t.Fatal("missing result for positive shock")
	}
	if r.LiquidatableCount != 0 {
		t.Errorf("icr 1.2 should be safe after +20%%, got %+v", r)
	}
}

func TestComputeLiquidationStats_AggregatesAcrossTroves(t *testing.T) {
	fused := []model.FusedRecord{
		trove("0x123", "ETH", 10, 2000, 5000, 1.5),  // icr 4.0
		trove("0xabc", "HYPE", 500, 50, 25000, 1.2), // icr 1.0
		trove("0xdef", "HYPE", 100, 50, 3000, 1.2),  // icr 1.667
		trove("0x000", "BTC", 1, 60000, 0, 1.1),     // no debt
	}

	r, _ := ComputeLiquidationStats(fused, -0.3).At(-0.3)
	// HYPE troves: 25000*0.7=17500 (liq, bad 7500); 5000*0.7=3500 (icr 1.167, liq)
	if r.LiquidatableCount != 2 {
		t.Fatalf("expected 2 liquidatable, got %d", r.LiquidatableCount)
	}
	if !approx(r.AtRiskCollateral, 30000) {
		t.Errorf("expected at-risk 30000, got %v", r.AtRiskCollateral)
	}
	if !approx(r.BadDebt, 7500) {
		t.Errorf("expected bad debt 7500, got %v", r.BadDebt)
	}
}

func TestComputeLiquidationStats_BadDebtNonNegative(t *testing.T) {
	book := randomBook(300, 7)
	stats := ComputeLiquidationStats(book, -0.01, -0.2, -0.5, -0.99, -1.2, 0.4)
	for _, r := range stats {
		if r.BadDebt < 0 || r.AtRiskCollateral < 0 || r.LiquidatableCount < 0 {
			t.Errorf("negative aggregate at %s: %+v", r.Shock, r)
		}
	}
	for _, rec := range book {
		for _, s := range []float64{-0.2, -0.99} {
			if math.Max(0, rec.Debt-rec.ShockedValue(s)) < 0 {
				t.Fatalf("negative contribution for %+v", rec)
			}
		}
	}
}

func TestComputeLiquidationStats_Monotonic(t *testing.T) {
	book := randomBook(500, 42)

	var shocks []float64
	for bp := 0; bp >= -10000; bp -= 250 {
		shocks = append(shocks, float64(bp)/model.BasisPoints)
	}
	stats := ComputeLiquidationStats(book, shocks...)

	for i := 1; i < len(stats); i++ {
		prev, cur := stats[i-1], stats[i]
		if cur.LiquidatableCount < prev.LiquidatableCount {
			t.Errorf("count decreased from %d at %s to %d at %s",
				prev.LiquidatableCount, prev.Shock, cur.LiquidatableCount, cur.Shock)
		}
		if cur.BadDebt < prev.BadDebt {
			t.Errorf("bad debt decreased from %v at %s to %v at %s",
				prev.BadDebt, prev.Shock, cur.BadDebt, cur.Shock)
		}
	}
}

func TestComputeLiquidationStats_DropsExactRepeats(t *testing.T) {
	stats := ComputeLiquidationStats(nil, -0.2, -0.1, -0.2, 0.3)

	want := []model.Shock{-2000, -1000, 3000}
	if !reflect.DeepEqual(stats.Shocks(), want) {
		t.Errorf("expected %v, got %v", want, stats.Shocks())
	}
	if _, ok := stats.At(0.1 + 0.2); !ok {
		t.Error("0.1+0.2 should find the result computed for 0.3")
	}
	if _, ok := stats.At(-0.25); ok {
		t.Error("unrequested shock should not be found")
	}
}

func TestComputeLiquidationStats_SubBasisPointShocks(t *testing.T) {
	// Shocked ICR is 0.99995 at -0.005%, above the 0.99992 minimum; rounding
	// the shock to -0.01% would push it to 0.9999 and liquidate.
	fused := []model.FusedRecord{trove("a", "ETH", 10, 100_000, 1_000_000, 0.99992)}

	r, ok := ComputeLiquidationStats(fused, -0.00005).At(-0.00005)
	if !ok {
		t.Fatal("missing result for -0.00005")
	}
	if r.Level != -0.00005 {
		t.Errorf("expected level -0.00005, got %v", r.Level)
	}
	if r.LiquidatableCount != 0 || r.BadDebt != 0 {
		t.Errorf("expected no liquidation at -0.005%%, got %+v", r)
	}
}

func TestComputeLiquidationStats_ExactShockBadDebt(t *testing.T) {
	fused := []model.FusedRecord{trove("a", "ETH", 10, 100_000, 909_013.12, 1.1)}

	r, _ := ComputeLiquidationStats(fused, -0.123456).At(-0.123456)
	if r.LiquidatableCount != 1 {
		t.Fatalf("expected 1 liquidatable, got %+v", r)
	}
	if !approx(r.BadDebt, 32_469.12) {
		t.Errorf("expected bad debt ≈ 32469.12, got %v", r.BadDebt)
	}
}

func TestComputeLiquidationStats_SameBasisPointDistinctShocks(t *testing.T) {
	// Liquidates at -10.001% (icr 0.89999) but not at -10% (icr 0.9).
	fused := []model.FusedRecord{trove("a", "ETH", 1, 1_000_000, 1_000_000, 0.9)}

	stats := ComputeLiquidationStats(fused, -0.10001, -0.1)
	if len(stats) != 2 {
		t.Fatalf("expected one result per requested shock, got %d", len(stats))
	}
	deeper, _ := stats.At(-0.10001)
	shallow, _ := stats.At(-0.1)
	if deeper.Level != -0.10001 || deeper.LiquidatableCount != 1 {
		t.Errorf("expected liquidation at -0.10001, got %+v", deeper)
	}
	if shallow.Level != -0.1 || shallow.LiquidatableCount != 0 {
		t.Errorf("expected no liquidation at -0.1, got %+v", shallow)
	}
	if deeper.Shock != shallow.Shock {
		t.Errorf("both levels should share the -1000bp key, got %v and %v", deeper.Shock, shallow.Shock)
	}
	if got, _ := stats.Get(-1000); got.Level != -0.10001 {
		t.Errorf("basis-point lookup should return the first requested level, got %v", got.Level)
	}
}

var unitDepth = map[string]float64{"ETH": 1, "BTC": 1, "HYPE": 1, "SOL": 1}

func TestEvaluate_AgreesWithImpactPredicate(t *testing.T) {
	book := randomBook(300, 17)
	for _, s := range []float64{-0.00005, -0.123456, -0.33333, -0.5} {
		res := Evaluate(book, s)

		// Unit depth makes each ratio equal the symbol's sell pressure.
		var sold float64
		for _, v := range impact.ComputeLiquidityImpact(book, s, unitDepth) {
			sold += v
		}
		if !approx(res.AtRiskCollateral, sold) {
			t.Errorf("shock %v: at-risk %v, impact sell pressure %v", s, res.AtRiskCollateral, sold)
		}
	}
}

func TestComputeLiquidationStats_Deterministic(t *testing.T) {
	book := randomBook(200, 3)
	a := ComputeLiquidationStats(book)
	b := ComputeLiquidationStats(book)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("identical inputs produced different outputs:\n%+v\n%+v", a, b)
	}
}

func TestComputeLiquidationStatsParallel_MatchesSequential(t *testing.T) {
	book := randomBook(400, 11)
	shocks := []float64{-0.05, -0.1, -0.15, -0.2, -0.3, -0.4, -0.6, -0.8, 0}

	seq := ComputeLiquidationStats(book, shocks...)
	par := ComputeLiquidationStatsParallel(book, shocks...)
	if !reflect.DeepEqual(seq, par) {
		t.Errorf("parallel result differs:\nseq=%+v\npar=%+v", seq, par)
	}
}

func TestComputeLiquidationStats_DoesNotMutateInput(t *testing.T) {
	book := randomBook(50, 5)
	snapshot := make([]model.FusedRecord, len(book))
	copy(snapshot, book)

	ComputeLiquidationStats(book, -0.5, -0.9)
	if !reflect.DeepEqual(book, snapshot) {
		t.Error("input records were modified")
	}
}

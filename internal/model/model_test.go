package model

import (
	"encoding/json"
	"math"
	"testing"
)

func ethTrove() FusedRecord {
	return FusedRecord{Position: Position{
		Owner:              "0x123",
		CollateralType:     "ETH",
		CollateralAmount:   10,
		Debt:               5000,
		Price:              2000,
		MinCollateralRatio: 1.5,
	}}
}

func TestPosition_CollateralValueAndICR(t *testing.T) {
	p := ethTrove().Position
	if p.CollateralValue() != 20000 {
		t.Errorf("expected collateral value 20000, got %v", p.CollateralValue())
	}
	if p.ICR() != 4.0 {
		t.Errorf("expected ICR 4.0, got %v", p.ICR())
	}
}

func TestPosition_ZeroDebtInfiniteICR(t *testing.T) {
	p := Position{CollateralType: "ETH", CollateralAmount: 1, Price: 2000, MinCollateralRatio: 1.5}
	if !math.IsInf(p.ICR(), 1) {
		t.Errorf("expected +Inf ICR for zero debt, got %v", p.ICR())
	}
}

func TestPosition_Symbol(t *testing.T) {
	p := Position{CollateralType: "eth"}
	if p.Symbol() != "ETH" {
		t.Errorf("expected ETH, got %s", p.Symbol())
	}
}

func TestFusedRecord_LiquidatableAt(t *testing.T) {
	r := ethTrove()

	tests := []struct {
		shock float64
		want  bool
	}{
		{0, false},
		{-0.4, false},   // icr 2.4
		{-0.625, false}, // icr exactly 1.5: equal is safe
		{-0.9, true},    // icr 0.4
		{-1.5, true},    // negative collateral value
		{0.5, false},
	}
	for _, tt := range tests {
		if got := r.LiquidatableAt(tt.shock); got != tt.want {
			t.Errorf("shock %v: expected liquidatable=%v, got %v (icr=%v)",
				tt.shock, tt.want, got, r.ShockedICR(tt.shock))
		}
	}
}

func TestFusedRecord_ShockedValueNotClamped(t *testing.T) {
	r := ethTrove()
	if v := r.ShockedValue(-1.5); v != -10000 {
		t.Errorf("expected -10000, got %v", v)
	}
}

func TestFusedRecord_ZeroDebtNeverLiquidatable(t *testing.T) {
	r := ethTrove()
	r.Debt = 0
	for _, s := range []float64{0, -0.5, -0.99, -1, -5} {
		if r.LiquidatableAt(s) {
			t.Errorf("zero-debt record liquidatable at shock %v", s)
		}
	}
}

func TestShock_RoundTrip(t *testing.T) {
	for _, f := range []float64{-0.05, -0.1, -0.2, -0.3, -0.4, 0, 0.15, -0.9} {
		s := ShockFromFloat(f)
		if s.Float() != f {
			t.Errorf("round trip of %v gave %v", f, s.Float())
		}
	}
	if ShockFromFloat(0.1+0.2) != ShockFromFloat(0.3) {
		t.Error("0.1+0.2 and 0.3 should share a basis-point key")
	}
}

func TestShock_String(t *testing.T) {
	tests := map[Shock]string{
		-2000: "-20%",
		-250:  "-2.50%",
		0:     "+0%",
		500:   "+5%",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("expected %q, got %q", want, s.String())
		}
	}
}

func TestOptional_JSON(t *testing.T) {
	m := MarketMetrics{BestBidDepth: Some(500000), MarkPrice: Some(2000)}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back MarketMetrics
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != m {
		t.Errorf("expected %+v, got %+v", m, back)
	}
	if back.OpenInterest.Valid() {
		t.Error("open interest should stay absent")
	}
	if back.FundingRate.Or(-1) != -1 {
		t.Error("absent funding rate should fall back to default")
	}
}

func TestOptional_NonFiniteEncodesNull(t *testing.T) {
	mm := MarketMetrics{
		MarkPrice:    Some(math.NaN()),
		OpenInterest: Some(math.Inf(1)),
		BestBidDepth: Some(math.Inf(-1)),
	}
	out, err := json.Marshal(mm)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded MarketMetrics
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal %s: %v", out, err)
	}
	if decoded.MarkPrice.Valid() || decoded.OpenInterest.Valid() || decoded.BestBidDepth.Valid() {
		t.Errorf("expected non-finite values to encode as null, got %s", out)
	}
}

func TestMarketMetrics_Empty(t *testing.T) {
	if !(MarketMetrics{}).Empty() {
		t.Error("zero metrics should be empty")
	}
	if (MarketMetrics{Skew: Some(0)}).Empty() {
		t.Error("a present zero value is not absent")
	}
}

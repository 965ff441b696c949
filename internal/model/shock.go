package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Shock is a fractional price shock in integer basis points (-2000 = -20%).
// Scenario results are keyed by Shock rather than float64 so that a shock
// produced by one caller is always found by another.
type Shock int64

// BasisPoints per unit fraction.
const BasisPoints = 10000

// ShockFromFloat rounds a fractional shock to the nearest basis point.
func ShockFromFloat(f float64) Shock {
	return Shock(math.Round(f * BasisPoints))
}

// Float returns the fractional shock (-0.2 for -2000bp).
func (s Shock) Float() float64 {
	return float64(s) / BasisPoints
}

// String renders the shock as a signed percentage, e.g. "-20%" or "-2.50%".
func (s Shock) String() string {
	if s%100 == 0 {
		return fmt.Sprintf("%+d%%", int64(s)/100)
	}
	return fmt.Sprintf("%+.2f%%", float64(s)/100)
}

// MarshalJSON encodes the shock as its fractional value.
func (s Shock) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Float())
}

func (s *Shock) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = ShockFromFloat(f)
	return nil
}

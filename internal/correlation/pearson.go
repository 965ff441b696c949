// Package correlation relates perpetual-market activity to CDP health.
//
// Pearson computes the product-moment correlation between paired changes in
// open interest and in average ICR. The coefficient itself is stateless; a
// Tracker can be kept by the caller to turn successive market snapshots into
// the paired change history it consumes.
package correlation

import "math"

// Pair is one observation: X is the open-interest change, Y the average-ICR
// change over the same interval.
type Pair struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pearson returns the correlation coefficient of the paired series, in
// [-1, 1] up to rounding. It returns 0 for fewer than two pairs and for a
// degenerate (constant) series whose denominator is exactly zero.
func Pearson(history []Pair) float64 {
	n := len(history)
	if n < 2 {
		return 0
	}

	var sumX, sumY float64
	for _, p := range history {
		sumX += p.X
		sumY += p.Y
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cross, sqX, sqY float64
	for _, p := range history {
		dx := p.X - meanX
		dy := p.Y - meanY
		cross += dx * dy
		sqX += dx * dx
		sqY += dy * dy
	}

	denominator := math.Sqrt(sqX * sqY)
	if denominator == 0 {
		return 0
	}
	return cross / denominator
}

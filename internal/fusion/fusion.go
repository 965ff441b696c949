// Package fusion joins CDP positions with the market metrics of their
// collateral asset.
package fusion

import (
	"strings"

	"github.com/atmx/cdp-risk/internal/model"
)

// Fuse pairs every position with market[upper(collateral_type)]. Positions
// whose symbol has no market entry get the empty metrics set. Output order
// matches input order and neither argument is modified.
func Fuse(positions []model.Position, market map[string]model.MarketMetrics) []model.FusedRecord {
	fused := make([]model.FusedRecord, 0, len(positions))
	for _, p := range positions {
		fused = append(fused, model.FusedRecord{
			Position: p,
			Metrics:  market[strings.ToUpper(p.CollateralType)],
		})
	}
	return fused
}

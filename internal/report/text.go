package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// WriteText renders the console summary of a report.
func WriteText(w io.Writer, r *Report) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "=== CDP Risk Summary ===")
	fmt.Fprintf(bw, "Positions: %d (healthy %d, warning %d, at risk %d)\n",
		r.Summary.Positions, r.Summary.Healthy, r.Summary.Warning, r.Summary.AtRisk)
	fmt.Fprintf(bw, "Total collateral: %s, Total debt: %s, Avg ICR: %sx\n",
		usd(r.Summary.TotalCollateral), usd(r.Summary.TotalDebt), r.Summary.AverageICR.StringFixed(2))

	fmt.Fprintln(bw, "\nShock Scenarios (negative values = price drops):")
	for _, s := range r.Scenarios {
		fmt.Fprintf(bw, "Shock %s -> Liquidatable: %d, At-risk collateral: %s, Bad debt: %s\n",
			s.Label, s.LiquidatableCount, usd(s.AtRiskCollateral), usd(s.BadDebt))
	}

	fmt.Fprintf(bw, "\nBad debt at %s: %s (%s%% of debt)\n",
		r.Focus.Label, usd(r.Focus.BadDebt), r.Focus.BadDebtPct.StringFixed(2))

	fmt.Fprintf(bw, "\nLiquidity Impact for shock %s:\n", r.Focus.Label)
	if len(r.Impact) == 0 {
		fmt.Fprintln(bw, "none")
	}
	for _, row := range r.Impact {
		fmt.Fprintf(bw, "%s: %s (%s)\n", row.Symbol, row.Ratio.StringFixed(4), row.Band)
	}

	fmt.Fprintf(bw, "\nPerp/CDP correlation: %s\n", r.Correlation.StringFixed(4))
	return bw.Flush()
}

// usd formats an amount as $1,234.56.
func usd(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if d.IsNegative() {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

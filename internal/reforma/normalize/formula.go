package normalize

import (
	"fmt"
	"math"
	"strconv"
)

const (
	// DefaultCanonicalTotalKg is the mass every formula's line items must sum
	// to: formulas are expressed per tonne of finished feed.
	DefaultCanonicalTotalKg = 1000.0

	// DefaultTotalEpsilonKg is the deviation from the canonical total treated
	// as rounding noise rather than a reason to rescale.
	DefaultTotalEpsilonKg = 0.5
)

// rebalanceLines rescales every line proportionally so the total matches the
// canonical total, when the current sum deviates beyond epsilon. Returns the
// (possibly rescaled) lines and a warning describing the adjustment, or an
// empty warning when no adjustment was needed.
func rebalanceLines(lines []FormulaLine, canonicalTotal, epsilon float64) ([]FormulaLine, string) {
	var sum float64
	for _, l := range lines {
		sum += l.QuantityKg
	}
	if sum <= 0 || math.Abs(sum-canonicalTotal) <= epsilon {
		return lines, ""
	}

	factor := canonicalTotal / sum
	adjusted := make([]FormulaLine, len(lines))
	for i, l := range lines {
		l.QuantityKg = roundKg(l.QuantityKg * factor)
		adjusted[i] = l
	}

	warning := fmt.Sprintf(
		"Los ingredientes sumaban %s kg; se ajustaron proporcionalmente a %s kg.",
		formatKg(sum), formatKg(canonicalTotal),
	)
	return adjusted, warning
}

// roundKg rounds to three decimals, enough to keep per-line mass stable
// through a rescale without accumulating float noise in previews.
func roundKg(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// formatKg renders a mass without a trailing ".0" for whole values.
func formatKg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

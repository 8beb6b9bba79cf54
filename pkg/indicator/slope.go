package indicator

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// emaSlopeDegrees fits a line through the last len(window) EMA values
// (x = bar index 0..K-1) and converts the fitted slope to degrees via
// atan2(slope, unit_price), where unit_price is one percent of the current
// EMA level. Normalising by price keeps the angle comparable across symbols
// regardless of their absolute price scale (spec §4.1).
func emaSlopeDegrees(window []float64, currentEMA float64) float64 {
	if len(window) < 2 {
		return 0
	}
	xs := make([]float64, len(window))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, window, nil, false)

	unitPrice := currentEMA / 100
	if unitPrice == 0 {
		return 0
	}
	return math.Atan2(slope, unitPrice) * 180 / math.Pi
}

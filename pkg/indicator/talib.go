package indicator

import "github.com/markcheno/go-talib"

// These functions wrap a subset of markcheno/go-talib over whole series.
// IndicatorState does not use them: IndicatorState.Update hand-rolls the same
// formulas incrementally, and its warm-up also goes candle by candle through
// Update, since talib only operates over whole series.

// EMA calculates the Exponential Moving Average over a whole series.
func EMA(closes []float64, period int) []float64 {
	return talib.Ema(closes, period)
}

// ATR calculates the Wilder Average True Range over a whole series.
func ATR(high, low, close []float64, period int) []float64 {
	return talib.Atr(high, low, close, period)
}

// ADX calculates the Average Directional Movement Index over a whole series.
func ADX(high, low, close []float64, period int) []float64 {
	return talib.Adx(high, low, close, period)
}

// PlusDI calculates the Plus Directional Indicator over a whole series.
func PlusDI(high, low, close []float64, period int) []float64 {
	return talib.PlusDI(high, low, close, period)
}

// MinusDI calculates the Minus Directional Indicator over a whole series.
func MinusDI(high, low, close []float64, period int) []float64 {
	return talib.MinusDI(high, low, close, period)
}

// SAR calculates Parabolic SAR, an optional alternative trailing-stop source
// for TrendStrategy.
func SAR(high, low []float64, acceleration, maximum float64) []float64 {
	return talib.Sar(high, low, acceleration, maximum)
}

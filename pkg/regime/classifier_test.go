package regime

import (
	"testing"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/indicator"
)

func warmUp(s *indicator.IndicatorState, n int, start, stepPct float64) float64 {
	price := start
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		high, low := price*1.005, price*0.995
		s.Update(core.Candle{
			Pair: "SOLUSDT", Timeframe: "1h",
			Time: base.Add(time.Duration(i) * time.Hour),
			Open: price, High: high, Low: low, Close: price,
			Volume: 100, Complete: true,
		})
		price *= 1 + stepPct
	}
	return price
}

func TestClassifier_UnknownBeforeWarmup(t *testing.T) {
	s := indicator.NewIndicatorState(indicator.DefaultConfig())
	last := warmUp(s, 5, 100, 0.01)

	c := New(DefaultConfig())
	result := c.Classify(s, 0, last)
	if result.Regime != core.RegimeUnknown {
		t.Fatalf("expected UNKNOWN before warm-up, got %v", result.Regime)
	}
}

func TestClassifier_BlackSwanFlagIndependentOfRegime(t *testing.T) {
	cfg := indicator.DefaultConfig()
	cfg.DonchianPeriod = 5
	cfg.LongEMAPeriod = 10
	s := indicator.NewIndicatorState(cfg)
	warmUp(s, 60, 100, 0.001)

	c := New(DefaultConfig())
	result := c.Classify(s, 100, 84) // -16% gap
	if !result.BlackSwan {
		t.Fatalf("expected black-swan sentinel to fire on a 16%% gap")
	}
}

func TestClassifier_TrendUpWhenADXAboveThresholdAndSlopePositive(t *testing.T) {
	cfg := indicator.DefaultConfig()
	cfg.DonchianPeriod = 10
	cfg.LongEMAPeriod = 10
	cfg.ATRPeriod = 10
	cfg.ADXPeriod = 10
	s := indicator.NewIndicatorState(cfg)
	last := warmUp(s, 80, 100, 0.02) // steady strong uptrend

	c := New(DefaultConfig())
	result := c.Classify(s, 0, last)
	if !result.Regime.IsBullish() {
		t.Fatalf("expected a bullish regime for a steady uptrend, got %v", result.Regime)
	}
}

func TestClassifier_RangeWhenADXBelowFloor(t *testing.T) {
	cfg := indicator.DefaultConfig()
	cfg.DonchianPeriod = 5
	cfg.LongEMAPeriod = 10
	cfg.ATRPeriod = 10
	cfg.ADXPeriod = 10
	s := indicator.NewIndicatorState(cfg)

	// Oscillate with no net drift: ADX should stay low.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			price = 101
		} else {
			price = 99
		}
		s.Update(core.Candle{
			Pair: "SOLUSDT", Timeframe: "1h",
			Time: base.Add(time.Duration(i) * time.Hour),
			Open: price, High: price + 0.5, Low: price - 0.5, Close: price,
			Volume: 100, Complete: true,
		})
	}

	c := New(DefaultConfig())
	result := c.Classify(s, 0, price)
	if result.Regime != core.RegimeRange {
		t.Fatalf("expected RANGE for an oscillating, low-ADX series, got %v (ADX=%v)", result.Regime, result.Features.ADX)
	}
}

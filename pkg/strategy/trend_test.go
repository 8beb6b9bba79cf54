package strategy

import (
	"testing"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/indicator"
)

func buildTrendState(n int, start, stepPct float64) (*indicator.IndicatorState, core.Candle) {
	cfg := indicator.DefaultConfig()
	cfg.ShortEMAPeriod = 5
	cfg.LongEMAPeriod = 10
	cfg.ATRPeriod = 10
	cfg.ADXPeriod = 10
	cfg.DonchianPeriod = 10
	s := indicator.NewIndicatorState(cfg)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	var last core.Candle
	for i := 0; i < n; i++ {
		c := core.Candle{
			Pair: "SOLUSDT", Timeframe: "1h",
			Time: base.Add(time.Duration(i) * time.Hour),
			Open: price, High: price * 1.01, Low: price * 0.99, Close: price,
			Volume: 100, Complete: true,
		}
		s.Update(c)
		last = c
		price *= 1 + stepPct
	}
	return s, last
}

func TestTrendStrategy_EntersOnDonchianBreakoutWithStrongADX(t *testing.T) {
	state, last := buildTrendState(30, 100, 0.02)

	strat := NewTrendStrategy("SOLUSDT", DefaultTrendConfig(), func() float64 { return 10000 })
	out := strat.OnTick(TickContext{
		Candle:     last,
		Indicators: state,
		Regime:     core.RegimeResult{Regime: core.RegimeStrongUp},
		SizeFactor: 1.0,
	})

	if len(out.Signals) != 1 {
		t.Fatalf("expected exactly one entry signal, got %d", len(out.Signals))
	}
	sig := out.Signals[0]
	if sig.Side != core.SideTypeBuy || sig.Purpose != core.PurposeEntry {
		t.Fatalf("expected a BUY ENTRY signal, got %+v", sig)
	}
	if sig.Price != 0 {
		t.Fatalf("MARKET entry must not carry a price field, got %v", sig.Price)
	}
	if _, ok := out.Diagnostics.Features["initial_stop"]; !ok {
		t.Fatalf("expected an initial_stop diagnostic for the new position")
	}
}

func TestTrendStrategy_TrailingStopNeverLoosens(t *testing.T) {
	state, last := buildTrendState(30, 100, 0.02)
	strat := NewTrendStrategy("SOLUSDT", DefaultTrendConfig(), func() float64 { return 10000 })

	pos := &core.Position{
		Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 1,
		AvgEntry: last.Close * 0.9, CurrentPrice: last.Close,
		StopPrice: last.Close * 0.8, HasStop: true, InitialRisk: last.Close * 0.1,
	}

	prevStop := pos.StopPrice
	for i := 0; i < 5; i++ {
		out := strat.OnTick(TickContext{
			Candle:     core.Candle{Pair: "SOLUSDT", Close: last.Close * (1 + float64(i)*0.01), Complete: true},
			Indicators: state,
			Regime:     core.RegimeResult{Regime: core.RegimeStrongUp},
			Position:   pos,
			SizeFactor: 1.0,
		})
		if newStop, ok := out.Diagnostics.Features["trailing_stop"]; ok {
			if newStop <= prevStop {
				t.Fatalf("trailing stop must be monotone non-decreasing for longs: prev=%v new=%v", prevStop, newStop)
			}
			pos.StopPrice = newStop
			prevStop = newStop
		}
	}
}

func TestTrendStrategy_PyramidsOnceAtFirstRMultiple(t *testing.T) {
	state, last := buildTrendState(30, 100, 0.02)
	cfg := DefaultTrendConfig()
	strat := NewTrendStrategy("SOLUSDT", cfg, func() float64 { return 10000 })

	r := 2.0 // InitialRisk in price units
	pos := &core.Position{
		Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 1,
		AvgEntry: last.Close - r, CurrentPrice: last.Close,
		StopPrice: last.Close - 10, HasStop: true, InitialRisk: r, Pyramids: 0,
	}
	// current unrealized PnL = (close - entry)*amount = r*1 = r -> RMultiple = 1
	pos.CurrentPrice = pos.AvgEntry + r

	out := strat.OnTick(TickContext{
		Candle:     core.Candle{Pair: "SOLUSDT", Close: pos.CurrentPrice, Complete: true},
		Indicators: state,
		Regime:     core.RegimeResult{Regime: core.RegimeStrongUp},
		Position:   pos,
		SizeFactor: 1.0,
	})

	addOns := 0
	for _, sig := range out.Signals {
		if sig.Purpose == core.PurposeAddOn {
			addOns++
		}
	}
	if addOns != 1 {
		t.Fatalf("expected exactly one ADDON signal at R=1, got %d (signals=%+v)", addOns, out.Signals)
	}
}

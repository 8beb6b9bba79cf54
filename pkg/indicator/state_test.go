package indicator

import (
	"testing"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
)

func candleAt(t time.Time, open, high, low, close float64) core.Candle {
	return core.Candle{
		Pair:      "SOLUSDT",
		Timeframe: "1h",
		Time:      t,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    100,
		Complete:  true,
	}
}

func upTrendCandles(n int, start float64) []core.Candle {
	candles := make([]core.Candle, 0, n)
	price := start
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		high := price * 1.01
		low := price * 0.99
		candles = append(candles, candleAt(base.Add(time.Duration(i)*time.Hour), price, high, low, price))
		price *= 1.01
	}
	return candles
}

func TestIndicatorState_SeedsEMAAfterPeriodBars(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShortEMAPeriod = 5
	cfg.LongEMAPeriod = 10
	s := NewIndicatorState(cfg)

	for _, c := range upTrendCandles(4, 100) {
		s.Update(c)
	}
	if s.EMAShortSeeded() {
		t.Fatalf("expected EMA short to be unseeded before %d bars", cfg.ShortEMAPeriod)
	}

	for _, c := range upTrendCandles(1, 104) {
		s.Update(c)
	}
	if !s.EMAShortSeeded() {
		t.Fatalf("expected EMA short to be seeded at bar %d", cfg.ShortEMAPeriod)
	}
}

func TestIndicatorState_Idempotence(t *testing.T) {
	candles := upTrendCandles(40, 100)

	run := func(twice bool) *IndicatorState {
		s := NewIndicatorState(DefaultConfig())
		for _, c := range candles {
			s.Update(c)
			if twice {
				s.Update(c)
			}
		}
		return s
	}

	a, b := run(false), run(true)
	if a.EMAShort() != b.EMAShort() || a.EMALong() != b.EMALong() {
		t.Fatalf("EMA changed when each candle was fed twice: %v vs %v", a.EMAShort(), b.EMAShort())
	}
	if a.ATR() != b.ATR() || a.ADX() != b.ADX() {
		t.Fatalf("ATR/ADX changed when each candle was fed twice")
	}
	ah, al, _ := a.Donchian()
	bh, bl, _ := b.Donchian()
	if ah != bh || al != bl {
		t.Fatalf("Donchian changed when each candle was fed twice")
	}
}

func TestIndicatorState_DonchianWindowBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DonchianPeriod = 5
	s := NewIndicatorState(cfg)

	candles := upTrendCandles(20, 100)
	for _, c := range candles {
		s.Update(c)
	}

	high, low, mid := s.Donchian()
	if high <= low {
		t.Fatalf("expected donchian high > low, got high=%v low=%v", high, low)
	}
	if high != candles[19].High || low != candles[15].Low {
		t.Fatalf("expected the channel to span only the last 5 bars, got high=%v low=%v", high, low)
	}
	if mid != (high+low)/2 {
		t.Fatalf("mid should be the midpoint of high/low")
	}
	if !s.DonchianReady() {
		t.Fatalf("expected donchian window to be full after 20 bars with period 5")
	}
}

func TestATRWithFallback_UsesATRWhenAboveFloor(t *testing.T) {
	got := ATRWithFallback(2.0, 100, 0.0001, 0.01, 0.02)
	if got != 2.0 {
		t.Fatalf("expected raw ATR to be used, got %v", got)
	}
}

func TestATRWithFallback_FallsBackWhenATRNearZero(t *testing.T) {
	price := 100.0
	minStopDistancePct := 0.01
	defaultATRPct := 0.02

	got := ATRWithFallback(0, price, 0.0001, minStopDistancePct, defaultATRPct)
	want := defaultATRPct * price // 0.02*100=2.0 > 0.01*100=1.0, so default wins
	if got != want {
		t.Fatalf("expected fallback to pick the larger of the two floors, got %v want %v", got, want)
	}
}

func TestATRWithFallback_PicksLargerFloorWhenDefaultBelowMinStopDistance(t *testing.T) {
	price := 100.0
	got := ATRWithFallback(0, price, 0.0001, 0.05, 0.01)
	want := 0.05 * price
	if got != want {
		t.Fatalf("expected min_stop_distance_pct floor to win, got %v want %v", got, want)
	}
}

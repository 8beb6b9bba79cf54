package strategy

import (
	"testing"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
)

type nameOnlyStrategy struct{ name string }

func (s nameOnlyStrategy) Name() string { return s.name }
func (s nameOnlyStrategy) OnTick(TickContext) core.StrategyOutput {
	return core.StrategyOutput{}
}

func TestDispatcher_SelectsByModeAndRegime(t *testing.T) {
	mode := core.NewSystemModeHandle()
	trend := nameOnlyStrategy{"trend"}
	rng := nameOnlyStrategy{"range"}
	em := nameOnlyStrategy{"emergency"}
	d := NewDispatcher(DefaultDispatcherConfig(), mode, trend, rng, em)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, factor := d.Select(TickContext{
		Candle: core.Candle{Close: 100, Time: base}, PrevClose: 100,
		Regime: core.RegimeResult{Regime: core.RegimeStrongUp},
	})
	if got != trend || factor != 1.0 {
		t.Fatalf("expected trend strategy at full size for STRONG_UP, got %+v factor=%v", got, factor)
	}

	got, factor = d.Select(TickContext{
		Candle: core.Candle{Close: 100, Time: base}, PrevClose: 100,
		Regime: core.RegimeResult{Regime: core.RegimeWeakUp},
	})
	if got != trend || factor != DefaultDispatcherConfig().WeakSizeFactor {
		t.Fatalf("expected reduced size factor for WEAK_UP, got %v", factor)
	}

	got, _ = d.Select(TickContext{
		Candle: core.Candle{Close: 100, Time: base}, PrevClose: 100,
		Regime: core.RegimeResult{Regime: core.RegimeRange},
	})
	if got != rng {
		t.Fatalf("expected range strategy for RANGE regime")
	}

	got, _ = d.Select(TickContext{
		Candle: core.Candle{Close: 100, Time: base}, PrevClose: 100,
		Regime: core.RegimeResult{Regime: core.RegimeUnknown},
	})
	if got != nil {
		t.Fatalf("expected no strategy for UNKNOWN regime")
	}
}

func TestDispatcher_EmergencyLatchReleasesAfterContiguousCalm(t *testing.T) {
	mode := core.NewSystemModeHandle()
	_ = mode.Transition(core.ModeEmergency, true)

	cfg := DefaultDispatcherConfig()
	cfg.RecoveryWindow = 2 * time.Hour
	d := NewDispatcher(cfg, mode, nameOnlyStrategy{"trend"}, nameOnlyStrategy{"range"}, nameOnlyStrategy{"emergency"})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < 3; i++ {
		strat, _ := d.Select(TickContext{
			Candle:    core.Candle{Close: price, Time: base.Add(time.Duration(i) * time.Hour)},
			PrevClose: price,
		})
		if strat == nil || strat.Name() != "emergency" {
			t.Fatalf("expected emergency strategy while mode is EMERGENCY, at tick %d", i)
		}
	}
	if mode.Mode() != core.ModeNormal {
		t.Fatalf("expected mode to release to NORMAL after %v of calm, got %v", cfg.RecoveryWindow, mode.Mode())
	}
}

func TestDispatcher_EmergencyLatchResetsOnNonCalmBar(t *testing.T) {
	mode := core.NewSystemModeHandle()
	_ = mode.Transition(core.ModeEmergency, true)

	cfg := DefaultDispatcherConfig()
	cfg.RecoveryWindow = 2 * time.Hour
	d := NewDispatcher(cfg, mode, nameOnlyStrategy{"trend"}, nameOnlyStrategy{"range"}, nameOnlyStrategy{"emergency"})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Select(TickContext{Candle: core.Candle{Close: 100, Time: base}, PrevClose: 100})
	d.Select(TickContext{Candle: core.Candle{Close: 101, Time: base.Add(time.Hour)}, PrevClose: 100})
	// A violent bar resets the calm window.
	d.Select(TickContext{Candle: core.Candle{Close: 120, Time: base.Add(2 * time.Hour)}, PrevClose: 101})
	d.Select(TickContext{Candle: core.Candle{Close: 120.1, Time: base.Add(3 * time.Hour)}, PrevClose: 120})

	if mode.Mode() != core.ModeEmergency {
		t.Fatalf("expected mode to remain EMERGENCY after the calm window was broken, got %v", mode.Mode())
	}
}

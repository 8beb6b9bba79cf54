package strategy

import (
	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/indicator"
)

// TickContext is everything a Strategy needs to produce a StrategyOutput for
// one completed candle (spec §4.11 step 5). Strategies are pure functions of
// their TickContext; they never reach into ambient state.
type TickContext struct {
	Candle core.Candle
	// PrevClose is the close of the bar immediately before Candle, or 0 on
	// the very first bar.
	PrevClose  float64
	Indicators *indicator.IndicatorState
	Regime     core.RegimeResult
	// Position is nil when the engine is flat on Candle.Pair. When present,
	// its CurrentPrice has already been marked to Candle.Close by the
	// engine loop before the strategy runs.
	Position *core.Position
	// SizeFactor scales any amount a strategy computes; it is 1.0 in NORMAL
	// conditions and reduced by the dispatcher for WEAK_* regimes (spec §4.3).
	SizeFactor float64
}

// Strategy turns a tick into zero or more signals plus diagnostics — the
// StrategyOutput sum type from spec §9, replacing a duck-typed
// {signals, metadata} result.
type Strategy interface {
	Name() string
	OnTick(ctx TickContext) core.StrategyOutput
}

package strategy

import (
	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/indicator"
)

// TrendConfig holds the trend.* configuration keys.
type TrendConfig struct {
	ADXThreshold              float64
	ATRTrailingStopMultiplier float64
	AddOnPositionMultiplier   float64
	MaxPyramids               int
	RegimeFlipBars            int
	RiskPerTradeFraction      float64 // sizing seed; RiskFilter re-validates downstream

	MinATRValue        float64
	MinStopDistancePct float64
	DefaultATRPct      float64
}

// DefaultTrendConfig returns the documented defaults.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		ADXThreshold:              25,
		ATRTrailingStopMultiplier: 1.2,
		AddOnPositionMultiplier:   0.5,
		MaxPyramids:               2,
		RegimeFlipBars:            3,
		RiskPerTradeFraction:      0.01,
		MinATRValue:               0.0001,
		MinStopDistancePct:        0.01,
		DefaultATRPct:             0.02,
	}
}

// TrendStrategy trades Donchian breakouts with an ATR trailing stop and
// fixed-R pyramiding (spec §4.4). One instance is owned by a single
// (symbol, timeframe) EngineTask, so its small per-position counters need
// no locking.
type TrendStrategy struct {
	cfg     TrendConfig
	pair    string
	tag     string
	balance func() float64

	flipBars int // consecutive bars the regime has opposed the open position
}

// NewTrendStrategy builds a TrendStrategy for one pair. balance returns the
// current account balance, used to seed the risk_amount on ENTRY signals;
// it is an explicit dependency rather than an ambient lookup (spec §9).
func NewTrendStrategy(pair string, cfg TrendConfig, balance func() float64) *TrendStrategy {
	return &TrendStrategy{cfg: cfg, pair: pair, tag: "trend", balance: balance}
}

func (s *TrendStrategy) Name() string { return s.tag }

func (s *TrendStrategy) OnTick(ctx TickContext) core.StrategyOutput {
	if ctx.Position == nil || ctx.Position.Amount == 0 {
		return s.onFlat(ctx)
	}
	return s.onPosition(ctx)
}

func (s *TrendStrategy) onFlat(ctx TickContext) core.StrategyOutput {
	diag := core.Diagnostics{Regime: ctx.Regime.Regime, Features: map[string]float64{}}
	if !ctx.Indicators.DonchianPrevReady() || !ctx.Indicators.ADXSeeded() {
		return core.StrategyOutput{Diagnostics: diag}
	}

	high, low, _ := ctx.Indicators.DonchianPrev()
	adx := ctx.Indicators.ADX()
	diag.Features["donchian_prev_high"] = high
	diag.Features["donchian_prev_low"] = low
	diag.Features["adx"] = adx

	if adx < s.cfg.ADXThreshold {
		return core.StrategyOutput{Diagnostics: diag}
	}

	close := ctx.Candle.Close
	atr := indicator.ATRWithFallback(ctx.Indicators.ATR(), close, s.cfg.MinATRValue, s.cfg.MinStopDistancePct, s.cfg.DefaultATRPct)
	stopDistance := atr * s.cfg.ATRTrailingStopMultiplier
	riskAmount := 0.0
	if s.balance != nil {
		riskAmount = s.balance() * s.cfg.RiskPerTradeFraction * ctx.SizeFactor
	}
	// amount is an asset quantity, not a quote-currency risk budget: the
	// risk filter recovers risk_amount back as amount*stop_distance (§4.6),
	// and OMS.OrderSizing only quantizes this to the venue's lot step (§4.10).
	amount := 0.0
	if stopDistance > 0 {
		amount = riskAmount / stopDistance
	}

	// The initial stop travels via Diagnostics, not Signal.StopPrice: a
	// MARKET entry carries no price field at all (spec §4.7/§6), and the
	// position's stop only exists once OMS opens the position on fill.
	switch {
	case close > high:
		sig := core.Signal{
			Pair: s.pair, Side: core.SideTypeBuy, Type: core.OrderTypeMarket,
			Amount: amount, Purpose: core.PurposeEntry, StrategyTag: s.tag,
		}
		diag.Features["initial_stop"] = close - stopDistance
		diag.Notes = append(diag.Notes, "donchian breakout long")
		return core.StrategyOutput{Signals: []core.Signal{sig}, Diagnostics: diag}
	case close < low:
		sig := core.Signal{
			Pair: s.pair, Side: core.SideTypeSell, Type: core.OrderTypeMarket,
			Amount: amount, Purpose: core.PurposeEntry, StrategyTag: s.tag,
		}
		diag.Features["initial_stop"] = close + stopDistance
		diag.Notes = append(diag.Notes, "donchian breakdown short")
		return core.StrategyOutput{Signals: []core.Signal{sig}, Diagnostics: diag}
	}
	return core.StrategyOutput{Diagnostics: diag}
}

func (s *TrendStrategy) onPosition(ctx TickContext) core.StrategyOutput {
	pos := ctx.Position
	diag := core.Diagnostics{Regime: ctx.Regime.Regime, Features: map[string]float64{}}

	close := ctx.Candle.Close
	atr := indicator.ATRWithFallback(ctx.Indicators.ATR(), close, s.cfg.MinATRValue, s.cfg.MinStopDistancePct, s.cfg.DefaultATRPct)
	stopDistance := atr * s.cfg.ATRTrailingStopMultiplier

	long := pos.Side == core.SideTypeBuy

	// Stop hit: exit first, before computing a new trail or pyramid.
	if pos.HasStop {
		if (long && close <= pos.StopPrice) || (!long && close >= pos.StopPrice) {
			sig := core.Signal{
				Pair: s.pair, Side: opposite(pos.Side), Type: core.OrderTypeMarket,
				Amount: pos.Amount, Purpose: core.PurposeExit, StrategyTag: s.tag, ReduceOnly: true,
			}
			diag.Notes = append(diag.Notes, "stop hit")
			return core.StrategyOutput{Signals: []core.Signal{sig}, Diagnostics: diag}
		}
	}

	// Regime flip exit: opposing regime for RegimeFlipBars consecutive bars.
	opposes := (long && ctx.Regime.Regime.IsBearish()) || (!long && ctx.Regime.Regime.IsBullish())
	if opposes {
		s.flipBars++
	} else {
		s.flipBars = 0
	}
	if s.cfg.RegimeFlipBars > 0 && s.flipBars >= s.cfg.RegimeFlipBars {
		sig := core.Signal{
			Pair: s.pair, Side: opposite(pos.Side), Type: core.OrderTypeMarket,
			Amount: pos.Amount, Purpose: core.PurposeExit, StrategyTag: s.tag, ReduceOnly: true,
		}
		s.flipBars = 0
		diag.Notes = append(diag.Notes, "regime flip exit")
		return core.StrategyOutput{Signals: []core.Signal{sig}, Diagnostics: diag}
	}

	// Trailing-stop ratchet: monotone, never loosens (spec §4.4). A missing
	// stop is treated as -inf for longs / +inf for shorts on first update.
	var candidate float64
	if long {
		candidate = close - stopDistance
		if !pos.HasStop || candidate > pos.StopPrice {
			diag.Features["trailing_stop"] = candidate
		}
	} else {
		candidate = close + stopDistance
		if !pos.HasStop || candidate < pos.StopPrice {
			diag.Features["trailing_stop"] = candidate
		}
	}

	// Pyramiding: fixed R from the initial entry, never re-scaled (spec §9d).
	var signals []core.Signal
	if pos.InitialRisk > 0 && pos.Pyramids < s.cfg.MaxPyramids {
		r := pos.RMultiple()
		nextLevel := float64(pos.Pyramids + 1)
		if r >= nextLevel {
			addOnRisk := 0.0
			if s.balance != nil {
				addOnRisk = s.balance() * s.cfg.RiskPerTradeFraction * s.cfg.AddOnPositionMultiplier * ctx.SizeFactor
			}
			addOnAmount := 0.0
			if stopDistance > 0 {
				addOnAmount = addOnRisk / stopDistance
			}
			signals = append(signals, core.Signal{
				Pair: s.pair, Side: pos.Side, Type: core.OrderTypeMarket,
				Amount: addOnAmount, Purpose: core.PurposeAddOn, StrategyTag: s.tag,
			})
			diag.Notes = append(diag.Notes, "pyramid add-on")
		}
	}

	return core.StrategyOutput{Signals: signals, Diagnostics: diag}
}

func opposite(side core.SideType) core.SideType {
	if side == core.SideTypeBuy {
		return core.SideTypeSell
	}
	return core.SideTypeBuy
}

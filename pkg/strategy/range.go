package strategy

import (
	"math"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/indicator"
)

// RangeConfig holds the range.* configuration keys.
type RangeConfig struct {
	Margin               float64 // shrinks the Donchian band inward (~0.05)
	GridATRMultiplier     float64 // 0.6
	MinLevels            int     // 3
	MaxLevels            int     // 10
	EscapePct            float64 // 0.02
	NetPositionDeltaMax  float64 // 0.15, as a fraction of RiskBudget
	RiskBudgetFraction    float64 // fraction of balance allotted to the whole grid

	MinATRValue        float64
	MinStopDistancePct float64
	DefaultATRPct      float64
}

// DefaultRangeConfig returns the documented defaults.
func DefaultRangeConfig() RangeConfig {
	return RangeConfig{
		Margin:              0.05,
		GridATRMultiplier:   0.6,
		MinLevels:           3,
		MaxLevels:           10,
		EscapePct:           0.02,
		NetPositionDeltaMax: 0.15,
		RiskBudgetFraction:  0.05,
		MinATRValue:         0.0001,
		MinStopDistancePct:  0.01,
		DefaultATRPct:       0.02,
	}
}

// RangeStrategy runs a Donchian-bounded, maker-only grid (spec §4.5).
type RangeStrategy struct {
	cfg     RangeConfig
	pair    string
	tag     string
	balance func() float64

	gridActive bool
	gridLow    float64
	gridHigh   float64
}

// NewRangeStrategy builds a RangeStrategy for one pair.
func NewRangeStrategy(pair string, cfg RangeConfig, balance func() float64) *RangeStrategy {
	return &RangeStrategy{cfg: cfg, pair: pair, tag: "range", balance: balance}
}

func (s *RangeStrategy) Name() string { return s.tag }

// GridLevelCount returns clamp(ceil((high-low)/(ATR*multiplier)), min, max),
// the level-count rule from spec §4.5, factored out so it can be unit
// tested against the "grid counts" invariant (spec §8) independently of
// order construction.
func GridLevelCount(high, low, atr, multiplier float64, min, max int) int {
	if atr <= 0 || multiplier <= 0 {
		return min
	}
	n := int(math.Ceil((high - low) / (atr * multiplier)))
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func (s *RangeStrategy) OnTick(ctx TickContext) core.StrategyOutput {
	diag := core.Diagnostics{Regime: ctx.Regime.Regime, Features: map[string]float64{}}

	if !ctx.Indicators.DonchianReady() {
		return core.StrategyOutput{Diagnostics: diag}
	}

	donchianHigh, donchianLow, _ := ctx.Indicators.Donchian()
	high := donchianHigh * (1 - s.cfg.Margin)
	low := donchianLow * (1 + s.cfg.Margin)
	close := ctx.Candle.Close

	diag.Features["grid_high"] = high
	diag.Features["grid_low"] = low

	// Escape: price left the band (plus tolerance) — tear the grid down and
	// flatten, handing control back to the dispatcher next tick.
	if s.gridActive {
		escapeHigh := high * (1 + s.cfg.EscapePct)
		escapeLow := low * (1 - s.cfg.EscapePct)
		if close > escapeHigh || close < escapeLow {
			s.gridActive = false
			diag.Notes = append(diag.Notes, "grid escape")
			var signals []core.Signal
			if ctx.Position != nil && ctx.Position.Amount != 0 {
				signals = append(signals, core.Signal{
					Pair: s.pair, Side: opposite(ctx.Position.Side), Type: core.OrderTypeMarket,
					Amount: ctx.Position.Amount, Purpose: core.PurposeExit, StrategyTag: s.tag, ReduceOnly: true,
				})
			}
			return core.StrategyOutput{Signals: signals, Diagnostics: diag}
		}
	}

	atr := indicator.ATRWithFallback(ctx.Indicators.ATR(), close, s.cfg.MinATRValue, s.cfg.MinStopDistancePct, s.cfg.DefaultATRPct)
	levels := GridLevelCount(high, low, atr, s.cfg.GridATRMultiplier, s.cfg.MinLevels, s.cfg.MaxLevels)
	diag.Features["grid_levels"] = float64(levels)

	riskBudget := 0.0
	if s.balance != nil {
		riskBudget = s.balance() * s.cfg.RiskBudgetFraction * ctx.SizeFactor
	}
	stopDistance := atr
	amountPerLevel := 0.0
	if levels > 0 && stopDistance > 0 {
		amountPerLevel = riskBudget / (float64(levels) * stopDistance)
	}

	var signals []core.Signal
	if !s.gridActive {
		step := (high - low) / float64(levels)
		for i := 0; i < levels; i++ {
			price := low + step*float64(i)
			switch {
			case price < close:
				signals = append(signals, core.Signal{
					Pair: s.pair, Side: core.SideTypeBuy, Type: core.OrderTypeLimit,
					Price: price, Amount: amountPerLevel, Purpose: core.PurposeEntry,
					StrategyTag: s.tag, PostOnly: true,
				})
			case price > close:
				signals = append(signals, core.Signal{
					Pair: s.pair, Side: core.SideTypeSell, Type: core.OrderTypeLimit,
					Price: price, Amount: amountPerLevel, Purpose: core.PurposeEntry,
					StrategyTag: s.tag, PostOnly: true,
				})
			}
		}
		s.gridActive = true
		s.gridLow, s.gridHigh = low, high
		diag.Notes = append(diag.Notes, "grid placed")
	}

	// Hedge: net position delta exceeds the configured fraction of the
	// intended grid size — rebalance toward zero with a MARKET signal.
	if ctx.Position != nil && riskBudget > 0 {
		delta := math.Abs(ctx.Position.Amount*close) / riskBudget
		if delta > s.cfg.NetPositionDeltaMax {
			side := opposite(ctx.Position.Side)
			hedgeAmount := ctx.Position.Amount * (delta - s.cfg.NetPositionDeltaMax) / delta
			signals = append(signals, core.Signal{
				Pair: s.pair, Side: side, Type: core.OrderTypeMarket,
				Amount: hedgeAmount, Purpose: core.PurposeHedge, StrategyTag: s.tag, ReduceOnly: true,
			})
			diag.Notes = append(diag.Notes, "net delta hedge")
		}
	}

	return core.StrategyOutput{Signals: signals, Diagnostics: diag}
}

package risk

import (
	"math"

	"github.com/samber/lo"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/indicator"
)

// Config holds the risk.* configuration keys (spec §4.6/§6).
type Config struct {
	MaxRiskPerTrade float64 // fraction of balance, default 0.01
	MaxPositionSize float64 // fraction of balance, default 0.35
	MaxDailyLoss    float64 // fraction of midnight_balance, default 0.05
	AllowShrink     bool
	LotStep         float64 // rounding granularity when shrinking amount

	MinATRValue        float64
	MinStopDistancePct float64
	DefaultATRPct      float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRiskPerTrade:    0.01,
		MaxPositionSize:    0.35,
		MaxDailyLoss:       0.05,
		AllowShrink:        true,
		LotStep:            0.0001,
		MinATRValue:        0.0001,
		MinStopDistancePct: 0.01,
		DefaultATRPct:      0.02,
	}
}

// Inputs is the per-signal market/account context RiskFilter needs that
// isn't already carried on the Signal itself — an explicit dependency,
// not an ambient lookup (spec §9).
type Inputs struct {
	CurrentMarketPrice float64
	ATR                float64 // 0 triggers the ATR-zero fallback
	StopDistance       float64 // explicit stop distance if the strategy knows one; 0 falls back to ATR
	Account            core.Account
	// OpenNotionalExcluding is the notional already committed to this pair
	// across all other open positions, excluding the signal being checked.
	OpenNotionalExcluding float64
}

// Filter is the RiskFilter from spec §4.6: an ordered reject/shrink pipeline
// applied to every signal before it reaches OMS.
type Filter struct {
	cfg  Config
	mode *core.SystemModeHandle
}

// NewFilter builds a Filter. mode is the single writer for SystemMode; the
// filter both reads it (step 1) and raises it to STANDBY (step 5).
func NewFilter(cfg Config, mode *core.SystemModeHandle) *Filter {
	return &Filter{cfg: cfg, mode: mode}
}

// Apply filters a batch of signals sharing the same Inputs (one tick, one
// pair). Rejected signals are dropped; shrunk signals have their Amount
// reduced in place. Order is preserved among surviving signals.
func (f *Filter) Apply(signals []core.Signal, in Inputs) []core.Signal {
	return lo.FilterMap(signals, func(sig core.Signal, _ int) (core.Signal, bool) {
		return f.applyOne(sig, in)
	})
}

func (f *Filter) applyOne(sig core.Signal, in Inputs) (core.Signal, bool) {
	mode := f.mode.Mode()

	// 1. Mode gate: STANDBY/KILL_SWITCH block new exposure, never exits.
	isNewExposure := sig.Purpose == core.PurposeEntry || sig.Purpose == core.PurposeAddOn
	if isNewExposure && (mode == core.ModeStandby || mode == core.ModeKillSwitch) {
		return sig, false
	}

	// 2. Notional.
	refPrice := sig.Price
	if refPrice == 0 {
		refPrice = in.CurrentMarketPrice
	}
	notional := sig.Amount * refPrice

	// 3. Risk vs. max_risk_per_trade, shrink-or-reject.
	stopDistance := in.StopDistance
	if stopDistance <= 0 {
		stopDistance = indicator.ATRWithFallback(in.ATR, refPrice, f.cfg.MinATRValue, f.cfg.MinStopDistancePct, f.cfg.DefaultATRPct)
	}
	tradeRisk := sig.Amount * stopDistance
	maxRisk := f.cfg.MaxRiskPerTrade * in.Account.Balance
	if tradeRisk > maxRisk {
		if !f.cfg.AllowShrink || stopDistance <= 0 {
			return sig, false
		}
		shrunkAmount := maxRisk / stopDistance
		if f.cfg.LotStep > 0 {
			shrunkAmount = math.Floor(shrunkAmount/f.cfg.LotStep) * f.cfg.LotStep
		}
		if shrunkAmount <= 0 {
			return sig, false
		}
		sig.Amount = shrunkAmount
		notional = sig.Amount * refPrice
	}

	// 4. Position-size cap.
	if isNewExposure {
		openNotional := in.OpenNotionalExcluding + notional
		if openNotional > f.cfg.MaxPositionSize*in.Account.Balance {
			return sig, false
		}
	}

	// 5. Daily-loss breaker: reject new exposure and escalate to STANDBY.
	// EXIT/HEDGE/EMERGENCY_CLOSE still pass so positions can still be closed.
	if in.Account.DailyPnL() <= -f.cfg.MaxDailyLoss*in.Account.MidnightBalance {
		_ = f.mode.Transition(core.ModeStandby, true)
		if isNewExposure {
			return sig, false
		}
	}

	// 6. Pass.
	return sig, true
}

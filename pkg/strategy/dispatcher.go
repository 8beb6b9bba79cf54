package strategy

import (
	"time"

	"github.com/solbot-labs/engine/pkg/core"
)

// DispatcherConfig holds the emergency-recovery tunables (risk.emergency_*).
type DispatcherConfig struct {
	// RecoveryMoveThreshold is the per-bar move magnitude below which a bar
	// counts as "calm" (risk.emergency_recovery_threshold, default 0.075 —
	// half of the black-swan gap threshold).
	RecoveryMoveThreshold float64
	// RecoveryWindow is the contiguous calm duration required before
	// EMERGENCY releases back to NORMAL (risk.emergency_recovery_hours).
	RecoveryWindow time.Duration
	// WeakSizeFactor scales signal amounts when the regime is WEAK_UP/WEAK_DOWN.
	WeakSizeFactor float64
}

// DefaultDispatcherConfig returns the documented defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		RecoveryMoveThreshold: 0.075,
		RecoveryWindow:        24 * time.Hour,
		WeakSizeFactor:        0.5,
	}
}

// Dispatcher selects the active Strategy for a tick from SystemMode ×
// Regime (spec §4.3), and owns the EMERGENCY latch: it is the only
// component that tracks the contiguous calm window and releases EMERGENCY
// back to NORMAL once that window has fully elapsed (spec §9c).
type Dispatcher struct {
	cfg       DispatcherConfig
	mode      *core.SystemModeHandle
	trend     Strategy
	rangeStr  Strategy
	emergency Strategy

	calmSince    time.Time
	haveCalm     bool
	lastTickTime time.Time
}

// NewDispatcher wires the three regime-driven strategies to a shared mode handle.
func NewDispatcher(cfg DispatcherConfig, mode *core.SystemModeHandle, trend, rangeStr, emergency Strategy) *Dispatcher {
	return &Dispatcher{cfg: cfg, mode: mode, trend: trend, rangeStr: rangeStr, emergency: emergency}
}

// Select returns the strategy to run this tick (nil when no strategy should
// act, e.g. KILL_SWITCH/STANDBY/UNKNOWN) along with the size factor that
// tick's signals should be scaled by.
func (d *Dispatcher) Select(ctx TickContext) (Strategy, float64) {
	mode := d.mode.Mode()

	if mode == core.ModeEmergency {
		d.trackRecovery(ctx)
	} else {
		d.haveCalm = false
	}

	switch mode {
	case core.ModeKillSwitch, core.ModeStandby:
		return nil, 1.0
	case core.ModeEmergency:
		return d.emergency, 1.0
	}

	switch ctx.Regime.Regime {
	case core.RegimeStrongUp, core.RegimeUp, core.RegimeStrongDown, core.RegimeDown:
		return d.trend, 1.0
	case core.RegimeWeakUp, core.RegimeWeakDown:
		return d.trend, d.cfg.WeakSizeFactor
	case core.RegimeRange:
		return d.rangeStr, 1.0
	default: // UNKNOWN
		return nil, 1.0
	}
}

// trackRecovery extends or resets the contiguous-calm window and, once it
// has held for RecoveryWindow, transitions SystemMode back to NORMAL. A
// single bar breaking calm resets the window to zero — the spec mandates a
// contiguous window, not a rolling average (§9c).
func (d *Dispatcher) trackRecovery(ctx TickContext) {
	now := ctx.Candle.Time
	calm := isCalm(ctx, d.cfg.RecoveryMoveThreshold)

	if !calm {
		d.haveCalm = false
		d.lastTickTime = now
		return
	}

	if !d.haveCalm {
		d.calmSince = now
		d.haveCalm = true
	}
	d.lastTickTime = now

	if now.Sub(d.calmSince) >= d.cfg.RecoveryWindow {
		_ = d.mode.Transition(core.ModeNormal, false)
		d.haveCalm = false
	}
}

func isCalm(ctx TickContext, threshold float64) bool {
	if ctx.PrevClose == 0 {
		return true
	}
	move := (ctx.Candle.Close - ctx.PrevClose) / ctx.PrevClose
	if move < 0 {
		move = -move
	}
	return move < threshold
}

package strategy

import "github.com/solbot-labs/engine/pkg/core"

// EmergencyStrategy only ever closes or reduces exposure; it never opens a
// new ENTRY/ADDON (spec §4.3/§9). The dispatcher selects it the instant
// SystemMode reaches EMERGENCY and keeps selecting it until the recovery
// latch releases back to NORMAL.
type EmergencyStrategy struct {
	pair string
	tag  string
}

// NewEmergencyStrategy builds an EmergencyStrategy for one pair.
func NewEmergencyStrategy(pair string) *EmergencyStrategy {
	return &EmergencyStrategy{pair: pair, tag: "emergency"}
}

func (s *EmergencyStrategy) Name() string { return s.tag }

func (s *EmergencyStrategy) OnTick(ctx TickContext) core.StrategyOutput {
	diag := core.Diagnostics{Regime: ctx.Regime.Regime, Features: map[string]float64{}}

	if ctx.Position == nil || ctx.Position.Amount == 0 {
		return core.StrategyOutput{Diagnostics: diag}
	}

	sig := core.Signal{
		Pair:        s.pair,
		Side:        opposite(ctx.Position.Side),
		Type:        core.OrderTypeMarket,
		Amount:      ctx.Position.Amount,
		Purpose:     core.PurposeEmergencyExit,
		StrategyTag: s.tag,
		ReduceOnly:  true,
	}
	diag.Notes = append(diag.Notes, "emergency close")
	return core.StrategyOutput{Signals: []core.Signal{sig}, Diagnostics: diag}
}

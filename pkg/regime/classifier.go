package regime

import (
	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/indicator"
)

// Config holds the classifier's thresholds, mirroring the trend.adx_* and
// risk.emergency_gap_threshold configuration keys. Passed in explicitly
// rather than read from a global parameter service.
type Config struct {
	RangeADXMax           float64 // below this, ADX alone marks RANGE
	NormalADXThreshold    float64 // trend.adx_threshold: UP/DOWN floor
	StrongADXThreshold    float64 // STRONG_UP/STRONG_DOWN floor
	BlackSwanGapThreshold float64 // risk.emergency_gap_threshold
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RangeADXMax:           20,
		NormalADXThreshold:    25,
		StrongADXThreshold:    35,
		BlackSwanGapThreshold: 0.15,
	}
}

// Classifier turns IndicatorState readings into a core.RegimeResult using
// the ordered rule set from spec §4.2. Rules are evaluated in priority
// order and the first one that applies wins, except the black-swan sentinel
// which is an orthogonal flag checked on every call regardless of regime.
type Classifier struct {
	cfg Config
}

// New constructs a Classifier.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify evaluates the current bar. previousDailyClose is the prior UTC
// day's close, used for the black-swan gap check; pass 0 to skip it (e.g.
// before the first full day has elapsed).
func (c *Classifier) Classify(state *indicator.IndicatorState, previousDailyClose, currentClose float64) core.RegimeResult {
	blackSwan := false
	if previousDailyClose > 0 {
		move := (currentClose - previousDailyClose) / previousDailyClose
		if move < 0 {
			move = -move
		}
		blackSwan = move >= c.cfg.BlackSwanGapThreshold
	}

	features := core.RegimeFeatures{
		EMASlopeDeg: state.EMASlopeDegrees(),
		ATRPercent:  state.ATRPercent(currentClose),
		ADX:         state.ADX(),
	}

	// Rule 1 (insufficient warm-up): not enough bars to trust ADX/EMA yet.
	if !state.ADXSeeded() || !state.EMAShortSeeded() || !state.DonchianReady() {
		return core.RegimeResult{Regime: core.RegimeUnknown, Features: features, BlackSwan: blackSwan}
	}

	adx := state.ADX()

	// Rule 2: low ADX is RANGE regardless of slope direction.
	if adx < c.cfg.RangeADXMax {
		return core.RegimeResult{Regime: core.RegimeRange, Features: features, BlackSwan: blackSwan}
	}

	// Rule 3: magnitude tier from ADX, direction from EMA slope sign.
	bullish := state.EMASlopeDegrees() >= 0
	var r core.Regime
	switch {
	case adx >= c.cfg.StrongADXThreshold && bullish:
		r = core.RegimeStrongUp
	case adx >= c.cfg.StrongADXThreshold && !bullish:
		r = core.RegimeStrongDown
	case adx >= c.cfg.NormalADXThreshold && bullish:
		r = core.RegimeUp
	case adx >= c.cfg.NormalADXThreshold && !bullish:
		r = core.RegimeDown
	case bullish:
		r = core.RegimeWeakUp
	default:
		r = core.RegimeWeakDown
	}

	return core.RegimeResult{Regime: r, Features: features, BlackSwan: blackSwan}
}

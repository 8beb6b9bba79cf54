package indicator

import (
	"time"

	"github.com/solbot-labs/engine/pkg/core"
)

// Config holds the tunables IndicatorState needs, mirroring the market.*
// configuration keys. Values are copied in at construction time rather than
// read from an ambient parameter service.
type Config struct {
	ShortEMAPeriod int
	LongEMAPeriod  int
	ATRPeriod      int
	ADXPeriod      int
	DonchianPeriod int

	// Slope K adapts to volatility: ATR% above HighVolThreshold shrinks the
	// regression window to HighVolK bars; below LowVolThreshold it widens to
	// LowVolK; otherwise DefaultK is used.
	SlopeHighVolThreshold float64
	SlopeHighVolK         int
	SlopeLowVolThreshold  float64
	SlopeLowVolK          int
	SlopeDefaultK         int
}

// DefaultConfig returns the documented defaults (spec §6's market.* keys).
func DefaultConfig() Config {
	return Config{
		ShortEMAPeriod:        10,
		LongEMAPeriod:         50,
		ATRPeriod:             14,
		ADXPeriod:             14,
		DonchianPeriod:        20,
		SlopeHighVolThreshold: 6.0,
		SlopeHighVolK:         3,
		SlopeLowVolThreshold:  2.0,
		SlopeLowVolK:          8,
		SlopeDefaultK:         5,
	}
}

// WarmupBars is how many candles a fresh IndicatorState needs before every
// reading is seeded: the widest configured period, doubled for ADX's
// smoothing lag (Wilder's method needs 2x its period to fully stabilize).
func (c Config) WarmupBars() int {
	widest := c.LongEMAPeriod
	if c.DonchianPeriod > widest {
		widest = c.DonchianPeriod
	}
	if c.ADXPeriod*2 > widest {
		widest = c.ADXPeriod * 2
	}
	if c.ATRPeriod > widest {
		widest = c.ATRPeriod
	}
	return widest
}

// wilderSmoother implements the recursive average `((N-1)*prev + x) / N`,
// seeded with the simple mean of the first N samples. ATR, +DM, -DM and ADX
// all reduce to this one recurrence (spec §4.1).
type wilderSmoother struct {
	period  int
	value   float64
	seeded  bool
	seedSum float64
	seedN   int
}

func newWilderSmoother(period int) *wilderSmoother {
	return &wilderSmoother{period: period}
}

func (w *wilderSmoother) update(x float64) {
	if !w.seeded {
		w.seedSum += x
		w.seedN++
		if w.seedN == w.period {
			w.value = w.seedSum / float64(w.period)
			w.seeded = true
		}
		return
	}
	n := float64(w.period)
	w.value = ((n-1)*w.value + x) / n
}

// IndicatorState is the engine-owned incremental indicator pipeline from
// spec §4.1: EMA(short/long), Wilder ATR, Wilder ADX/+DI/-DI, Donchian(P),
// and an adaptive EMA-slope. Exactly one EngineTask ever touches a given
// instance (spec §5) so it carries no internal locking.
type IndicatorState struct {
	cfg Config

	bars int

	emaShort        float64
	emaShortSeeded  bool
	emaShortSeedSum float64
	emaLong         float64
	emaLongSeeded   bool
	emaLongSeedSum  float64

	emaShortHistory []float64 // last max(K) values, for the slope regression

	havePrevBar bool
	prevHigh    float64
	prevLow     float64
	prevClose   float64

	atr *wilderSmoother

	plusDM  *wilderSmoother
	minusDM *wilderSmoother
	adx     *wilderSmoother // smooths DX itself

	plusDI  float64
	minusDI float64
	dx      float64

	donchianHighs []float64 // ring of last DonchianPeriod completed bars' highs
	donchianLows  []float64

	donchianPrevHigh  float64
	donchianPrevLow   float64
	donchianPrevReady bool

	lastSlopeDegrees float64

	lastTime time.Time // Time of the last candle folded in, for Update's repeat check
}

// NewIndicatorState constructs a fresh, unseeded IndicatorState.
func NewIndicatorState(cfg Config) *IndicatorState {
	maxK := cfg.SlopeDefaultK
	if cfg.SlopeHighVolK > maxK {
		maxK = cfg.SlopeHighVolK
	}
	if cfg.SlopeLowVolK > maxK {
		maxK = cfg.SlopeLowVolK
	}
	return &IndicatorState{
		cfg:             cfg,
		atr:             newWilderSmoother(cfg.ATRPeriod),
		plusDM:          newWilderSmoother(cfg.ADXPeriod),
		minusDM:         newWilderSmoother(cfg.ADXPeriod),
		adx:             newWilderSmoother(cfg.ADXPeriod),
		emaShortHistory: make([]float64, 0, maxK),
	}
}

// Update folds one completed candle into the state. A candle whose Time
// equals that of the last candle folded in is ignored, so feeding the same
// candle twice in a row leaves the state exactly as feeding it once.
func (s *IndicatorState) Update(c core.Candle) {
	if s.bars > 0 && c.Time.Equal(s.lastTime) {
		return
	}
	s.lastTime = c.Time
	s.bars++
	s.updateEMA(c.Close)
	s.updateDonchian(c.High, c.Low)

	if s.havePrevBar {
		s.updateATR(c.High, c.Low)
		s.updateADX(c.High, c.Low)
	}

	s.prevHigh, s.prevLow, s.prevClose = c.High, c.Low, c.Close
	s.havePrevBar = true

	s.updateSlope()
}

func (s *IndicatorState) updateEMA(close float64) {
	if !s.emaShortSeeded {
		s.emaShortSeedSum += close
		if s.bars == s.cfg.ShortEMAPeriod {
			s.emaShort = s.emaShortSeedSum / float64(s.cfg.ShortEMAPeriod)
			s.emaShortSeeded = true
		}
	} else {
		alpha := 2.0 / (float64(s.cfg.ShortEMAPeriod) + 1)
		s.emaShort = alpha*close + (1-alpha)*s.emaShort
	}

	if !s.emaLongSeeded {
		s.emaLongSeedSum += close
		if s.bars == s.cfg.LongEMAPeriod {
			s.emaLong = s.emaLongSeedSum / float64(s.cfg.LongEMAPeriod)
			s.emaLongSeeded = true
		}
	} else {
		alpha := 2.0 / (float64(s.cfg.LongEMAPeriod) + 1)
		s.emaLong = alpha*close + (1-alpha)*s.emaLong
	}

	if s.emaShortSeeded {
		s.emaShortHistory = append(s.emaShortHistory, s.emaShort)
		if max := cap(s.emaShortHistory); len(s.emaShortHistory) > max {
			s.emaShortHistory = s.emaShortHistory[len(s.emaShortHistory)-max:]
		}
	}
}

func trueRange(high, low, prevClose float64) float64 {
	hl := high - low
	hc := high - prevClose
	if hc < 0 {
		hc = -hc
	}
	lc := low - prevClose
	if lc < 0 {
		lc = -lc
	}
	tr := hl
	if hc > tr {
		tr = hc
	}
	if lc > tr {
		tr = lc
	}
	return tr
}

func (s *IndicatorState) updateATR(high, low float64) {
	s.atr.update(trueRange(high, low, s.prevClose))
}

func (s *IndicatorState) updateADX(high, low float64) {
	upMove := high - s.prevHigh
	downMove := s.prevLow - low

	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}

	s.plusDM.update(plusDM)
	s.minusDM.update(minusDM)

	if !s.atr.seeded || s.atr.value == 0 {
		return
	}

	s.plusDI = 100 * (s.plusDM.value / s.atr.value)
	s.minusDI = 100 * (s.minusDM.value / s.atr.value)

	sum := s.plusDI + s.minusDI
	if sum == 0 {
		s.dx = 0
	} else {
		diff := s.plusDI - s.minusDI
		if diff < 0 {
			diff = -diff
		}
		s.dx = 100 * diff / sum
	}
	s.adx.update(s.dx)
}

func (s *IndicatorState) updateDonchian(high, low float64) {
	// Snapshot the window as it stood before this bar: spec §4.4's breakout
	// rule compares the close against P_prev, the channel excluding the very
	// bar being evaluated.
	if len(s.donchianHighs) > 0 {
		ph, pl := s.donchianHighs[0], s.donchianLows[0]
		for i := 1; i < len(s.donchianHighs); i++ {
			if s.donchianHighs[i] > ph {
				ph = s.donchianHighs[i]
			}
			if s.donchianLows[i] < pl {
				pl = s.donchianLows[i]
			}
		}
		s.donchianPrevHigh, s.donchianPrevLow = ph, pl
		s.donchianPrevReady = len(s.donchianHighs) >= s.cfg.DonchianPeriod
	}

	s.donchianHighs = append(s.donchianHighs, high)
	s.donchianLows = append(s.donchianLows, low)
	if n := s.cfg.DonchianPeriod; len(s.donchianHighs) > n {
		s.donchianHighs = s.donchianHighs[len(s.donchianHighs)-n:]
		s.donchianLows = s.donchianLows[len(s.donchianLows)-n:]
	}
}

func (s *IndicatorState) updateSlope() {
	k := s.slopeK()
	if !s.emaShortSeeded || len(s.emaShortHistory) < k || k < 2 {
		s.lastSlopeDegrees = 0
		return
	}
	window := s.emaShortHistory[len(s.emaShortHistory)-k:]
	s.lastSlopeDegrees = emaSlopeDegrees(window, s.emaShort)
}

// slopeK picks the regression window per the adaptive rule in spec §4.1.
func (s *IndicatorState) slopeK() int {
	pct := s.ATRPercent(s.emaShort)
	switch {
	case pct > s.cfg.SlopeHighVolThreshold:
		return s.cfg.SlopeHighVolK
	case pct < s.cfg.SlopeLowVolThreshold:
		return s.cfg.SlopeLowVolK
	default:
		return s.cfg.SlopeDefaultK
	}
}

// EMAShort returns the current short-period EMA (0 until seeded).
func (s *IndicatorState) EMAShort() float64 { return s.emaShort }

// EMALong returns the current long-period EMA (0 until seeded).
func (s *IndicatorState) EMALong() float64 { return s.emaLong }

// EMAShortSeeded reports whether EMAShort has enough bars to be meaningful.
func (s *IndicatorState) EMAShortSeeded() bool { return s.emaShortSeeded }

// EMALongSeeded reports whether EMALong has enough bars to be meaningful.
func (s *IndicatorState) EMALongSeeded() bool { return s.emaLongSeeded }

// ATR returns the current Wilder ATR (0 until seeded).
func (s *IndicatorState) ATR() float64 { return s.atr.value }

// ATRSeeded reports whether ATR has enough bars to be meaningful.
func (s *IndicatorState) ATRSeeded() bool { return s.atr.seeded }

// ATRPercent returns ATR as a percentage of the given price.
func (s *IndicatorState) ATRPercent(price float64) float64 {
	if price == 0 {
		return 0
	}
	return s.atr.value / price * 100
}

// ADX returns the current Wilder-smoothed ADX (0 until seeded).
func (s *IndicatorState) ADX() float64 { return s.adx.value }

// ADXSeeded reports whether ADX has enough bars to be meaningful.
func (s *IndicatorState) ADXSeeded() bool { return s.adx.seeded }

// PlusDI returns the current +DI.
func (s *IndicatorState) PlusDI() float64 { return s.plusDI }

// MinusDI returns the current -DI.
func (s *IndicatorState) MinusDI() float64 { return s.minusDI }

// Donchian returns the high/low/mid of the last DonchianPeriod completed bars.
func (s *IndicatorState) Donchian() (high, low, mid float64) {
	if len(s.donchianHighs) == 0 {
		return 0, 0, 0
	}
	high, low = s.donchianHighs[0], s.donchianLows[0]
	for i := 1; i < len(s.donchianHighs); i++ {
		if s.donchianHighs[i] > high {
			high = s.donchianHighs[i]
		}
		if s.donchianLows[i] < low {
			low = s.donchianLows[i]
		}
	}
	return high, low, (high + low) / 2
}

// DonchianReady reports whether a full DonchianPeriod window has been seen.
func (s *IndicatorState) DonchianReady() bool {
	return len(s.donchianHighs) >= s.cfg.DonchianPeriod
}

// DonchianPrev returns the Donchian high/low/mid as they stood immediately
// before the most recent Update call — the P_prev channel that a breakout
// strategy must compare the new close against (spec §4.4), as opposed to
// Donchian()'s channel which already includes that same close.
func (s *IndicatorState) DonchianPrev() (high, low, mid float64) {
	if !s.donchianPrevReady {
		return 0, 0, 0
	}
	return s.donchianPrevHigh, s.donchianPrevLow, (s.donchianPrevHigh + s.donchianPrevLow) / 2
}

// DonchianPrevReady reports whether DonchianPrev reflects a full window.
func (s *IndicatorState) DonchianPrevReady() bool { return s.donchianPrevReady }

// EMASlopeDegrees returns the most recently computed adaptive EMA slope.
func (s *IndicatorState) EMASlopeDegrees() float64 { return s.lastSlopeDegrees }

// Bars returns the number of candles folded in so far.
func (s *IndicatorState) Bars() int { return s.bars }

// ATRWithFallback is the single, centrally-enforced implementation of the
// ATR-zero fallback contract (spec §4.1): every consumer that needs a stop
// distance must go through this helper rather than reading ATR() directly
// and re-deriving the guard.
func ATRWithFallback(atr, price, minATRValue, minStopDistancePct, defaultATRPct float64) float64 {
	if atr > minATRValue {
		return atr
	}
	floor := minStopDistancePct * price
	alt := defaultATRPct * price
	if alt > floor {
		return alt
	}
	return floor
}

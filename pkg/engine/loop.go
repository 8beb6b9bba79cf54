// Package engine wires IndicatorState, the regime classifier, the strategy
// dispatcher, the risk filter and the OMS into the per-candle pipeline
// (spec §4.11) and owns the process's concurrency/shutdown model (§5).
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/exchange"
	"github.com/solbot-labs/engine/pkg/indicator"
	"github.com/solbot-labs/engine/pkg/logger"
	"github.com/solbot-labs/engine/pkg/order"
	"github.com/solbot-labs/engine/pkg/regime"
	"github.com/solbot-labs/engine/pkg/risk"
	"github.com/solbot-labs/engine/pkg/strategy"
)

// PairConfig names one traded pair's timeframe and the per-strategy tuning
// that pair runs with. Every pair gets its own IndicatorState and Dispatcher
// (with its own Trend/Range/Emergency strategy instances), since those carry
// per-position state (pyramid counters, grid bounds); SystemMode, the risk
// filter and the OMS are shared process-wide (spec §3, §5).
type PairConfig struct {
	Pair       string
	Timeframe  string
	Indicator  indicator.Config
	Dispatcher strategy.DispatcherConfig
	Trend      strategy.TrendConfig
	Range      strategy.RangeConfig
}

// pairState is the per-(pair) pipeline state a TradingEngineLoop owns
// exclusively — IndicatorState is never touched by any other task (spec
// §5's shared-resource policy).
type pairState struct {
	cfg        PairConfig
	indicators *indicator.IndicatorState
	dispatcher *strategy.Dispatcher

	prevClose          float64 // previous candle's close, feeds Dispatcher's calm-tracking
	previousDailyClose float64 // prior UTC day's close, for the black-swan gap check
	dayAnchorClose     float64 // this UTC day's first candle close, promoted at rollover
	currentDay         int64   // days-since-epoch UTC of the last candle processed
}

// Engine is the TradingEngineLoop from spec §4.11: per completed candle it
// runs the fixed 8-step pipeline — update indicators, classify the regime,
// dispatch to a strategy, filter signals through risk limits, and hand
// surviving signals to the OMS — then returns immediately; fills reconcile
// on their own cadence via order.Watcher and the order feed.
type Engine struct {
	log        logger.Logger
	venue      core.Exchange
	controller *order.Controller
	book       *order.PositionBook
	mode       *core.SystemModeHandle
	classifier *regime.Classifier
	riskFilter *risk.Filter

	feed  *exchange.DataFeedSubscription
	queue *core.PriorityQueue

	pairs map[string]*pairState

	midnightMu      sync.Mutex
	midnightBalance float64
	midnightDay     int64

	backtest bool
}

// Config bundles everything NewEngine needs beyond the per-pair tunables.
type Config struct {
	Log        logger.Logger
	Venue      core.Exchange
	Controller *order.Controller
	Book       *order.PositionBook
	Mode       *core.SystemModeHandle
	Classifier *regime.Classifier
	RiskFilter *risk.Filter
	Backtest   bool
}

// NewEngine builds an Engine and one pairState per entry in pairs. balance
// is shared by every pair's Trend/Range strategy to seed risk_amount from
// the live account balance (spec §9's explicit-dependency rule — no
// strategy reads the account on its own).
func NewEngine(cfg Config, pairs []PairConfig) *Engine {
	e := &Engine{
		log:        cfg.Log,
		venue:      cfg.Venue,
		controller: cfg.Controller,
		book:       cfg.Book,
		mode:       cfg.Mode,
		classifier: cfg.Classifier,
		riskFilter: cfg.RiskFilter,
		feed:       exchange.NewDataFeed(cfg.Venue, cfg.Log),
		queue:      core.NewPriorityQueue(nil),
		pairs:      make(map[string]*pairState),
		backtest:   cfg.Backtest,
	}

	balance := func() float64 {
		acc, err := e.controller.Account()
		if err != nil {
			return 0
		}
		return acc.Balance
	}

	for _, pc := range pairs {
		trend := strategy.NewTrendStrategy(pc.Pair, pc.Trend, balance)
		rng := strategy.NewRangeStrategy(pc.Pair, pc.Range, balance)
		emergency := strategy.NewEmergencyStrategy(pc.Pair)
		dispatcher := strategy.NewDispatcher(pc.Dispatcher, cfg.Mode, trend, rng, emergency)

		e.pairs[pc.Pair] = &pairState{
			cfg:        pc,
			indicators: indicator.NewIndicatorState(pc.Indicator),
			dispatcher: dispatcher,
		}
		e.feed.Subscribe(pc.Pair, pc.Timeframe, e.onCandle, false)
	}

	return e
}

// onCandle is the DataFeed consumer: it only enqueues, per spec §5's
// suspension-point rule (only I/O may suspend; the pipeline itself never
// yields mid-candle).
func (e *Engine) onCandle(candle core.Candle) {
	e.queue.Push(candle)
}

// Run preloads warm-up history for every configured pair, connects the live
// (or replayed, for backtest) candle stream, and processes the queue until
// ctx is cancelled. It returns only after the queue-draining goroutine has
// exited.
func (e *Engine) Run(ctx context.Context) error {
	for pair, ps := range e.pairs {
		if err := e.preload(ctx, pair, ps.cfg.Timeframe); err != nil {
			return fmt.Errorf("engine: preload %s: %w", pair, err)
		}
	}

	e.feed.Start(e.backtest)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.drain(ctx)
	}()

	<-ctx.Done()
	<-done
	return nil
}

// preload replays CandlesByLimit's warm-up window directly through the
// pipeline (bypassing the queue, as these candles arrive already in order)
// before the live feed takes over.
func (e *Engine) preload(ctx context.Context, pair, timeframe string) error {
	ps := e.pairs[pair]
	candles, err := e.venue.CandlesByLimit(ctx, pair, timeframe, ps.cfg.Indicator.WarmupBars())
	if err != nil {
		return err
	}
	for _, candle := range candles {
		e.processCandle(candle)
	}
	return nil
}

// drain pops candles off the priority queue one at a time — preserving
// event-time order within a (pair, timeframe) stream while letting distinct
// pairs interleave freely (spec §5) — until ctx is cancelled.
func (e *Engine) drain(ctx context.Context) {
	popped := e.queue.PopLock()
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-popped:
			if !ok {
				return
			}
			e.processCandle(item.(core.Candle))
		}
	}
}

// processCandle runs the fixed 8-step pipeline (spec §4.11) for one candle.
// It never suspends on I/O itself: order placement is handed off to the
// Controller's own async PlacementTask.
func (e *Engine) processCandle(candle core.Candle) {
	ps, ok := e.pairs[candle.Pair]
	if !ok {
		return
	}

	// Step 1: roll the daily-close anchor on the first candle of a new UTC day.
	e.maybeRollDay(candle, ps)

	if !candle.Complete {
		return
	}

	// Step 2: update indicators. Idempotent on a repeated timestamp.
	ps.indicators.Update(candle)

	// Step 3: classify regime; the classifier itself never writes SystemMode,
	// but a black-swan reading latches EMERGENCY here before dispatch.
	regimeResult := e.classifier.Classify(ps.indicators, ps.previousDailyClose, candle.Close)
	if regimeResult.BlackSwan && e.mode.Mode() != core.ModeKillSwitch {
		_ = e.mode.Transition(core.ModeEmergency, true)
	}

	e.book.MarkPrice(candle.Pair, e.venue.ID(), candle.Close)
	position, hasPosition := e.book.Position(candle.Pair, e.venue.ID())
	var positionPtr *core.Position
	if hasPosition {
		positionPtr = &position
	}

	// Step 4: dispatcher picks the active strategy for this tick.
	tickCtx := strategy.TickContext{
		Candle:     candle,
		PrevClose:  ps.prevClose,
		Indicators: ps.indicators,
		Regime:     regimeResult,
		Position:   positionPtr,
		SizeFactor: 1.0,
	}
	active, sizeFactor := ps.dispatcher.Select(tickCtx)
	ps.prevClose = candle.Close

	if active == nil {
		return
	}
	tickCtx.SizeFactor = sizeFactor

	// Step 5: run the strategy.
	output := active.OnTick(tickCtx)
	e.applyStopDiagnostics(candle.Pair, output.Diagnostics)

	if len(output.Signals) == 0 {
		return
	}

	// Step 6: risk filter.
	acc, err := e.controller.Account()
	if err != nil {
		e.log.WithError(err).Error("engine: fetch account for risk filter")
		return
	}
	acc.MidnightBalance = e.snapshotMidnightBalance()

	inputs := risk.Inputs{
		CurrentMarketPrice:    candle.Close,
		ATR:                   ps.indicators.ATR(),
		Account:               acc,
		OpenNotionalExcluding: e.openNotionalExcluding(candle.Pair),
	}
	signals := e.riskFilter.Apply(output.Signals, inputs)

	// Step 7/8: hand accepted signals to the OMS and return; placement and
	// fill reconciliation both happen off this goroutine.
	for _, sig := range signals {
		e.stagePendingStop(sig, output.Diagnostics)
		if _, err := e.controller.CreateOrder(sig); err != nil {
			e.log.WithError(err).Errorf("engine: create order %s", sig.Pair)
		}
	}
}

// applyStopDiagnostics writes a strategy's trailing-stop update (if any)
// straight onto the live position. The "initial_stop" feature is handled
// separately in stagePendingStop, since it targets a position that doesn't
// exist yet.
func (e *Engine) applyStopDiagnostics(pair string, diag core.Diagnostics) {
	if stop, ok := diag.Features["trailing_stop"]; ok {
		e.book.SetStop(pair, e.venue.ID(), stop)
	}
}

// stagePendingStop records an ENTRY signal's initial stop so PositionBook
// can attach it the moment the fill actually opens the position (spec
// §4.4: the stop is computed on the entry bar, before the async fill
// exists).
func (e *Engine) stagePendingStop(sig core.Signal, diag core.Diagnostics) {
	if sig.Purpose != core.PurposeEntry {
		return
	}
	if stop, ok := diag.Features["initial_stop"]; ok {
		e.book.SetPendingStop(sig.Pair, e.venue.ID(), stop)
	}
}

// openNotionalExcluding sums the notional of every currently open position
// across the account, for the risk filter's position-size cap (§4.6); the
// signal under review is never itself in the book yet, so there is nothing
// to subtract.
func (e *Engine) openNotionalExcluding(pair string) float64 {
	var total float64
	for _, p := range e.book.All() {
		total += math.Abs(p.Amount * p.CurrentPrice)
	}
	return total
}

// maybeRollDay promotes the running daily-open close to previousDailyClose
// on the first candle of a new UTC day, for the classifier's black-swan
// gap check (spec §4.2). midnight_balance itself is captured independently
// by MidnightTimerTask (spec §5), not here: a pair on a slow timeframe may
// not see its next candle for hours after the actual UTC rollover.
func (e *Engine) maybeRollDay(candle core.Candle, ps *pairState) {
	day := daysSinceEpoch(candle.Time)
	if ps.currentDay == 0 {
		ps.currentDay = day
		ps.dayAnchorClose = candle.Close
		return
	}
	if day == ps.currentDay {
		return
	}
	ps.previousDailyClose = ps.dayAnchorClose
	ps.dayAnchorClose = candle.Close
	ps.currentDay = day
}

func (e *Engine) captureMidnightBalance(at time.Time) {
	equity := e.currentEquity()

	e.midnightMu.Lock()
	e.midnightBalance = equity
	e.midnightDay = daysSinceEpoch(at)
	e.midnightMu.Unlock()
}

func (e *Engine) snapshotMidnightBalance() float64 {
	e.midnightMu.Lock()
	defer e.midnightMu.Unlock()
	return e.midnightBalance
}

// MidnightBalance reports the last captured midnight_balance and the UTC
// day (days since epoch) it was captured on, for status reporting.
func (e *Engine) MidnightBalance() (balance float64, day int64) {
	e.midnightMu.Lock()
	defer e.midnightMu.Unlock()
	return e.midnightBalance, e.midnightDay
}

func (e *Engine) currentEquity() float64 {
	acc, err := e.controller.Account()
	if err != nil {
		e.log.WithError(err).Error("engine: fetch account for midnight rollover")
		return 0
	}
	return e.book.CurrentEquity(acc.Balance)
}

func daysSinceEpoch(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

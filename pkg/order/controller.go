package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/logger"
)

// Status is the Controller's own run state, distinct from any single
// Order's OrderStatusType.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Controller is the OMS: the single writer for the Order table and
// PositionBook (spec §5, OmsTask). Grounded on order/controller.go's shape
// (mutex-guarded maps, Results TradeSummary map, notify/notifyError
// pattern), generalized to the OPEN→PLACED→PARTIALLY_FILLED→FILLED/
// CANCELED/REJECTED machine (§4.7) and to fill-driven (not poll-only)
// updates.
type Controller struct {
	ctx      context.Context
	exchange core.Exchange
	storage  core.OrderStorage
	log      logger.Logger
	notifier core.Notifier
	book     *PositionBook
	sizing   *Sizing
	feed     *Feed

	mu      sync.Mutex
	status  Status
	Results map[string]*TradeSummary

	// seenFills dedups fills by (exchange_order_id, exchange_trade_id),
	// spec §4.7's fill-ingestion contract.
	seenFills map[string]struct{}

	maxRetries  int
	backoffMin  time.Duration
	backoffMax  time.Duration
	placementWG sync.WaitGroup // in-flight PlacementTasks, for graceful shutdown
	accepting   bool
}

// NewController builds a Controller. Retries default to spec §4.7's 7
// retries over [1,2,4,8,16,32,64]s (min 1s, doubling, capped at 64s).
func NewController(ctx context.Context, exch core.Exchange, storage core.OrderStorage, log logger.Logger, feed *Feed, book *PositionBook, sizing *Sizing) *Controller {
	return &Controller{
		ctx:        ctx,
		exchange:   exch,
		storage:    storage,
		log:        log,
		feed:       feed,
		book:       book,
		sizing:     sizing,
		Results:    make(map[string]*TradeSummary),
		seenFills:  make(map[string]struct{}),
		maxRetries: 7,
		backoffMin: time.Second,
		backoffMax: 64 * time.Second,
		status:     StatusStopped,
		accepting:  true,
	}
}

// SetNotifier configures the best-effort notification sink.
func (c *Controller) SetNotifier(n core.Notifier) { c.notifier = n }

// Start marks the controller ready to accept new signals and launches the
// order feed's per-pair fan-out goroutines, so subscribers registered via
// WatchPair/Subscribe before Start (e.g. OCOManager) begin receiving events.
func (c *Controller) Start() {
	c.mu.Lock()
	c.status = StatusRunning
	c.accepting = true
	c.mu.Unlock()
	c.feed.Start()
	c.log.Info("order controller started")
}

// Stop pauses order acceptance without waiting for in-flight placements;
// unlike StopAccepting (the shutdown path) it is meant to be reversible via
// Start, e.g. from an operator command.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.accepting = false
	c.status = StatusStopped
	c.mu.Unlock()
	c.log.Info("order controller stopped")
}

// Status reports the controller's current run state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Account returns the current account snapshot from the exchange.
func (c *Controller) Account() (core.Account, error) {
	return c.exchange.Account(c.ctx)
}

// LastQuote returns the most recent traded price for pair.
func (c *Controller) LastQuote(pair string) (float64, error) {
	return c.exchange.LastQuote(c.ctx, pair)
}

// Position returns the exchange-reported free asset and quote balances for
// pair, as distinct from PositionBook's locally-tracked strategy position.
func (c *Controller) Position(pair string) (asset, quote float64, err error) {
	return c.exchange.Position(c.ctx, pair)
}

// StopAccepting stops admitting new CreateOrder calls without touching
// in-flight placements — the first step of graceful shutdown (spec §5).
func (c *Controller) StopAccepting() {
	c.mu.Lock()
	c.accepting = false
	c.status = StatusStopped
	c.mu.Unlock()
}

// WaitInFlight blocks until every in-flight PlacementTask completes or the
// deadline elapses, whichever comes first. Returns true if it drained
// cleanly before the deadline.
func (c *Controller) WaitInFlight(deadline time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.placementWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(deadline):
		return false
	}
}

// CreateOrder synchronously builds and persists an Order in OPEN status
// with a stable system ID (spec §4.7), then places it asynchronously.
// Signals that quantise below the venue minimum are silently rejected
// (nil Order, nil error): nothing to track, nothing placed.
func (c *Controller) CreateOrder(sig core.Signal) (*core.Order, error) {
	c.mu.Lock()
	accepting := c.accepting
	c.mu.Unlock()
	if !accepting {
		return nil, errors.New("order controller: not accepting new signals (shutting down)")
	}

	amount, ok, err := c.sizing.QuantiseAmount(sig.Pair, sig.Amount)
	if err != nil {
		return nil, fmt.Errorf("order controller: sizing %s: %w", sig.Pair, err)
	}
	if !ok {
		c.log.Infof("order rejected below venue minimum: %s %s %s amount=%f", sig.Pair, sig.Side, sig.Purpose, sig.Amount)
		return nil, nil
	}

	var price float64
	switch sig.Type {
	case core.OrderTypeLimit, core.OrderTypeStopLimit, core.OrderTypeLimitMaker:
		price, err = c.sizing.Price(sig.Pair, sig.Price)
		if err != nil {
			return nil, fmt.Errorf("order controller: price sizing %s: %w", sig.Pair, err)
		}
	default:
		// Market order price contract (spec §4.7): price is omitted
		// entirely, never sent to the venue as a zero value.
	}

	now := time.Now().UTC()
	order := &core.Order{
		Exchange:    c.exchange.ID(),
		Pair:        sig.Pair,
		Side:        sig.Side,
		Type:        sig.Type,
		Status:      core.OrderStatusOpen,
		Price:       price,
		StopPrice:   sig.StopPrice,
		Amount:      amount,
		Purpose:     sig.Purpose,
		StrategyTag: sig.StrategyTag,
		ReduceOnly:  sig.ReduceOnly,
		PostOnly:    sig.PostOnly,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := c.storage.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("order controller: persist %s: %w", sig.Pair, err)
	}

	c.placementWG.Add(1)
	go c.placeAsync(order)

	return order, nil
}

// placeAsync issues the exchange call and retries with exponential backoff
// on retryable errors, up to maxRetries (spec §4.7). A short-lived
// PlacementTask; its eventual state transition on order IS its report back
// to the Controller, consistent with this module's single-writer rule.
func (c *Controller) placeAsync(order *core.Order) {
	defer c.placementWG.Done()

	b := &backoff.Backoff{Min: c.backoffMin, Max: c.backoffMax, Factor: 2, Jitter: false}

	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		exchangeID, err := c.exchange.PlaceOrder(ctx, *order)
		cancel()

		if err == nil {
			c.mu.Lock()
			order.ExchangeID = exchangeID
			order.Status = core.OrderStatusPlaced
			order.UpdatedAt = time.Now().UTC()
			c.mu.Unlock()
			_ = c.storage.UpdateOrder(order)
			c.feed.Publish(*order, true)
			c.log.Infof("[ORDER PLACED] %s", order)
			return
		}

		var placementErr *core.PlacementError
		retryable := errors.As(err, &placementErr) && placementErr.Retryable
		if !retryable || attempt >= c.maxRetries {
			c.mu.Lock()
			order.Status = core.OrderStatusRejected
			order.RetryCount = attempt
			order.UpdatedAt = time.Now().UTC()
			c.mu.Unlock()
			_ = c.storage.UpdateOrder(order)
			c.feed.Publish(*order, false)
			c.notifyError(fmt.Errorf("order rejected after %d attempts: %w", attempt, err))
			return
		}

		order.RetryCount = attempt + 1
		time.Sleep(b.Duration())
	}
}

// IngestFill applies a Fill to its order and the PositionBook, deduplicating
// by (exchange_order_id, exchange_trade_id) per spec §4.7. Returns false if
// the fill was a duplicate and was ignored.
func (c *Controller) IngestFill(order *core.Order, fill core.Fill) bool {
	c.mu.Lock()
	dedupKey := fill.ExchangeID + "|" + fill.ExchangeTradeID
	if _, seen := c.seenFills[dedupKey]; seen {
		c.mu.Unlock()
		return false
	}
	c.seenFills[dedupKey] = struct{}{}

	totalBefore := order.FilledAmount
	order.AvgFillPrice = weightedAverage(order.AvgFillPrice, totalBefore, fill.Price, fill.Amount)
	order.FilledAmount += fill.Amount
	if order.FilledAmount >= order.Amount {
		order.FilledAmount = order.Amount
		order.Status = core.OrderStatusFilled
	} else {
		order.Status = core.OrderStatusPartiallyFilled
	}
	order.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()

	if err := c.storage.UpdateOrder(order); err != nil {
		c.notifyError(err)
	}

	c.mu.Lock()
	summary, ok := c.Results[order.Pair]
	if !ok {
		summary = &TradeSummary{Pair: order.Pair}
		c.Results[order.Pair] = summary
	}
	summary.Volume += fill.Price * fill.Amount
	c.mu.Unlock()

	result, _ := c.book.ApplyFill(*order, fill)
	if result != nil {
		c.recordTradeResult(order.Pair, result)
		c.notifyTradeResult(order.Pair, result)
	}

	c.feed.Publish(*order, false)
	return true
}

// Cancel cancels an order at the venue and marks it CANCELED, preserving
// filled_amount (spec §4.7's PLACED/PARTIALLY_FILLED -> CANCELED edge).
func (c *Controller) Cancel(order *core.Order) error {
	if err := c.exchange.CancelOrder(c.ctx, order.Pair, order.ExchangeID); err != nil {
		return fmt.Errorf("order controller: cancel %s: %w", order.ExchangeID, err)
	}
	c.mu.Lock()
	order.Status = core.OrderStatusCanceled
	order.UpdatedAt = time.Now().UTC()
	c.mu.Unlock()
	if err := c.storage.UpdateOrder(order); err != nil {
		c.notifyError(err)
		return err
	}
	c.feed.Publish(*order, false)
	return nil
}

// CloseAllPositions emits a MARKET reduce-only order against every open
// position (spec §4.7's close-all contract), used by the shutdown sequence
// when configured to flatten on exit.
func (c *Controller) CloseAllPositions() ([]*core.Order, error) {
	var orders []*core.Order
	for _, pos := range c.book.All() {
		side := core.SideTypeSell
		if pos.Side == core.SideTypeSell {
			side = core.SideTypeBuy
		}
		sig := core.Signal{
			Pair: pos.Pair, Side: side, Type: core.OrderTypeMarket,
			Amount: pos.Amount, Purpose: core.PurposeEmergencyExit,
			StrategyTag: "shutdown", ReduceOnly: true,
		}
		order, err := c.CreateOrder(sig)
		if err != nil {
			return orders, err
		}
		if order != nil {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (c *Controller) recordTradeResult(pair string, result *core.TradeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary, ok := c.Results[pair]
	if !ok {
		summary = &TradeSummary{Pair: pair}
		c.Results[pair] = summary
	}

	summary.record(*result)
}

func (c *Controller) notifyTradeResult(pair string, result *core.TradeResult) {
	c.notify(fmt.Sprintf("[TRADE CLOSED] %s %s profit=%.4f (%.2f%%)", pair, result.Side, result.ProfitValue, result.ProfitPercent*100))
}

func (c *Controller) notify(message string) {
	c.log.Info(message)
	if c.notifier != nil {
		c.notifier.Notify(message)
	}
}

func (c *Controller) notifyError(err error) {
	c.log.Error(err)
	if c.notifier != nil {
		c.notifier.OnError(err)
	}
}

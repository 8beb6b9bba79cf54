// Package paper implements a simulated core.Exchange for backtests and dry
// runs: market data is read from any core.Feeder (typically a CSVFeed) and
// every order is filled against that feed's candles instead of a real venue.
package paper

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/exchange"
)

var (
	ErrInsufficientFunds = errors.New("paper: insufficient funds")
	ErrInvalidQuantity   = errors.New("paper: invalid quantity")
	ErrOrderNotFound     = errors.New("paper: order not found")
)

// AssetValue is one historical mark of a holding's value, for equity curves.
type AssetValue struct {
	Time  time.Time
	Value float64
}

// position tracks one pair's held amount and weighted-average entry price.
type position struct {
	Amount   float64
	AvgEntry float64
}

// Wallet is a simulated core.Exchange: a single quote-currency cash balance,
// per-pair positions, and a pending-order book resolved candle by candle.
// Grounded on the teacher's PaperWallet (internal/exchange/paper_wallet.go),
// rewired against this repo's flat core.Account and ctx-first core.Broker.
type Wallet struct {
	mu sync.RWMutex

	ctx        context.Context
	quoteAsset string
	feeder     core.Feeder
	makerFee   float64
	takerFee   float64
	slippage   float64 // fractional, applied against MARKET fills only

	cash        float64 // free, unreserved quote balance
	lockedCash  float64 // quote reserved against pending BUY orders
	lockedBase  map[string]float64 // base reserved against pending SELL orders, per pair
	initialCash float64

	positions    map[string]*position
	orders       map[string]*core.Order // keyed by ExchangeID
	ocoSiblings  map[string]string      // ExchangeID -> sibling ExchangeID
	nextOrderSeq int64

	lastCandle  map[string]core.Candle
	firstCandle map[string]core.Candle
	volume      map[string]float64

	assetValues  map[string][]AssetValue
	equityValues []AssetValue
}

// WalletOption configures a Wallet at construction.
type WalletOption func(*Wallet)

// WithInitialBalance seeds the wallet's quote-currency cash balance.
func WithInitialBalance(amount float64) WalletOption {
	return func(w *Wallet) { w.cash = amount }
}

// WithFee sets the maker/taker fee rates applied to every fill.
func WithFee(maker, taker float64) WalletOption {
	return func(w *Wallet) { w.makerFee, w.takerFee = maker, taker }
}

// WithSlippage sets the fractional price impact applied to MARKET fills
// (spec §6's --slippage): buys fill above the last close, sells below it.
// Resting LIMIT/STOP/STOP_LIMIT orders already fill at their own trigger
// price and are unaffected.
func WithSlippage(fraction float64) WalletOption {
	return func(w *Wallet) { w.slippage = fraction }
}

// WithFeeder sets the market-data source backtests replay orders against.
func WithFeeder(feeder core.Feeder) WalletOption {
	return func(w *Wallet) { w.feeder = feeder }
}

// NewWallet builds a Wallet quoted in quoteAsset (e.g. "USDT").
func NewWallet(ctx context.Context, quoteAsset string, options ...WalletOption) *Wallet {
	wallet := &Wallet{
		ctx:         ctx,
		quoteAsset:  quoteAsset,
		lockedBase:  make(map[string]float64),
		positions:   make(map[string]*position),
		orders:      make(map[string]*core.Order),
		ocoSiblings: make(map[string]string),
		lastCandle:  make(map[string]core.Candle),
		firstCandle: make(map[string]core.Candle),
		volume:      make(map[string]float64),
		assetValues: make(map[string][]AssetValue),
	}

	for _, option := range options {
		option(wallet)
	}

	wallet.initialCash = wallet.cash
	return wallet
}

func (w *Wallet) nextExchangeID() string {
	w.nextOrderSeq++
	return fmt.Sprintf("paper-%d", w.nextOrderSeq)
}

func (w *Wallet) ID() string        { return "paper" }
func (w *Wallet) SupportsOCO() bool { return true }

// AssetsInfo returns permissive lot/tick bounds: a paper backtest isn't
// constrained by a real venue's filters.
func (w *Wallet) AssetsInfo(pair string) (core.AssetInfo, error) {
	asset, quote := exchange.SplitAssetQuote(pair)
	return core.AssetInfo{
		BaseAsset:          asset,
		QuoteAsset:         quote,
		MaxPrice:           math.MaxFloat64,
		MaxQuantity:        math.MaxFloat64,
		StepSize:           0.00000001,
		TickSize:           0.00000001,
		QuotePrecision:     8,
		BaseAssetPrecision: 8,
	}, nil
}

func (w *Wallet) LastQuote(ctx context.Context, pair string) (float64, error) {
	return w.feeder.LastQuote(ctx, pair)
}

func (w *Wallet) CandlesByPeriod(ctx context.Context, pair, timeframe string, start, end time.Time) ([]core.Candle, error) {
	return w.feeder.CandlesByPeriod(ctx, pair, timeframe, start, end)
}

func (w *Wallet) CandlesByLimit(ctx context.Context, pair, timeframe string, limit int) ([]core.Candle, error) {
	return w.feeder.CandlesByLimit(ctx, pair, timeframe, limit)
}

func (w *Wallet) CandlesSubscription(ctx context.Context, pair, timeframe string) (chan core.Candle, chan error) {
	return w.feeder.CandlesSubscription(ctx, pair, timeframe)
}

// Account reports cash as Available and cash plus mark-to-market positions
// as Balance, matching the flat, single-quote-currency core.Account model.
func (w *Wallet) Account(ctx context.Context) (core.Account, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	equity := w.cash + w.lockedCash
	positions := make([]core.Position, 0, len(w.positions))
	for pair, pos := range w.positions {
		held := pos.Amount + w.lockedBase[pair]
		if held == 0 {
			continue
		}
		last := w.lastCandle[pair]
		equity += held * last.Close
		positions = append(positions, core.Position{
			Pair:         pair,
			Exchange:     w.ID(),
			Side:         core.SideTypeBuy,
			Amount:       held,
			AvgEntry:     pos.AvgEntry,
			CurrentPrice: last.Close,
		})
	}

	return core.Account{
		Balance:   equity,
		Available: w.cash,
		Positions: positions,
	}, nil
}

func (w *Wallet) Position(ctx context.Context, pair string) (asset, quote float64, err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	pos, ok := w.positions[pair]
	if !ok {
		return 0, w.cash, nil
	}
	return pos.Amount + w.lockedBase[pair], w.cash, nil
}

func (w *Wallet) FetchOrder(ctx context.Context, pair, exchangeID string) (core.Order, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	order, ok := w.orders[exchangeID]
	if !ok {
		return core.Order{}, ErrOrderNotFound
	}
	return *order, nil
}

func (w *Wallet) FetchOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	open := make([]core.Order, 0)
	for _, order := range w.orders {
		if order.Pair == pair && order.IsActive() {
			open = append(open, *order)
		}
	}
	return open, nil
}

// PlaceOrder fills MARKET orders immediately against the last known candle
// and queues LIMIT/STOP/STOP_LIMIT/LIMIT_MAKER orders for OnCandle to
// resolve once the market trades through their trigger price.
func (w *Wallet) PlaceOrder(ctx context.Context, order core.Order) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if order.Amount <= 0 {
		return "", &core.PlacementError{Err: ErrInvalidQuantity, Retryable: false, Code: "INVALID_QUANTITY"}
	}

	last, ok := w.lastCandle[order.Pair]
	if !ok {
		return "", &core.PlacementError{Err: fmt.Errorf("paper: no market data yet for %s", order.Pair), Retryable: true, Code: "NO_MARKET_DATA"}
	}

	exchangeID := w.nextExchangeID()
	stored := order
	stored.ExchangeID = exchangeID
	stored.Exchange = w.ID()
	stored.Status = core.OrderStatusPlaced

	if order.Type == core.OrderTypeMarket {
		fillPrice := last.Close
		if order.IsBuy() {
			fillPrice *= 1 + w.slippage
		} else {
			fillPrice *= 1 - w.slippage
		}
		if err := w.applyFill(&stored, order.Amount, fillPrice, w.takerFee); err != nil {
			return "", &core.PlacementError{Err: err, Retryable: false, Code: "INSUFFICIENT_FUNDS"}
		}
		stored.Status = core.OrderStatusFilled
		stored.FilledAmount = order.Amount
		stored.AvgFillPrice = fillPrice
	} else {
		if err := w.reserveFunds(&stored); err != nil {
			return "", &core.PlacementError{Err: err, Retryable: false, Code: "INSUFFICIENT_FUNDS"}
		}
	}

	w.orders[exchangeID] = &stored
	return exchangeID, nil
}

func (w *Wallet) CancelOrder(ctx context.Context, pair, exchangeID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	order, ok := w.orders[exchangeID]
	if !ok {
		return ErrOrderNotFound
	}
	if order.IsTerminal() {
		return nil
	}

	w.releaseReservedFunds(order)
	order.Status = core.OrderStatusCanceled
	order.UpdatedAt = time.Now().UTC()
	delete(w.ocoSiblings, exchangeID)
	return nil
}

// CreateOrderOCO queues a LIMIT take-profit leg and a STOP_LIMIT stop-loss
// leg, linked so OnCandle cancels whichever survives once the other fills.
func (w *Wallet) CreateOrderOCO(ctx context.Context, side core.SideType, pair string,
	amount, price, stop, stopLimit float64) ([]core.Order, error) {

	limitID, err := w.PlaceOrder(ctx, core.Order{
		Pair: pair, Side: side, Type: core.OrderTypeLimit,
		Price: price, Amount: amount, Purpose: core.PurposeExit, ReduceOnly: true,
	})
	if err != nil {
		return nil, err
	}

	stopID, err := w.PlaceOrder(ctx, core.Order{
		Pair: pair, Side: side, Type: core.OrderTypeStopLimit,
		Price: stopLimit, StopPrice: stop, Amount: amount, Purpose: core.PurposeExit, ReduceOnly: true,
	})
	if err != nil {
		_ = w.CancelOrder(ctx, pair, limitID)
		return nil, err
	}

	w.mu.Lock()
	w.ocoSiblings[limitID] = stopID
	w.ocoSiblings[stopID] = limitID
	limitOrder := *w.orders[limitID]
	stopOrder := *w.orders[stopID]
	w.mu.Unlock()

	return []core.Order{limitOrder, stopOrder}, nil
}

// reserveFunds moves the cash (for a BUY) or base asset (for a SELL) a
// pending LIMIT/STOP order would need, out of the free pool and into the
// locked pool, so a second pending order can't double-spend the same funds.
func (w *Wallet) reserveFunds(order *core.Order) error {
	if order.IsBuy() {
		cost := order.Amount * order.Price
		if w.cash < cost {
			return ErrInsufficientFunds
		}
		w.cash -= cost
		w.lockedCash += cost
		return nil
	}

	pos := w.positions[order.Pair]
	if pos == nil || pos.Amount < order.Amount {
		return ErrInsufficientFunds
	}
	pos.Amount -= order.Amount
	w.lockedBase[order.Pair] += order.Amount
	return nil
}

// releaseReservedFunds reverses reserveFunds for an order that was canceled
// or whose OCO sibling filled first, before it ever settled.
func (w *Wallet) releaseReservedFunds(order *core.Order) {
	if order.IsBuy() {
		cost := order.Amount * order.Price
		w.lockedCash -= cost
		w.cash += cost
		return
	}

	w.lockedBase[order.Pair] -= order.Amount
	pos := w.positions[order.Pair]
	if pos == nil {
		pos = &position{}
		w.positions[order.Pair] = pos
	}
	pos.Amount += order.Amount
}

// applyFill updates cash/position/volume for an immediate (MARKET) fill,
// which was never reserved ahead of time.
func (w *Wallet) applyFill(order *core.Order, amount, price, feeRate float64) error {
	pos, ok := w.positions[order.Pair]
	if !ok {
		pos = &position{}
		w.positions[order.Pair] = pos
	}

	notional := amount * price
	fee := notional * feeRate

	if order.IsBuy() {
		cost := notional + fee
		if w.cash < cost {
			return ErrInsufficientFunds
		}
		w.cash -= cost
		newAmount := pos.Amount + amount
		if newAmount > 0 {
			pos.AvgEntry = (pos.AvgEntry*pos.Amount + price*amount) / newAmount
		}
		pos.Amount = newAmount
	} else {
		if pos.Amount < amount {
			return ErrInsufficientFunds
		}
		pos.Amount -= amount
		if pos.Amount <= 0 {
			pos.Amount = 0
			pos.AvgEntry = 0
		}
		w.cash += notional - fee
	}

	w.volume[order.Pair] += notional
	return nil
}

// settlePendingFill resolves a LIMIT/STOP order that was already reserved by
// reserveFunds at order placement time: it releases the reservation and
// applies the economic effect of the fill at the actual trigger price.
func (w *Wallet) settlePendingFill(order *core.Order, fillPrice float64) {
	pos, ok := w.positions[order.Pair]
	if !ok {
		pos = &position{}
		w.positions[order.Pair] = pos
	}

	notional := order.Amount * fillPrice
	fee := notional * w.makerFee

	if order.IsBuy() {
		w.lockedCash -= order.Amount * order.Price
		newAmount := pos.Amount + order.Amount
		if newAmount > 0 {
			pos.AvgEntry = (pos.AvgEntry*pos.Amount + fillPrice*order.Amount) / newAmount
		}
		pos.Amount = newAmount
		w.cash -= fee
	} else {
		w.lockedBase[order.Pair] -= order.Amount
		w.cash += notional - fee
	}

	w.volume[order.Pair] += notional
}

// OnCandle advances the simulated market by one candle: resolves pending
// LIMIT/STOP orders that the candle's range would have triggered on a real
// venue, cancels the OCO sibling of whichever leg fills, and records the
// portfolio's mark-to-market value.
func (w *Wallet) OnCandle(candle core.Candle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastCandle[candle.Pair] = candle
	if _, ok := w.firstCandle[candle.Pair]; !ok {
		w.firstCandle[candle.Pair] = candle
	}

	for exchangeID, order := range w.orders {
		if order.Pair != candle.Pair || !order.IsActive() {
			continue
		}

		fillPrice, triggered := w.resolveTrigger(order, candle)
		if !triggered {
			continue
		}

		w.settlePendingFill(order, fillPrice)
		order.Status = core.OrderStatusFilled
		order.FilledAmount = order.Amount
		order.AvgFillPrice = fillPrice
		order.UpdatedAt = candle.Time

		if siblingID, ok := w.ocoSiblings[exchangeID]; ok {
			if sibling, ok := w.orders[siblingID]; ok && sibling.IsActive() {
				w.releaseReservedFunds(sibling)
				sibling.Status = core.OrderStatusCanceled
				sibling.UpdatedAt = candle.Time
			}
			delete(w.ocoSiblings, exchangeID)
			delete(w.ocoSiblings, siblingID)
		}
	}

	if candle.Complete {
		w.recordPortfolioValue(candle)
	}
}

func (w *Wallet) resolveTrigger(order *core.Order, candle core.Candle) (fillPrice float64, triggered bool) {
	switch order.Type {
	case core.OrderTypeLimit, core.OrderTypeLimitMaker:
		if order.IsBuy() && candle.Low <= order.Price {
			return order.Price, true
		}
		if order.IsSell() && candle.High >= order.Price {
			return order.Price, true
		}
	case core.OrderTypeStop, core.OrderTypeStopLimit:
		if order.IsSell() && candle.Low <= order.StopPrice {
			return order.Price, true
		}
		if order.IsBuy() && candle.High >= order.StopPrice {
			return order.Price, true
		}
	}
	return 0, false
}

func (w *Wallet) recordPortfolioValue(candle core.Candle) {
	var total float64
	for pair, pos := range w.positions {
		last := w.lastCandle[pair]
		value := (pos.Amount + w.lockedBase[pair]) * last.Close
		total += value
		w.assetValues[pair] = append(w.assetValues[pair], AssetValue{Time: candle.Time, Value: value})
	}
	w.equityValues = append(w.equityValues, AssetValue{Time: candle.Time, Value: total + w.cash + w.lockedCash})
}

// EquityValues returns the recorded mark-to-market equity curve.
func (w *Wallet) EquityValues() []AssetValue {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.equityValues
}

// AssetValues returns the recorded mark-to-market curve for one pair.
func (w *Wallet) AssetValues(pair string) []AssetValue {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.assetValues[pair]
}

// MaxDrawdown returns the largest peak-to-trough equity decline observed so
// far, as a negative fraction, with the window it occurred in.
func (w *Wallet) MaxDrawdown() (float64, time.Time, time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.equityValues) < 1 {
		return 0, time.Time{}, time.Time{}
	}

	peak := w.equityValues[0].Value
	peakTime := w.equityValues[0].Time
	worst := 0.0
	var worstStart, worstEnd time.Time

	for _, point := range w.equityValues {
		if point.Value > peak {
			peak = point.Value
			peakTime = point.Time
		}
		if peak <= 0 {
			continue
		}
		drawdown := (point.Value - peak) / peak
		if drawdown < worst {
			worst = drawdown
			worstStart = peakTime
			worstEnd = point.Time
		}
	}

	return worst, worstStart, worstEnd
}

// Summary prints a human-readable backtest report, grounded on the teacher's
// PaperWallet.Summary.
func (w *Wallet) Summary() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var total, marketChange, volume float64
	report := "----- FINAL WALLET -----\n"

	for pair, last := range w.lastCandle {
		pos, ok := w.positions[pair]
		held := w.lockedBase[pair]
		if ok {
			held += pos.Amount
		}
		if held == 0 {
			continue
		}
		value := held * last.Close
		total += value

		first := w.firstCandle[pair]
		if first.Close != 0 {
			marketChange += (last.Close - first.Close) / first.Close
		}

		asset, quote := exchange.SplitAssetQuote(pair)
		report += fmt.Sprintf("%.8f %s = %.4f %s\n", held, asset, value, quote)
	}

	avgMarketChange := 0.0
	if len(w.lastCandle) > 0 {
		avgMarketChange = marketChange / float64(len(w.lastCandle))
	}

	cash := w.cash + w.lockedCash
	profit := total + cash - w.initialCash
	maxDrawdown, _, _ := w.MaxDrawdown()

	report += fmt.Sprintf("%.4f %s\n\n", cash, w.quoteAsset)
	report += "----- RETURNS -----\n"
	report += fmt.Sprintf("START PORTFOLIO     = %.2f %s\n", w.initialCash, w.quoteAsset)
	report += fmt.Sprintf("FINAL PORTFOLIO     = %.2f %s\n", total+cash, w.quoteAsset)
	report += fmt.Sprintf("GROSS PROFIT        = %.2f %s (%.2f%%)\n", profit, w.quoteAsset, safeRatio(profit, w.initialCash)*100)
	report += fmt.Sprintf("MARKET CHANGE (B&H) = %.2f%%\n\n", avgMarketChange*100)
	report += "------ RISK -------\n"
	report += fmt.Sprintf("MAX DRAWDOWN = %.2f%%\n\n", maxDrawdown*100)
	report += "------ VOLUME -----\n"
	for pair, vol := range w.volume {
		volume += vol
		report += fmt.Sprintf("%s = %.2f %s\n", pair, vol, w.quoteAsset)
	}
	report += fmt.Sprintf("TOTAL = %.2f %s\n", volume, w.quoteAsset)
	report += "-------------------\n"

	return report
}

func safeRatio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

var _ core.Exchange = (*Wallet)(nil)

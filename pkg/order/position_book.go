package order

import (
	"math"
	"sync"

	"github.com/solbot-labs/engine/pkg/core"
)

// positionKey identifies the one logical position per (symbol, exchange)
// that spec §4.8 allows.
type positionKey struct {
	pair     string
	exchange string
}

// PositionBook is the single writer for every core.Position (spec §5's
// shared-resource policy: OmsTask owns it, everyone else reads snapshots).
// Grounded on order/position.go's Position.Update/calculateWeightedAverage,
// generalized to the multi-(symbol,exchange) case and to the spec's
// explicit-zero-intermediate flip rule (§9a).
type PositionBook struct {
	mu        sync.RWMutex
	positions map[positionKey]*core.Position

	// pendingStops holds an initial stop distance computed by a strategy at
	// ENTRY signal time, to be attached the moment the fill actually opens
	// the position (spec §4.4: the stop is derived from the entry bar, but
	// the position doesn't exist until the asynchronous fill arrives).
	pendingStops map[positionKey]float64
}

// NewPositionBook builds an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions:    make(map[positionKey]*core.Position),
		pendingStops: make(map[positionKey]float64),
	}
}

// SetPendingStop records the stop price a strategy wants attached to the
// next position opened on (pair, exchange) from flat. A later call
// overwrites an earlier one, and ApplyFill consumes (and clears) it.
func (b *PositionBook) SetPendingStop(pair, exchange string, stopPrice float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pendingStops[positionKey{pair, exchange}] = stopPrice
}

// SetStop updates the trailing stop on an already-open position. A no-op if
// the position is already flat (the strategy's own view may be one tick
// stale relative to a fill that just closed it).
func (b *PositionBook) SetStop(pair, exchange string, stopPrice float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[positionKey{pair, exchange}]; ok {
		p.StopPrice = stopPrice
		p.HasStop = true
	}
}

// Position returns a snapshot of the position for (pair, exchange), or the
// zero value and false if flat.
func (b *PositionBook) Position(pair, exchange string) (core.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[positionKey{pair, exchange}]
	if !ok {
		return core.Position{}, false
	}
	return *p, true
}

// All returns a snapshot of every open position.
func (b *PositionBook) All() []core.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}

// MarkPrice updates CurrentPrice on the position for pair/exchange, if one
// is open. The engine loop calls this before invoking a strategy so that
// TickContext.Position.CurrentPrice is always marked-to-market.
func (b *PositionBook) MarkPrice(pair, exchange string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[positionKey{pair, exchange}]; ok {
		p.CurrentPrice = price
	}
}

// ApplyFill updates the position for a filled order's pair/exchange and
// returns the realised TradeResult, if the fill closed or reduced a
// position. A fill on the same side (or opening flat) only grows the
// position and never produces a TradeResult.
//
// A fill that would flip the side is not applied atomically: the caller
// (OMS) is expected to have already split it into a reduce-only close
// (amount = existing position amount) followed by a fresh entry, per the
// spec's explicit zero-amount-intermediate rule (§9a). ApplyFill itself
// only ever shrinks, grows, or fully closes — it never flips a position's
// Side within a single call.
func (b *PositionBook) ApplyFill(order core.Order, fill core.Fill) (*core.TradeResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := positionKey{order.Pair, order.Exchange}
	pos, exists := b.positions[key]

	if !exists || pos.Side == fill.Side {
		openingFlat := !exists
		if !exists {
			pos = &core.Position{
				Pair: order.Pair, Exchange: order.Exchange,
				Side: fill.Side, OpenedAt: fill.Time,
			}
			b.positions[key] = pos
		}
		pos.AvgEntry = weightedAverage(pos.AvgEntry, pos.Amount, fill.Price, fill.Amount)
		pos.Amount += fill.Amount
		pos.CurrentPrice = fill.Price

		switch {
		case openingFlat:
			if stop, ok := b.pendingStops[key]; ok {
				pos.StopPrice = stop
				pos.HasStop = true
				pos.InitialRisk = math.Abs(pos.AvgEntry - stop)
				delete(b.pendingStops, key)
			}
		case order.Purpose == core.PurposeAddOn:
			pos.Pyramids++
		}
		return nil, false
	}

	// Opposite-side fill: reduces the position. Close amount is capped at
	// the existing position (reduce-only; a flip never crosses zero here).
	closedAmount := fill.Amount
	if closedAmount > pos.Amount {
		closedAmount = pos.Amount
	}

	sign := 1.0
	if pos.Side == core.SideTypeSell {
		sign = -1.0
	}
	profitValue := (fill.Price - pos.AvgEntry) * closedAmount * sign
	profitPercent := 0.0
	if pos.AvgEntry != 0 {
		profitPercent = ((fill.Price - pos.AvgEntry) / pos.AvgEntry) * sign
	}

	rMultiple := 0.0
	if pos.InitialRisk > 0 {
		rMultiple = profitValue / (pos.InitialRisk * closedAmount)
	}

	result := &core.TradeResult{
		Pair: order.Pair, Side: pos.Side,
		StrategyTag: order.StrategyTag, Purpose: order.Purpose,
		ProfitValue: profitValue, ProfitPercent: profitPercent, RMultiple: rMultiple,
		Duration: fill.Time.Sub(pos.OpenedAt), ClosedAt: fill.Time,
	}

	pos.Amount -= closedAmount
	pos.CurrentPrice = fill.Price
	closed := pos.Amount <= 0
	if closed {
		delete(b.positions, key)
		delete(b.pendingStops, key)
	}

	return result, closed
}

func weightedAverage(price1, qty1, price2, qty2 float64) float64 {
	if qty1+qty2 == 0 {
		return price2
	}
	return (price1*qty1 + price2*qty2) / (qty1 + qty2)
}

// CurrentEquity is balance plus unrealised PnL across every open position,
// the "current_equity" spec §4.8 uses for the midnight-rollover snapshot.
func (b *PositionBook) CurrentEquity(balance float64) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	equity := balance
	for _, p := range b.positions {
		equity += p.UnrealizedPnL()
	}
	return equity
}

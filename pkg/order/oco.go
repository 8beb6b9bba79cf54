package order

import (
	"fmt"
	"sync"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
)

// OCOPair is one One-Cancels-the-Other group: a limit take-profit leg and a
// stop-loss leg against the same position, exactly one of which should
// survive to fill (spec §4.7, §9).
type OCOPair struct {
	GroupID   string
	Pair      string
	LimitLeg  *core.Order
	StopLeg   *core.Order
	CreatedAt time.Time

	mu       sync.Mutex
	resolved bool
}

// OCOManager emulates OCO semantics on venues that lack native support
// (core.Exchange.SupportsOCO()==false): place both legs as ordinary orders,
// watch the order feed, and cancel the sibling as soon as one leg reaches a
// terminal fill. On venues with native OCO it is a thin pass-through to
// core.Broker.CreateOrderOCO, grounded on the teacher's real OCO path in
// `pkg/exchange/binance/spot.go`.
type OCOManager struct {
	controller *Controller

	mu     sync.Mutex
	groups map[string]*OCOPair // keyed by GroupID
	byLeg  map[string]string   // Order.ID -> GroupID, for the feed callback
}

// NewOCOManager builds an OCOManager bound to controller. The constructor
// does not subscribe to the controller's order feed; WatchPair does, once
// per pair, so call WatchPair before Controller.Start.
func NewOCOManager(controller *Controller) *OCOManager {
	return &OCOManager{
		controller: controller,
		groups:     make(map[string]*OCOPair),
		byLeg:      make(map[string]string),
	}
}

// WatchPair subscribes the manager to order events for pair; required once
// per pair before CreateEmulated is used for it.
func (m *OCOManager) WatchPair(pair string) {
	m.controller.feed.Subscribe(pair, m.onOrderEvent, false)
}

// Create places an OCO pair for pair: side exits the position, amount is the
// position size, price is the take-profit limit, stop/stopLimit are the
// stop-loss trigger/limit. It uses the venue's native OCO when supported,
// otherwise emulates it with two independent orders.
func (m *OCOManager) Create(pair string, side core.SideType, amount, price, stop, stopLimit float64, strategyTag string) (*OCOPair, error) {
	if m.controller.exchange.SupportsOCO() {
		return m.createNative(pair, side, amount, price, stop, stopLimit)
	}
	return m.createEmulated(pair, side, amount, price, stop, stopLimit, strategyTag)
}

func (m *OCOManager) createNative(pair string, side core.SideType, amount, price, stop, stopLimit float64) (*OCOPair, error) {
	orders, err := m.controller.exchange.CreateOrderOCO(m.controller.ctx, side, pair, amount, price, stop, stopLimit)
	if err != nil {
		return nil, fmt.Errorf("oco: native create %s: %w", pair, err)
	}
	if len(orders) != 2 {
		return nil, fmt.Errorf("oco: native create %s: expected 2 legs, got %d", pair, len(orders))
	}

	limitLeg, stopLeg := &orders[0], &orders[1]
	if limitLeg.Type != core.OrderTypeLimit {
		limitLeg, stopLeg = stopLeg, limitLeg
	}

	for _, leg := range []*core.Order{limitLeg, stopLeg} {
		if err := m.controller.storage.CreateOrder(leg); err != nil {
			return nil, fmt.Errorf("oco: persist native leg: %w", err)
		}
	}

	return &OCOPair{
		GroupID:   limitLeg.ExchangeID + "|" + stopLeg.ExchangeID,
		Pair:      pair,
		LimitLeg:  limitLeg,
		StopLeg:   stopLeg,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (m *OCOManager) createEmulated(pair string, side core.SideType, amount, price, stop, stopLimit float64, strategyTag string) (*OCOPair, error) {
	limitSignal := core.Signal{
		Pair: pair, Side: side, Type: core.OrderTypeLimit, Price: price, Amount: amount,
		Purpose: core.PurposeExit, StrategyTag: strategyTag, ReduceOnly: true,
	}
	limitOrder, err := m.controller.CreateOrder(limitSignal)
	if err != nil {
		return nil, fmt.Errorf("oco: emulated limit leg %s: %w", pair, err)
	}
	if limitOrder == nil {
		return nil, fmt.Errorf("oco: emulated limit leg %s: rejected below venue minimum", pair)
	}

	stopSignal := core.Signal{
		Pair: pair, Side: side, Type: core.OrderTypeStopLimit, Price: stopLimit, StopPrice: stop, Amount: amount,
		Purpose: core.PurposeExit, StrategyTag: strategyTag, ReduceOnly: true,
	}
	stopOrder, err := m.controller.CreateOrder(stopSignal)
	if err != nil {
		_ = m.controller.Cancel(limitOrder)
		return nil, fmt.Errorf("oco: emulated stop leg %s: %w", pair, err)
	}
	if stopOrder == nil {
		_ = m.controller.Cancel(limitOrder)
		return nil, fmt.Errorf("oco: emulated stop leg %s: rejected below venue minimum", pair)
	}

	pairGroup := &OCOPair{
		GroupID:   limitOrder.ID + "|" + stopOrder.ID,
		Pair:      pair,
		LimitLeg:  limitOrder,
		StopLeg:   stopOrder,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.groups[pairGroup.GroupID] = pairGroup
	m.byLeg[limitOrder.ID] = pairGroup.GroupID
	m.byLeg[stopOrder.ID] = pairGroup.GroupID
	m.mu.Unlock()

	return pairGroup, nil
}

// onOrderEvent is the order feed callback: when either leg of a tracked
// emulated group reaches a terminal state, cancel its still-open sibling.
func (m *OCOManager) onOrderEvent(order core.Order) {
	m.mu.Lock()
	groupID, tracked := m.byLeg[order.ID]
	if !tracked {
		m.mu.Unlock()
		return
	}
	pair := m.groups[groupID]
	m.mu.Unlock()

	if pair == nil || !order.IsTerminal() {
		return
	}

	pair.mu.Lock()
	if pair.resolved {
		pair.mu.Unlock()
		return
	}
	pair.resolved = true
	sibling := pair.StopLeg
	if order.ID == pair.StopLeg.ID {
		sibling = pair.LimitLeg
	}
	pair.mu.Unlock()

	if sibling.IsActive() {
		_ = m.controller.Cancel(sibling)
	}

	m.mu.Lock()
	delete(m.groups, groupID)
	delete(m.byLeg, pair.LimitLeg.ID)
	delete(m.byLeg, pair.StopLeg.ID)
	m.mu.Unlock()
}

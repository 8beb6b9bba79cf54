package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/StudioSol/set"

	"github.com/solbot-labs/engine/pkg/core"
)

// AllocationStrategy selects which venue a UnifiedOrderManager routes the
// next order to (spec §4.9).
type AllocationStrategy string

const (
	// AllocationEqual cycles through every active venue in turn.
	AllocationEqual AllocationStrategy = "EQUAL"
	// AllocationPriority always prefers the first active venue under its cap.
	AllocationPriority AllocationStrategy = "PRIORITY"
	// AllocationRoundRobin cycles through venues regardless of their caps.
	AllocationRoundRobin AllocationStrategy = "ROUND_ROBIN"
	// AllocationCustom routes proportionally to caller-supplied weights.
	AllocationCustom AllocationStrategy = "CUSTOM"
)

// ErrNoActiveVenue is returned when every venue is either absent or over its
// allocation cap.
var ErrNoActiveVenue = fmt.Errorf("unified: no active venue available")

// UnifiedOrderManager presents several core.Exchange venues as a single
// core.Exchange, routing PlaceOrder/CreateOrderOCO across them by
// AllocationStrategy while every other Broker/Feeder call is served by a
// single primary venue (spec §4.9 — multi-venue redundancy, not multi-venue
// liquidity aggregation: market data and account state are read from one
// venue, execution can fan out).
type UnifiedOrderManager struct {
	mu       sync.Mutex
	venues   map[string]core.Exchange
	order    *set.LinkedHashSetString // insertion order of venue names, for deterministic round-robin
	primary  string
	strategy AllocationStrategy
	weights  map[string]float64 // AllocationCustom only

	// maxAllocation caps each venue's share of cumulative routed notional,
	// e.g. 0.5 means no venue may carry more than half of everything routed
	// so far. A cap of 0 (default, unset) means uncapped.
	maxAllocation  map[string]float64
	routedNotional map[string]float64
	totalNotional  float64

	nextRoundRobin int
}

// NewUnifiedOrderManager builds a manager with no venues registered yet; call
// AddVenue to register each one. primary names the venue serving every
// Feeder/Account/Position call.
func NewUnifiedOrderManager(strategy AllocationStrategy, primary string) *UnifiedOrderManager {
	return &UnifiedOrderManager{
		venues:         make(map[string]core.Exchange),
		order:          set.NewLinkedHashSetString(),
		primary:        primary,
		strategy:       strategy,
		weights:        make(map[string]float64),
		maxAllocation:  make(map[string]float64),
		routedNotional: make(map[string]float64),
	}
}

// AddVenue registers a venue under name with an optional allocation cap
// (0 = uncapped) and, for AllocationCustom, a routing weight.
func (u *UnifiedOrderManager) AddVenue(name string, venue core.Exchange, maxAllocation, weight float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.venues[name] = venue
	u.order.Add(name)
	u.maxAllocation[name] = maxAllocation
	u.weights[name] = weight
}

// ID satisfies core.Exchange, identifying the manager itself rather than any
// one underlying venue.
func (u *UnifiedOrderManager) ID() string { return "unified" }

// SupportsOCO reports true only when every registered venue supports native
// OCO, since CreateOrderOCO routes to whichever venue the strategy selects.
func (u *UnifiedOrderManager) SupportsOCO() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, venue := range u.venues {
		if !venue.SupportsOCO() {
			return false
		}
	}
	return len(u.venues) > 0
}

func (u *UnifiedOrderManager) primaryVenue() (core.Exchange, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	venue, ok := u.venues[u.primary]
	if !ok {
		return nil, fmt.Errorf("unified: primary venue %q not registered", u.primary)
	}
	return venue, nil
}

func (u *UnifiedOrderManager) AssetsInfo(pair string) (core.AssetInfo, error) {
	venue, err := u.primaryVenue()
	if err != nil {
		return core.AssetInfo{}, err
	}
	return venue.AssetsInfo(pair)
}

func (u *UnifiedOrderManager) LastQuote(ctx context.Context, pair string) (float64, error) {
	venue, err := u.primaryVenue()
	if err != nil {
		return 0, err
	}
	return venue.LastQuote(ctx, pair)
}

func (u *UnifiedOrderManager) CandlesByPeriod(ctx context.Context, pair, timeframe string, start, end time.Time) ([]core.Candle, error) {
	venue, err := u.primaryVenue()
	if err != nil {
		return nil, err
	}
	return venue.CandlesByPeriod(ctx, pair, timeframe, start, end)
}

func (u *UnifiedOrderManager) CandlesByLimit(ctx context.Context, pair, timeframe string, limit int) ([]core.Candle, error) {
	venue, err := u.primaryVenue()
	if err != nil {
		return nil, err
	}
	return venue.CandlesByLimit(ctx, pair, timeframe, limit)
}

func (u *UnifiedOrderManager) CandlesSubscription(ctx context.Context, pair, timeframe string) (chan core.Candle, chan error) {
	venue, err := u.primaryVenue()
	if err != nil {
		errs := make(chan error, 1)
		errs <- err
		close(errs)
		return make(chan core.Candle), errs
	}
	return venue.CandlesSubscription(ctx, pair, timeframe)
}

func (u *UnifiedOrderManager) Account(ctx context.Context) (core.Account, error) {
	venue, err := u.primaryVenue()
	if err != nil {
		return core.Account{}, err
	}
	return venue.Account(ctx)
}

func (u *UnifiedOrderManager) Position(ctx context.Context, pair string) (asset, quote float64, err error) {
	venue, err := u.primaryVenue()
	if err != nil {
		return 0, 0, err
	}
	return venue.Position(ctx, pair)
}

func (u *UnifiedOrderManager) FetchOrder(ctx context.Context, pair, exchangeID string) (core.Order, error) {
	venue, err := u.primaryVenue()
	if err != nil {
		return core.Order{}, err
	}
	return venue.FetchOrder(ctx, pair, exchangeID)
}

func (u *UnifiedOrderManager) FetchOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	venue, err := u.primaryVenue()
	if err != nil {
		return nil, err
	}
	return venue.FetchOpenOrders(ctx, pair)
}

// CancelOrder must be issued against the venue the order actually lives on;
// since every Order carries its Exchange name, callers other than the
// Controller's own book should route cancels directly via Venue(name)
// instead of through the aggregate. Routed to primary as a best effort.
func (u *UnifiedOrderManager) CancelOrder(ctx context.Context, pair, exchangeID string) error {
	venue, err := u.primaryVenue()
	if err != nil {
		return err
	}
	return venue.CancelOrder(ctx, pair, exchangeID)
}

// Venue returns the registered venue by name, for callers (e.g. Cancel) that
// need to address a specific venue directly rather than through allocation.
func (u *UnifiedOrderManager) Venue(name string) (core.Exchange, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	venue, ok := u.venues[name]
	return venue, ok
}

// PlaceOrder selects a venue per the configured AllocationStrategy and caps,
// places the order there, and tags order.Exchange with the venue actually
// used before delegating.
func (u *UnifiedOrderManager) PlaceOrder(ctx context.Context, order core.Order) (string, error) {
	name, venue, err := u.selectVenue(order.Amount * order.Price)
	if err != nil {
		return "", err
	}
	order.Exchange = name
	exchangeID, err := venue.PlaceOrder(ctx, order)
	if err == nil {
		u.mu.Lock()
		u.routedNotional[name] += order.Amount * order.Price
		u.totalNotional += order.Amount * order.Price
		u.mu.Unlock()
	}
	return exchangeID, err
}

func (u *UnifiedOrderManager) CreateOrderOCO(ctx context.Context, side core.SideType, pair string,
	amount, price, stop, stopLimit float64) ([]core.Order, error) {

	_, venue, err := u.selectVenue(amount * price)
	if err != nil {
		return nil, err
	}
	return venue.CreateOrderOCO(ctx, side, pair, amount, price, stop, stopLimit)
}

// selectVenue applies the AllocationStrategy, skipping any venue whose
// routedNotional/totalNotional share would exceed its configured cap.
func (u *UnifiedOrderManager) selectVenue(notional float64) (string, core.Exchange, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	names := make([]string, 0)
	for name := range u.order.Iter() {
		names = append(names, name)
	}
	if len(names) == 0 {
		return "", nil, ErrNoActiveVenue
	}

	underCap := func(name string) bool {
		allocationCap := u.maxAllocation[name]
		if allocationCap <= 0 {
			return true
		}
		projectedTotal := u.totalNotional + notional
		if projectedTotal == 0 {
			return true
		}
		return (u.routedNotional[name]+notional)/projectedTotal <= allocationCap
	}

	switch u.strategy {
	case AllocationPriority:
		for _, name := range names {
			if underCap(name) {
				return name, u.venues[name], nil
			}
		}
	case AllocationCustom:
		var best string
		var bestDeficit float64 = -1
		for _, name := range names {
			if !underCap(name) {
				continue
			}
			target := u.weights[name] * (u.totalNotional + notional)
			deficit := target - u.routedNotional[name]
			if deficit > bestDeficit {
				bestDeficit = deficit
				best = name
			}
		}
		if best != "" {
			return best, u.venues[best], nil
		}
	case AllocationRoundRobin:
		for i := 0; i < len(names); i++ {
			idx := (u.nextRoundRobin + i) % len(names)
			name := names[idx]
			u.nextRoundRobin = (idx + 1) % len(names)
			return name, u.venues[name], nil
		}
	case AllocationEqual:
		fallthrough
	default:
		for i := 0; i < len(names); i++ {
			idx := (u.nextRoundRobin + i) % len(names)
			name := names[idx]
			if underCap(name) {
				u.nextRoundRobin = (idx + 1) % len(names)
				return name, u.venues[name], nil
			}
		}
	}

	return "", nil, ErrNoActiveVenue
}

var _ core.Exchange = (*UnifiedOrderManager)(nil)

package core

import (
	"fmt"
	"time"
)

// SideType is the direction of an order or position.
type SideType string

// OrderType is the kind of order sent to a venue.
type OrderType string

// OrderStatusType is a state in the order lifecycle machine (spec §4.7).
type OrderStatusType string

// Purpose tags why a signal/order was created (spec §3).
type Purpose string

const (
	SideTypeBuy  SideType = "BUY"
	SideTypeSell SideType = "SELL"
)

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStop       OrderType = "STOP"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
	OrderTypeLimitMaker OrderType = "LIMIT_MAKER"
)

const (
	OrderStatusOpen             OrderStatusType = "OPEN"
	OrderStatusPlaced           OrderStatusType = "PLACED"
	OrderStatusPartiallyFilled  OrderStatusType = "PARTIALLY_FILLED"
	OrderStatusFilled           OrderStatusType = "FILLED"
	OrderStatusCanceled         OrderStatusType = "CANCELED"
	OrderStatusRejected         OrderStatusType = "REJECTED"
)

const (
	PurposeEntry         Purpose = "ENTRY"
	PurposeExit          Purpose = "EXIT"
	PurposeAddOn         Purpose = "ADDON"
	PurposeHedge         Purpose = "HEDGE"
	PurposeEmergencyExit Purpose = "EMERGENCY_CLOSE"
)

// OrderFilter narrows a set of orders fetched from OrderStorage.
type OrderFilter func(order Order) bool

// Order is a system-tracked order; ID is assigned at creation time and is
// stable across the order's whole lifecycle, ExchangeID only once placed.
type Order struct {
	ID             string          `json:"id"`
	ExchangeID     string          `json:"exchange_id,omitempty"`
	Exchange       string          `json:"exchange"`
	Pair           string          `json:"pair"`
	Side           SideType        `json:"side"`
	Type           OrderType       `json:"type"`
	Status         OrderStatusType `json:"status"`
	Price          float64         `json:"price,omitempty"`
	StopPrice      float64         `json:"stop_price,omitempty"`
	Amount         float64         `json:"amount"`
	FilledAmount   float64         `json:"filled_amount"`
	AvgFillPrice   float64         `json:"avg_fill_price,omitempty"`
	Purpose        Purpose         `json:"purpose"`
	StrategyTag    string          `json:"strategy_tag"`
	ReduceOnly     bool            `json:"reduce_only"`
	PostOnly       bool            `json:"post_only"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsBuy reports whether the order buys the base asset.
func (o Order) IsBuy() bool { return o.Side == SideTypeBuy }

// IsSell reports whether the order sells the base asset.
func (o Order) IsSell() bool { return o.Side == SideTypeSell }

// IsTerminal reports whether the order has left the active lifecycle.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// IsActive reports whether the order can still receive fills or be canceled.
func (o Order) IsActive() bool {
	switch o.Status {
	case OrderStatusPlaced, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 { return o.Amount - o.FilledAmount }

// Validate checks the invariants from spec §3 (price required iff LIMIT/STOP_LIMIT).
func (o Order) Validate() error {
	if o.FilledAmount < 0 || o.FilledAmount > o.Amount {
		return fmt.Errorf("order %s: filled_amount %f out of [0,%f]", o.ID, o.FilledAmount, o.Amount)
	}
	if (o.Type == OrderTypeLimit || o.Type == OrderTypeStopLimit) && o.Price <= 0 {
		return fmt.Errorf("order %s: type %s requires a price", o.ID, o.Type)
	}
	if (o.Status == OrderStatusFilled) != (o.FilledAmount == o.Amount) {
		return fmt.Errorf("order %s: status %s inconsistent with filled_amount %f/%f",
			o.ID, o.Status, o.FilledAmount, o.Amount)
	}
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf("[%s] %s %s %s id=%s %f/%f @ %f", o.Status, o.Side, o.Type, o.Pair, o.ID, o.FilledAmount, o.Amount, o.Price)
}

// Fill is a single execution report against an Order. Multiple fills may
// apply to one order; their amounts sum to at most the order's Amount.
type Fill struct {
	OrderID         string    `json:"order_id"`
	ExchangeID      string    `json:"exchange_id"`
	ExchangeTradeID string    `json:"exchange_trade_id"`
	Pair            string    `json:"pair"`
	Side            SideType  `json:"side"`
	Amount          float64   `json:"amount"`
	Price           float64   `json:"price"`
	Fee             float64   `json:"fee,omitempty"`
	Time            time.Time `json:"time"`
}

// OrderStorage persists Order records (spec §6 persisted state layout).
type OrderStorage interface {
	CreateOrder(order *Order) error
	UpdateOrder(order *Order) error
	Orders(filters ...OrderFilter) ([]*Order, error)
}

func WithStatusIn(status ...OrderStatusType) OrderFilter {
	set := make(map[OrderStatusType]struct{}, len(status))
	for _, s := range status {
		set[s] = struct{}{}
	}
	return func(order Order) bool {
		_, ok := set[order.Status]
		return ok
	}
}

func WithStatus(status OrderStatusType) OrderFilter {
	return func(order Order) bool { return order.Status == status }
}

func WithPair(pair string) OrderFilter {
	return func(order Order) bool { return order.Pair == pair }
}

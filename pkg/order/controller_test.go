package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/logger/zerolog"
	"github.com/solbot-labs/engine/pkg/storage"
)

// fakeExchange is a minimal core.Exchange double: PlaceOrder's behavior is
// scripted per test via placeFn, everything else returns zero values.
type fakeExchange struct {
	placeFn func(order core.Order) (string, error)
}

func (f *fakeExchange) ID() string         { return "fake" }
func (f *fakeExchange) SupportsOCO() bool  { return false }
func (f *fakeExchange) AssetsInfo(pair string) (core.AssetInfo, error) {
	return testAssetInfo(), nil
}
func (f *fakeExchange) LastQuote(ctx context.Context, pair string) (float64, error) { return 100, nil }
func (f *fakeExchange) CandlesByPeriod(ctx context.Context, pair, tf string, start, end time.Time) ([]core.Candle, error) {
	return nil, nil
}
func (f *fakeExchange) CandlesByLimit(ctx context.Context, pair, tf string, limit int) ([]core.Candle, error) {
	return nil, nil
}
func (f *fakeExchange) CandlesSubscription(ctx context.Context, pair, tf string) (chan core.Candle, chan error) {
	return make(chan core.Candle), make(chan error)
}
func (f *fakeExchange) Account(ctx context.Context) (core.Account, error) { return core.Account{}, nil }
func (f *fakeExchange) Position(ctx context.Context, pair string) (float64, float64, error) {
	return 0, 0, nil
}
func (f *fakeExchange) FetchOrder(ctx context.Context, pair, exchangeID string) (core.Order, error) {
	return core.Order{}, nil
}
func (f *fakeExchange) FetchOpenOrders(ctx context.Context, pair string) ([]core.Order, error) {
	return nil, nil
}
func (f *fakeExchange) PlaceOrder(ctx context.Context, order core.Order) (string, error) {
	return f.placeFn(order)
}
func (f *fakeExchange) CancelOrder(ctx context.Context, pair, exchangeID string) error { return nil }
func (f *fakeExchange) CreateOrderOCO(ctx context.Context, side core.SideType, pair string, amount, price, stop, stopLimit float64) ([]core.Order, error) {
	return nil, nil
}

var _ core.Exchange = (*fakeExchange)(nil)

func newTestController(t *testing.T, exch *fakeExchange) *Controller {
	t.Helper()
	st, err := storage.FromMemory()
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	log, err := zerolog.New("error", time.RFC3339, false, true)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	sizing := newTestSizing(t, nil)
	c := NewController(context.Background(), exch, st, log, NewOrderFeed(), NewPositionBook(), sizing)
	c.Start()
	return c
}

func TestController_CreateOrderPersistsOpenThenPlaces(t *testing.T) {
	exch := &fakeExchange{placeFn: func(o core.Order) (string, error) { return "ex-1", nil }}
	c := newTestController(t, exch)

	order, err := c.CreateOrder(core.Signal{Pair: "SOLUSDT", Side: core.SideTypeBuy, Type: core.OrderTypeMarket, Amount: 1})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order == nil {
		t.Fatalf("expected a non-nil order")
	}
	if order.ID == "" {
		t.Fatalf("expected a stable system ID to be assigned")
	}

	if !c.WaitInFlight(time.Second) {
		t.Fatalf("placement did not complete in time")
	}
	if order.Status != core.OrderStatusPlaced {
		t.Fatalf("expected PLACED after successful placement, got %s", order.Status)
	}
	if order.ExchangeID != "ex-1" {
		t.Fatalf("expected exchange id to be recorded, got %q", order.ExchangeID)
	}
}

func TestController_CreateOrderRejectsBelowVenueMinimum(t *testing.T) {
	exch := &fakeExchange{placeFn: func(o core.Order) (string, error) { return "ex-1", nil }}
	c := newTestController(t, exch)

	order, err := c.CreateOrder(core.Signal{Pair: "SOLUSDT", Side: core.SideTypeBuy, Type: core.OrderTypeMarket, Amount: 0.01})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order != nil {
		t.Fatalf("expected nil order for a below-minimum signal, got %+v", order)
	}
}

func TestController_PlaceAsyncRejectsNonRetryableWithoutRetry(t *testing.T) {
	attempts := 0
	exch := &fakeExchange{placeFn: func(o core.Order) (string, error) {
		attempts++
		return "", &core.PlacementError{Err: errors.New("boom"), Retryable: false}
	}}
	c := newTestController(t, exch)
	c.backoffMin = time.Millisecond
	c.backoffMax = 2 * time.Millisecond
	c.maxRetries = 3

	order, err := c.CreateOrder(core.Signal{Pair: "SOLUSDT", Side: core.SideTypeBuy, Type: core.OrderTypeMarket, Amount: 1})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !c.WaitInFlight(time.Second) {
		t.Fatalf("placement did not complete in time")
	}
	if order.Status != core.OrderStatusRejected {
		t.Fatalf("expected REJECTED on a non-retryable error, got %s", order.Status)
	}
	if attempts != 1 {
		t.Fatalf("non-retryable error should not be retried, got %d attempts", attempts)
	}
}

func TestController_PlaceAsyncRetriesRetryableErrorsUpToMax(t *testing.T) {
	attempts := 0
	exch := &fakeExchange{placeFn: func(o core.Order) (string, error) {
		attempts++
		return "", &core.PlacementError{Err: errors.New("timeout"), Retryable: true}
	}}
	c := newTestController(t, exch)
	c.backoffMin = time.Millisecond
	c.backoffMax = 2 * time.Millisecond
	c.maxRetries = 3

	order, err := c.CreateOrder(core.Signal{Pair: "SOLUSDT", Side: core.SideTypeBuy, Type: core.OrderTypeMarket, Amount: 1})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if !c.WaitInFlight(time.Second) {
		t.Fatalf("placement did not complete in time")
	}
	if order.Status != core.OrderStatusRejected {
		t.Fatalf("expected REJECTED after exhausting retries, got %s", order.Status)
	}
	if attempts != c.maxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", c.maxRetries+1, attempts)
	}
}

// TestController_PartialFillAndDuplicate is the spec's literal scenario:
// LIMIT BUY amount 10 @100, fills 4@100/3@100/duplicate-3@100/3@100.
func TestController_PartialFillAndDuplicate(t *testing.T) {
	exch := &fakeExchange{placeFn: func(o core.Order) (string, error) { return "ex-1", nil }}
	c := newTestController(t, exch)

	order, err := c.CreateOrder(core.Signal{
		Pair: "SOLUSDT", Side: core.SideTypeBuy, Type: core.OrderTypeLimit,
		Price: 100, Amount: 10,
	})
	if err != nil || order == nil {
		t.Fatalf("create order: %v, %+v", err, order)
	}
	if !c.WaitInFlight(time.Second) {
		t.Fatalf("placement did not complete in time")
	}
	order.ExchangeID = "ex-1"

	fills := []core.Fill{
		{ExchangeID: "ex-1", ExchangeTradeID: "t1", Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 4, Price: 100},
		{ExchangeID: "ex-1", ExchangeTradeID: "t2", Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 3, Price: 100},
		{ExchangeID: "ex-1", ExchangeTradeID: "t2", Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 3, Price: 100}, // duplicate
		{ExchangeID: "ex-1", ExchangeTradeID: "t3", Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 3, Price: 100},
	}

	accepted := 0
	for _, f := range fills {
		if c.IngestFill(order, f) {
			accepted++
		}
	}

	if accepted != 3 {
		t.Fatalf("expected exactly 3 accepted fills (1 duplicate ignored), got %d", accepted)
	}
	if order.FilledAmount != 10 {
		t.Fatalf("expected filled_amount=10, got %f", order.FilledAmount)
	}
	if order.Status != core.OrderStatusFilled {
		t.Fatalf("expected FILLED, got %s", order.Status)
	}
	if order.AvgFillPrice != 100 {
		t.Fatalf("expected avg_fill_price=100, got %f", order.AvgFillPrice)
	}

	pos, ok := c.book.Position("SOLUSDT", "fake")
	if !ok || pos.Amount != 10 {
		t.Fatalf("expected position amount=10, got %+v ok=%v", pos, ok)
	}
}

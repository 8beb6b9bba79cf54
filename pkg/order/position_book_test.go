package order

import (
	"testing"
	"time"

	"github.com/solbot-labs/engine/pkg/core"
)

func TestPositionBook_OpeningFillGrowsFlat(t *testing.T) {
	book := NewPositionBook()
	order := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeBuy}
	fill := core.Fill{Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 2, Price: 100, Time: time.Now()}

	result, closed := book.ApplyFill(order, fill)
	if result != nil || closed {
		t.Fatalf("opening fill should not produce a TradeResult, got %+v closed=%v", result, closed)
	}

	pos, ok := book.Position("SOLUSDT", "binance")
	if !ok || pos.Amount != 2 || pos.AvgEntry != 100 {
		t.Fatalf("unexpected position after open: %+v ok=%v", pos, ok)
	}
}

func TestPositionBook_SameSideFillsWeightAverageEntry(t *testing.T) {
	book := NewPositionBook()
	order := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeBuy}

	book.ApplyFill(order, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 2, Price: 100, Time: time.Now()})
	book.ApplyFill(order, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 2, Price: 120, Time: time.Now()})

	pos, _ := book.Position("SOLUSDT", "binance")
	if pos.Amount != 4 {
		t.Fatalf("expected amount 4, got %f", pos.Amount)
	}
	if pos.AvgEntry != 110 {
		t.Fatalf("expected weighted avg entry 110, got %f", pos.AvgEntry)
	}
}

func TestPositionBook_OppositeFillReducesAndRealisesPnL(t *testing.T) {
	book := NewPositionBook()
	opened := time.Now().Add(-time.Hour)
	order := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeBuy}
	book.ApplyFill(order, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 10, Price: 100, Time: opened})

	sell := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeSell}
	result, closed := book.ApplyFill(sell, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeSell, Amount: 4, Price: 110, Time: opened.Add(time.Minute)})

	if closed {
		t.Fatalf("partial reduce should not close the position")
	}
	if result == nil {
		t.Fatalf("expected a TradeResult for a reducing fill")
	}
	if result.ProfitValue != 40 {
		t.Fatalf("expected profit 4*(110-100)=40, got %f", result.ProfitValue)
	}

	pos, ok := book.Position("SOLUSDT", "binance")
	if !ok || pos.Amount != 6 {
		t.Fatalf("expected remaining amount 6, got %+v ok=%v", pos, ok)
	}
}

func TestPositionBook_OppositeFillClosesExactly(t *testing.T) {
	book := NewPositionBook()
	order := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeBuy}
	book.ApplyFill(order, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 5, Price: 100, Time: time.Now()})

	sell := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeSell}
	result, closed := book.ApplyFill(sell, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeSell, Amount: 5, Price: 90, Time: time.Now()})

	if !closed {
		t.Fatalf("exact-amount opposite fill should close the position")
	}
	if result.ProfitValue != -50 {
		t.Fatalf("expected loss of -50, got %f", result.ProfitValue)
	}
	if _, ok := book.Position("SOLUSDT", "binance"); ok {
		t.Fatalf("position should no longer be tracked after close")
	}
}

func TestPositionBook_ReduceOnlyNeverFlipsSideInOneCall(t *testing.T) {
	book := NewPositionBook()
	order := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeBuy}
	book.ApplyFill(order, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 5, Price: 100, Time: time.Now()})

	sell := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeSell}
	_, closed := book.ApplyFill(sell, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeSell, Amount: 8, Price: 90, Time: time.Now()})

	if !closed {
		t.Fatalf("over-sized opposite fill should still close the existing position")
	}
	if _, ok := book.Position("SOLUSDT", "binance"); ok {
		t.Fatalf("an over-sized reduce must not leave a flipped short position behind")
	}
}

func TestPositionBook_ClosingFillComputesRMultipleFromInitialRisk(t *testing.T) {
	book := NewPositionBook()
	book.SetPendingStop("SOLUSDT", "binance", 90)

	order := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeBuy}
	book.ApplyFill(order, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 10, Price: 100, Time: time.Now()})

	sell := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeSell, StrategyTag: "trend", Purpose: core.PurposeExit}
	result, _ := book.ApplyFill(sell, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeSell, Amount: 10, Price: 120, Time: time.Now()})

	if result == nil {
		t.Fatalf("expected a TradeResult")
	}
	// InitialRisk = |100-90| = 10, profit = 10*(120-100) = 200, so R = 200/(10*10) = 2.
	if result.RMultiple != 2 {
		t.Fatalf("expected RMultiple 2, got %f", result.RMultiple)
	}
	if result.StrategyTag != "trend" || result.Purpose != core.PurposeExit {
		t.Fatalf("expected StrategyTag/Purpose carried from the closing order, got %+v", result)
	}
}

func TestPositionBook_ClosingFillWithoutStopHasZeroRMultiple(t *testing.T) {
	book := NewPositionBook()
	order := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeBuy}
	book.ApplyFill(order, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 10, Price: 100, Time: time.Now()})

	sell := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeSell}
	result, _ := book.ApplyFill(sell, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeSell, Amount: 10, Price: 120, Time: time.Now()})

	if result.RMultiple != 0 {
		t.Fatalf("expected RMultiple 0 without an initial stop, got %f", result.RMultiple)
	}
}

func TestPositionBook_CurrentEquitySumsBalanceAndUnrealizedPnL(t *testing.T) {
	book := NewPositionBook()
	order := core.Order{Pair: "SOLUSDT", Exchange: "binance", Side: core.SideTypeBuy}
	book.ApplyFill(order, core.Fill{Pair: "SOLUSDT", Side: core.SideTypeBuy, Amount: 10, Price: 100, Time: time.Now()})
	book.MarkPrice("SOLUSDT", "binance", 110)

	equity := book.CurrentEquity(1000)
	if equity != 1100 {
		t.Fatalf("expected equity 1000+10*(110-100)=1100, got %f", equity)
	}
}

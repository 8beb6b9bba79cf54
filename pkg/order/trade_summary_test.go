package order

import (
	"os"
	"testing"

	"github.com/solbot-labs/engine/pkg/core"
)

func TestTradeSummary_WinLoseSplitByProfitPercent(t *testing.T) {
	summary := TradeSummary{Pair: "SOLUSDT"}
	summary.record(core.TradeResult{ProfitValue: 10, ProfitPercent: 0.05, RMultiple: 1})
	summary.record(core.TradeResult{ProfitValue: -6, ProfitPercent: -0.03, RMultiple: -1})

	if len(summary.Win()) != 1 || summary.Win()[0] != 10 {
		t.Fatalf("expected one win of 10, got %v", summary.Win())
	}
	if len(summary.Lose()) != 1 || summary.Lose()[0] != -6 {
		t.Fatalf("expected one loss of -6, got %v", summary.Lose())
	}
	if summary.Profit() != 4 {
		t.Fatalf("expected total profit 4, got %f", summary.Profit())
	}
	if summary.WinPercentage() != 50 {
		t.Fatalf("expected 50%% win rate, got %f", summary.WinPercentage())
	}
}

func TestTradeSummary_ExpectancyRAveragesRMultiples(t *testing.T) {
	summary := TradeSummary{Pair: "SOLUSDT"}
	summary.record(core.TradeResult{ProfitPercent: 0.05, RMultiple: 2})
	summary.record(core.TradeResult{ProfitPercent: -0.03, RMultiple: -1})

	if got := summary.ExpectancyR(); got != 0.5 {
		t.Fatalf("expected expectancy 0.5R, got %f", got)
	}
}

func TestTradeSummary_ByStrategySplitsTrades(t *testing.T) {
	summary := TradeSummary{Pair: "SOLUSDT"}
	summary.record(core.TradeResult{ProfitPercent: 0.05, RMultiple: 1, StrategyTag: "trend"})
	summary.record(core.TradeResult{ProfitPercent: 0.02, RMultiple: 1, StrategyTag: "range"})
	summary.record(core.TradeResult{ProfitPercent: -0.01, RMultiple: -1, StrategyTag: "trend"})

	byStrategy := summary.ByStrategy()
	if len(byStrategy["trend"].Trades) != 2 {
		t.Fatalf("expected 2 trend trades, got %d", len(byStrategy["trend"].Trades))
	}
	if len(byStrategy["range"].Trades) != 1 {
		t.Fatalf("expected 1 range trade, got %d", len(byStrategy["range"].Trades))
	}
}

func TestTradeSummary_SaveReturnsWritesOneLinePerTrade(t *testing.T) {
	summary := TradeSummary{Pair: "SOLUSDT"}
	summary.record(core.TradeResult{ProfitPercent: 0.05})
	summary.record(core.TradeResult{ProfitPercent: -0.02})

	file, err := os.CreateTemp(t.TempDir(), "returns-*.txt")
	if err != nil {
		t.Fatal(err)
	}
	file.Close()

	if err := summary.SaveReturns(file.Name()); err != nil {
		t.Fatalf("SaveReturns failed: %v", err)
	}

	contents, err := os.ReadFile(file.Name())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(contents), "0.0500\n-0.0200\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTradeSummary_RMultipleConfidenceIntervalHandlesEmptyTrades(t *testing.T) {
	summary := TradeSummary{Pair: "SOLUSDT"}
	interval := summary.RMultipleConfidenceInterval(100, 0.95)
	if interval.Mean != 0 || interval.Lower != 0 || interval.Upper != 0 {
		t.Fatalf("expected zero-valued interval for no trades, got %+v", interval)
	}
}

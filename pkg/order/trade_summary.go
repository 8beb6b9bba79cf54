package order

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/solbot-labs/engine/pkg/core"
	"github.com/solbot-labs/engine/pkg/exchange"
	"github.com/solbot-labs/engine/pkg/metric"
)

// TradeSummary accumulates the realised core.TradeResult records
// Controller.IngestFill produces for one pair (spec §9's reporting
// book-keeping), plus the notional volume traded regardless of outcome.
type TradeSummary struct {
	Pair   string
	Trades []core.TradeResult
	Volume float64
}

// record appends a closed/reduced position's TradeResult.
func (s *TradeSummary) record(result core.TradeResult) {
	s.Trades = append(s.Trades, result)
}

func (s TradeSummary) wins() []core.TradeResult {
	return lo.Filter(s.Trades, func(t core.TradeResult, _ int) bool { return t.ProfitPercent >= 0 })
}

func (s TradeSummary) losses() []core.TradeResult {
	return lo.Filter(s.Trades, func(t core.TradeResult, _ int) bool { return t.ProfitPercent < 0 })
}

// Win returns the realised profit value of every winning trade.
func (s TradeSummary) Win() []float64 { return profitValues(s.wins()) }

// WinPercent returns the percentage return of every winning trade.
func (s TradeSummary) WinPercent() []float64 { return percentValues(s.wins()) }

// Lose returns the realised profit value of every losing trade.
func (s TradeSummary) Lose() []float64 { return profitValues(s.losses()) }

// LosePercent returns the percentage return of every losing trade.
func (s TradeSummary) LosePercent() []float64 { return percentValues(s.losses()) }

// RMultiples returns every trade's outcome expressed in units of its fixed
// initial risk R (spec §9d); trades whose position never carried a stop
// contribute 0.
func (s TradeSummary) RMultiples() []float64 {
	out := make([]float64, len(s.Trades))
	for i, t := range s.Trades {
		out[i] = t.RMultiple
	}
	return out
}

// Profit calculates the total realised profit across all trades.
func (s TradeSummary) Profit() float64 {
	return sumSlice(profitValues(s.Trades))
}

// SQN is Van Tharp's System Quality Number computed over R-multiples
// (sqrt(N) * mean(R) / stddev(R)) rather than raw currency P&L, so it is
// comparable across pairs trading at different position sizes.
func (s TradeSummary) SQN() float64 {
	rMultiples := s.RMultiples()
	n := float64(len(rMultiples))
	if n == 0 {
		return 0
	}

	mean := sumSlice(rMultiples) / n
	variance := 0.0
	for _, r := range rMultiples {
		variance += math.Pow(r-mean, 2)
	}
	stdDev := math.Sqrt(variance / n)
	if stdDev == 0 {
		return 0
	}

	return math.Sqrt(n) * (mean / stdDev)
}

// ExpectancyR is the mean R-multiple across closed trades: the number of Rs
// of risk this pair has averaged per trade, spec §9d's headline risk metric.
func (s TradeSummary) ExpectancyR() float64 {
	rMultiples := s.RMultiples()
	if len(rMultiples) == 0 {
		return 0
	}
	return sumSlice(rMultiples) / float64(len(rMultiples))
}

// RMultipleConfidenceInterval bootstraps a confidence interval around
// ExpectancyR so a handful of lucky/unlucky trades can't be mistaken for a
// stable edge; sampleSize is the number of bootstrap resamples to draw.
func (s TradeSummary) RMultipleConfidenceInterval(sampleSize int, confidence float64) metric.BootstrapInterval {
	rMultiples := s.RMultiples()
	return metric.Bootstrap(rMultiples, func(sample []float64) float64 {
		return sumSlice(sample) / float64(len(sample))
	}, sampleSize, confidence)
}

// Payoff calculates the ratio of average win to average loss, by percentage return.
func (s TradeSummary) Payoff() float64 {
	winPercentages := s.WinPercent()
	losePercentages := s.LosePercent()

	if len(winPercentages) == 0 || len(losePercentages) == 0 {
		return 0
	}

	avgWin := average(winPercentages)
	avgLoss := average(losePercentages)

	if avgLoss == 0 {
		return 0
	}

	return avgWin / math.Abs(avgLoss)
}

// ProfitFactor calculates the ratio of gross profits to gross losses, by percentage return.
func (s TradeSummary) ProfitFactor() float64 {
	winPercentages := s.WinPercent()
	losePercentages := s.LosePercent()

	if len(losePercentages) == 0 {
		return 0
	}

	grossProfit := sumSlice(winPercentages)
	grossLoss := sumSlice(losePercentages)

	if grossLoss == 0 {
		return 0
	}

	return grossProfit / math.Abs(grossLoss)
}

// WinPercentage calculates the percentage of winning trades.
func (s TradeSummary) WinPercentage() float64 {
	winCount := len(s.wins())
	total := len(s.Trades)

	if total == 0 {
		return 0
	}

	return float64(winCount) / float64(total) * 100
}

// ByStrategy splits Trades by core.Order.StrategyTag, so a dispatcher running
// both the trend and range strategies on the same pair can be judged
// separately (spec §9's per-strategy attribution).
func (s TradeSummary) ByStrategy() map[string]TradeSummary {
	out := make(map[string]TradeSummary)
	for _, t := range s.Trades {
		tag := t.StrategyTag
		if tag == "" {
			tag = "unknown"
		}
		sub := out[tag]
		sub.Pair = s.Pair
		sub.Trades = append(sub.Trades, t)
		out[tag] = sub
	}
	return out
}

// Histogram renders an ASCII histogram of R-multiples across buckets bins
// wide, for a terminal-friendly view of this pair's return distribution.
func (s TradeSummary) Histogram(buckets int) string {
	rMultiples := s.RMultiples()
	if len(rMultiples) == 0 {
		return "(no closed trades)"
	}

	var sb strings.Builder
	hist := histogram.Hist(buckets, rMultiples)
	if err := histogram.Fprint(&sb, hist, histogram.Linear(10)); err != nil {
		return fmt.Sprintf("(histogram error: %s)", err)
	}
	return sb.String()
}

// String formats the trade summary as a text table.
func (s TradeSummary) String() string {
	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)

	_, quote := exchange.SplitAssetQuote(s.Pair)

	data := [][]string{
		{"Coin", s.Pair},
		{"Trades", strconv.Itoa(len(s.Trades))},
		{"Win", strconv.Itoa(len(s.wins()))},
		{"Loss", strconv.Itoa(len(s.losses()))},
		{"% Win", fmt.Sprintf("%.1f", s.WinPercentage())},
		{"Payoff", fmt.Sprintf("%.1f", s.Payoff()*100)},
		{"Pr.Fact", fmt.Sprintf("%.1f", s.ProfitFactor()*100)},
		{"Expectancy (R)", fmt.Sprintf("%.2f", s.ExpectancyR())},
		{"SQN", fmt.Sprintf("%.2f", s.SQN())},
		{"Profit", fmt.Sprintf("%.4f %s", s.Profit(), quote)},
		{"Volume", fmt.Sprintf("%.4f %s", s.Volume, quote)},
	}

	table.AppendBulk(data)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.Render()

	return tableString.String()
}

// SaveReturns writes each trade's percentage return to filename, one per
// line, for external analysis (e.g. a return-distribution plot).
func (s TradeSummary) SaveReturns(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, t := range s.Trades {
		if _, err = fmt.Fprintf(file, "%.4f\n", t.ProfitPercent); err != nil {
			return err
		}
	}

	return nil
}

func profitValues(trades []core.TradeResult) []float64 {
	out := make([]float64, len(trades))
	for i, t := range trades {
		out[i] = t.ProfitValue
	}
	return out
}

func percentValues(trades []core.TradeResult) []float64 {
	out := make([]float64, len(trades))
	for i, t := range trades {
		out[i] = t.ProfitPercent
	}
	return out
}

// sumSlice returns the sum of all values in a slice.
func sumSlice(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// average calculates the mean of a slice of float64 values.
func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sumSlice(values) / float64(len(values))
}

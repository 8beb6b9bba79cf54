package core

import (
	"fmt"
	"time"
)

// CandleSubscriber receives completed or partial candles from a feed.
type CandleSubscriber interface {
	OnCandle(Candle)
}

// Candle is an immutable OHLCV bar for a (pair, timeframe) at a given open time.
type Candle struct {
	Pair      string
	Timeframe string
	Time      time.Time
	UpdatedAt time.Time
	Open      float64
	Close     float64
	Low       float64
	High      float64
	Volume    float64
	Complete  bool
}

// GetPair returns the trading pair identifier for the candle.
func (c Candle) GetPair() string { return c.Pair }

// GetTime returns the open timestamp of the candle.
func (c Candle) GetTime() time.Time { return c.Time }

// GetOpen returns the opening price of the candle.
func (c Candle) GetOpen() float64 { return c.Open }

// GetClose returns the closing price of the candle.
func (c Candle) GetClose() float64 { return c.Close }

// GetLow returns the lowest price during the candle period.
func (c Candle) GetLow() float64 { return c.Low }

// GetHigh returns the highest price during the candle period.
func (c Candle) GetHigh() float64 { return c.High }

// GetVolume returns the trading volume during the candle period.
func (c Candle) GetVolume() float64 { return c.Volume }

// IsComplete returns whether the candle period is closed.
func (c Candle) IsComplete() bool { return c.Complete }

// IsEmpty reports whether the candle carries no meaningful data.
func (c Candle) IsEmpty() bool {
	return c.Pair == "" && c.Close == 0 && c.Open == 0 && c.Volume == 0
}

// Validate enforces the OHLC ordering and non-negative volume invariants from §3.
func (c Candle) Validate() error {
	lower := c.Open
	if c.Close < lower {
		lower = c.Close
	}
	upper := c.Open
	if c.Close > upper {
		upper = c.Close
	}
	if c.Low > lower || upper > c.High {
		return fmt.Errorf("candle %s@%s: low/high out of range (low=%f open=%f close=%f high=%f)",
			c.Pair, c.Time, c.Low, c.Open, c.Close, c.High)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s@%s: negative volume %f", c.Pair, c.Time, c.Volume)
	}
	return nil
}

// Less implements Item for use in the priority queue, ordering by open time
// then update time then pair, matching the teacher's tie-break order.
func (c Candle) Less(j Item) bool {
	other := j.(Candle)

	diff := other.Time.Sub(c.Time)
	if diff != 0 {
		return diff > 0
	}

	diff = other.UpdatedAt.Sub(c.UpdatedAt)
	if diff != 0 {
		return diff > 0
	}

	return c.Pair < other.Pair
}

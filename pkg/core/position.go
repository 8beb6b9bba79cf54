package core

import "time"

// Position is the one logical position per (symbol, exchange), spec §3.
type Position struct {
	Pair         string
	Exchange     string
	Side         SideType
	Amount       float64
	AvgEntry     float64
	CurrentPrice float64
	StopPrice    float64
	HasStop      bool
	TrailingHigh float64 // highest (longs) / lowest (shorts) price seen, for trailing stops
	OpenedAt     time.Time

	// InitialRisk is 1R = entry - initial_stop (longs) fixed at first entry;
	// pyramiding never re-scales it (spec §9d).
	InitialRisk float64
	// Pyramids is how many ADDON signals have already fired for this position.
	Pyramids int
}

// UnrealizedPnL computes (current - avgEntry) * amount * sideSign (spec §4.8).
func (p Position) UnrealizedPnL() float64 {
	sign := 1.0
	if p.Side == SideTypeSell {
		sign = -1.0
	}
	return (p.CurrentPrice - p.AvgEntry) * p.Amount * sign
}

// RMultiple returns the current unrealized PnL expressed in units of the
// fixed initial risk R, or 0 if InitialRisk is not set.
func (p Position) RMultiple() float64 {
	if p.InitialRisk <= 0 {
		return 0
	}
	return p.UnrealizedPnL() / (p.InitialRisk * p.Amount)
}

// TradeResult is the outcome of a fill that closed or reduced a position.
type TradeResult struct {
	Pair        string
	Side        SideType
	StrategyTag string
	Purpose     Purpose

	ProfitValue   float64
	ProfitPercent float64
	// RMultiple is ProfitValue expressed in units of the position's fixed
	// initial risk R (spec §9d); 0 if the position never had a stop.
	RMultiple float64
	Duration  time.Duration
	ClosedAt  time.Time
}

// Account is the engine's view of venue balances and open positions (spec §3).
type Account struct {
	Balance         float64
	Available       float64
	Positions       []Position
	MidnightBalance float64
	MidnightDay     int64 // days since epoch, UTC
}

// DailyPnL is realised + unrealised change since midnight (spec §9b):
// balance - midnight_balance already reflects realised changes, and the
// caller is expected to have marked Balance to include live unrealized PnL
// before calling this (PositionBook does so via CurrentEquity).
func (a Account) DailyPnL() float64 {
	return a.Balance - a.MidnightBalance
}

// DailyPnLPercent is DailyPnL as a fraction of the midnight balance.
func (a Account) DailyPnLPercent() float64 {
	if a.MidnightBalance == 0 {
		return 0
	}
	return a.DailyPnL() / a.MidnightBalance
}

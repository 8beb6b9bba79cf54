package core

// Signal is emitted by a strategy and consumed by the risk filter, then the OMS.
type Signal struct {
	Pair        string
	Side        SideType
	Type        OrderType
	Price       float64 // required iff Type is LIMIT or STOP_LIMIT
	StopPrice   float64 // required iff Type is STOP or STOP_LIMIT
	Amount      float64
	Purpose     Purpose
	StrategyTag string
	ReduceOnly  bool
	PostOnly    bool
}

// Diagnostics carries non-signal observability data a strategy wants to
// surface for the current tick (feature values, rejected-candidate notes).
// It replaces the teacher's duck-typed `{signals, metadata}` result with an
// explicit struct per spec §9.
type Diagnostics struct {
	Regime   Regime
	Features map[string]float64
	Notes    []string
}

// StrategyOutput is the sum type a Strategy.OnTick call returns: a batch of
// signals plus the diagnostics that produced them. Emergency exits are a
// distinct Purpose (PurposeEmergencyExit) rather than a separate variant,
// since every other field of Signal still applies to them.
type StrategyOutput struct {
	Signals     []Signal
	Diagnostics Diagnostics
}

// Package config loads the recognised options from spec §6 via Viper,
// matching the teacher's examples/trend_master/internal/config pattern of
// viper.AutomaticEnv()+SetDefault over a typed struct.
package config

import (
	"fmt"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/spf13/viper"

	"github.com/solbot-labs/engine/pkg/indicator"
	"github.com/solbot-labs/engine/pkg/regime"
	"github.com/solbot-labs/engine/pkg/risk"
	"github.com/solbot-labs/engine/pkg/strategy"
)

// MarketConfig holds the market.* keys (spec §6), feeding indicator.Config.
type MarketConfig struct {
	ShortTermEMA           int
	LongTermEMA            int
	ATRPeriod              int
	ATRPercentageThreshold float64
	SlopeHighVolThreshold  float64
	SlopeHighVolValue      int
	SlopeLowVolThreshold   float64
	SlopeLowVolValue       int
}

// TrendConfig holds the trend.* keys, feeding strategy.TrendConfig and the
// Donchian/ADX periods shared with indicator.Config.
type TrendConfig struct {
	DonchianPeriod            int
	ADXPeriod                 int
	ADXThreshold              float64
	ATRTrailingStopMultiplier float64
	AddOnPositionMultiplier   float64
	MaxPyramids               int
}

// RangeConfig holds the range.* keys, feeding strategy.RangeConfig.
type RangeConfig struct {
	RangePeriod         int
	GridLevelsMin       int
	GridLevelsMax       int
	GridWidthMultiplier float64
	EscapeThreshold     float64
	NetPositionDeltaMax float64
}

// RiskConfig holds the risk.* keys, feeding risk.Config, regime.Config and
// strategy.DispatcherConfig's recovery parameters.
type RiskConfig struct {
	MaxRiskPerTrade         float64
	MaxDailyLoss            float64
	EmergencyGapThreshold   float64
	EmergencyRecoveryThresh float64
	EmergencyRecoveryHours  time.Duration
	DefaultATRPct           float64
	MinStopDistancePct      float64
	MinATRValue             float64
}

// Config is every option spec §6 names, as a typed struct. Loading it from a
// YAML/env source is in scope (unlike spec.md's explicit non-goal of
// hand-building a config *language*); the keys and defaults below are the
// spec's literal list.
type Config struct {
	Market MarketConfig
	Trend  TrendConfig
	Range  RangeConfig
	Risk   RiskConfig

	Mode             string // live | simulation | backtest
	Symbols          []string
	Timeframes       []string
	StartDate        string
	EndDate          string
	InitialBalance   float64
	Slippage         float64
	CommissionRate   float64
	Quiet            bool
	SmokeTest        bool
}

// Load reads Config from the environment (SOLBOT_ prefixed) and, if
// configPath is non-empty, an overlay file of the same dotted keys, via a
// fresh Viper instance. Missing keys fall back to the spec's documented
// defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOLBOT")
	v.AutomaticEnv()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	recoveryHours, err := parseHours(v.GetString("risk.emergency_recovery_hours"))
	if err != nil {
		return nil, fmt.Errorf("config: risk.emergency_recovery_hours: %w", err)
	}

	cfg := &Config{
		Market: MarketConfig{
			ShortTermEMA:           v.GetInt("market.short_term_ema"),
			LongTermEMA:            v.GetInt("market.long_term_ema"),
			ATRPeriod:              v.GetInt("market.atr_period"),
			ATRPercentageThreshold: v.GetFloat64("market.atr_percentage_threshold"),
			SlopeHighVolThreshold:  v.GetFloat64("market.slope_periods_high_vol_threshold"),
			SlopeHighVolValue:      v.GetInt("market.slope_periods_high_vol_value"),
			SlopeLowVolThreshold:   v.GetFloat64("market.slope_periods_low_vol_threshold"),
			SlopeLowVolValue:       v.GetInt("market.slope_periods_low_vol_value"),
		},
		Trend: TrendConfig{
			DonchianPeriod:            v.GetInt("trend.donchian_period"),
			ADXPeriod:                 v.GetInt("trend.adx_period"),
			ADXThreshold:              v.GetFloat64("trend.adx_threshold"),
			ATRTrailingStopMultiplier: v.GetFloat64("trend.atr_trailing_stop_multiplier"),
			AddOnPositionMultiplier:   v.GetFloat64("trend.add_on_position_multiplier"),
			MaxPyramids:               v.GetInt("trend.max_pyramids"),
		},
		Range: RangeConfig{
			RangePeriod:         v.GetInt("range.range_period"),
			GridLevelsMin:       v.GetInt("range.grid_levels_min"),
			GridLevelsMax:       v.GetInt("range.grid_levels_max"),
			GridWidthMultiplier: v.GetFloat64("range.grid_width_multiplier"),
			EscapeThreshold:     v.GetFloat64("range.escape_threshold"),
			NetPositionDeltaMax: v.GetFloat64("range.net_position_delta_max"),
		},
		Risk: RiskConfig{
			MaxRiskPerTrade:         v.GetFloat64("risk.max_risk_per_trade"),
			MaxDailyLoss:            v.GetFloat64("risk.max_daily_loss"),
			EmergencyGapThreshold:   v.GetFloat64("risk.emergency_gap_threshold"),
			EmergencyRecoveryThresh: v.GetFloat64("risk.emergency_recovery_threshold"),
			EmergencyRecoveryHours:  recoveryHours,
			DefaultATRPct:           v.GetFloat64("risk.default_atr_pct"),
			MinStopDistancePct:      v.GetFloat64("risk.min_stop_distance_pct"),
			MinATRValue:             v.GetFloat64("risk.min_atr_value"),
		},
		Mode:           v.GetString("mode"),
		Symbols:        v.GetStringSlice("symbols"),
		Timeframes:     v.GetStringSlice("timeframes"),
		StartDate:      v.GetString("start_date"),
		EndDate:        v.GetString("end_date"),
		InitialBalance: v.GetFloat64("initial_balance"),
		Slippage:       v.GetFloat64("slippage"),
		CommissionRate: v.GetFloat64("commission_rate"),
		Quiet:          v.GetBool("quiet"),
		SmokeTest:      v.GetBool("smoke_test"),
	}
	return cfg, nil
}

// parseHours accepts either a bare number of hours (spec's literal default,
// "24") or any duration string str2duration understands ("24h", "1d").
func parseHours(raw string) (time.Duration, error) {
	if raw == "" {
		return 24 * time.Hour, nil
	}
	if d, err := str2duration.ParseDuration(raw); err == nil {
		return d, nil
	}
	hours, err := str2duration.ParseDuration(raw + "h")
	if err != nil {
		return 0, err
	}
	return hours, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("market.short_term_ema", 10)
	v.SetDefault("market.long_term_ema", 50)
	v.SetDefault("market.atr_period", 14)
	v.SetDefault("market.atr_percentage_threshold", 6.0)
	v.SetDefault("market.slope_periods_high_vol_threshold", 6.0)
	v.SetDefault("market.slope_periods_high_vol_value", 3)
	v.SetDefault("market.slope_periods_low_vol_threshold", 2.0)
	v.SetDefault("market.slope_periods_low_vol_value", 8)

	v.SetDefault("trend.donchian_period", 20)
	v.SetDefault("trend.adx_period", 14)
	v.SetDefault("trend.adx_threshold", 25)
	v.SetDefault("trend.atr_trailing_stop_multiplier", 1.2)
	v.SetDefault("trend.add_on_position_multiplier", 0.5)
	v.SetDefault("trend.max_pyramids", 2)

	v.SetDefault("range.range_period", 30)
	v.SetDefault("range.grid_levels_min", 3)
	v.SetDefault("range.grid_levels_max", 10)
	v.SetDefault("range.grid_width_multiplier", 0.6)
	v.SetDefault("range.escape_threshold", 0.02)
	v.SetDefault("range.net_position_delta_max", 0.15)

	v.SetDefault("risk.max_risk_per_trade", 0.01)
	v.SetDefault("risk.max_daily_loss", 0.05)
	v.SetDefault("risk.emergency_gap_threshold", 0.15)
	v.SetDefault("risk.emergency_recovery_threshold", 0.075)
	v.SetDefault("risk.emergency_recovery_hours", "24")
	v.SetDefault("risk.default_atr_pct", 0.02)
	v.SetDefault("risk.min_stop_distance_pct", 0.01)
	v.SetDefault("risk.min_atr_value", 0.0001)

	v.SetDefault("mode", "live")
	v.SetDefault("quiet", false)
	v.SetDefault("smoke_test", false)
}

// IndicatorConfig builds an indicator.Config from the market/trend sections.
// Donchian and ADX periods are owned by TrendConfig since only TrendStrategy
// and RangeStrategy's grid sizing use them; IndicatorState itself is
// agnostic to which strategy consumes a given reading.
func (c *Config) IndicatorConfig() indicator.Config {
	ind := indicator.DefaultConfig()
	ind.ShortEMAPeriod = c.Market.ShortTermEMA
	ind.LongEMAPeriod = c.Market.LongTermEMA
	ind.ATRPeriod = c.Market.ATRPeriod
	ind.ADXPeriod = c.Trend.ADXPeriod
	ind.DonchianPeriod = c.Trend.DonchianPeriod
	ind.SlopeHighVolThreshold = c.Market.SlopeHighVolThreshold
	ind.SlopeHighVolK = c.Market.SlopeHighVolValue
	ind.SlopeLowVolThreshold = c.Market.SlopeLowVolThreshold
	ind.SlopeLowVolK = c.Market.SlopeLowVolValue
	return ind
}

// RegimeConfig builds a regime.Config; range.* has no regime-classifier
// analogue (RANGE detection is ADX-driven, from trend.adx_threshold and its
// own range-floor, not a configured band width).
func (c *Config) RegimeConfig() regime.Config {
	cfg := regime.DefaultConfig()
	cfg.NormalADXThreshold = c.Trend.ADXThreshold
	cfg.BlackSwanGapThreshold = c.Risk.EmergencyGapThreshold
	return cfg
}

// TrendStrategyConfig builds a strategy.TrendConfig.
func (c *Config) TrendStrategyConfig() strategy.TrendConfig {
	cfg := strategy.DefaultTrendConfig()
	cfg.ADXThreshold = c.Trend.ADXThreshold
	cfg.ATRTrailingStopMultiplier = c.Trend.ATRTrailingStopMultiplier
	cfg.AddOnPositionMultiplier = c.Trend.AddOnPositionMultiplier
	cfg.MaxPyramids = c.Trend.MaxPyramids
	cfg.MinATRValue = c.Risk.MinATRValue
	cfg.MinStopDistancePct = c.Risk.MinStopDistancePct
	cfg.DefaultATRPct = c.Risk.DefaultATRPct
	return cfg
}

// RangeStrategyConfig builds a strategy.RangeConfig.
func (c *Config) RangeStrategyConfig() strategy.RangeConfig {
	cfg := strategy.DefaultRangeConfig()
	cfg.GridATRMultiplier = c.Range.GridWidthMultiplier
	cfg.MinLevels = c.Range.GridLevelsMin
	cfg.MaxLevels = c.Range.GridLevelsMax
	cfg.EscapePct = c.Range.EscapeThreshold
	cfg.NetPositionDeltaMax = c.Range.NetPositionDeltaMax
	cfg.MinATRValue = c.Risk.MinATRValue
	cfg.MinStopDistancePct = c.Risk.MinStopDistancePct
	cfg.DefaultATRPct = c.Risk.DefaultATRPct
	return cfg
}

// DispatcherConfig builds a strategy.DispatcherConfig from risk.*'s
// emergency-recovery parameters.
func (c *Config) DispatcherConfig() strategy.DispatcherConfig {
	cfg := strategy.DefaultDispatcherConfig()
	cfg.RecoveryMoveThreshold = c.Risk.EmergencyRecoveryThresh
	cfg.RecoveryWindow = c.Risk.EmergencyRecoveryHours
	return cfg
}

// RiskFilterConfig builds a risk.Config.
func (c *Config) RiskFilterConfig() risk.Config {
	cfg := risk.DefaultConfig()
	cfg.MaxRiskPerTrade = c.Risk.MaxRiskPerTrade
	cfg.MaxDailyLoss = c.Risk.MaxDailyLoss
	cfg.MinATRValue = c.Risk.MinATRValue
	cfg.MinStopDistancePct = c.Risk.MinStopDistancePct
	cfg.DefaultATRPct = c.Risk.DefaultATRPct
	return cfg
}

// Package config loads backtest configuration from files and the
// environment.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Load reads a config file (yaml, json or toml, by extension), applies
// defaults and environment overrides, and validates the result. Every
// out-of-range value is rejected here rather than at use.
func Load(path string) (*types.BacktestConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg types.BacktestConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("initial_capital", "100000")
	v.SetDefault("commission_bps", 10.0)
	v.SetDefault("slippage_bps", 5.0)
	v.SetDefault("risk_free_rate", 0.02)
	v.SetDefault("periods_per_year", 252)
	v.SetDefault("margin_allowance", 0.0)

	strat := types.DefaultStrategyConfig(types.StrategyMeanReversion)
	v.SetDefault("strategy.kind", string(strat.Kind))
	v.SetDefault("strategy.window", strat.Window)
	v.SetDefault("strategy.entry_z_score", strat.EntryZScore)
	v.SetDefault("strategy.exit_z_score", strat.ExitZScore)
	v.SetDefault("strategy.macd_fast", strat.MACDFast)
	v.SetDefault("strategy.macd_slow", strat.MACDSlow)
	v.SetDefault("strategy.macd_signal", strat.MACDSignal)
	v.SetDefault("strategy.rsi_period", strat.RSIPeriod)
	v.SetDefault("strategy.rsi_overbought", strat.RSIOverbought)
	v.SetDefault("strategy.rsi_oversold", strat.RSIOversold)
	v.SetDefault("strategy.significance", strat.Significance)
	v.SetDefault("strategy.target_volatility", strat.TargetVolatility)
	v.SetDefault("strategy.correlation_threshold", strat.CorrelationThreshold)

	siz := types.DefaultSizingConfig(types.SizingFixedFractional)
	v.SetDefault("sizing.method", string(siz.Method))
	v.SetDefault("sizing.fraction", siz.Fraction)
	v.SetDefault("sizing.kelly_max_fraction", siz.KellyMaxFraction)
	v.SetDefault("sizing.kelly_min_samples", siz.KellyMinSamples)
	v.SetDefault("sizing.target_volatility", siz.TargetVolatility)

	v.SetDefault("monte_carlo.enabled", false)
	v.SetDefault("monte_carlo.iterations", 1000)
	v.SetDefault("monte_carlo.seed", 1)
}

// decimalDecodeHook converts string and numeric config values into
// decimal.Decimal fields.
func decimalDecodeHook() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch val := data.(type) {
		case string:
			return decimal.NewFromString(val)
		case float64:
			return decimal.NewFromFloat(val), nil
		case int:
			return decimal.NewFromInt(int64(val)), nil
		case int64:
			return decimal.NewFromInt(val), nil
		default:
			return data, nil
		}
	}
}

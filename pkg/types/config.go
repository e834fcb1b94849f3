// Package types provides configuration types for the backtest engine.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StrategyKind names one of the closed set of strategy variants.
type StrategyKind string

const (
	StrategyMeanReversion StrategyKind = "mean_reversion"
	StrategyMomentum      StrategyKind = "momentum"
	StrategyPairsTrading  StrategyKind = "pairs_trading"
	StrategyHedge         StrategyKind = "hedge"
)

// SizingMethod names one of the closed set of position sizing methods.
type SizingMethod string

const (
	SizingFixedFractional SizingMethod = "fixed_fractional"
	SizingKelly           SizingMethod = "kelly"
	SizingRiskParity      SizingMethod = "risk_parity"
)

// BacktestConfig is the construct-once configuration for a backtest run.
// Out-of-range values are rejected by Validate at construction, not at use.
type BacktestConfig struct {
	ID             string          `json:"id" mapstructure:"id"`
	Assets         []string        `json:"assets" mapstructure:"assets"`
	InitialCapital decimal.Decimal `json:"initialCapital" mapstructure:"initial_capital"`
	CommissionBps  float64         `json:"commissionBps" mapstructure:"commission_bps"`
	SlippageBps    float64         `json:"slippageBps" mapstructure:"slippage_bps"`
	RiskFreeRate   float64         `json:"riskFreeRate" mapstructure:"risk_free_rate"`
	PeriodsPerYear int             `json:"periodsPerYear" mapstructure:"periods_per_year"`
	// MarginAllowance is the fraction of extra notional beyond cash that a
	// sized target may cost before it is clipped (0 = cash only).
	MarginAllowance float64          `json:"marginAllowance" mapstructure:"margin_allowance"`
	Strategy        StrategyConfig   `json:"strategy" mapstructure:"strategy"`
	Sizing          SizingConfig     `json:"sizing" mapstructure:"sizing"`
	MonteCarlo      MonteCarloConfig `json:"monteCarlo" mapstructure:"monte_carlo"`
}

// StrategyConfig parameterizes one strategy variant.
type StrategyConfig struct {
	Kind          StrategyKind `json:"kind" mapstructure:"kind"`
	Window        int          `json:"window" mapstructure:"window"`
	EntryZScore   float64      `json:"entryZScore" mapstructure:"entry_z_score"`
	ExitZScore    float64      `json:"exitZScore" mapstructure:"exit_z_score"`
	MACDFast      int          `json:"macdFast" mapstructure:"macd_fast"`
	MACDSlow      int          `json:"macdSlow" mapstructure:"macd_slow"`
	MACDSignal    int          `json:"macdSignal" mapstructure:"macd_signal"`
	RSIPeriod     int          `json:"rsiPeriod" mapstructure:"rsi_period"`
	RSIOverbought float64      `json:"rsiOverbought" mapstructure:"rsi_overbought"`
	RSIOversold   float64      `json:"rsiOversold" mapstructure:"rsi_oversold"`
	// Significance is the ADF test level at which a pair must reject the
	// unit-root null before it is tradable.
	Significance float64 `json:"significance" mapstructure:"significance"`
	// TargetVolatility is the annualized portfolio volatility target for
	// the hedge strategy.
	TargetVolatility     float64 `json:"targetVolatility" mapstructure:"target_volatility"`
	CorrelationThreshold float64 `json:"correlationThreshold" mapstructure:"correlation_threshold"`
}

// SizingConfig parameterizes one sizing method.
type SizingConfig struct {
	Method           SizingMethod `json:"method" mapstructure:"method"`
	Fraction         float64      `json:"fraction" mapstructure:"fraction"`
	KellyMaxFraction float64      `json:"kellyMaxFraction" mapstructure:"kelly_max_fraction"`
	KellyMinSamples  int          `json:"kellyMinSamples" mapstructure:"kelly_min_samples"`
	TargetVolatility float64      `json:"targetVolatility" mapstructure:"target_volatility"`
}

// MonteCarloConfig parameterizes the optional trade-resampling validation.
type MonteCarloConfig struct {
	Enabled    bool  `json:"enabled" mapstructure:"enabled"`
	Iterations int   `json:"iterations" mapstructure:"iterations"`
	Seed       int64 `json:"seed" mapstructure:"seed"`
}

// DefaultStrategyConfig returns the defaults for a strategy variant.
func DefaultStrategyConfig(kind StrategyKind) StrategyConfig {
	cfg := StrategyConfig{
		Kind:                 kind,
		Window:               20,
		EntryZScore:          2.0,
		ExitZScore:           0.5,
		MACDFast:             12,
		MACDSlow:             26,
		MACDSignal:           9,
		RSIPeriod:            14,
		RSIOverbought:        70,
		RSIOversold:          30,
		Significance:         0.05,
		TargetVolatility:     0.15,
		CorrelationThreshold: 0.7,
	}
	switch kind {
	case StrategyPairsTrading:
		cfg.Window = 60
	case StrategyHedge:
		cfg.Window = 30
	}
	return cfg
}

// DefaultSizingConfig returns conservative sizing defaults.
func DefaultSizingConfig(method SizingMethod) SizingConfig {
	return SizingConfig{
		Method:           method,
		Fraction:         0.1,
		KellyMaxFraction: 0.25,
		KellyMinSamples:  20,
		TargetVolatility: 0.15,
	}
}

// Validate rejects unrecognized or out-of-range values.
func (c *BacktestConfig) Validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("config: at least one asset required")
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, a := range c.Assets {
		if a == "" {
			return fmt.Errorf("config: empty asset name")
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("config: duplicate asset %q", a)
		}
		seen[a] = struct{}{}
	}
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("config: initial capital must be > 0, got %s", c.InitialCapital)
	}
	if c.CommissionBps < 0 {
		return fmt.Errorf("config: commission bps must be >= 0, got %v", c.CommissionBps)
	}
	if c.SlippageBps < 0 {
		return fmt.Errorf("config: slippage bps must be >= 0, got %v", c.SlippageBps)
	}
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("config: periods per year must be > 0, got %d", c.PeriodsPerYear)
	}
	if c.MarginAllowance < 0 {
		return fmt.Errorf("config: margin allowance must be >= 0, got %v", c.MarginAllowance)
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Sizing.Validate(); err != nil {
		return err
	}
	if c.MonteCarlo.Enabled && c.MonteCarlo.Iterations <= 0 {
		return fmt.Errorf("config: monte carlo iterations must be > 0, got %d", c.MonteCarlo.Iterations)
	}
	return nil
}

// Validate rejects unrecognized or out-of-range strategy parameters.
func (s *StrategyConfig) Validate() error {
	switch s.Kind {
	case StrategyMeanReversion, StrategyMomentum, StrategyPairsTrading, StrategyHedge:
	default:
		return fmt.Errorf("config: unrecognized strategy kind %q", s.Kind)
	}
	if s.Window <= 0 {
		return fmt.Errorf("config: strategy window must be > 0, got %d", s.Window)
	}
	if s.EntryZScore <= 0 {
		return fmt.Errorf("config: entry z-score must be > 0, got %v", s.EntryZScore)
	}
	if s.ExitZScore < 0 || s.ExitZScore >= s.EntryZScore {
		return fmt.Errorf("config: exit z-score must be in [0, entry), got %v", s.ExitZScore)
	}
	if s.Kind == StrategyMomentum {
		if s.MACDFast <= 0 || s.MACDSlow <= 0 || s.MACDSignal <= 0 {
			return fmt.Errorf("config: MACD periods must be > 0")
		}
		if s.MACDFast >= s.MACDSlow {
			return fmt.Errorf("config: MACD fast period %d must be below slow period %d", s.MACDFast, s.MACDSlow)
		}
		if s.RSIPeriod <= 0 {
			return fmt.Errorf("config: RSI period must be > 0, got %d", s.RSIPeriod)
		}
		if s.RSIOversold >= s.RSIOverbought {
			return fmt.Errorf("config: RSI oversold %v must be below overbought %v", s.RSIOversold, s.RSIOverbought)
		}
	}
	if s.Kind == StrategyPairsTrading {
		if s.Significance <= 0 || s.Significance >= 1 {
			return fmt.Errorf("config: ADF significance must be in (0, 1), got %v", s.Significance)
		}
	}
	if s.Kind == StrategyHedge {
		if s.TargetVolatility <= 0 {
			return fmt.Errorf("config: target volatility must be > 0, got %v", s.TargetVolatility)
		}
		if s.CorrelationThreshold <= 0 || s.CorrelationThreshold > 1 {
			return fmt.Errorf("config: correlation threshold must be in (0, 1], got %v", s.CorrelationThreshold)
		}
	}
	return nil
}

// Validate rejects unrecognized or out-of-range sizing parameters.
func (s *SizingConfig) Validate() error {
	switch s.Method {
	case SizingFixedFractional, SizingKelly, SizingRiskParity:
	default:
		return fmt.Errorf("config: unrecognized sizing method %q", s.Method)
	}
	if s.Fraction <= 0 || s.Fraction > 1 {
		return fmt.Errorf("config: sizing fraction must be in (0, 1], got %v", s.Fraction)
	}
	if s.Method == SizingKelly {
		if s.KellyMaxFraction <= 0 || s.KellyMaxFraction > 1 {
			return fmt.Errorf("config: kelly max fraction must be in (0, 1], got %v", s.KellyMaxFraction)
		}
		if s.KellyMinSamples <= 0 {
			return fmt.Errorf("config: kelly min samples must be > 0, got %d", s.KellyMinSamples)
		}
	}
	if s.Method == SizingRiskParity && s.TargetVolatility <= 0 {
		return fmt.Errorf("config: target volatility must be > 0, got %v", s.TargetVolatility)
	}
	return nil
}

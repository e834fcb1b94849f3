// Package strategy implements the signal generators. Each strategy is a
// pure function of the price history it is handed: replaying the same
// window always yields the same signals.
package strategy

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Strategy generates target-direction signals from accumulated history.
// Implementations must be deterministic and must not retain references to
// the history between calls.
type Strategy interface {
	Name() string
	// Warmup is the number of bars per asset required before the
	// strategy can emit its first signal.
	Warmup() int
	OnBar(h *History) ([]types.Signal, error)
}

// New constructs the strategy variant named by the config.
func New(cfg types.StrategyConfig, periodsPerYear int, logger *zap.Logger) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Kind {
	case types.StrategyMeanReversion:
		return newMeanReversion(cfg, logger), nil
	case types.StrategyMomentum:
		return newMomentum(cfg, logger), nil
	case types.StrategyPairsTrading:
		return newPairsTrading(cfg, logger), nil
	case types.StrategyHedge:
		return newHedge(cfg, periodsPerYear, logger), nil
	default:
		return nil, fmt.Errorf("strategy: unrecognized kind %q", cfg.Kind)
	}
}

// History accumulates validated bars per asset in arrival order. It is
// append-only; strategies receive it read-only.
type History struct {
	assets []string
	bars   map[string][]types.Bar
	closes map[string][]float64
}

// NewHistory creates an empty history for the given asset universe.
func NewHistory(assets []string) *History {
	sorted := make([]string, len(assets))
	copy(sorted, assets)
	sort.Strings(sorted)
	return &History{
		assets: sorted,
		bars:   make(map[string][]types.Bar, len(sorted)),
		closes: make(map[string][]float64, len(sorted)),
	}
}

// Append records a bar. Ordering and duplicate checks are the caller's
// responsibility.
func (h *History) Append(bar types.Bar) {
	h.bars[bar.Asset] = append(h.bars[bar.Asset], bar)
	px, _ := bar.Close.Float64()
	h.closes[bar.Asset] = append(h.closes[bar.Asset], px)
}

// Assets returns the universe in sorted order.
func (h *History) Assets() []string { return h.assets }

// Len returns the number of bars recorded for the asset.
func (h *History) Len(asset string) int { return len(h.bars[asset]) }

// Bars returns the bar slice for the asset. Callers must not mutate it.
func (h *History) Bars(asset string) []types.Bar { return h.bars[asset] }

// Closes returns the close-price series for the asset as floats.
func (h *History) Closes(asset string) []float64 { return h.closes[asset] }

// Last returns the most recent bar for the asset, if any.
func (h *History) Last(asset string) (types.Bar, bool) {
	bars := h.bars[asset]
	if len(bars) == 0 {
		return types.Bar{}, false
	}
	return bars[len(bars)-1], true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

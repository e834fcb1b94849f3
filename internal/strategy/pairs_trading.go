package strategy

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/internal/indicators"
	"github.com/helios-quant/backtest-engine/pkg/types"
)

// PairsTrading trades the spread between two cointegrated assets. The
// hedge ratio is re-estimated each bar over the trailing window, the
// spread must pass an ADF stationarity test before the pair is tradable,
// and entries fire when the spread z-score breaches the entry threshold.
// Both legs are closed when the z-score reverts inside the exit band.
type PairsTrading struct {
	window       int
	entryZ       float64
	exitZ        float64
	significance float64
	adfLags      int
	logger       *zap.Logger
}

func newPairsTrading(cfg types.StrategyConfig, logger *zap.Logger) *PairsTrading {
	return &PairsTrading{
		window:       cfg.Window,
		entryZ:       cfg.EntryZScore,
		exitZ:        cfg.ExitZScore,
		significance: cfg.Significance,
		adfLags:      1,
		logger:       logger,
	}
}

func (s *PairsTrading) Name() string { return "pairs_trading" }

func (s *PairsTrading) Warmup() int { return s.window }

func (s *PairsTrading) OnBar(h *History) ([]types.Signal, error) {
	assets := h.Assets()
	if len(assets) != 2 {
		return nil, fmt.Errorf("strategy: pairs trading requires exactly 2 assets, have %d", len(assets))
	}
	first, second := assets[0], assets[1]
	if h.Len(first) < s.window || h.Len(second) < s.window {
		return nil, nil
	}
	barA, _ := h.Last(first)
	barB, _ := h.Last(second)

	y := tail(h.Closes(first), s.window)
	x := tail(h.Closes(second), s.window)

	beta, _, err := indicators.HedgeRatio(y, x)
	if err != nil {
		return nil, err
	}
	spread, err := indicators.Spread(y, x, beta)
	if err != nil {
		return nil, err
	}

	adf, err := indicators.ADFTest(spread, s.adfLags)
	if err != nil {
		if errors.Is(err, types.ErrInsufficientHistory) {
			return nil, nil
		}
		return nil, err
	}
	if !adf.Stationary(s.significance) {
		s.logger.Debug("pair not cointegrated",
			zap.Float64("adf_statistic", adf.Statistic),
			zap.Float64("significance", s.significance))
		return nil, nil
	}

	z, ok := rollingZ(spread, len(spread))
	if !ok {
		return nil, nil
	}

	strength := clamp01(math.Abs(z) / s.entryZ)
	switch {
	case z > s.entryZ:
		// Spread rich: short the dependent leg, long the hedge leg.
		return []types.Signal{
			{Asset: first, Timestamp: barA.Timestamp, Direction: types.Short, Strength: -strength, Ratio: 1},
			{Asset: second, Timestamp: barB.Timestamp, Direction: types.Long, Strength: strength, Ratio: beta},
		}, nil
	case z < -s.entryZ:
		return []types.Signal{
			{Asset: first, Timestamp: barA.Timestamp, Direction: types.Long, Strength: strength, Ratio: 1},
			{Asset: second, Timestamp: barB.Timestamp, Direction: types.Short, Strength: -strength, Ratio: beta},
		}, nil
	case math.Abs(z) < s.exitZ:
		return []types.Signal{
			flatSignal(first, barA),
			flatSignal(second, barB),
		}, nil
	}
	// Between the exit and entry bands: hold whatever is open.
	return nil, nil
}

func tail(values []float64, n int) []float64 {
	return values[len(values)-n:]
}

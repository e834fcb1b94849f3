package strategy

import (
	"math"

	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/internal/indicators"
	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Hedge is a volatility-targeting overlay. Each asset carries long
// exposure scaled down when its trailing annualized volatility exceeds
// the target, with a further haircut for assets highly correlated to the
// rest of the universe, since correlated exposure concentrates portfolio
// risk rather than diversifying it.
type Hedge struct {
	window         int
	targetVol      float64
	corrThreshold  float64
	periodsPerYear int
	logger         *zap.Logger
}

func newHedge(cfg types.StrategyConfig, periodsPerYear int, logger *zap.Logger) *Hedge {
	return &Hedge{
		window:         cfg.Window,
		targetVol:      cfg.TargetVolatility,
		corrThreshold:  cfg.CorrelationThreshold,
		periodsPerYear: periodsPerYear,
		logger:         logger,
	}
}

func (s *Hedge) Name() string { return "hedge" }

// Warmup needs one extra bar so the window of returns is full.
func (s *Hedge) Warmup() int { return s.window + 1 }

func (s *Hedge) OnBar(h *History) ([]types.Signal, error) {
	assets := h.Assets()

	// Trailing returns per asset, only for assets past warmup.
	returns := make(map[string][]float64, len(assets))
	for _, asset := range assets {
		if h.Len(asset) < s.Warmup() {
			continue
		}
		r := indicators.Returns(tail(h.Closes(asset), s.window+1))
		returns[asset] = r
	}

	var signals []types.Signal
	for _, asset := range assets {
		r, ok := returns[asset]
		if !ok {
			continue
		}
		bar, _ := h.Last(asset)

		vol := annualizedVol(r, s.periodsPerYear)
		strength := 1.0
		if vol > s.targetVol && vol > 0 {
			strength = s.targetVol / vol
		}

		// Pairwise correlation against the rest of the universe.
		maxCorr := 0.0
		for _, other := range assets {
			if other == asset {
				continue
			}
			ro, ok := returns[other]
			if !ok {
				continue
			}
			c, err := indicators.Correlation(r, ro)
			if err != nil {
				return nil, err
			}
			if c > maxCorr {
				maxCorr = c
			}
		}
		if maxCorr >= s.corrThreshold {
			strength *= 1 - 0.5*maxCorr
		}

		strength = clamp01(strength)
		sig := types.Signal{
			Asset:     asset,
			Timestamp: bar.Timestamp,
			Direction: types.Long,
			Strength:  strength,
		}
		if strength == 0 {
			sig.Direction = types.Flat
		}
		s.logger.Debug("hedge signal",
			zap.String("asset", asset),
			zap.Float64("realized_vol", vol),
			zap.Float64("max_correlation", maxCorr),
			zap.Float64("strength", strength))
		signals = append(signals, sig)
	}
	return signals, nil
}

func annualizedVol(returns []float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(returns)-1))
	return sd * math.Sqrt(float64(periodsPerYear))
}

package strategy

import (
	"math"

	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// MeanReversion trades rolling z-score extremes: long below the negative
// entry threshold, short above the positive one, flat inside the band.
type MeanReversion struct {
	window int
	entryZ float64
	logger *zap.Logger
}

func newMeanReversion(cfg types.StrategyConfig, logger *zap.Logger) *MeanReversion {
	return &MeanReversion{
		window: cfg.Window,
		entryZ: cfg.EntryZScore,
		logger: logger,
	}
}

func (s *MeanReversion) Name() string { return "mean_reversion" }

func (s *MeanReversion) Warmup() int { return s.window }

func (s *MeanReversion) OnBar(h *History) ([]types.Signal, error) {
	var signals []types.Signal
	for _, asset := range h.Assets() {
		bar, ok := h.Last(asset)
		if !ok || h.Len(asset) < s.window {
			continue
		}
		closes := h.Closes(asset)
		z, ok := rollingZ(closes, s.window)
		if !ok {
			// Zero dispersion in the window, nothing to fade.
			signals = append(signals, flatSignal(asset, bar))
			continue
		}
		sig := types.Signal{Asset: asset, Timestamp: bar.Timestamp}
		switch {
		case z < -s.entryZ:
			sig.Direction = types.Long
			sig.Strength = clamp01(math.Abs(z) / s.entryZ)
		case z > s.entryZ:
			sig.Direction = types.Short
			sig.Strength = -clamp01(z / s.entryZ)
		default:
			sig.Direction = types.Flat
		}
		s.logger.Debug("mean reversion signal",
			zap.String("asset", asset),
			zap.Float64("zscore", z),
			zap.String("direction", string(sig.Direction)))
		signals = append(signals, sig)
	}
	return signals, nil
}

// rollingZ computes the z-score of the latest value against the trailing
// window including itself. The second return is false when the window has
// zero dispersion.
func rollingZ(values []float64, window int) (float64, bool) {
	win := values[len(values)-window:]
	var mean float64
	for _, v := range win {
		mean += v
	}
	mean /= float64(window)
	var ss float64
	for _, v := range win {
		d := v - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(window-1))
	if sd == 0 {
		return 0, false
	}
	return (win[len(win)-1] - mean) / sd, true
}

func flatSignal(asset string, bar types.Bar) types.Signal {
	return types.Signal{Asset: asset, Timestamp: bar.Timestamp, Direction: types.Flat}
}

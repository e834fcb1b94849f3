package strategy

import (
	"math"

	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/internal/indicators"
	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Momentum trades MACD line crossovers confirmed by RSI: long when the
// MACD line crosses above its signal line with RSI above 50, short on
// the symmetric condition, flat otherwise. Signal strength scales with
// how far RSI sits from neutral.
type Momentum struct {
	fast      int
	slow      int
	signal    int
	rsiPeriod int
	logger    *zap.Logger
}

func newMomentum(cfg types.StrategyConfig, logger *zap.Logger) *Momentum {
	return &Momentum{
		fast:      cfg.MACDFast,
		slow:      cfg.MACDSlow,
		signal:    cfg.MACDSignal,
		rsiPeriod: cfg.RSIPeriod,
		logger:    logger,
	}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) Warmup() int {
	w := s.slow + s.signal
	if s.rsiPeriod+1 > w {
		w = s.rsiPeriod + 1
	}
	return w
}

func (s *Momentum) OnBar(h *History) ([]types.Signal, error) {
	var signals []types.Signal
	for _, asset := range h.Assets() {
		bar, ok := h.Last(asset)
		if !ok || h.Len(asset) < s.Warmup() {
			continue
		}
		closes := h.Closes(asset)
		macd, err := indicators.MACD(closes, s.fast, s.slow, s.signal)
		if err != nil {
			return nil, err
		}
		rsi, err := indicators.RSI(closes, s.rsiPeriod)
		if err != nil {
			return nil, err
		}
		n := len(closes)
		last := rsi[n-1]
		if !indicators.Ready(last) {
			continue
		}
		crossUp := macd.Histogram[n-2] <= 0 && macd.Histogram[n-1] > 0
		crossDown := macd.Histogram[n-2] >= 0 && macd.Histogram[n-1] < 0

		sig := types.Signal{Asset: asset, Timestamp: bar.Timestamp, Direction: types.Flat}
		strength := 0.5 + 0.5*math.Abs(last-50)/50
		switch {
		case crossUp && last > 50:
			sig.Direction = types.Long
			sig.Strength = clamp01(strength)
		case crossDown && last < 50:
			sig.Direction = types.Short
			sig.Strength = -clamp01(strength)
		}
		s.logger.Debug("momentum signal",
			zap.String("asset", asset),
			zap.Float64("rsi", last),
			zap.Float64("macd_hist", macd.Histogram[n-1]),
			zap.String("direction", string(sig.Direction)))
		signals = append(signals, sig)
	}
	return signals, nil
}

package sizing

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Kelly sizes positions by the Kelly criterion estimated from trailing
// closed-trade outcomes. Below the minimum sample count it falls back to
// fixed-fractional sizing so early bars are not driven by noise.
type Kelly struct {
	fallback    *FixedFractional
	maxFraction float64
	minSamples  int
	logger      *zap.Logger

	wins      int
	losses    int
	grossWin  decimal.Decimal
	grossLoss decimal.Decimal
}

func NewKelly(cfg types.SizingConfig, logger *zap.Logger) *Kelly {
	return &Kelly{
		fallback:    NewFixedFractional(cfg.Fraction),
		maxFraction: cfg.KellyMaxFraction,
		minSamples:  cfg.KellyMinSamples,
		logger:      logger,
		grossWin:    decimal.Zero,
		grossLoss:   decimal.Zero,
	}
}

func (s *Kelly) Name() string { return "kelly" }

// RecordTrade feeds a realized trade outcome into the estimator.
func (s *Kelly) RecordTrade(trade types.ClosedTrade) {
	if trade.RealizedPnL.IsPositive() {
		s.wins++
		s.grossWin = s.grossWin.Add(trade.RealizedPnL)
	} else if trade.RealizedPnL.IsNegative() {
		s.losses++
		s.grossLoss = s.grossLoss.Add(trade.RealizedPnL.Abs())
	}
	// Zero-PnL trades carry no information for the estimator.
}

// Fraction returns the clamped Kelly fraction and whether enough samples
// exist to use it.
func (s *Kelly) Fraction() (float64, bool) {
	total := s.wins + s.losses
	if total < s.minSamples {
		return 0, false
	}
	if s.wins == 0 {
		return 0, true
	}
	if s.losses == 0 || s.grossLoss.IsZero() {
		// No observed losses yet; cap at the configured maximum.
		return s.maxFraction, true
	}
	winProb := float64(s.wins) / float64(total)
	avgWin, _ := s.grossWin.Div(decimal.NewFromInt(int64(s.wins))).Float64()
	avgLoss, _ := s.grossLoss.Div(decimal.NewFromInt(int64(s.losses))).Float64()
	if avgLoss == 0 {
		return s.maxFraction, true
	}
	payoff := avgWin / avgLoss
	f := KellyFraction(winProb, payoff)
	if f > s.maxFraction {
		f = s.maxFraction
	}
	return f, true
}

func (s *Kelly) Size(sig types.Signal, equity, price decimal.Decimal) (types.PositionTarget, error) {
	f, ok := s.Fraction()
	if !ok {
		return s.fallback.Size(sig, equity, price)
	}
	if f <= 0 {
		return types.PositionTarget{Asset: sig.Asset, Quantity: decimal.Zero}, nil
	}
	s.logger.Debug("kelly fraction",
		zap.String("asset", sig.Asset),
		zap.Float64("fraction", f),
		zap.Int("samples", s.wins+s.losses))
	return notionalTarget(sig, equity, price, f)
}

// KellyFraction computes f* = p - (1-p)/b, floored at zero.
func KellyFraction(winProb, payoffRatio float64) float64 {
	if payoffRatio <= 0 {
		return 0
	}
	f := winProb - (1-winProb)/payoffRatio
	if f < 0 {
		return 0
	}
	return f
}

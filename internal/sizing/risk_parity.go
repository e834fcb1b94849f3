package sizing

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// RiskParity scales each asset's fraction inversely to its trailing
// volatility so every position contributes comparable risk. Volatility
// estimates are pushed in by the engine from the same returns pipeline
// the optimizer consumes.
type RiskParity struct {
	baseFraction float64
	targetVol    float64
	logger       *zap.Logger

	vols map[string]float64
}

func NewRiskParity(cfg types.SizingConfig, logger *zap.Logger) *RiskParity {
	return &RiskParity{
		baseFraction: cfg.Fraction,
		targetVol:    cfg.TargetVolatility,
		logger:       logger,
		vols:         make(map[string]float64),
	}
}

func (s *RiskParity) Name() string { return "risk_parity" }

// SetVolatility updates the trailing annualized volatility estimate for
// an asset.
func (s *RiskParity) SetVolatility(asset string, vol float64) {
	if vol < 0 {
		vol = 0
	}
	s.vols[asset] = vol
}

func (s *RiskParity) Size(sig types.Signal, equity, price decimal.Decimal) (types.PositionTarget, error) {
	fraction := s.baseFraction
	if vol, ok := s.vols[sig.Asset]; ok && vol > 0 {
		scaled := s.baseFraction * s.targetVol / vol
		// Inverse-volatility scaling must not leverage beyond the
		// base fraction.
		if scaled < fraction {
			fraction = scaled
		}
	}
	return notionalTarget(sig, equity, price, fraction)
}

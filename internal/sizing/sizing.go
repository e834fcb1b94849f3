// Package sizing converts signals into concrete position targets under a
// risk budget.
package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Sizer turns a signal plus current equity into a position target. The
// target is the desired absolute position, not a delta.
type Sizer interface {
	Name() string
	Size(signal types.Signal, equity, price decimal.Decimal) (types.PositionTarget, error)
}

// New constructs the sizing method named by the config.
func New(cfg types.SizingConfig, logger *zap.Logger) (Sizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Method {
	case types.SizingFixedFractional:
		return NewFixedFractional(cfg.Fraction), nil
	case types.SizingKelly:
		return NewKelly(cfg, logger), nil
	case types.SizingRiskParity:
		return NewRiskParity(cfg, logger), nil
	default:
		return nil, fmt.Errorf("sizing: unrecognized method %q", cfg.Method)
	}
}

// notionalTarget derives a target quantity from a fraction of equity,
// scaled by signal strength and the signal's hedge ratio when present.
func notionalTarget(sig types.Signal, equity, price decimal.Decimal, fraction float64) (types.PositionTarget, error) {
	target := types.PositionTarget{Asset: sig.Asset, Quantity: decimal.Zero}
	if sig.Direction == types.Flat {
		return target, nil
	}
	if !price.IsPositive() {
		return target, fmt.Errorf("sizing: non-positive price %s for %s", price, sig.Asset)
	}
	scale := fraction * math.Abs(sig.Strength)
	if sig.Ratio != 0 {
		scale *= math.Abs(sig.Ratio)
	}
	notional := equity.Mul(decimal.NewFromFloat(scale))
	qty := notional.Div(price)
	if sig.Direction == types.Short {
		qty = qty.Neg()
	}
	target.Quantity = qty
	return target, nil
}

// FixedFractional risks a constant fraction of current equity per signal.
type FixedFractional struct {
	fraction float64
}

func NewFixedFractional(fraction float64) *FixedFractional {
	return &FixedFractional{fraction: fraction}
}

func (s *FixedFractional) Name() string { return "fixed_fractional" }

func (s *FixedFractional) Size(sig types.Signal, equity, price decimal.Decimal) (types.PositionTarget, error) {
	return notionalTarget(sig, equity, price, s.fraction)
}

// ClampToCash caps a target so the cost of the trade reaching it never
// exceeds available cash plus the margin allowance. Only the delta from
// the current position consumes cash: a target already held costs
// nothing, and cash-raising trades (sells, short entries) are never
// clipped. Returns the possibly clipped target and whether clipping
// occurred.
func ClampToCash(target types.PositionTarget, current, cash, price decimal.Decimal, marginAllowance float64) (types.PositionTarget, bool) {
	if !price.IsPositive() {
		return target, false
	}
	delta := target.Quantity.Sub(current)
	cost := delta.Mul(price)
	budget := cash.Mul(decimal.NewFromFloat(1 + marginAllowance))
	if budget.IsNegative() {
		budget = decimal.Zero
	}
	if cost.LessThanOrEqual(budget) {
		return target, false
	}
	target.Quantity = current.Add(budget.Div(price))
	return target, true
}

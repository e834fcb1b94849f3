package backtester

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// fillNamespace seeds deterministic fill IDs so replaying the same bar
// sequence reproduces the fill log byte for byte.
var fillNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ExecutionSimulator converts position deltas into simulated fills.
// Execution is instantaneous and fully filled at the slippage-adjusted
// close; partial fills are not modeled.
type ExecutionSimulator struct {
	slippageBps   decimal.Decimal
	commissionBps decimal.Decimal
	seq           uint64
}

func NewExecutionSimulator(slippageBps, commissionBps float64) *ExecutionSimulator {
	return &ExecutionSimulator{
		slippageBps:   decimal.NewFromFloat(slippageBps),
		commissionBps: decimal.NewFromFloat(commissionBps),
	}
}

var bps = decimal.NewFromInt(10000)

// Execute fills the delta between the target and the current position at
// the bar close. Buys pay up by the slippage, sells receive less. A zero
// delta produces no fill.
func (e *ExecutionSimulator) Execute(target types.PositionTarget, current decimal.Decimal, bar types.Bar) (*types.Fill, error) {
	delta := target.Quantity.Sub(current)
	if delta.IsZero() {
		return nil, nil
	}
	if !bar.Close.IsPositive() {
		return nil, fmt.Errorf("execution: non-positive close %s for %s", bar.Close, bar.Asset)
	}

	slip := bar.Close.Mul(e.slippageBps).Div(bps)
	price := bar.Close
	if delta.IsPositive() {
		price = price.Add(slip)
	} else {
		price = price.Sub(slip)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("execution: slippage produced non-positive price for %s", bar.Asset)
	}

	notional := delta.Mul(price).Abs()
	commission := notional.Mul(e.commissionBps).Div(bps)
	slippageCost := delta.Abs().Mul(slip)

	e.seq++
	id := uuid.NewSHA1(fillNamespace, []byte(fmt.Sprintf("%s|%d|%d", bar.Asset, bar.Timestamp.UnixNano(), e.seq)))

	return &types.Fill{
		ID:           id.String(),
		Asset:        bar.Asset,
		Timestamp:    bar.Timestamp,
		Quantity:     delta,
		Price:        price,
		Commission:   commission,
		SlippageCost: slippageCost,
	}, nil
}

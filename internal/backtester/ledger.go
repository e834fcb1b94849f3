package backtester

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Ledger is the single source of truth for cash, open positions and the
// equity curve. Nothing else mutates portfolio state; other components
// see read-only snapshots.
type Ledger struct {
	initial     decimal.Decimal
	cash        decimal.Decimal
	commissions decimal.Decimal
	positions   map[string]*position
	curve       []types.EquityPoint
	closed      []types.ClosedTrade
	peak        decimal.Decimal
	logger      *zap.Logger
}

type position struct {
	quantity decimal.Decimal
	avgEntry decimal.Decimal
	openedAt time.Time
}

func NewLedger(initialCapital decimal.Decimal, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		initial:   initialCapital,
		cash:      initialCapital,
		positions: make(map[string]*position),
		peak:      initialCapital,
		logger:    logger,
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// Position returns a snapshot of the open position for the asset.
func (l *Ledger) Position(asset string) types.Position {
	p, ok := l.positions[asset]
	if !ok {
		return types.Position{Asset: asset, Quantity: decimal.Zero, AvgEntryPrice: decimal.Zero}
	}
	return types.Position{Asset: asset, Quantity: p.quantity, AvgEntryPrice: p.avgEntry}
}

// Positions returns snapshots of all open positions in sorted asset order.
func (l *Ledger) Positions() []types.Position {
	assets := make([]string, 0, len(l.positions))
	for a, p := range l.positions {
		if !p.quantity.IsZero() {
			assets = append(assets, a)
		}
	}
	sort.Strings(assets)
	out := make([]types.Position, 0, len(assets))
	for _, a := range assets {
		out = append(out, l.Position(a))
	}
	return out
}

// Apply mutates cash and positions with one fill. Cash moves by
// quantity*price plus commission; same-direction adds recompute the
// weighted average entry, reductions and flips realize P&L.
func (l *Ledger) Apply(fill *types.Fill) error {
	cost := fill.Quantity.Mul(fill.Price)
	newCash := l.cash.Sub(cost).Sub(fill.Commission)

	p, ok := l.positions[fill.Asset]
	if !ok {
		p = &position{quantity: decimal.Zero, avgEntry: decimal.Zero}
		l.positions[fill.Asset] = p
	}

	prevQty := p.quantity
	newQty := prevQty.Add(fill.Quantity)

	switch {
	case prevQty.IsZero():
		p.quantity = newQty
		p.avgEntry = fill.Price
		p.openedAt = fill.Timestamp

	case prevQty.Sign() == fill.Quantity.Sign():
		// Same-direction add: weighted-average entry.
		prevNotional := prevQty.Abs().Mul(p.avgEntry)
		addNotional := fill.Quantity.Abs().Mul(fill.Price)
		p.avgEntry = prevNotional.Add(addNotional).Div(prevQty.Abs().Add(fill.Quantity.Abs()))
		p.quantity = newQty

	default:
		// Reduce, close or flip.
		closedQty := fill.Quantity.Abs()
		if closedQty.GreaterThan(prevQty.Abs()) {
			closedQty = prevQty.Abs()
		}
		// P&L per unit is (exit - entry) signed by the closed side.
		pnl := fill.Price.Sub(p.avgEntry).Mul(closedQty)
		if prevQty.IsNegative() {
			pnl = pnl.Neg()
		}
		l.closed = append(l.closed, types.ClosedTrade{
			Asset:       fill.Asset,
			OpenedAt:    p.openedAt,
			ClosedAt:    fill.Timestamp,
			Quantity:    closedQty,
			EntryPrice:  p.avgEntry,
			ExitPrice:   fill.Price,
			RealizedPnL: pnl,
		})
		l.logger.Debug("trade closed",
			zap.String("asset", fill.Asset),
			zap.String("quantity", closedQty.String()),
			zap.String("realized_pnl", pnl.String()))

		p.quantity = newQty
		if newQty.IsZero() {
			p.avgEntry = decimal.Zero
		} else if newQty.Sign() != prevQty.Sign() {
			// Flip: the residual opens a fresh position at the fill.
			p.avgEntry = fill.Price
			p.openedAt = fill.Timestamp
		}
	}

	if p.quantity.IsZero() {
		delete(l.positions, fill.Asset)
	}
	l.cash = newCash
	l.commissions = l.commissions.Add(fill.Commission)
	return nil
}

// MarkToMarket appends one equity point valued at the given close prices.
// Missing marks fall back to the position's average entry.
func (l *Ledger) MarkToMarket(ts time.Time, marks map[string]decimal.Decimal) types.EquityPoint {
	equity := l.cash
	for asset, p := range l.positions {
		mark, ok := marks[asset]
		if !ok {
			mark = p.avgEntry
		}
		equity = equity.Add(p.quantity.Mul(mark))
	}
	if equity.GreaterThan(l.peak) {
		l.peak = equity
	}
	dd := decimal.Zero
	if l.peak.IsPositive() {
		dd = l.peak.Sub(equity).Div(l.peak)
	}
	point := types.EquityPoint{Timestamp: ts, Equity: equity, Cash: l.cash, Drawdown: dd}
	l.curve = append(l.curve, point)
	return point
}

// Equity values the portfolio at the given marks without recording a
// curve point.
func (l *Ledger) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	equity := l.cash
	for asset, p := range l.positions {
		mark, ok := marks[asset]
		if !ok {
			mark = p.avgEntry
		}
		equity = equity.Add(p.quantity.Mul(mark))
	}
	return equity
}

// EquityCurve returns the recorded curve.
func (l *Ledger) EquityCurve() []types.EquityPoint { return l.curve }

// ClosedTrades returns all realized trades in close order.
func (l *Ledger) ClosedTrades() []types.ClosedTrade { return l.closed }

// CheckConservation verifies the last recorded equity point against an
// independent tally from the trade history:
//
//	initial capital - commissions + realized P&L + unrealized P&L
//
// The tally never touches the incrementally mutated cash balance, so a
// corrupted cash or curve update cannot cancel out of the comparison.
func (l *Ledger) CheckConservation(marks map[string]decimal.Decimal, relTol float64) error {
	if len(l.curve) == 0 {
		return nil
	}
	recorded := l.curve[len(l.curve)-1].Equity

	recomputed := l.initial.Sub(l.commissions)
	for _, t := range l.closed {
		recomputed = recomputed.Add(t.RealizedPnL)
	}
	for asset, p := range l.positions {
		mark, ok := marks[asset]
		if !ok {
			mark = p.avgEntry
		}
		recomputed = recomputed.Add(p.quantity.Mul(mark.Sub(p.avgEntry)))
	}
	diff := recorded.Sub(recomputed).Abs()
	scale := recorded.Abs()
	if scale.IsZero() {
		scale = decimal.NewFromInt(1)
	}
	if rel, _ := diff.Div(scale).Float64(); rel > relTol {
		return fmt.Errorf("ledger: equity conservation violated, recorded %s recomputed %s", recorded, recomputed)
	}
	return nil
}

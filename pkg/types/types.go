// Package types provides shared type definitions for the backtest engine.
package types

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Direction represents the stance a signal requests for an asset.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Flat  Direction = "flat"
)

// Sign returns +1 for long, -1 for short and 0 for flat.
func (d Direction) Sign() int {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		return 0
	}
}

// Bar represents a single OHLCV candlestick for one asset.
type Bar struct {
	Asset     string          `json:"asset"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Signal is a per-bar trading signal. It is produced fresh each bar and
// immutable once emitted.
type Signal struct {
	Asset     string    `json:"asset"`
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	// Strength is in [-1, 1]; its magnitude scales position size.
	Strength float64 `json:"strength"`
	// Ratio scales the sized quantity relative to a paired leg. Pairs
	// trading sets it to the hedge ratio; everything else leaves it at 1.
	Ratio float64 `json:"ratio,omitempty"`
}

// PositionTarget is the desired signed quantity for one asset.
type PositionTarget struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Fill is the immutable record of one simulated execution. Quantity is
// signed: positive for buys, negative for sells.
type Fill struct {
	ID           string          `json:"id"`
	Asset        string          `json:"asset"`
	Timestamp    time.Time       `json:"timestamp"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Commission   decimal.Decimal `json:"commission"`
	SlippageCost decimal.Decimal `json:"slippageCost"`
}

// Position is an open position. Quantity may be negative (short).
type Position struct {
	Asset         string          `json:"asset"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
}

// ClosedTrade records the realized outcome of a position reduction. The
// realized PnL excludes commissions, which are accounted per Fill.
type ClosedTrade struct {
	Asset       string          `json:"asset"`
	OpenedAt    time.Time       `json:"openedAt"`
	ClosedAt    time.Time       `json:"closedAt"`
	Quantity    decimal.Decimal `json:"quantity"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	ExitPrice   decimal.Decimal `json:"exitPrice"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}

// EquityPoint is one mark-to-market valuation on the equity curve.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Drawdown  decimal.Decimal `json:"drawdown"`
}

// RiskReport holds standardized performance and risk analytics derived from
// a completed equity curve. Fields are float64 so degenerate metrics
// (zero-volatility Sharpe, zero-drawdown Calmar) can be reported as NaN.
type RiskReport struct {
	TotalReturn      float64 `json:"totalReturn"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	Volatility       float64 `json:"volatility"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	Calmar           float64 `json:"calmar"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
	VaR95            float64 `json:"var95"`
	CVaR95           float64 `json:"cvar95"`
	WinRate          float64 `json:"winRate"`
}

// MarshalJSON renders NaN metrics as null since JSON has no NaN literal.
func (r RiskReport) MarshalJSON() ([]byte, error) {
	fields := []struct {
		key string
		val float64
	}{
		{"totalReturn", r.TotalReturn},
		{"annualizedReturn", r.AnnualizedReturn},
		{"volatility", r.Volatility},
		{"sharpe", r.Sharpe},
		{"sortino", r.Sortino},
		{"calmar", r.Calmar},
		{"maxDrawdown", r.MaxDrawdown},
		{"var95", r.VaR95},
		{"cvar95", r.CVaR95},
		{"winRate", r.WinRate},
	}
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:", f.key)
		if math.IsNaN(f.val) || math.IsInf(f.val, 0) {
			b.WriteString("null")
		} else {
			fmt.Fprintf(&b, "%g", f.val)
		}
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// StepEventKind classifies recoverable per-step conditions.
type StepEventKind string

const (
	StepEventInsufficientHistory StepEventKind = "insufficient_history"
	StepEventSizingTruncation    StepEventKind = "sizing_truncation"
)

// StepEvent is a non-fatal condition attached to one simulation step.
type StepEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	Asset     string        `json:"asset,omitempty"`
	Kind      StepEventKind `json:"kind"`
	Detail    string        `json:"detail,omitempty"`
}

// BacktestResult is the terminal output of one backtest run.
type BacktestResult struct {
	ID            string        `json:"id"`
	Report        RiskReport    `json:"report"`
	EquityCurve   []EquityPoint `json:"equityCurve"`
	Fills         []Fill        `json:"fills"`
	ClosedTrades  []ClosedTrade `json:"closedTrades"`
	StepEvents    []StepEvent   `json:"stepEvents,omitempty"`
	BarsProcessed int           `json:"barsProcessed"`
	StartedAt     time.Time     `json:"startedAt"`
	CompletedAt   time.Time     `json:"completedAt"`
}

// MonteCarloResult summarizes a trade-resampling simulation.
type MonteCarloResult struct {
	Iterations      int             `json:"iterations"`
	MedianReturn    decimal.Decimal `json:"medianReturn"`
	P5Return        decimal.Decimal `json:"p5Return"`
	P95Return       decimal.Decimal `json:"p95Return"`
	MaxDrawdownP95  decimal.Decimal `json:"maxDrawdownP95"`
	ProbabilityRuin decimal.Decimal `json:"probabilityRuin"`
}

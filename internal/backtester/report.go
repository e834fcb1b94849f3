package backtester

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// RenderReport writes a human-readable summary of a backtest result.
func RenderReport(w io.Writer, result *types.BacktestResult) error {
	r := result.Report
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "BACKTEST REPORT  %s\n", result.ID)
	b.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&b, "Bars processed:     %d\n", result.BarsProcessed)
	fmt.Fprintf(&b, "Fills:              %d\n", len(result.Fills))
	fmt.Fprintf(&b, "Closed trades:      %d\n", len(result.ClosedTrades))
	b.WriteString(strings.Repeat("-", 60) + "\n")
	fmt.Fprintf(&b, "Total return:       %s\n", formatPct(r.TotalReturn))
	fmt.Fprintf(&b, "Annualized return:  %s\n", formatPct(r.AnnualizedReturn))
	fmt.Fprintf(&b, "Volatility:         %s\n", formatPct(r.Volatility))
	fmt.Fprintf(&b, "Sharpe ratio:       %s\n", formatRatio(r.Sharpe))
	fmt.Fprintf(&b, "Sortino ratio:      %s\n", formatRatio(r.Sortino))
	fmt.Fprintf(&b, "Calmar ratio:       %s\n", formatRatio(r.Calmar))
	fmt.Fprintf(&b, "Max drawdown:       %s\n", formatPct(r.MaxDrawdown))
	fmt.Fprintf(&b, "VaR (95%%):          %s\n", formatPct(r.VaR95))
	fmt.Fprintf(&b, "CVaR (95%%):         %s\n", formatPct(r.CVaR95))
	fmt.Fprintf(&b, "Win rate:           %s\n", formatPct(r.WinRate))
	b.WriteString(strings.Repeat("=", 60) + "\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func formatPct(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", v*100)
}

func formatRatio(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

// WriteEquityCurveCSV streams the equity curve in tabular form for
// downstream tooling.
func WriteEquityCurveCSV(w io.Writer, curve []types.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "equity", "cash", "drawdown"}); err != nil {
		return err
	}
	for _, p := range curve {
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			p.Equity.String(),
			p.Cash.String(),
			p.Drawdown.String(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteResultJSON serializes the complete result including the fill log.
func WriteResultJSON(w io.Writer, result *types.BacktestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

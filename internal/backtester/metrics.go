package backtester

import (
	"math"
	"sort"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// ComputeRiskReport derives the full risk report from a completed equity
// curve and the realized trade log. It is a pure function; degenerate
// inputs (zero volatility, zero drawdown) yield NaN for the affected
// ratios rather than infinities or panics.
func ComputeRiskReport(curve []types.EquityPoint, trades []types.ClosedTrade, riskFreeRate float64, periodsPerYear int) types.RiskReport {
	report := types.RiskReport{
		Sharpe:  math.NaN(),
		Sortino: math.NaN(),
		Calmar:  math.NaN(),
	}
	if len(curve) < 2 {
		report.WinRate = winRate(trades)
		return report
	}

	returns := curveReturns(curve)
	n := float64(len(returns))
	ppy := float64(periodsPerYear)

	first, _ := curve[0].Equity.Float64()
	last, _ := curve[len(curve)-1].Equity.Float64()
	if first != 0 {
		report.TotalReturn = last/first - 1
	}
	if 1+report.TotalReturn > 0 {
		report.AnnualizedReturn = math.Pow(1+report.TotalReturn, ppy/n) - 1
	} else {
		report.AnnualizedReturn = -1
	}

	mean := meanOf(returns)
	sd := sampleStdDev(returns, mean)
	report.Volatility = sd * math.Sqrt(ppy)

	if report.Volatility > 0 {
		report.Sharpe = (mean*ppy - riskFreeRate) / report.Volatility
	}

	downside := downsideDeviation(returns, 0) * math.Sqrt(ppy)
	if downside > 0 {
		report.Sortino = (mean*ppy - riskFreeRate) / downside
	}

	report.MaxDrawdown = maxDrawdown(curve)
	if report.MaxDrawdown > 0 {
		report.Calmar = report.AnnualizedReturn / report.MaxDrawdown
	}

	report.VaR95, report.CVaR95 = historicalVaR(returns, 0.05)
	report.WinRate = winRate(trades)
	return report
}

func curveReturns(curve []types.EquityPoint) []float64 {
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].Equity.Float64()
		cur, _ := curve[i].Equity.Float64()
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, cur/prev-1)
	}
	return out
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var s float64
	for _, v := range values {
		s += v
	}
	return s / float64(len(values))
}

func sampleStdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// downsideDeviation is the sample standard deviation of returns strictly
// below the minimum acceptable return.
func downsideDeviation(returns []float64, mar float64) float64 {
	var downside []float64
	for _, r := range returns {
		if r < mar {
			downside = append(downside, r)
		}
	}
	return sampleStdDev(downside, meanOf(downside))
}

func maxDrawdown(curve []types.EquityPoint) float64 {
	var maxDD float64
	peak := math.Inf(-1)
	for _, p := range curve {
		eq, _ := p.Equity.Float64()
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (peak - eq) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// historicalVaR returns VaR and CVaR at the given tail probability as
// positive loss magnitudes, via historical simulation.
func historicalVaR(returns []float64, tail float64) (float64, float64) {
	if len(returns) == 0 {
		return 0, 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * tail)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	v := sorted[idx]

	var tailSum float64
	count := 0
	for _, r := range sorted {
		if r <= v {
			tailSum += r
			count++
		}
	}
	cvar := tailSum / float64(count)
	return math.Abs(math.Min(v, 0)), math.Abs(math.Min(cvar, 0))
}

func winRate(trades []types.ClosedTrade) float64 {
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.RealizedPnL.IsPositive() {
			wins++
		}
	}
	return float64(wins) / float64(len(trades))
}

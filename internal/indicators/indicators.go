// Package indicators implements the rolling-window technical indicators
// used by the signal generators. All functions return slices aligned with
// the input series; positions before the indicator has enough history are
// NaN. Use Ready to distinguish warm values from the warmup prefix.
package indicators

import (
	"fmt"
	"math"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Ready reports whether an indicator value is past its warmup prefix.
func Ready(v float64) bool {
	return !math.IsNaN(v)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA computes the simple moving average over the trailing window. The
// value at index i averages values[i-window+1 : i+1].
func SMA(values []float64, window int) ([]float64, error) {
	if window <= 0 {
		return nil, fmt.Errorf("indicators: sma window must be > 0, got %d", window)
	}
	if len(values) < window {
		return nil, fmt.Errorf("%w: sma needs %d values, have %d", types.ErrInsufficientHistory, window, len(values))
	}
	out := nanSlice(len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out, nil
}

// RollingStdDev computes the trailing sample standard deviation (n-1
// denominator) over the window.
func RollingStdDev(values []float64, window int) ([]float64, error) {
	if window <= 1 {
		return nil, fmt.Errorf("indicators: stddev window must be > 1, got %d", window)
	}
	if len(values) < window {
		return nil, fmt.Errorf("%w: stddev needs %d values, have %d", types.ErrInsufficientHistory, window, len(values))
	}
	out := nanSlice(len(values))
	for i := window - 1; i < len(values); i++ {
		win := values[i-window+1 : i+1]
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
		out[i] = math.Sqrt(ss / float64(window-1))
	}
	return out, nil
}

// EMA computes the exponential moving average seeded with the first value,
// smoothing factor 2/(period+1). Every index is defined.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("indicators: ema period must be > 0, got %d", period)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: ema needs at least one value", types.ErrInsufficientHistory)
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out, nil
}

// BollingerBands holds the three band series.
type BollingerBands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger computes middle/upper/lower bands as SMA +/- k rolling sample
// standard deviations.
func Bollinger(values []float64, window int, k float64) (*BollingerBands, error) {
	mid, err := SMA(values, window)
	if err != nil {
		return nil, err
	}
	sd, err := RollingStdDev(values, window)
	if err != nil {
		return nil, err
	}
	upper := make([]float64, len(values))
	lower := make([]float64, len(values))
	for i := range values {
		upper[i] = mid[i] + k*sd[i]
		lower[i] = mid[i] - k*sd[i]
	}
	return &BollingerBands{Middle: mid, Upper: upper, Lower: lower}, nil
}

// RSI computes the relative strength index using rolling simple means of
// gains and losses over the period. Values before index period are NaN.
func RSI(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, fmt.Errorf("indicators: rsi period must be > 0, got %d", period)
	}
	if len(values) < period+1 {
		return nil, fmt.Errorf("%w: rsi needs %d values, have %d", types.ErrInsufficientHistory, period+1, len(values))
	}
	out := nanSlice(len(values))
	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}
	var gainSum, lossSum float64
	for i := 1; i < len(values); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > period {
			gainSum -= gains[i-period]
			lossSum -= losses[i-period]
		}
		if i < period {
			continue
		}
		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)
		switch {
		case avgLoss == 0 && avgGain == 0:
			out[i] = 50
		case avgLoss == 0:
			out[i] = 100
		default:
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out, nil
}

// MACDResult holds the MACD line, its signal line and the histogram.
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes fast EMA minus slow EMA, a signal EMA of that line, and
// the line-minus-signal histogram.
func MACD(values []float64, fast, slow, signal int) (*MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return nil, fmt.Errorf("indicators: macd periods must be > 0")
	}
	if fast >= slow {
		return nil, fmt.Errorf("indicators: macd fast period %d must be below slow period %d", fast, slow)
	}
	fastEMA, err := EMA(values, fast)
	if err != nil {
		return nil, err
	}
	slowEMA, err := EMA(values, slow)
	if err != nil {
		return nil, err
	}
	line := make([]float64, len(values))
	for i := range values {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig, err := EMA(line, signal)
	if err != nil {
		return nil, err
	}
	hist := make([]float64, len(values))
	for i := range values {
		hist[i] = line[i] - sig[i]
	}
	return &MACDResult{Line: line, Signal: sig, Histogram: hist}, nil
}

// ZScore computes the rolling z-score of each value against the trailing
// window that includes the value itself. Windows with zero dispersion
// yield NaN.
func ZScore(values []float64, window int) ([]float64, error) {
	mean, err := SMA(values, window)
	if err != nil {
		return nil, err
	}
	sd, err := RollingStdDev(values, window)
	if err != nil {
		return nil, err
	}
	out := nanSlice(len(values))
	for i := window - 1; i < len(values); i++ {
		if sd[i] == 0 {
			continue
		}
		out[i] = (values[i] - mean[i]) / sd[i]
	}
	return out, nil
}

// Correlation computes the Pearson correlation of two equal-length series.
func Correlation(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("indicators: series length mismatch %d vs %d", len(a), len(b))
	}
	if len(a) < 2 {
		return 0, fmt.Errorf("%w: correlation needs at least 2 values", types.ErrInsufficientHistory)
	}
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n
	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, nil
	}
	return cov / math.Sqrt(varA*varB), nil
}

// Returns converts a price series into simple period returns. The output
// has one fewer element than the input.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, prices[i]/prices[i-1]-1)
	}
	return out
}

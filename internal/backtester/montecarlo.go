package backtester

import (
	"math"
	"math/rand"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// MonteCarloSimulator resamples realized trade outcomes to estimate the
// distribution of strategy returns. The RNG is seeded from the config so
// repeated runs produce identical results.
type MonteCarloSimulator struct {
	logger *zap.Logger
	config types.MonteCarloConfig
	rng    *rand.Rand
}

func NewMonteCarloSimulator(cfg types.MonteCarloConfig, logger *zap.Logger) *MonteCarloSimulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonteCarloSimulator{
		logger: logger,
		config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Run shuffles the order of realized trades across paths and reports the
// return distribution. Trade P&L is expressed as a fraction of initial
// capital so paths compound consistently.
func (mc *MonteCarloSimulator) Run(trades []types.ClosedTrade, initialCapital decimal.Decimal) *types.MonteCarloResult {
	if len(trades) == 0 || !initialCapital.IsPositive() {
		return &types.MonteCarloResult{Iterations: 0}
	}

	returns := make([]float64, len(trades))
	for i, trade := range trades {
		r, _ := trade.RealizedPnL.Div(initialCapital).Float64()
		returns[i] = r
	}

	iterations := mc.config.Iterations
	if iterations <= 0 {
		iterations = 1000
	}

	pathReturns := make([]float64, iterations)
	pathDrawdowns := make([]float64, iterations)
	ruinCount := 0
	for i := 0; i < iterations; i++ {
		shuffled := mc.shuffle(returns)
		total, maxDD, ruined := simulatePath(shuffled)
		pathReturns[i] = total
		pathDrawdowns[i] = maxDD
		if ruined {
			ruinCount++
		}
	}

	sort.Float64s(pathReturns)
	sort.Float64s(pathDrawdowns)

	result := &types.MonteCarloResult{
		Iterations:      iterations,
		MedianReturn:    decimal.NewFromFloat(percentile(pathReturns, 50)),
		P5Return:        decimal.NewFromFloat(percentile(pathReturns, 5)),
		P95Return:       decimal.NewFromFloat(percentile(pathReturns, 95)),
		MaxDrawdownP95:  decimal.NewFromFloat(percentile(pathDrawdowns, 95)),
		ProbabilityRuin: decimal.NewFromFloat(float64(ruinCount) / float64(iterations)),
	}

	mc.logger.Info("monte carlo complete",
		zap.Int("iterations", iterations),
		zap.String("median_return", result.MedianReturn.String()),
		zap.String("p5_return", result.P5Return.String()),
		zap.String("probability_ruin", result.ProbabilityRuin.String()))
	return result
}

func (mc *MonteCarloSimulator) shuffle(returns []float64) []float64 {
	shuffled := make([]float64, len(returns))
	copy(shuffled, returns)
	mc.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// simulatePath compounds one shuffled trade sequence, tracking peak
// drawdown. A 50% loss from the start is counted as ruin.
func simulatePath(returns []float64) (totalReturn, maxDrawdown float64, ruined bool) {
	const ruinThreshold = 0.5
	equity := 1.0
	peak := equity
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak
			if dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
		if equity <= ruinThreshold {
			return equity - 1, maxDrawdown, true
		}
	}
	return equity - 1, maxDrawdown, false
}

// percentile interpolates the p-th percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return sorted[lower]
	}
	w := idx - float64(lower)
	return sorted[lower]*(1-w) + sorted[upper]*w
}

package optimization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

func weightsSumToOne(t *testing.T, weights []float64) {
	t.Helper()
	var sum float64
	for _, w := range weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestMinVolatilityTwoAssetAnchor(t *testing.T) {
	// Variances 0.04 and 0.09 with zero correlation: weights go inverse
	// to variance, 0.09/0.13 and 0.04/0.13.
	cov := [][]float64{
		{0.04, 0},
		{0, 0.09},
	}
	mu := []float64{0.08, 0.10}

	o, err := New(DefaultConfig(MinVolatility), zap.NewNop())
	require.NoError(t, err)
	result, err := o.OptimizeMoments([]string{"A", "B"}, mu, cov)
	require.NoError(t, err)

	weightsSumToOne(t, result.Weights)
	assert.InDelta(t, 0.692, result.Weights[0], 0.005)
	assert.InDelta(t, 0.308, result.Weights[1], 0.005)
	assert.True(t, result.Converged)
}

func TestMaxSharpePrefersBetterAsset(t *testing.T) {
	// Same risk, very different return: the optimizer should load on
	// the higher-return asset.
	cov := [][]float64{
		{0.04, 0},
		{0, 0.04},
	}
	mu := []float64{0.02, 0.20}

	o, err := New(DefaultConfig(MaxSharpe), zap.NewNop())
	require.NoError(t, err)
	result, err := o.OptimizeMoments([]string{"LOW", "HIGH"}, mu, cov)
	require.NoError(t, err)

	weightsSumToOne(t, result.Weights)
	assert.Greater(t, result.Weights[1], 0.8)
	assert.Greater(t, result.Sharpe, 0.0)
}

func TestRiskParityEqualizesContributions(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.01, 0.00},
		{0.01, 0.09, 0.02},
		{0.00, 0.02, 0.16},
	}
	mu := []float64{0.05, 0.07, 0.09}

	o, err := New(DefaultConfig(RiskParity), zap.NewNop())
	require.NoError(t, err)
	result, err := o.OptimizeMoments([]string{"A", "B", "C"}, mu, cov)
	require.NoError(t, err)
	require.True(t, result.Converged)
	weightsSumToOne(t, result.Weights)

	sigmaW := matVec(cov, result.Weights)
	rc := make([]float64, 3)
	for i := range rc {
		rc[i] = result.Weights[i] * sigmaW[i]
	}
	assert.InDelta(t, rc[0], rc[1], 1e-6)
	assert.InDelta(t, rc[1], rc[2], 1e-6)
	// Riskier assets get smaller weights.
	assert.Greater(t, result.Weights[0], result.Weights[1])
	assert.Greater(t, result.Weights[1], result.Weights[2])
}

func TestOptimizeRejectsFewObservations(t *testing.T) {
	o, err := New(DefaultConfig(MinVolatility), zap.NewNop())
	require.NoError(t, err)

	returns := [][]float64{{0.01, 0.02}, {0.02, 0.01}}
	_, err = o.Optimize([]string{"A", "B"}, returns)
	assert.ErrorIs(t, err, types.ErrSingularCovariance)
}

func TestOptimizeRejectsPerfectlyCorrelatedAssets(t *testing.T) {
	o, err := New(DefaultConfig(MinVolatility), zap.NewNop())
	require.NoError(t, err)

	a := []float64{0.01, -0.02, 0.03, 0.005, -0.01, 0.02, 0.015, -0.005}
	b := make([]float64, len(a))
	for i, v := range a {
		b[i] = 2 * v
	}
	_, err = o.Optimize([]string{"A", "B"}, [][]float64{a, b})
	assert.ErrorIs(t, err, types.ErrSingularCovariance)
}

func TestOptimizeFromReturnsMatrix(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	series := func(vol float64) []float64 {
		out := make([]float64, 300)
		for i := range out {
			out[i] = 0.0003 + rng.NormFloat64()*vol
		}
		return out
	}
	returns := [][]float64{series(0.01), series(0.02), series(0.015)}

	o, err := New(DefaultConfig(MinVolatility), zap.NewNop())
	require.NoError(t, err)
	result, err := o.Optimize([]string{"A", "B", "C"}, returns)
	require.NoError(t, err)

	weightsSumToOne(t, result.Weights)
	// Lowest-volatility asset dominates the min-vol portfolio.
	assert.Greater(t, result.Weights[0], result.Weights[1])
	for _, w := range result.Weights {
		assert.GreaterOrEqual(t, w, -1e-12)
	}
}

func TestMaxSharpeDeterministicAcrossRuns(t *testing.T) {
	cov := [][]float64{
		{0.05, 0.01, 0.02},
		{0.01, 0.07, 0.01},
		{0.02, 0.01, 0.06},
	}
	mu := []float64{0.06, 0.11, 0.08}

	run := func() []float64 {
		o, err := New(DefaultConfig(MaxSharpe), zap.NewNop())
		require.NoError(t, err)
		result, err := o.OptimizeMoments([]string{"A", "B", "C"}, mu, cov)
		require.NoError(t, err)
		return result.Weights
	}
	assert.Equal(t, run(), run(), "parallel multi-start must stay deterministic")
}

func TestRiskParityNonConvergenceSurfaced(t *testing.T) {
	cfg := DefaultConfig(RiskParity)
	cfg.MaxIterations = 1
	cfg.Tolerance = 1e-15
	o, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	cov := [][]float64{
		{0.04, 0.01},
		{0.01, 0.09},
	}
	result, err := o.OptimizeMoments([]string{"A", "B"}, []float64{0.05, 0.07}, cov)
	assert.ErrorIs(t, err, types.ErrNotConverged)
	require.NotNil(t, result, "last-best weights accompany the error")
	assert.False(t, result.Converged)
	weightsSumToOne(t, result.Weights)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig(MaxSharpe)
	cfg.Objective = "grid_search"
	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = DefaultConfig(RiskParity)
	cfg.LowerBound = -0.5
	_, err = New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestProjectSimplex(t *testing.T) {
	out := projectSimplex([]float64{0.9, 0.9, -0.5}, 0)
	var sum float64
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.InDelta(t, out[0], out[1], 1e-12)
	assert.Equal(t, 0.0, out[2])
}

func TestLowerBoundRespected(t *testing.T) {
	cfg := DefaultConfig(MinVolatility)
	cfg.LowerBound = 0.1
	o, err := New(cfg, zap.NewNop())
	require.NoError(t, err)

	// Third asset is wildly volatile; the floor keeps it at 10%.
	cov := [][]float64{
		{0.01, 0, 0},
		{0, 0.02, 0},
		{0, 0, 4.0},
	}
	result, err := o.OptimizeMoments([]string{"A", "B", "C"}, []float64{0.05, 0.05, 0.05}, cov)
	require.NoError(t, err)
	weightsSumToOne(t, result.Weights)
	for _, w := range result.Weights {
		assert.GreaterOrEqual(t, w, 0.1-1e-9)
	}
	assert.InDelta(t, 0.1, result.Weights[2], 1e-6)
}

func TestZeroVarianceSharpeRanksWorst(t *testing.T) {
	assert.True(t, math.IsInf(sharpeOf([]float64{1}, []float64{0.05}, [][]float64{{0}}, 0), -1))
}

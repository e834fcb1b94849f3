// Package optimization implements portfolio weight optimization over a
// returns matrix: maximum Sharpe, minimum volatility and risk parity.
// All solves are pure functions of their inputs; multi-start searches
// run in parallel but collect results deterministically.
package optimization

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// Objective names one of the closed set of optimization objectives.
type Objective string

const (
	MaxSharpe     Objective = "max_sharpe"
	MinVolatility Objective = "min_volatility"
	RiskParity    Objective = "risk_parity"
)

// Config parameterizes one optimizer instance.
type Config struct {
	Objective      Objective
	RiskFreeRate   float64
	PeriodsPerYear int
	// LowerBound is the minimum weight per asset. Zero means long-only;
	// a negative bound permits short allocations.
	LowerBound    float64
	MaxIterations int
	Tolerance     float64
	// Parallelism caps concurrent multi-start evaluations. Zero picks a
	// small default.
	Parallelism int
}

// DefaultConfig returns a long-only config for the given objective.
func DefaultConfig(objective Objective) Config {
	return Config{
		Objective:      objective,
		PeriodsPerYear: 252,
		LowerBound:     0,
		MaxIterations:  5000,
		Tolerance:      1e-9,
		Parallelism:    4,
	}
}

// Result is the outcome of one optimization solve. Weights are aligned
// with Assets. Converged is false when an iterative solve hit its
// iteration cap; the weights then hold the last iterate.
type Result struct {
	Assets         []string  `json:"assets"`
	Weights        []float64 `json:"weights"`
	ExpectedReturn float64   `json:"expectedReturn"`
	Volatility     float64   `json:"volatility"`
	Sharpe         float64   `json:"sharpe"`
	Converged      bool      `json:"converged"`
	Iterations     int       `json:"iterations"`
}

// Optimizer solves constrained weight problems over asset return series.
type Optimizer struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Optimizer, error) {
	switch cfg.Objective {
	case MaxSharpe, MinVolatility, RiskParity:
	default:
		return nil, fmt.Errorf("optimization: unrecognized objective %q", cfg.Objective)
	}
	if cfg.PeriodsPerYear <= 0 {
		return nil, fmt.Errorf("optimization: periods per year must be > 0, got %d", cfg.PeriodsPerYear)
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("optimization: max iterations must be > 0, got %d", cfg.MaxIterations)
	}
	if cfg.Tolerance <= 0 {
		return nil, fmt.Errorf("optimization: tolerance must be > 0, got %v", cfg.Tolerance)
	}
	if cfg.Objective == RiskParity && cfg.LowerBound < 0 {
		return nil, fmt.Errorf("optimization: risk parity requires non-negative weights")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{cfg: cfg, logger: logger}, nil
}

// Optimize estimates annualized sample moments from the returns matrix
// (one series per asset, equal lengths) and solves for weights. Fewer
// observations than assets is a singular covariance, surfaced as an
// error rather than regularized away.
func (o *Optimizer) Optimize(assets []string, returns [][]float64) (*Result, error) {
	if len(assets) == 0 || len(assets) != len(returns) {
		return nil, fmt.Errorf("optimization: %d assets with %d return series", len(assets), len(returns))
	}
	obs := len(returns[0])
	for i, series := range returns {
		if len(series) != obs {
			return nil, fmt.Errorf("optimization: return series length mismatch for %s: %d vs %d", assets[i], len(series), obs)
		}
	}
	if obs <= len(assets) {
		return nil, fmt.Errorf("%w: %d observations for %d assets", types.ErrSingularCovariance, obs, len(assets))
	}

	ppy := float64(o.cfg.PeriodsPerYear)
	n := len(assets)
	mu := make([]float64, n)
	for i, series := range returns {
		var s float64
		for _, r := range series {
			s += r
		}
		mu[i] = s / float64(obs) * ppy
	}

	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		meanI := mu[i] / ppy
		for j := i; j < n; j++ {
			meanJ := mu[j] / ppy
			var s float64
			for k := 0; k < obs; k++ {
				s += (returns[i][k] - meanI) * (returns[j][k] - meanJ)
			}
			c := s / float64(obs-1) * ppy
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return o.OptimizeMoments(assets, mu, cov)
}

// OptimizeMoments solves for weights given precomputed annualized moments.
func (o *Optimizer) OptimizeMoments(assets []string, mu []float64, cov [][]float64) (*Result, error) {
	n := len(assets)
	if n == 0 || len(mu) != n || len(cov) != n {
		return nil, fmt.Errorf("optimization: moment dimensions do not match %d assets", n)
	}
	if float64(n)*o.cfg.LowerBound >= 1 {
		return nil, fmt.Errorf("optimization: lower bound %v infeasible for %d assets", o.cfg.LowerBound, n)
	}
	if !positiveDefinite(cov) {
		return nil, fmt.Errorf("%w: covariance matrix is not positive definite", types.ErrSingularCovariance)
	}

	var (
		result *Result
		err    error
	)
	switch o.cfg.Objective {
	case MinVolatility:
		result = o.minVolatility(cov)
	case MaxSharpe:
		result = o.maxSharpe(mu, cov)
	case RiskParity:
		result, err = o.riskParity(cov)
	}
	if result != nil {
		result.Assets = assets
		result.ExpectedReturn = dot(result.Weights, mu)
		result.Volatility = math.Sqrt(quadForm(result.Weights, cov))
		if result.Volatility > 0 {
			result.Sharpe = (result.ExpectedReturn - o.cfg.RiskFreeRate) / result.Volatility
		} else {
			result.Sharpe = math.NaN()
		}
		o.logger.Debug("optimization solved",
			zap.String("objective", string(o.cfg.Objective)),
			zap.Bool("converged", result.Converged),
			zap.Int("iterations", result.Iterations),
			zap.Float64("volatility", result.Volatility))
	}
	return result, err
}

// minVolatility runs projected gradient descent on w'Σw over the
// bounded simplex.
func (o *Optimizer) minVolatility(cov [][]float64) *Result {
	n := len(cov)
	w := equalWeights(n)
	var trace float64
	for i := 0; i < n; i++ {
		trace += cov[i][i]
	}
	lr := 0.45 / trace

	iters := 0
	converged := false
	for ; iters < o.cfg.MaxIterations; iters++ {
		grad := matVec(cov, w)
		next := make([]float64, n)
		for i := range next {
			next[i] = w[i] - lr*2*grad[i]
		}
		next = projectSimplex(next, o.cfg.LowerBound)
		if maxAbsDiff(w, next) < o.cfg.Tolerance {
			w = next
			converged = true
			break
		}
		w = next
	}
	return &Result{Weights: w, Converged: converged, Iterations: iters}
}

// maxSharpe runs a deterministic multi-start projected gradient ascent
// on the Sharpe ratio. Starts are evaluated in parallel and the best is
// chosen by value with the start index as tiebreak, so the result does
// not depend on scheduling.
func (o *Optimizer) maxSharpe(mu []float64, cov [][]float64) *Result {
	n := len(mu)
	starts := make([][]float64, 0, n+1)
	starts = append(starts, equalWeights(n))
	for i := 0; i < n; i++ {
		tilted := equalWeights(n)
		for j := range tilted {
			tilted[j] *= 0.5
		}
		tilted[i] += 0.5
		starts = append(starts, projectSimplex(tilted, o.cfg.LowerBound))
	}

	type candidate struct {
		result *Result
		sharpe float64
	}
	candidates := make([]candidate, len(starts))

	parallelism := o.cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	for idx, start := range starts {
		wg.Add(1)
		go func(idx int, start []float64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			res := o.ascendSharpe(start, mu, cov)
			candidates[idx] = candidate{result: res, sharpe: sharpeOf(res.Weights, mu, cov, o.cfg.RiskFreeRate)}
		}(idx, start)
	}
	wg.Wait()

	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].sharpe > candidates[best].sharpe {
			best = i
		}
	}
	return candidates[best].result
}

func (o *Optimizer) ascendSharpe(start, mu []float64, cov [][]float64) *Result {
	n := len(mu)
	w := append([]float64(nil), start...)
	lr := 0.05

	iters := 0
	converged := false
	for ; iters < o.cfg.MaxIterations; iters++ {
		sigmaW := matVec(cov, w)
		variance := dot(w, sigmaW)
		if variance <= 0 {
			break
		}
		sigma := math.Sqrt(variance)
		excess := dot(w, mu) - o.cfg.RiskFreeRate

		grad := make([]float64, n)
		for i := range grad {
			grad[i] = mu[i]/sigma - excess*sigmaW[i]/(sigma*sigma*sigma)
		}
		next := make([]float64, n)
		for i := range next {
			next[i] = w[i] + lr*grad[i]
		}
		next = projectSimplex(next, o.cfg.LowerBound)
		if maxAbsDiff(w, next) < o.cfg.Tolerance {
			w = next
			converged = true
			break
		}
		w = next
	}
	return &Result{Weights: w, Converged: converged, Iterations: iters}
}

// riskParity iterates w_i <- w_i * sqrt(target / RC_i) until all risk
// contributions match within tolerance. Hitting the iteration cap
// returns the last iterate alongside ErrNotConverged so callers can
// inspect how close it got.
func (o *Optimizer) riskParity(cov [][]float64) (*Result, error) {
	n := len(cov)
	w := equalWeights(n)

	iters := 0
	for ; iters < o.cfg.MaxIterations; iters++ {
		sigmaW := matVec(cov, w)
		variance := dot(w, sigmaW)
		target := variance / float64(n)

		spread := 0.0
		for i := 0; i < n; i++ {
			rc := w[i] * sigmaW[i]
			if d := math.Abs(rc - target); d > spread {
				spread = d
			}
		}
		if variance > 0 && spread/variance < o.cfg.Tolerance {
			return &Result{Weights: w, Converged: true, Iterations: iters}, nil
		}

		next := make([]float64, n)
		var sum float64
		for i := 0; i < n; i++ {
			rc := w[i] * sigmaW[i]
			if rc <= 0 {
				next[i] = 1e-12
			} else {
				next[i] = w[i] * math.Sqrt(target/rc)
			}
			sum += next[i]
		}
		for i := range next {
			next[i] /= sum
		}
		w = next
	}
	return &Result{Weights: w, Converged: false, Iterations: iters}, types.ErrNotConverged
}

// projectSimplex projects onto {sum(w)=1, w >= lowerBound} by shifting
// to the non-negative simplex and using the sorted threshold method.
func projectSimplex(w []float64, lowerBound float64) []float64 {
	n := len(w)
	scale := 1 - float64(n)*lowerBound

	v := make([]float64, n)
	for i := range v {
		v[i] = w[i] - lowerBound
	}

	sorted := append([]float64(nil), v...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var cumsum, theta float64
	for i := 0; i < n; i++ {
		cumsum += sorted[i]
		t := (cumsum - scale) / float64(i+1)
		if sorted[i]-t > 0 {
			theta = t
		}
	}

	out := make([]float64, n)
	for i := range out {
		p := v[i] - theta
		if p < 0 {
			p = 0
		}
		out[i] = p + lowerBound
	}
	return out
}

// positiveDefinite attempts a Cholesky factorization; failure means the
// covariance is singular or indefinite.
func positiveDefinite(m [][]float64) bool {
	n := len(m)
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			s := m[i][j]
			for k := 0; k < j; k++ {
				s -= l[i][k] * l[j][k]
			}
			if i == j {
				if s < 1e-12 {
					return false
				}
				l[i][i] = math.Sqrt(s)
			} else {
				l[i][j] = s / l[j][j]
			}
		}
	}
	return true
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

func matVec(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(m))
	for i := range m {
		var s float64
		for j := range v {
			s += m[i][j] * v[j]
		}
		out[i] = s
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func quadForm(w []float64, m [][]float64) float64 {
	return dot(w, matVec(m, w))
}

func sharpeOf(w, mu []float64, cov [][]float64, rf float64) float64 {
	variance := quadForm(w, cov)
	if variance <= 0 {
		return math.Inf(-1)
	}
	return (dot(w, mu) - rf) / math.Sqrt(variance)
}

func maxAbsDiff(a, b []float64) float64 {
	var m float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return m
}

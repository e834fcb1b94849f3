package indicators

import (
	"fmt"
	"math"

	"github.com/helios-quant/backtest-engine/pkg/types"
)

// HedgeRatio regresses y on x with an intercept and returns the slope
// (hedge ratio) and intercept.
func HedgeRatio(y, x []float64) (beta, alpha float64, err error) {
	if len(y) != len(x) {
		return 0, 0, fmt.Errorf("indicators: series length mismatch %d vs %d", len(y), len(x))
	}
	if len(y) < 3 {
		return 0, 0, fmt.Errorf("%w: hedge ratio needs at least 3 values", types.ErrInsufficientHistory)
	}
	n := float64(len(y))
	var meanX, meanY float64
	for i := range x {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= n
	meanY /= n
	var cov, varX float64
	for i := range x {
		dx := x[i] - meanX
		cov += dx * (y[i] - meanY)
		varX += dx * dx
	}
	if varX == 0 {
		return 0, 0, fmt.Errorf("indicators: regressor has zero variance")
	}
	beta = cov / varX
	alpha = meanY - beta*meanX
	return beta, alpha, nil
}

// Spread computes the residual series y - beta*x.
func Spread(y, x []float64, beta float64) ([]float64, error) {
	if len(y) != len(x) {
		return nil, fmt.Errorf("indicators: series length mismatch %d vs %d", len(y), len(x))
	}
	out := make([]float64, len(y))
	for i := range y {
		out[i] = y[i] - beta*x[i]
	}
	return out, nil
}

// ADFResult holds the augmented Dickey-Fuller test statistic and the
// critical values it was compared against.
type ADFResult struct {
	Statistic      float64
	Lags           int
	CriticalValues map[float64]float64
}

// MacKinnon critical values for the constant-only ADF regression.
var adfCriticalValues = map[float64]float64{
	0.01: -3.43,
	0.05: -2.86,
	0.10: -2.57,
}

// ADFTest runs an augmented Dickey-Fuller unit-root test with a constant
// and the given number of lagged difference terms. The regression is
//
//	dy[t] = c + g*y[t-1] + sum_i phi_i*dy[t-i] + e[t]
//
// and the statistic is the t-ratio of g.
func ADFTest(values []float64, lags int) (*ADFResult, error) {
	if lags < 0 {
		return nil, fmt.Errorf("indicators: adf lags must be >= 0, got %d", lags)
	}
	// Need lags+2 differences to form at least one usable row per
	// regression coefficient.
	minObs := lags + 2 + (lags + 3)
	if len(values) < minObs {
		return nil, fmt.Errorf("%w: adf needs %d values, have %d", types.ErrInsufficientHistory, minObs, len(values))
	}

	diffs := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		diffs[i-1] = values[i] - values[i-1]
	}

	// Rows start after the lagged differences are available.
	start := lags + 1
	rows := len(values) - start
	cols := lags + 2 // constant, level, lagged diffs
	if rows <= cols {
		return nil, fmt.Errorf("%w: adf regression underdetermined", types.ErrInsufficientHistory)
	}

	X := make([][]float64, rows)
	yv := make([]float64, rows)
	for r := 0; r < rows; r++ {
		t := start + r
		row := make([]float64, cols)
		row[0] = 1
		row[1] = values[t-1]
		for l := 1; l <= lags; l++ {
			row[1+l] = diffs[t-1-l]
		}
		X[r] = row
		yv[r] = diffs[t-1]
	}

	coef, se, err := olsWithStdErr(X, yv)
	if err != nil {
		return nil, err
	}
	if se[1] == 0 {
		return nil, fmt.Errorf("indicators: adf statistic undefined, zero standard error")
	}

	crit := make(map[float64]float64, len(adfCriticalValues))
	for k, v := range adfCriticalValues {
		crit[k] = v
	}
	return &ADFResult{
		Statistic:      coef[1] / se[1],
		Lags:           lags,
		CriticalValues: crit,
	}, nil
}

// Stationary reports whether the ADF statistic rejects the unit-root null
// at the given significance level. Unsupported levels fall back to 0.05.
func (r *ADFResult) Stationary(significance float64) bool {
	crit, ok := r.CriticalValues[significance]
	if !ok {
		crit = r.CriticalValues[0.05]
	}
	return r.Statistic < crit
}

// olsWithStdErr solves the normal equations for X'X b = X'y and returns
// the coefficients with their standard errors.
func olsWithStdErr(X [][]float64, y []float64) (coef, se []float64, err error) {
	rows := len(X)
	cols := len(X[0])

	xtx := make([][]float64, cols)
	xty := make([]float64, cols)
	for i := 0; i < cols; i++ {
		xtx[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			var s float64
			for r := 0; r < rows; r++ {
				s += X[r][i] * X[r][j]
			}
			xtx[i][j] = s
		}
		var s float64
		for r := 0; r < rows; r++ {
			s += X[r][i] * y[r]
		}
		xty[i] = s
	}

	inv, err := invert(xtx)
	if err != nil {
		return nil, nil, err
	}

	coef = make([]float64, cols)
	for i := 0; i < cols; i++ {
		for j := 0; j < cols; j++ {
			coef[i] += inv[i][j] * xty[j]
		}
	}

	var rss float64
	for r := 0; r < rows; r++ {
		var fit float64
		for j := 0; j < cols; j++ {
			fit += X[r][j] * coef[j]
		}
		resid := y[r] - fit
		rss += resid * resid
	}
	sigma2 := rss / float64(rows-cols)

	se = make([]float64, cols)
	for i := 0; i < cols; i++ {
		se[i] = math.Sqrt(sigma2 * inv[i][i])
	}
	return coef, se, nil
}

// invert inverts a square matrix by Gauss-Jordan elimination with partial
// pivoting.
func invert(m [][]float64) ([][]float64, error) {
	n := len(m)
	aug := make([][]float64, n)
	for i := 0; i < n; i++ {
		aug[i] = make([]float64, 2*n)
		copy(aug[i], m[i])
		aug[i][n+i] = 1
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(aug[pivot][col]) < 1e-12 {
			return nil, types.ErrSingularCovariance
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		pv := aug[col][col]
		for j := 0; j < 2*n; j++ {
			aug[col][j] /= pv
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			f := aug[r][col]
			if f == 0 {
				continue
			}
			for j := 0; j < 2*n; j++ {
				aug[r][j] -= f * aug[col][j]
			}
		}
	}
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = aug[i][n:]
	}
	return out, nil
}

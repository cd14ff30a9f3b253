package formulas

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CovarianceMatrix computes the sample covariance of a T×N observation matrix
// (rows are observations, columns are assets) multiplied by scale.
// Pass DefaultPeriodsPerYear as scale for an annualized matrix.
func CovarianceMatrix(data [][]float64, scale float64) ([][]float64, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("need at least 2 observations, got %d", len(data))
	}
	n := len(data[0])
	if n == 0 {
		return nil, fmt.Errorf("observation matrix has no columns")
	}

	flat := make([]float64, 0, len(data)*n)
	for t, row := range data {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d columns, want %d", t, len(row), n)
		}
		flat = append(flat, row...)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, mat.NewDense(len(data), n, flat), nil)

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = cov.At(i, j) * scale
		}
	}
	return out, nil
}

// CorrelationMatrixFromCovariance calculates the correlation matrix from a covariance matrix.
//
// Formula: corr(i,j) = cov(i,j) / sqrt(cov(i,i) * cov(j,j))
func CorrelationMatrixFromCovariance(cov [][]float64) ([][]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix is not square")
		}
	}

	vars := make([]float64, n)
	for i := 0; i < n; i++ {
		v := cov[i][i]
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid variance on diagonal at %d: %v", i, v)
		}
		vars[i] = v
	}

	corr := make([][]float64, n)
	for i := 0; i < n; i++ {
		corr[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		corr[i][i] = 1.0
		for j := i + 1; j < n; j++ {
			val := cov[i][j] / math.Sqrt(vars[i]*vars[j])
			val = math.Max(-1.0, math.Min(1.0, val))
			corr[i][j] = val
			corr[j][i] = val
		}
	}
	return corr, nil
}

// CorrelationToDistance converts a correlation matrix to the distance matrix
// d_ij = sqrt(2 * (1 - ρ_ij)) used by hierarchical clustering.
func CorrelationToDistance(corr [][]float64) [][]float64 {
	n := len(corr)
	dist := make([][]float64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			c := math.Max(-1.0, math.Min(1.0, corr[i][j]))
			dist[i][j] = math.Sqrt(2.0 * (1.0 - c))
		}
	}
	return dist
}

// InverseVarianceWeights returns w_i = (1/v_i) / Σ(1/v_j). Non-positive
// variances get weight 0; if none is positive the weights are equal.
func InverseVarianceWeights(variances []float64) []float64 {
	n := len(variances)
	weights := make([]float64, n)

	var total float64
	for _, v := range variances {
		if v > 0 {
			total += 1.0 / v
		}
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
		return weights
	}
	for i, v := range variances {
		if v > 0 {
			weights[i] = (1.0 / v) / total
		}
	}
	return weights
}

// ToSymDense converts a square [][]float64 into a gonum SymDense, using the
// upper triangle.
func ToSymDense(m [][]float64) (*mat.SymDense, error) {
	n := len(m)
	if n == 0 {
		return nil, fmt.Errorf("empty matrix")
	}
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(m[i]) != n {
			return nil, fmt.Errorf("matrix is not square: row %d has %d columns, want %d", i, len(m[i]), n)
		}
		for j := i; j < n; j++ {
			sym.SetSym(i, j, m[i][j])
		}
	}
	return sym, nil
}

// maxConditionNumber bounds the condition number of an accepted Cholesky factor.
// Factorize succeeds on some rank-deficient matrices after rounding.
const maxConditionNumber = 1e12

// Cholesky factorizes the symmetric matrix and reports false when it is not
// numerically positive definite.
func Cholesky(m *mat.SymDense) (*mat.Cholesky, bool) {
	var chol mat.Cholesky
	if !chol.Factorize(m) || chol.Cond() > maxConditionNumber {
		return nil, false
	}
	return &chol, true
}

// IsPositiveDefinite reports whether the symmetric matrix admits a
// well-conditioned Cholesky factorization.
func IsPositiveDefinite(m *mat.SymDense) bool {
	_, ok := Cholesky(m)
	return ok
}

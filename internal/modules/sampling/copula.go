package sampling

import (
	"fmt"
	"math/rand/v2"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// minCopulaObservations is the smallest history the copula will be fitted on.
const minCopulaObservations = 10

// GaussianCopula joins empirical marginals through a Gaussian dependence
// structure estimated on normal scores.
type GaussianCopula struct {
	assets      []string
	marginals   [][]float64 // sorted historical returns per asset
	chol        *mat.TriDense
	correlation *mat.SymDense
	adjustment  Adjustment
}

// FitGaussianCopula fits the copula to returns. Failures wrap domain.ErrDependencyFit.
func FitGaussianCopula(returns domain.ReturnMatrix, changes []CorrelationChange) (*GaussianCopula, error) {
	assets := returns.Assets()
	t := returns.Len()
	n := len(assets)
	if t < minCopulaObservations || t <= n {
		return nil, fmt.Errorf("%w: copula needs more than max(%d, %d) observations, got %d",
			domain.ErrDependencyFit, minCopulaObservations-1, n, t)
	}

	marginals := make([][]float64, n)
	scores := mat.NewDense(t, n, nil)
	for j, asset := range assets {
		col, _ := returns.Column(asset)
		if formulas.StdDev(col) == 0 {
			return nil, fmt.Errorf("%w: asset %q has constant returns", domain.ErrDependencyFit, asset)
		}
		marginals[j] = formulas.Sorted(col)
		for i, r := range formulas.Ranks(col) {
			scores.Set(i, j, distuv.UnitNormal.Quantile(r/float64(t+1)))
		}
	}

	corr := mat.NewSymDense(n, nil)
	stat.CorrelationMatrix(corr, scores, nil)

	corr, adj := applyCorrelationChanges(corr, assets, changes)

	chol, ok := formulas.Cholesky(corr)
	if !ok {
		return nil, fmt.Errorf("%w: normal-score correlation is not positive definite", domain.ErrDependencyFit)
	}
	var l mat.TriDense
	chol.LTo(&l)

	return &GaussianCopula{
		assets:      assets,
		marginals:   marginals,
		chol:        &l,
		correlation: corr,
		adjustment:  adj,
	}, nil
}

// Method implements Model.
func (g *GaussianCopula) Method() Method { return MethodGaussianCopula }

// Assets implements Model.
func (g *GaussianCopula) Assets() []string { return append([]string(nil), g.assets...) }

// Adjustment reports how the correlation changes were handled.
func (g *GaussianCopula) Adjustment() Adjustment { return g.adjustment }

// Correlation returns a copy of the fitted (possibly adjusted) correlation.
func (g *GaussianCopula) Correlation() *mat.SymDense {
	out := mat.NewSymDense(g.correlation.SymmetricDim(), nil)
	out.CopySym(g.correlation)
	return out
}

// Sample implements Model. Latent normals z = Lε are mapped through Φ and the
// empirical quantile of each marginal.
func (g *GaussianCopula) Sample(n int, src rand.Source) ([][]float64, error) {
	if err := validateSampleSize(n); err != nil {
		return nil, err
	}
	rng := rand.New(src)
	dim := len(g.assets)

	eps := mat.NewVecDense(dim, nil)
	var z mat.VecDense
	out := make([][]float64, n)
	for s := 0; s < n; s++ {
		for i := 0; i < dim; i++ {
			eps.SetVec(i, rng.NormFloat64())
		}
		z.MulVec(g.chol, eps)

		row := make([]float64, dim)
		for i := 0; i < dim; i++ {
			u := distuv.UnitNormal.CDF(z.AtVec(i))
			row[i] = formulas.PercentileSorted(g.marginals[i], u)
		}
		out[s] = row
	}
	return out, nil
}

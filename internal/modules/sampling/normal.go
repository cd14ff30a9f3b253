package sampling

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

const (
	ridgeStart    = 1e-10
	ridgeAttempts = 12
)

// MultivariateNormal draws from N(μ, Σ) estimated on the historical data.
// It is the fallback that must always be available, so fitting only fails for
// inputs no model could use (fewer than 2 observations).
type MultivariateNormal struct {
	assets     []string
	mean       []float64
	cov        *mat.SymDense
	ridge      float64
	adjustment Adjustment
}

// FitMultivariateNormal estimates the mean vector and sample covariance.
// Correlation changes are applied to the covariance through the implied
// correlation of assets with non-zero variance. A non positive definite
// covariance gets the smallest diagonal ridge that makes it factorizable.
func FitMultivariateNormal(returns domain.ReturnMatrix, changes []CorrelationChange) (*MultivariateNormal, error) {
	assets := returns.Assets()
	n := len(assets)
	if returns.Len() < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", domain.ErrInsufficientData, returns.Len())
	}

	data := mat.NewDense(returns.Len(), n, nil)
	mean := make([]float64, n)
	for j, asset := range assets {
		col, _ := returns.Column(asset)
		mean[j] = formulas.Mean(col)
		for i, v := range col {
			data.Set(i, j, v)
		}
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, data, nil)

	cov, adj := adjustCovariance(cov, assets, changes)

	ridge, err := regularize(cov)
	if err != nil {
		return nil, err
	}

	return &MultivariateNormal{
		assets:     assets,
		mean:       mean,
		cov:        cov,
		ridge:      ridge,
		adjustment: adj,
	}, nil
}

// adjustCovariance applies correlation changes via corr = D⁻¹ΣD⁻¹.
func adjustCovariance(cov *mat.SymDense, assets []string, changes []CorrelationChange) (*mat.SymDense, Adjustment) {
	if len(changes) == 0 {
		return cov, Adjustment{}
	}

	n := cov.SymmetricDim()
	sd := make([]float64, n)
	for i := 0; i < n; i++ {
		sd[i] = math.Sqrt(math.Max(0, cov.At(i, i)))
		if sd[i] == 0 {
			return cov, Adjustment{
				Requested: len(changes),
				Reason:    fmt.Sprintf("asset %q has zero variance", assets[i]),
			}
		}
	}

	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			corr.SetSym(i, j, cov.At(i, j)/(sd[i]*sd[j]))
		}
	}

	adjusted, adj := applyCorrelationChanges(corr, assets, changes)
	if !adj.Applied {
		return cov, adj
	}

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, adjusted.At(i, j)*sd[i]*sd[j])
		}
	}
	return out, adj
}

// regularize adds an increasing diagonal ridge until cov is positive definite
// and returns the ridge used (0 when none was needed).
func regularize(cov *mat.SymDense) (float64, error) {
	if formulas.IsPositiveDefinite(cov) {
		return 0, nil
	}

	n := cov.SymmetricDim()
	scale := 0.0
	for i := 0; i < n; i++ {
		scale += math.Abs(cov.At(i, i))
	}
	scale /= float64(n)
	if scale == 0 {
		scale = 1e-8
	}

	ridge := ridgeStart * scale
	for attempt := 0; attempt < ridgeAttempts; attempt++ {
		trial := mat.NewSymDense(n, nil)
		trial.CopySym(cov)
		for i := 0; i < n; i++ {
			trial.SetSym(i, i, trial.At(i, i)+ridge)
		}
		if formulas.IsPositiveDefinite(trial) {
			cov.CopySym(trial)
			return ridge, nil
		}
		ridge *= 10
	}
	return 0, fmt.Errorf("%w: covariance could not be regularized", domain.ErrDegenerateInput)
}

// Method implements Model.
func (m *MultivariateNormal) Method() Method { return MethodMultivariateNormal }

// Assets implements Model.
func (m *MultivariateNormal) Assets() []string { return append([]string(nil), m.assets...) }

// Adjustment reports how the correlation changes were handled.
func (m *MultivariateNormal) Adjustment() Adjustment { return m.adjustment }

// Ridge returns the diagonal regularization added during fitting.
func (m *MultivariateNormal) Ridge() float64 { return m.ridge }

// Sample implements Model.
func (m *MultivariateNormal) Sample(n int, src rand.Source) ([][]float64, error) {
	if err := validateSampleSize(n); err != nil {
		return nil, err
	}
	dist, ok := distmv.NewNormal(m.mean, m.cov, src)
	if !ok {
		return nil, fmt.Errorf("%w: covariance is not positive definite", domain.ErrDegenerateInput)
	}

	out := make([][]float64, n)
	for s := range out {
		out[s] = dist.Rand(nil)
	}
	return out, nil
}

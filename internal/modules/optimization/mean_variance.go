package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/riskengine/internal/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// penaltyWeight scales the (Σw - 1)² budget penalty.
const penaltyWeight = 1000.0

var convergedStatuses = map[optimize.Status]bool{
	optimize.Success:             true,
	optimize.GradientThreshold:   true,
	optimize.FunctionConvergence: true,
	optimize.MethodConverge:      true,
}

// meanVarianceProblem is a long-only, fully invested portfolio problem with
// per-asset upper bounds.
type meanVarianceProblem struct {
	mu           []float64
	sigma        *mat.SymDense
	upper        float64
	riskFreeRate float64
}

func newMeanVarianceProblem(mu []float64, cov [][]float64, upper, riskFreeRate float64) (*meanVarianceProblem, error) {
	n := len(mu)
	if n == 0 || len(cov) != n {
		return nil, fmt.Errorf("%w: covariance matrix size %d does not match %d assets", domain.ErrDegenerateInput, len(cov), n)
	}
	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("%w: covariance row %d has size %d, expected %d", domain.ErrDegenerateInput, i, len(cov[i]), n)
		}
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, cov[i][j])
		}
	}
	if upper <= 0 || upper > 1 {
		upper = 1
	}
	if upper*float64(n) < 1 {
		return nil, fmt.Errorf("%w: max weight %v cannot fund %d assets", domain.ErrInvalidConfiguration, upper, n)
	}
	return &meanVarianceProblem{mu: mu, sigma: sigma, upper: upper, riskFreeRate: riskFreeRate}, nil
}

func (p *meanVarianceProblem) project(x []float64) *mat.VecDense {
	proj := make([]float64, len(x))
	for i, v := range x {
		proj[i] = math.Max(0, math.Min(p.upper, v))
	}
	return mat.NewVecDense(len(proj), proj)
}

func (p *meanVarianceProblem) variance(w *mat.VecDense) float64 {
	return mat.Inner(w, p.sigma, w)
}

func budget(w *mat.VecDense) float64 {
	return mat.Sum(w) - 1
}

// minVolatility minimizes w'Σw.
func (p *meanVarianceProblem) minVolatility() optimize.Problem {
	return optimize.Problem{
		Func: func(x []float64) float64 {
			w := p.project(x)
			b := budget(w)
			return p.variance(w) + penaltyWeight*b*b
		},
		Grad: func(grad, x []float64) {
			w := p.project(x)
			var sw mat.VecDense
			sw.MulVec(p.sigma, w)
			b := budget(w)
			for i := range grad {
				grad[i] = 2*sw.AtVec(i) + 2*penaltyWeight*b
			}
		},
	}
}

// maxSharpe maximizes (μ'w - r_f) / sqrt(w'Σw).
func (p *meanVarianceProblem) maxSharpe() optimize.Problem {
	muVec := mat.NewVecDense(len(p.mu), p.mu)
	return optimize.Problem{
		Func: func(x []float64) float64 {
			w := p.project(x)
			sd := math.Sqrt(math.Max(p.variance(w), 1e-10))
			b := budget(w)
			return -(mat.Dot(muVec, w)-p.riskFreeRate)/sd + penaltyWeight*b*b
		},
		Grad: func(grad, x []float64) {
			w := p.project(x)
			ret := mat.Dot(muVec, w) - p.riskFreeRate
			sd := math.Sqrt(math.Max(p.variance(w), 1e-10))
			var sw mat.VecDense
			sw.MulVec(p.sigma, w)
			b := budget(w)
			for i := range grad {
				grad[i] = -p.mu[i]/sd + ret*sw.AtVec(i)/(sd*sd*sd) + 2*penaltyWeight*b
			}
		},
	}
}

// solve runs BFGS from the equal-weight portfolio and retries with
// Nelder-Mead when BFGS fails, then projects and renormalizes.
func (p *meanVarianceProblem) solve(problem optimize.Problem) ([]float64, error) {
	n := len(p.mu)
	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, nil, &optimize.BFGS{})
	if err != nil || !convergedStatuses[result.Status] {
		result, err = optimize.Minimize(problem, initial, nil, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("%w: optimization failed: %v", domain.ErrDegenerateInput, err)
		}
		if !convergedStatuses[result.Status] {
			return nil, fmt.Errorf("%w: optimization did not converge: status=%v", domain.ErrDegenerateInput, result.Status)
		}
	}

	w := p.project(result.X)
	sum := mat.Sum(w)
	if sum <= 0 || math.IsNaN(sum) {
		return nil, fmt.Errorf("%w: optimizer returned weights summing to %v", domain.ErrDegenerateInput, sum)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = w.AtVec(i) / sum
	}
	return out, nil
}

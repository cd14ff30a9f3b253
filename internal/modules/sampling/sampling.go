// Package sampling draws synthetic multi-asset returns that preserve the
// cross-asset dependency of historical data.
package sampling

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
	"gonum.org/v1/gonum/mat"
)

// Method identifies the dependency model that produced a draw.
type Method string

const (
	MethodGaussianCopula     Method = "gaussian_copula"
	MethodMultivariateNormal Method = "multivariate_normal"
)

// maxCorrelation bounds adjusted correlations away from ±1.
const maxCorrelation = 0.99

// Model is a fitted dependency model. Implementations are immutable after
// fitting and safe for concurrent Sample calls with distinct sources.
type Model interface {
	Method() Method
	Assets() []string
	// Sample returns n draws; each row holds one return per asset in Assets() order.
	Sample(n int, src rand.Source) ([][]float64, error)
}

// CorrelationChange shifts the correlation of an asset pair by Delta.
type CorrelationChange struct {
	AssetA string  `json:"asset_a" yaml:"asset_a"`
	AssetB string  `json:"asset_b" yaml:"asset_b"`
	Delta  float64 `json:"delta" yaml:"delta"`
}

// Adjustment records what happened to the requested correlation changes.
type Adjustment struct {
	Requested int  `json:"requested"`
	Applied   bool `json:"applied"`
	// Reason is set when the changes were dropped.
	Reason string `json:"reason,omitempty"`
}

// applyCorrelationChanges adds each delta to corr (clamped to ±maxCorrelation)
// and returns the adjusted copy if it is still positive definite.
func applyCorrelationChanges(corr *mat.SymDense, assets []string, changes []CorrelationChange) (*mat.SymDense, Adjustment) {
	adj := Adjustment{Requested: len(changes)}
	if len(changes) == 0 {
		return corr, adj
	}

	index := make(map[string]int, len(assets))
	for i, a := range assets {
		index[a] = i
	}

	out := mat.NewSymDense(corr.SymmetricDim(), nil)
	out.CopySym(corr)
	for _, ch := range changes {
		i, okA := index[ch.AssetA]
		j, okB := index[ch.AssetB]
		if !okA || !okB {
			adj.Reason = fmt.Sprintf("unknown asset pair %s/%s", ch.AssetA, ch.AssetB)
			return corr, adj
		}
		if i == j {
			adj.Reason = fmt.Sprintf("self-correlation change for %s", ch.AssetA)
			return corr, adj
		}
		v := out.At(i, j) + ch.Delta
		out.SetSym(i, j, math.Max(-maxCorrelation, math.Min(maxCorrelation, v)))
	}

	if !formulas.IsPositiveDefinite(out) {
		adj.Reason = "adjusted correlation matrix is not positive definite"
		return corr, adj
	}
	adj.Applied = true
	return out, adj
}

// PortfolioSample combines draws with weights in assets order: Σ w_i r_i per row.
func PortfolioSample(draws [][]float64, assets []string, weights domain.WeightVector) []float64 {
	w := weights.Vector(assets)
	out := make([]float64, len(draws))
	for t, row := range draws {
		sum := 0.0
		for i, v := range row {
			sum += w[i] * v
		}
		out[t] = sum
	}
	return out
}

func validateSampleSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: sample size must be positive, got %d", domain.ErrInvalidConfiguration, n)
	}
	return nil
}

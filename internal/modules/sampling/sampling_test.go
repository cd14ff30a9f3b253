package sampling

import (
	"bytes"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// correlatedMatrix builds two assets with correlation close to rho.
func correlatedMatrix(t *testing.T, seed uint64, n int, rho float64) domain.ReturnMatrix {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 1))
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		z1, z2 := rng.NormFloat64(), rng.NormFloat64()
		a[i] = 0.01 * z1
		b[i] = 0.02 * (rho*z1 + math.Sqrt(1-rho*rho)*z2)
	}
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = start.AddDate(0, 0, i)
	}
	m, err := domain.NewReturnMatrixFromColumns(ts, map[string][]float64{"A": a, "B": b})
	require.NoError(t, err)
	return m
}

func columns(draws [][]float64) ([]float64, []float64) {
	a := make([]float64, len(draws))
	b := make([]float64, len(draws))
	for i, row := range draws {
		a[i], b[i] = row[0], row[1]
	}
	return a, b
}

func TestGaussianCopula_PreservesDependency(t *testing.T) {
	returns := correlatedMatrix(t, 3, 500, 0.8)

	copula, err := FitGaussianCopula(returns, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodGaussianCopula, copula.Method())
	assert.Equal(t, []string{"A", "B"}, copula.Assets())

	draws, err := copula.Sample(5000, rand.NewPCG(1, 2))
	require.NoError(t, err)
	require.Len(t, draws, 5000)

	a, b := columns(draws)
	assert.InDelta(t, 0.8, formulas.Correlation(a, b), 0.08)

	// Empirical marginals keep every draw within the historical range.
	histA, _ := returns.Column("A")
	assert.GreaterOrEqual(t, formulas.Min(a), formulas.Min(histA))
	assert.LessOrEqual(t, formulas.Max(a), formulas.Max(histA))
}

func TestGaussianCopula_FitFailures(t *testing.T) {
	ts := []time.Time{}
	cols := map[string][]float64{"A": {}, "B": {}}
	for i := 0; i < 30; i++ {
		ts = append(ts, start.AddDate(0, 0, i))
		cols["A"] = append(cols["A"], 0.001)
		cols["B"] = append(cols["B"], float64(i%5)*0.01)
	}
	constant, err := domain.NewReturnMatrixFromColumns(ts, cols)
	require.NoError(t, err)

	_, err = FitGaussianCopula(constant, nil)
	assert.ErrorIs(t, err, domain.ErrDependencyFit)

	short := correlatedMatrix(t, 1, 5, 0.1)
	_, err = FitGaussianCopula(short, nil)
	assert.ErrorIs(t, err, domain.ErrDependencyFit)
}

func TestResilient_FallsBackWhenCopulaCannotFit(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	returns := correlatedMatrix(t, 2, 6, 0.5)
	fitted, err := NewResilient(log).Fit(returns, nil)
	require.NoError(t, err)

	assert.Equal(t, MethodMultivariateNormal, fitted.Method())
	assert.True(t, IsFallback(fitted.FitError()))
	assert.Contains(t, buf.String(), "fallback")

	draws, err := fitted.Draw(100, rand.NewPCG(3, 4))
	require.NoError(t, err)
	assert.Equal(t, MethodMultivariateNormal, draws.Method)
	assert.Len(t, draws.Values, 100)
}

func TestResilient_UsesCopulaWhenPossible(t *testing.T) {
	fitted, err := NewResilient(zerolog.Nop()).Fit(correlatedMatrix(t, 5, 200, 0.3), nil)
	require.NoError(t, err)
	assert.NoError(t, fitted.FitError())

	draws, err := fitted.Draw(10, rand.NewPCG(1, 1))
	require.NoError(t, err)
	assert.Equal(t, MethodGaussianCopula, draws.Method)

	_, err = fitted.Draw(0, rand.NewPCG(1, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestSample_DeterministicForSource(t *testing.T) {
	fitted, err := NewResilient(zerolog.Nop()).Fit(correlatedMatrix(t, 8, 100, 0.4), nil)
	require.NoError(t, err)

	a, err := fitted.Draw(50, rand.NewPCG(42, 0))
	require.NoError(t, err)
	b, err := fitted.Draw(50, rand.NewPCG(42, 0))
	require.NoError(t, err)
	assert.Equal(t, a.Values, b.Values)
}

func TestMultivariateNormal_RegularizesSingularCovariance(t *testing.T) {
	ts := make([]time.Time, 20)
	a := make([]float64, 20)
	b := make([]float64, 20)
	for i := range ts {
		ts[i] = start.AddDate(0, 0, i)
		a[i] = float64(i%4) * 0.01
		b[i] = 2 * a[i]
	}
	returns, err := domain.NewReturnMatrixFromColumns(ts, map[string][]float64{"A": a, "B": b})
	require.NoError(t, err)

	mvn, err := FitMultivariateNormal(returns, nil)
	require.NoError(t, err)
	assert.Greater(t, mvn.Ridge(), 0.0)

	draws, err := mvn.Sample(10, rand.NewPCG(1, 2))
	require.NoError(t, err)
	assert.Len(t, draws, 10)
}

func TestCorrelationChanges(t *testing.T) {
	returns := correlatedMatrix(t, 4, 400, 0.2)

	tests := []struct {
		name    string
		changes []CorrelationChange
		applied bool
	}{
		{"raise correlation", []CorrelationChange{{AssetA: "A", AssetB: "B", Delta: 0.5}}, true},
		{"clamped at bound", []CorrelationChange{{AssetA: "A", AssetB: "B", Delta: 5}}, true},
		{"unknown asset", []CorrelationChange{{AssetA: "A", AssetB: "Z", Delta: 0.1}}, false},
		{"self pair", []CorrelationChange{{AssetA: "A", AssetB: "A", Delta: 0.1}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			copula, err := FitGaussianCopula(returns, tt.changes)
			require.NoError(t, err)
			adj := copula.Adjustment()
			assert.Equal(t, tt.applied, adj.Applied)
			if !tt.applied {
				assert.NotEmpty(t, adj.Reason)
			}
			rho := copula.Correlation().At(0, 1)
			assert.LessOrEqual(t, math.Abs(rho), maxCorrelation)

			mvn, err := FitMultivariateNormal(returns, tt.changes)
			require.NoError(t, err)
			assert.Equal(t, tt.applied, mvn.Adjustment().Applied)
		})
	}
}

func TestPortfolioSample(t *testing.T) {
	draws := [][]float64{{0.1, 0.2}, {-0.1, 0.0}}
	got := PortfolioSample(draws, []string{"A", "B"}, domain.WeightVector{"A": 0.5, "B": 0.5})
	assert.InDeltaSlice(t, []float64{0.15, -0.05}, got, 1e-12)
}

package optimization

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/validation"
	"github.com/aristath/riskengine/internal/workers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// threeAssets returns A and B as near-duplicates and a low-volatility C.
func threeAssets(t *testing.T, n int) domain.ReturnMatrix {
	t.Helper()
	rng := rand.New(rand.NewPCG(3, 4))
	cols := map[string][]float64{"A": make([]float64, n), "B": make([]float64, n), "C": make([]float64, n)}
	ts := make([]time.Time, n)
	for i := 0; i < n; i++ {
		common := rng.NormFloat64()
		cols["A"][i] = 0.0004 + 0.02*common + 0.002*rng.NormFloat64()
		cols["B"][i] = 0.0003 + 0.02*common + 0.002*rng.NormFloat64()
		cols["C"][i] = 0.0002 + 0.005*rng.NormFloat64()
		ts[i] = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
	}
	m, err := domain.NewReturnMatrixFromColumns(ts, cols)
	require.NoError(t, err)
	return m
}

func newModel(t *testing.T, kind Kind, opts Options) *Model {
	t.Helper()
	m, err := NewModel(string(kind), opts, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestNewModel_Errors(t *testing.T) {
	tests := []struct {
		name string
		kind string
		opts Options
	}{
		{"unknown kind", "black_litterman", Options{}},
		{"unknown linkage", "hrp", Options{Linkage: "ward"}},
		{"max weight above one", "min_volatility", Options{MaxWeight: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.kind, tt.opts, zerolog.Nop())
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestModels_WeightsAreFullyInvested(t *testing.T) {
	returns := threeAssets(t, 250)

	for _, kind := range Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			w, err := newModel(t, kind, Options{}).Weights(returns)
			require.NoError(t, err)
			require.Len(t, w, 3)
			assert.InDelta(t, 1.0, w.Sum(), 1e-9)
			for asset, v := range w {
				assert.GreaterOrEqual(t, v, 0.0, asset)
			}
		})
	}
}

func TestModels_FavourLowVolatility(t *testing.T) {
	returns := threeAssets(t, 250)

	for _, kind := range []Kind{KindInverseVolatility, KindHRP, KindMinVolatility} {
		t.Run(string(kind), func(t *testing.T) {
			w, err := newModel(t, kind, Options{}).Weights(returns)
			require.NoError(t, err)
			assert.Greater(t, w["C"], w["A"])
			assert.Greater(t, w["C"], w["B"])
		})
	}
}

func TestInverseVolatility_KnownWeights(t *testing.T) {
	ts := []time.Time{time.Unix(0, 0), time.Unix(86400, 0), time.Unix(2*86400, 0), time.Unix(3*86400, 0)}
	returns, err := domain.NewReturnMatrixFromColumns(ts, map[string][]float64{
		"X": {1, -1, 1, -1},
		"Y": {2, -2, 2, -2},
	})
	require.NoError(t, err)

	w, err := newModel(t, KindInverseVolatility, Options{}).Weights(returns)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, w["X"], 1e-12)
	assert.InDelta(t, 0.2, w["Y"], 1e-12)
}

func TestMinVolatility_MatchesClosedForm(t *testing.T) {
	p, err := newMeanVarianceProblem([]float64{0.1, 0.05}, [][]float64{{0.04, 0}, {0, 0.01}}, 1, 0)
	require.NoError(t, err)

	w, err := p.solve(p.minVolatility())
	require.NoError(t, err)
	assert.InDelta(t, 0.2, w[0], 0.02)
	assert.InDelta(t, 0.8, w[1], 0.02)
}

func TestMinVolatility_RespectsMaxWeight(t *testing.T) {
	p, err := newMeanVarianceProblem([]float64{0.1, 0.05}, [][]float64{{0.04, 0}, {0, 0.01}}, 0.6, 0)
	require.NoError(t, err)

	w, err := p.solve(p.minVolatility())
	require.NoError(t, err)
	assert.LessOrEqual(t, w[1], 0.62)
	assert.InDelta(t, 1.0, w[0]+w[1], 1e-9)

	_, err = newMeanVarianceProblem([]float64{0.1, 0.05}, [][]float64{{0.04, 0}, {0, 0.01}}, 0.3, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestHierarchicalRiskParity(t *testing.T) {
	cov := [][]float64{
		{0.04, 0.038, 0.0},
		{0.038, 0.04, 0.0},
		{0.0, 0.0, 0.01},
	}

	for _, linkage := range []Linkage{LinkageSingle, LinkageComplete, LinkageAverage} {
		t.Run(string(linkage), func(t *testing.T) {
			w, err := hierarchicalRiskParity(cov, linkage)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, w[0]+w[1]+w[2], 1e-12)
			assert.InDelta(t, w[0], w[1], 1e-12)
			assert.Greater(t, w[2], w[0])
		})
	}

	w, err := hierarchicalRiskParity([][]float64{{0.01}}, LinkageSingle)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, w)

	_, err = hierarchicalRiskParity([][]float64{{0, 0}, {0, 0.01}}, LinkageSingle)
	assert.ErrorIs(t, err, domain.ErrDegenerateInput)
}

func TestShrinkCovariance(t *testing.T) {
	tests := []struct {
		name   string
		sample [][]float64
		want   [][]float64
	}{
		{
			name:   "two assets use the default intensity",
			sample: [][]float64{{0.04, 0.01}, {0.01, 0.02}},
			want:   [][]float64{{0.8*0.04 + 0.2*0.03, 0.01}, {0.01, 0.8*0.02 + 0.2*0.03}},
		},
		{
			name: "three assets estimate the intensity",
			sample: [][]float64{
				{0.04, 0.01, 0.002},
				{0.01, 0.02, 0.005},
				{0.002, 0.005, 0.03},
			},
			// dispersion outweighs the distance to the target, so δ caps at 0.5
			want: [][]float64{
				{0.035, 0.0078333333333333, 0.0038333333333333},
				{0.0078333333333333, 0.025, 0.0053333333333333},
				{0.0038333333333333, 0.0053333333333333, 0.03},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shrunk := shrinkCovariance(tt.sample)
			require.Len(t, shrunk, len(tt.want))
			for i := range tt.want {
				for j := range tt.want[i] {
					assert.InDelta(t, tt.want[i][j], shrunk[i][j], 1e-12, "entry (%d,%d)", i, j)
					assert.Equal(t, shrunk[i][j], shrunk[j][i])
				}
			}
		})
	}
}

func TestModel_CrossValidatesEndToEnd(t *testing.T) {
	f, err := validation.NewFramework(nil, workers.NewPool(2), validation.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	model := newModel(t, KindHRP, Options{Shrinkage: true}).Named("hrp-shrunk")
	report, err := f.Validate(context.Background(), threeAssets(t, 300), model,
		validation.WalkForward{TrainSize: 120, TestSize: 60})
	require.NoError(t, err)

	assert.Equal(t, "hrp-shrunk", report.Model)
	assert.Len(t, report.Folds, 3)
	assert.Empty(t, report.FailedFolds)
	for _, fold := range report.Folds {
		assert.InDelta(t, 1.0, fold.Weights.Sum(), 1e-9)
	}
}

func TestAllocation_PredictRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Allocation{Weights: domain.WeightVector{"A": 1}}.Predict(ctx, domain.ReturnMatrix{})
	assert.ErrorIs(t, err, context.Canceled)
}

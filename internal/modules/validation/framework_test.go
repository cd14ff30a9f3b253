package validation

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/workers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testMatrix(t *testing.T, n int) domain.ReturnMatrix {
	t.Helper()
	rng := rand.New(rand.NewPCG(11, 12))
	cols := map[string][]float64{"A": make([]float64, n), "B": make([]float64, n)}
	for i := 0; i < n; i++ {
		cols["A"][i] = 0.0005 + 0.01*rng.NormFloat64()
		cols["B"][i] = 0.0002 + 0.02*rng.NormFloat64()
	}
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = start.AddDate(0, 0, i)
	}
	m, err := domain.NewReturnMatrixFromColumns(ts, cols)
	require.NoError(t, err)
	return m
}

func newFramework(t *testing.T, cfg Config) *Framework {
	t.Helper()
	f, err := NewFramework(nil, workers.NewPool(4), cfg, zerolog.Nop())
	require.NoError(t, err)
	return f
}

type fixedModel struct {
	weights domain.WeightVector
}

func (m fixedModel) Name() string { return "fixed" }

func (m fixedModel) Fit(context.Context, domain.ReturnMatrix) (FittedModel, error) {
	return m, nil
}

func (m fixedModel) Predict(context.Context, domain.ReturnMatrix) (domain.WeightVector, error) {
	return m.weights, nil
}

// flakyModel fails every fold whose training window does not start at start.
type flakyModel struct {
	panics bool
}

func (m flakyModel) Fit(_ context.Context, train domain.ReturnMatrix) (FittedModel, error) {
	if !train.Timestamps()[0].Equal(start) {
		if m.panics {
			panic("boom")
		}
		return nil, errors.New("solver diverged")
	}
	return fixedModel{weights: domain.WeightVector{"A": 1}}, nil
}

type failingPredictor struct{}

func (failingPredictor) Fit(context.Context, domain.ReturnMatrix) (FittedModel, error) {
	return failingPredictor{}, nil
}

func (failingPredictor) Predict(context.Context, domain.ReturnMatrix) (domain.WeightVector, error) {
	return nil, errors.New("no weights")
}

func TestNewFramework_RejectsUnknownMetric(t *testing.T) {
	_, err := NewFramework(nil, nil, Config{ScoreMetric: "alpha_decay"}, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	f, err := NewFramework(nil, nil, Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultScoreMetric, f.Config().ScoreMetric)
}

func TestValidate_WalkForward(t *testing.T) {
	f := newFramework(t, DefaultConfig())
	returns := testMatrix(t, 140)

	report, err := f.Validate(context.Background(), returns, fixedModel{weights: domain.WeightVector{"A": 0.5, "B": 0.5}},
		WalkForward{TrainSize: 100, TestSize: 20})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "fixed", report.Model)
	assert.Equal(t, PolicyWalkForward, report.Policy)
	require.Len(t, report.Folds, 2)
	assert.Empty(t, report.FailedFolds)

	for i, fold := range report.Folds {
		assert.Equal(t, i, fold.Index)
		assert.Equal(t, 100, fold.TrainSize)
		assert.Equal(t, 20, fold.TestSize)
		require.NotNil(t, fold.Metrics)
		assert.Equal(t, 20, fold.Metrics.Observations)
		assert.Equal(t, fold.Metrics.SharpeRatio, fold.Score)
		assert.Nil(t, fold.InSample)
	}

	scores := report.Scores()
	assert.InDelta(t, (scores[0]+scores[1])/2, report.Metrics[MetricScore].Mean, 1e-12)
	for _, name := range TrackedMetrics {
		assert.Contains(t, report.Metrics, name)
	}
	assert.Equal(t, report.Metrics[MetricScore], report.Metrics["sharpe_ratio"])
	assert.Nil(t, report.InSampleMetrics)
}

func TestValidate_ScoreMetric(t *testing.T) {
	f := newFramework(t, Config{ScoreMetric: "volatility"})

	report, err := f.Validate(context.Background(), testMatrix(t, 90), fixedModel{weights: domain.WeightVector{"B": 1}},
		KFold{NFolds: 3})
	require.NoError(t, err)
	for _, fold := range report.Folds {
		assert.Equal(t, fold.Metrics.Volatility, fold.Score)
	}
	summary, ok := report.Summary("cvar_95")
	assert.True(t, ok)
	assert.Less(t, summary.Mean, 0.0)
}

func TestValidate_TrackInSample(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrackInSample = true
	f := newFramework(t, cfg)

	report, err := f.Validate(context.Background(), testMatrix(t, 120), fixedModel{weights: domain.WeightVector{"A": 1}},
		CombinatorialPurged{NFolds: 4, NTestFolds: 1, PurgeLength: 2, EmbargoLength: 2})
	require.NoError(t, err)
	require.Len(t, report.Folds, 4)
	for _, fold := range report.Folds {
		require.NotNil(t, fold.InSample)
		assert.Equal(t, fold.TrainSize, fold.InSample.Observations)
	}
	assert.Len(t, report.InSampleValues("sharpe_ratio"), 4)
	assert.Contains(t, report.InSampleMetrics, "volatility")
}

func TestValidate_FailedFoldsAreRecorded(t *testing.T) {
	tests := []struct {
		name  string
		model Model
		stage Stage
	}{
		{"fit error", flakyModel{}, StageFit},
		{"fit panic", flakyModel{panics: true}, StageFit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFramework(t, DefaultConfig())
			report, err := f.Validate(context.Background(), testMatrix(t, 140), tt.model,
				WalkForward{TrainSize: 100, TestSize: 20})
			require.NoError(t, err)

			require.Len(t, report.Folds, 1)
			assert.Equal(t, 0, report.Folds[0].Index)
			require.Len(t, report.FailedFolds, 1)
			failed := report.FailedFolds[0]
			assert.Equal(t, 1, failed.Index)
			assert.Equal(t, tt.stage, failed.Stage)
			assert.ErrorIs(t, failed.Err, domain.ErrFoldExecution)
			assert.NotEmpty(t, failed.Message)
			assert.Equal(t, 2, report.TotalFolds)
		})
	}
}

func TestValidate_AllFoldsFailed(t *testing.T) {
	f := newFramework(t, DefaultConfig())

	_, err := f.Validate(context.Background(), testMatrix(t, 60), failingPredictor{}, KFold{NFolds: 3})
	assert.ErrorIs(t, err, domain.ErrAllFoldsFailed)
}

func TestValidate_UnknownWeightAssetFailsScoring(t *testing.T) {
	f := newFramework(t, DefaultConfig())

	_, err := f.Validate(context.Background(), testMatrix(t, 60), fixedModel{weights: domain.WeightVector{"Z": 1}},
		KFold{NFolds: 3})
	assert.ErrorIs(t, err, domain.ErrAllFoldsFailed)
}

func TestValidate_PolicyErrorsAreFatal(t *testing.T) {
	f := newFramework(t, DefaultConfig())

	_, err := f.Validate(context.Background(), testMatrix(t, 30), fixedModel{}, WalkForward{TrainSize: 50, TestSize: 10})
	assert.ErrorIs(t, err, domain.ErrInsufficientData)

	_, err = f.Validate(context.Background(), testMatrix(t, 30), nil, KFold{NFolds: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestValidate_Cancelled(t *testing.T) {
	f := newFramework(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Validate(ctx, testMatrix(t, 60), fixedModel{weights: domain.WeightVector{"A": 1}}, KFold{NFolds: 3})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate_ProgressAtEachFold(t *testing.T) {
	var mu sync.Mutex
	var calls []int
	f := newFramework(t, DefaultConfig()).WithProgress(func(current, total int, _ string) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 5, total)
		calls = append(calls, current)
	})

	_, err := f.Validate(context.Background(), testMatrix(t, 100), fixedModel{weights: domain.WeightVector{"A": 1}}, KFold{NFolds: 5})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, calls)
}

func TestReport_WithSignificance(t *testing.T) {
	r := &Report{Model: "a"}
	annotated := r.WithSignificance(Significance{Against: "b", PValue: 0.01, Significant: true})

	assert.Empty(t, r.Significance)
	require.Len(t, annotated.Significance, 1)
	assert.Equal(t, "b", annotated.Significance[0].Against)
}

package montecarlo

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/sampling"
	"github.com/aristath/riskengine/internal/workers"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMatrix(t *testing.T, n int) domain.ReturnMatrix {
	t.Helper()
	rng := rand.New(rand.NewPCG(21, 8))
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	ts := make([]time.Time, n)
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		ts[i] = start.AddDate(0, 0, i)
		z := rng.NormFloat64()
		a[i] = 0.0004 + 0.01*z
		b[i] = 0.0002 + 0.006*(0.5*z+0.8*rng.NormFloat64())
	}
	m, err := domain.NewReturnMatrixFromColumns(ts, map[string][]float64{"A": a, "B": b})
	require.NoError(t, err)
	return m
}

func smallConfig(seed uint64) Config {
	cfg := DefaultConfig()
	cfg.NumSimulations = 400
	cfg.HorizonDays = 20
	cfg.BatchSize = 64
	cfg.Seed = seed
	return cfg
}

func TestSimulate_DeterministicForSeed(t *testing.T) {
	returns := testMatrix(t, 200)
	w := domain.WeightVector{"A": 0.6, "B": 0.4}

	first, err := NewSimulator(workers.NewPool(4), zerolog.Nop()).Simulate(context.Background(), w, returns, smallConfig(42))
	require.NoError(t, err)
	second, err := NewSimulator(workers.NewPool(1), zerolog.Nop()).Simulate(context.Background(), w, returns, smallConfig(42))
	require.NoError(t, err)

	assert.Equal(t, first.Distribution, second.Distribution)
	assert.Equal(t, first.Intervals, second.Intervals)
	assert.Equal(t, first.Paths, second.Paths)
	assert.NotEqual(t, first.RunID, second.RunID)

	third, err := NewSimulator(workers.NewPool(4), zerolog.Nop()).Simulate(context.Background(), w, returns, smallConfig(43))
	require.NoError(t, err)
	assert.NotEqual(t, first.Distribution.Percentiles, third.Distribution.Percentiles)
}

func TestSimulate_ReportInvariants(t *testing.T) {
	returns := testMatrix(t, 250)
	report, err := NewSimulator(workers.NewPool(4), zerolog.Nop()).
		Simulate(context.Background(), domain.WeightVector{"A": 0.5, "B": 0.5}, returns, smallConfig(7))
	require.NoError(t, err)

	assert.Equal(t, 400, report.Simulations)
	assert.Equal(t, sampling.MethodGaussianCopula, report.Method)
	assert.False(t, report.Fallback)
	require.Len(t, report.Intervals, 3)
	for i, iv := range report.Intervals {
		assert.LessOrEqual(t, iv.WealthLower, iv.WealthUpper)
		assert.InDelta(t, iv.WealthLower-1, iv.ReturnLower, 1e-12)
		if i > 0 {
			// wider confidence, wider interval
			assert.LessOrEqual(t, iv.ReturnLower, report.Intervals[i-1].ReturnLower)
		}
	}

	d := report.Distribution
	assert.Len(t, d.Percentiles, len(ReportedPercentiles))
	prev := d.Percentiles[1]
	for _, p := range ReportedPercentiles[1:] {
		assert.GreaterOrEqual(t, d.Percentiles[p], prev)
		prev = d.Percentiles[p]
	}
	assert.LessOrEqual(t, d.ProbabilityPositive+d.ProbabilityLoss, 1.0)
	assert.LessOrEqual(t, d.ProbabilitySevereLoss, d.ProbabilityLoss)
	assert.LessOrEqual(t, d.CVaR95, d.VaR95)

	assert.LessOrEqual(t, report.Paths.MeanMaxDrawdown, 0.0)
	assert.LessOrEqual(t, report.Paths.MeanMinWealth, report.Paths.MeanMaxWealth)

	_, err = json.Marshal(report)
	assert.NoError(t, err)
}

func TestSimulate_FallsBackOnShortHistory(t *testing.T) {
	report, err := NewSimulator(workers.NewPool(2), zerolog.Nop()).
		Simulate(context.Background(), domain.WeightVector{"A": 0.5, "B": 0.5}, testMatrix(t, 8), smallConfig(3))
	require.NoError(t, err)

	assert.True(t, report.Fallback)
	assert.Equal(t, sampling.MethodMultivariateNormal, report.Method)
	assert.Equal(t, 400, report.Simulations)
}

func TestSimulate_ProgressPerBatch(t *testing.T) {
	returns := testMatrix(t, 100)
	var calls atomic.Int32

	sim := NewSimulator(workers.NewPool(2), zerolog.Nop()).WithProgress(func(current, total int, message string) {
		calls.Add(1)
		assert.Equal(t, 7, total)
	})
	_, err := sim.Simulate(context.Background(), domain.WeightVector{"A": 1}, returns, smallConfig(1))
	require.NoError(t, err)
	assert.Equal(t, int32(7), calls.Load())
}

func TestSimulate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulator(workers.NewPool(2), zerolog.Nop()).
		Simulate(ctx, domain.WeightVector{"A": 1}, testMatrix(t, 50), smallConfig(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero simulations", func(c *Config) { c.NumSimulations = 0 }},
		{"zero horizon", func(c *Config) { c.HorizonDays = 0 }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"interval of one", func(c *Config) { c.ConfidenceIntervals = []float64{1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidConfiguration)
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestSimulate_SevereLossThreshold(t *testing.T) {
	returns := testMatrix(t, 120)
	cfg := smallConfig(5)
	cfg.SevereLossThreshold = 10 // every path is below +1000%

	report, err := NewSimulator(workers.NewPool(2), zerolog.Nop()).
		Simulate(context.Background(), domain.WeightVector{"A": 1}, returns, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Distribution.ProbabilitySevereLoss)
}

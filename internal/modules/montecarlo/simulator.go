// Package montecarlo simulates forward wealth paths from dependency-aware
// synthetic returns.
package montecarlo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/sampling"
	"github.com/aristath/riskengine/internal/progress"
	"github.com/aristath/riskengine/internal/workers"
	"github.com/aristath/riskengine/pkg/formulas"
	"github.com/aristath/riskengine/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReportedPercentiles are the total-return percentiles in every report.
var ReportedPercentiles = []int{1, 5, 10, 25, 50, 75, 90, 95, 99}

// Config controls a simulation run.
type Config struct {
	NumSimulations      int       `json:"num_simulations"`
	HorizonDays         int       `json:"horizon_days"`
	ConfidenceIntervals []float64 `json:"confidence_intervals"`
	// Seed makes the run reproducible; 0 derives a seed from the clock.
	Seed                uint64  `json:"seed"`
	SevereLossThreshold float64 `json:"severe_loss_threshold"`
	BatchSize           int     `json:"batch_size"`
}

// DefaultConfig returns a one-year, 10,000-path configuration.
func DefaultConfig() Config {
	return Config{
		NumSimulations:      10000,
		HorizonDays:         252,
		ConfidenceIntervals: []float64{0.90, 0.95, 0.99},
		SevereLossThreshold: -0.20,
		BatchSize:           500,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumSimulations <= 0 {
		return fmt.Errorf("%w: number of simulations must be positive", domain.ErrInvalidConfiguration)
	}
	if c.HorizonDays <= 0 {
		return fmt.Errorf("%w: horizon must be positive", domain.ErrInvalidConfiguration)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", domain.ErrInvalidConfiguration)
	}
	for _, ci := range c.ConfidenceIntervals {
		if ci <= 0 || ci >= 1 || math.IsNaN(ci) {
			return fmt.Errorf("%w: confidence interval %v outside (0, 1)", domain.ErrInvalidConfiguration, ci)
		}
	}
	return nil
}

// Interval is a two-sided interval at one confidence level.
type Interval struct {
	Confidence  float64 `json:"confidence"`
	WealthLower float64 `json:"wealth_lower"`
	WealthUpper float64 `json:"wealth_upper"`
	ReturnLower float64 `json:"return_lower"`
	ReturnUpper float64 `json:"return_upper"`
}

// PathStatistics averages per-path extremes.
type PathStatistics struct {
	MeanMaxWealth     float64 `json:"mean_max_wealth"`
	MeanMinWealth     float64 `json:"mean_min_wealth"`
	MeanMaxDrawdown   float64 `json:"mean_max_drawdown"`
	MedianMaxDrawdown float64 `json:"median_max_drawdown"`
}

// Distribution describes the total-return distribution across paths.
type Distribution struct {
	Percentiles           map[int]float64 `json:"percentiles"`
	MeanTotalReturn       float64         `json:"mean_total_return"`
	StdTotalReturn        float64         `json:"std_total_return"`
	VaR95                 float64         `json:"var_95"`
	CVaR95                float64         `json:"cvar_95"`
	ProbabilityPositive   float64         `json:"probability_positive"`
	ProbabilityLoss       float64         `json:"probability_loss"`
	ProbabilitySevereLoss float64         `json:"probability_severe_loss"`
}

// BatchFailure records a batch that produced no paths.
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Report is the result of Simulate.
type Report struct {
	RunID           string          `json:"run_id"`
	Method          sampling.Method `json:"sampling_method"`
	Fallback        bool            `json:"dependency_fallback"`
	Config          Config          `json:"config"`
	Simulations     int             `json:"simulations"`
	MeanFinalWealth float64         `json:"mean_final_wealth"`
	Intervals       []Interval      `json:"intervals"`
	Paths           PathStatistics  `json:"paths"`
	Distribution    Distribution    `json:"distribution"`
	FailedBatches   []BatchFailure  `json:"failed_batches,omitempty"`
	Duration        time.Duration   `json:"duration_ns"`
}

type pathResult struct {
	finalWealth float64
	maxWealth   float64
	minWealth   float64
	maxDrawdown float64
}

type batchResult struct {
	paths  []pathResult
	method sampling.Method
}

// Simulator runs Monte Carlo simulations.
type Simulator struct {
	sampler    *sampling.Resilient
	pool       *workers.Pool
	onProgress progress.Callback
	log        zerolog.Logger
}

// NewSimulator creates a simulator running batches on pool.
func NewSimulator(pool *workers.Pool, log zerolog.Logger) *Simulator {
	if pool == nil {
		pool = workers.NewPool(0)
	}
	return &Simulator{
		sampler: sampling.NewResilient(log),
		pool:    pool,
		log:     logger.Component(log, "monte_carlo"),
	}
}

// WithProgress returns a copy of the simulator reporting each batch start.
func (s *Simulator) WithProgress(cb progress.Callback) *Simulator {
	cp := *s
	cp.onProgress = cb
	return &cp
}

// Simulate compounds NumSimulations independent paths of HorizonDays draws.
// Batch i samples from PCG(seed, i), so a fixed seed gives identical output
// regardless of worker count or scheduling.
func (s *Simulator) Simulate(ctx context.Context, weights domain.WeightVector, returns domain.ReturnMatrix, cfg Config) (*Report, error) {
	started := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w, err := weights.PrepareFor(returns)
	if err != nil {
		return nil, err
	}

	fitted, err := s.sampler.Fit(returns, nil)
	if err != nil {
		return nil, err
	}

	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}

	numBatches := (cfg.NumSimulations + cfg.BatchSize - 1) / cfg.BatchSize
	jobs := make([]workers.Job[batchResult], numBatches)
	for b := 0; b < numBatches; b++ {
		b := b
		size := cfg.BatchSize
		if rem := cfg.NumSimulations - b*cfg.BatchSize; rem < size {
			size = rem
		}
		jobs[b] = workers.Job[batchResult]{
			Name: fmt.Sprintf("batch %d/%d", b+1, numBatches),
			Run: func(ctx context.Context) (batchResult, error) {
				return simulateBatch(fitted, w, size, cfg.HorizonDays, rand.NewPCG(cfg.Seed, uint64(b)))
			},
		}
	}

	results := workers.Run(ctx, s.pool.WithProgress(s.onProgress), jobs)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("simulation cancelled: %w", err)
	}

	report := &Report{
		RunID:  uuid.New().String(),
		Config:   cfg,
		Method:   fitted.Method(),
		Fallback: sampling.IsFallback(fitted.FitError()),
	}
	var paths []pathResult
	for _, r := range results {
		if r.Err != nil {
			s.log.Warn().Err(r.Err).Int("batch", r.Index).Msg("Simulation batch failed")
			report.FailedBatches = append(report.FailedBatches, BatchFailure{Index: r.Index, Error: r.Err.Error()})
			continue
		}
		paths = append(paths, r.Value.paths...)
		if r.Value.method != fitted.Method() {
			report.Method = r.Value.method
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: every simulation batch failed", domain.ErrDegenerateInput)
	}

	aggregate(report, paths, cfg)
	report.Duration = time.Since(started)

	s.log.Info().
		Str("run_id", report.RunID).
		Int("simulations", report.Simulations).
		Int("horizon", cfg.HorizonDays).
		Str("method", string(report.Method)).
		Dur("duration", report.Duration).
		Msg("Monte Carlo simulation complete")

	return report, nil
}

func simulateBatch(fitted *sampling.Fitted, w domain.WeightVector, size, horizon int, src rand.Source) (batchResult, error) {
	draws, err := fitted.Draw(size*horizon, src)
	if err != nil {
		return batchResult{}, err
	}
	portfolio := sampling.PortfolioSample(draws.Values, draws.Assets, w)

	out := batchResult{paths: make([]pathResult, size), method: draws.Method}
	for p := 0; p < size; p++ {
		path := portfolio[p*horizon : (p+1)*horizon]
		wealth := formulas.WealthIndex(path)
		out.paths[p] = pathResult{
			finalWealth: wealth[len(wealth)-1],
			maxWealth:   formulas.Max(wealth),
			minWealth:   formulas.Min(wealth),
			maxDrawdown: formulas.MaxDrawdown(path),
		}
	}
	return out, nil
}

func aggregate(report *Report, paths []pathResult, cfg Config) {
	n := len(paths)
	final := make([]float64, n)
	total := make([]float64, n)
	maxW := make([]float64, n)
	minW := make([]float64, n)
	dd := make([]float64, n)

	var positive, loss, severe int
	for i, p := range paths {
		final[i] = p.finalWealth
		total[i] = p.finalWealth - 1
		maxW[i] = p.maxWealth
		minW[i] = p.minWealth
		dd[i] = p.maxDrawdown
		switch {
		case total[i] > 0:
			positive++
		case total[i] < 0:
			loss++
		}
		if total[i] < cfg.SevereLossThreshold {
			severe++
		}
	}

	sortedFinal := formulas.Sorted(final)
	sortedTotal := formulas.Sorted(total)

	report.Simulations = n
	report.MeanFinalWealth = formulas.Mean(final)
	report.Intervals = make([]Interval, 0, len(cfg.ConfidenceIntervals))
	for _, ci := range cfg.ConfidenceIntervals {
		lo, hi := (1-ci)/2, (1+ci)/2
		report.Intervals = append(report.Intervals, Interval{
			Confidence:  ci,
			WealthLower: formulas.PercentileSorted(sortedFinal, lo),
			WealthUpper: formulas.PercentileSorted(sortedFinal, hi),
			ReturnLower: formulas.PercentileSorted(sortedTotal, lo),
			ReturnUpper: formulas.PercentileSorted(sortedTotal, hi),
		})
	}

	report.Paths = PathStatistics{
		MeanMaxWealth:     formulas.Mean(maxW),
		MeanMinWealth:     formulas.Mean(minW),
		MeanMaxDrawdown:   formulas.Mean(dd),
		MedianMaxDrawdown: formulas.Median(dd),
	}

	percentiles := make(map[int]float64, len(ReportedPercentiles))
	for _, p := range ReportedPercentiles {
		percentiles[p] = formulas.PercentileSorted(sortedTotal, float64(p)/100)
	}
	var95 := formulas.PercentileSorted(sortedTotal, 0.05)
	nf := float64(n)
	report.Distribution = Distribution{
		Percentiles:           percentiles,
		MeanTotalReturn:       formulas.Mean(total),
		StdTotalReturn:        formulas.StdDev(total),
		VaR95:                 var95,
		CVaR95:                formulas.TailMean(sortedTotal, var95),
		ProbabilityPositive:   float64(positive) / nf,
		ProbabilityLoss:       float64(loss) / nf,
		ProbabilitySevereLoss: float64(severe) / nf,
	}
}

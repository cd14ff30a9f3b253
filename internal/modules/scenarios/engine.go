package scenarios

import (
	"context"
	"fmt"
	"hash/fnv"
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

// DefaultSamples is the number of synthetic draws per scenario.
const DefaultSamples = 10000

// StressMetrics summarizes one portfolio return sample. Returns are per period.
type StressMetrics struct {
	MeanReturn           float64 `json:"mean_return"`
	Volatility           float64 `json:"volatility"`
	VaR95                float64 `json:"var_95"`
	CVaR95               float64 `json:"cvar_95"`
	Skewness             float64 `json:"skewness"`
	ExcessKurtosis       float64 `json:"excess_kurtosis"`
	TailLoss99           float64 `json:"tail_loss_99"`
	WorstReturn          float64 `json:"worst_return"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	RecoveryTime         int     `json:"recovery_time"`
	Recovered            bool    `json:"recovered"`
}

// Delta compares a stressed value against its historical counterpart.
type Delta struct {
	Historical float64 `json:"historical"`
	Stressed   float64 `json:"stressed"`
	Absolute   float64 `json:"absolute"`
	Percentage float64 `json:"percentage"`
}

func newDelta(historical, stressed float64) Delta {
	d := Delta{
		Historical: historical,
		Stressed:   stressed,
		Absolute:   stressed - historical,
	}
	if historical != 0 {
		d.Percentage = d.Absolute / math.Abs(historical) * 100
	}
	return d
}

// Impact is the stressed-vs-historical comparison.
type Impact struct {
	MeanReturn Delta `json:"mean_return"`
	Volatility Delta `json:"volatility"`
	VaR        Delta `json:"var"`
}

// Result is the scored outcome of one scenario.
type Result struct {
	Scenario    string              `json:"scenario"`
	Description string              `json:"description"`
	Probability float64             `json:"probability"`
	State       State               `json:"state"`
	Method      sampling.Method     `json:"sampling_method"`
	Fallback    bool                `json:"dependency_fallback"`
	Samples     int                 `json:"samples"`
	Correlation sampling.Adjustment `json:"correlation_adjustment"`
	Stress      StressMetrics       `json:"stress"`
	Historical  StressMetrics       `json:"historical"`
	Impact      Impact              `json:"impact"`
	Weights     domain.WeightVector `json:"weights"`
}

// Summary aggregates results across scenarios.
type Summary struct {
	Evaluated              int     `json:"evaluated"`
	Failed                 int     `json:"failed"`
	WorstScenario          string  `json:"worst_scenario"`
	BestScenario           string  `json:"best_scenario"`
	AverageVaR             float64 `json:"average_var"`
	AverageCVaR            float64 `json:"average_cvar"`
	AverageWorstReturn     float64 `json:"average_worst_return"`
	ProbabilityWeightedVaR float64 `json:"probability_weighted_var"`
}

// Report is the result of EvaluateAll.
type Report struct {
	RunID    string             `json:"run_id"`
	Results  map[string]*Result `json:"results"`
	Errors   map[string]string  `json:"errors,omitempty"`
	Summary  Summary            `json:"summary"`
	Duration time.Duration      `json:"duration_ns"`
}

// Config holds engine settings.
type Config struct {
	// Seed makes sampling reproducible; 0 derives a seed from the clock.
	Seed uint64
}

// Engine evaluates stress scenarios.
type Engine struct {
	cfg        Config
	sampler    *sampling.Resilient
	pool       *workers.Pool
	onProgress progress.Callback
	log        zerolog.Logger
}

// NewEngine creates a scenario engine running scenarios on pool.
func NewEngine(cfg Config, pool *workers.Pool, log zerolog.Logger) *Engine {
	if pool == nil {
		pool = workers.NewPool(0)
	}
	return &Engine{
		cfg:     cfg,
		sampler: sampling.NewResilient(log),
		pool:    pool,
		log:     logger.Component(log, "scenario_engine"),
	}
}

// WithProgress returns a copy of the engine reporting each scenario start.
func (e *Engine) WithProgress(cb progress.Callback) *Engine {
	cp := *e
	cp.onProgress = cb
	return &cp
}

func (e *Engine) seed() uint64 {
	if e.cfg.Seed != 0 {
		return e.cfg.Seed
	}
	return uint64(time.Now().UnixNano())
}

// Evaluate runs a single scenario through Defined → Shocked → Sampled → Scored.
func (e *Engine) Evaluate(ctx context.Context, weights domain.WeightVector, returns domain.ReturnMatrix, scenario Scenario, nSamples int) (*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	if nSamples <= 0 {
		return nil, fmt.Errorf("%w: sample count must be positive, got %d", domain.ErrInvalidConfiguration, nSamples)
	}
	w, err := weights.PrepareFor(returns)
	if err != nil {
		return nil, err
	}
	historical, err := returns.PortfolioReturns(w)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, w, returns, historical.Values(), scenario, nSamples, e.seed())
}

func (e *Engine) evaluate(ctx context.Context, w domain.WeightVector, returns domain.ReturnMatrix, historical []float64, scenario Scenario, nSamples int, seed uint64) (*Result, error) {
	log := e.log.With().Str("scenario", scenario.Name).Logger()
	log.Debug().Str("state", string(StateDefined)).Msg("Scenario state")

	shocked, err := scenario.shock(returns)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("state", string(StateShocked)).Msg("Scenario state")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fitted, err := e.sampler.Fit(shocked, scenario.expandCorrelationChanges(shocked.Assets()))
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", scenario.Name, err)
	}
	draws, err := fitted.Draw(nSamples, rand.NewPCG(seed, scenarioStream(scenario.Name)))
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", scenario.Name, err)
	}
	log.Debug().
		Str("state", string(StateSampled)).
		Str("method", string(draws.Method)).
		Int("samples", len(draws.Values)).
		Msg("Scenario state")

	portfolio := sampling.PortfolioSample(draws.Values, draws.Assets, w)
	stress := computeStressMetrics(portfolio)
	hist := computeStressMetrics(historical)

	result := &Result{
		Scenario:    scenario.Name,
		Description: scenario.Description,
		Probability: scenario.Probability,
		State:       StateScored,
		Method:      draws.Method,
		Fallback:    sampling.IsFallback(fitted.FitError()),
		Samples:     len(portfolio),
		Correlation: fitted.Adjustment(),
		Stress:      stress,
		Historical:  hist,
		Impact: Impact{
			MeanReturn: newDelta(hist.MeanReturn, stress.MeanReturn),
			Volatility: newDelta(hist.Volatility, stress.Volatility),
			VaR:        newDelta(hist.VaR95, stress.VaR95),
		},
		Weights: w,
	}
	log.Debug().
		Str("state", string(StateScored)).
		Float64("var_95", stress.VaR95).
		Msg("Scenario state")

	return result, nil
}

// EvaluateAll runs every scenario on the worker pool. Per-scenario failures
// are collected in Report.Errors; invalid input fails the whole call.
func (e *Engine) EvaluateAll(ctx context.Context, weights domain.WeightVector, returns domain.ReturnMatrix, scenarios []Scenario, nSamples int) (*Report, error) {
	started := time.Now()

	if len(scenarios) == 0 {
		return nil, fmt.Errorf("%w: no scenarios supplied", domain.ErrInvalidConfiguration)
	}
	if err := validateAll(scenarios); err != nil {
		return nil, err
	}
	if nSamples <= 0 {
		return nil, fmt.Errorf("%w: sample count must be positive, got %d", domain.ErrInvalidConfiguration, nSamples)
	}
	w, err := weights.PrepareFor(returns)
	if err != nil {
		return nil, err
	}
	historicalSeries, err := returns.PortfolioReturns(w)
	if err != nil {
		return nil, err
	}
	historical := historicalSeries.Values()
	seed := e.seed()

	jobs := make([]workers.Job[*Result], len(scenarios))
	for i, sc := range scenarios {
		sc := sc
		jobs[i] = workers.Job[*Result]{
			Name: sc.Name,
			Run: func(ctx context.Context) (*Result, error) {
				return e.evaluate(ctx, w, returns, historical, sc, nSamples, seed)
			},
		}
	}
	results := workers.Run(ctx, e.pool.WithProgress(e.onProgress), jobs)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scenario evaluation cancelled: %w", err)
	}

	report := &Report{
		RunID:   uuid.New().String(),
		Results: make(map[string]*Result, len(scenarios)),
		Errors:  make(map[string]string),
	}
	for i, r := range results {
		name := scenarios[i].Name
		if r.Err != nil {
			e.log.Warn().Err(r.Err).Str("scenario", name).Msg("Scenario evaluation failed")
			report.Errors[name] = r.Err.Error()
			continue
		}
		report.Results[name] = r.Value
	}

	report.Summary = summarize(scenarios, report.Results)
	report.Summary.Failed = len(report.Errors)
	report.Duration = time.Since(started)

	e.log.Info().
		Str("run_id", report.RunID).
		Int("evaluated", report.Summary.Evaluated).
		Int("failed", report.Summary.Failed).
		Dur("duration", report.Duration).
		Msg("Scenario evaluation complete")

	return report, nil
}

// summarize walks scenarios in input order so ties resolve deterministically.
func summarize(scenarios []Scenario, results map[string]*Result) Summary {
	var s Summary
	var worst, best float64
	var weightedVaR, probSum float64

	for _, sc := range scenarios {
		r, ok := results[sc.Name]
		if !ok {
			continue
		}
		v := r.Stress.VaR95
		if s.Evaluated == 0 || v < worst {
			worst = v
			s.WorstScenario = sc.Name
		}
		if s.Evaluated == 0 || v > best {
			best = v
			s.BestScenario = sc.Name
		}
		s.AverageVaR += v
		s.AverageCVaR += r.Stress.CVaR95
		s.AverageWorstReturn += r.Stress.WorstReturn
		weightedVaR += r.Probability * v
		probSum += r.Probability
		s.Evaluated++
	}

	if s.Evaluated > 0 {
		n := float64(s.Evaluated)
		s.AverageVaR /= n
		s.AverageCVaR /= n
		s.AverageWorstReturn /= n
	}
	if probSum > 0 {
		s.ProbabilityWeightedVaR = weightedVaR / probSum
	}
	return s
}

func computeStressMetrics(sample []float64) StressMetrics {
	if len(sample) == 0 {
		return StressMetrics{}
	}
	sorted := formulas.Sorted(sample)
	var95 := formulas.PercentileSorted(sorted, 0.05)
	recovery, recovered := formulas.RecoveryTime(sample)

	return StressMetrics{
		MeanReturn:           formulas.Mean(sample),
		Volatility:           formulas.StdDev(sample),
		VaR95:                var95,
		CVaR95:               formulas.TailMean(sorted, var95),
		Skewness:             formulas.Skewness(sample),
		ExcessKurtosis:       formulas.ExcessKurtosis(sample),
		TailLoss99:           math.Abs(formulas.PercentileSorted(sorted, 0.01)),
		WorstReturn:          sorted[0],
		MaxConsecutiveLosses: formulas.MaxConsecutiveLosses(sample),
		RecoveryTime:         recovery,
		Recovered:            recovered,
	}
}

// scenarioStream derives the PCG stream from the scenario name so results do
// not depend on scheduling order.
func scenarioStream(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

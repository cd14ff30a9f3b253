// Package risk computes point-in-time risk and performance measures from a
// single return series.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
	"github.com/aristath/riskengine/pkg/logger"
	"github.com/rs/zerolog"
)

// Config holds engine-level constants.
type Config struct {
	PeriodsPerYear float64 `json:"periods_per_year" msgpack:"periods_per_year"`
	EVaRTheta      float64 `json:"evar_theta" msgpack:"evar_theta"`
	TailFraction   float64 `json:"tail_fraction" msgpack:"tail_fraction"`
	LPMThreshold   float64 `json:"lpm_threshold" msgpack:"lpm_threshold"`
	CDaRConfidence float64 `json:"cdar_confidence" msgpack:"cdar_confidence"`
	// RiskFreeRate is the annual rate used when Compute gets no WithRiskFreeRate.
	RiskFreeRate   float64 `json:"risk_free_rate" msgpack:"risk_free_rate"`
}

// DefaultConfig returns the standard daily-data configuration.
func DefaultConfig() Config {
	return Config{
		PeriodsPerYear: formulas.DefaultPeriodsPerYear,
		EVaRTheta:      1.0,
		TailFraction:   0.05,
		LPMThreshold:   0,
		CDaRConfidence: 0.95,
		RiskFreeRate:   DefaultRiskFreeRate,
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("%w: periods per year must be positive", domain.ErrInvalidConfiguration)
	}
	if c.EVaRTheta <= 0 {
		return fmt.Errorf("%w: EVaR theta must be positive", domain.ErrInvalidConfiguration)
	}
	if c.TailFraction <= 0 || c.TailFraction >= 0.5 {
		return fmt.Errorf("%w: tail fraction must be in (0, 0.5)", domain.ErrInvalidConfiguration)
	}
	if c.CDaRConfidence <= 0 || c.CDaRConfidence >= 1 {
		return fmt.Errorf("%w: CDaR confidence must be in (0, 1)", domain.ErrInvalidConfiguration)
	}
	return nil
}

// DefaultConfidenceLevels are used when no WithConfidenceLevels option is given.
var DefaultConfidenceLevels = []float64{0.95, 0.99}

// DefaultRiskFreeRate is the annual risk-free rate used when none is given.
const DefaultRiskFreeRate = 0.02

type options struct {
	confidenceLevels []float64
	riskFreeRate     float64
	benchmark        *domain.ReturnSeries
	beta             *float64
}

// Option customizes a single Compute call.
type Option func(*options)

// WithConfidenceLevels sets the VaR/CVaR confidence levels, each in (0, 1).
func WithConfidenceLevels(levels ...float64) Option {
	return func(o *options) {
		o.confidenceLevels = append([]float64(nil), levels...)
	}
}

// WithRiskFreeRate sets the annual risk-free rate.
func WithRiskFreeRate(rate float64) Option {
	return func(o *options) { o.riskFreeRate = rate }
}

// WithBenchmark enables the market measures, information ratio and tracking error.
func WithBenchmark(benchmark domain.ReturnSeries) Option {
	return func(o *options) { o.benchmark = &benchmark }
}

// WithBeta sets the beta used by the Treynor ratio, overriding the benchmark beta.
func WithBeta(beta float64) Option {
	return func(o *options) { o.beta = &beta }
}

func buildOptions(riskFreeRate float64, opts []Option) options {
	o := options{
		confidenceLevels: DefaultConfidenceLevels,
		riskFreeRate:     riskFreeRate,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Engine computes MeasureSets. It holds no per-call state and is safe for
// concurrent use.
type Engine struct {
	cfg   Config
	cache *Cache
	log   zerolog.Logger
}

// NewEngine creates a risk measure engine.
func NewEngine(cfg Config, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg: cfg,
		log: logger.Component(log, "risk_engine"),
	}, nil
}

// SetCache enables a read-through cache. Passing nil disables caching.
func (e *Engine) SetCache(cache *Cache) {
	e.cache = cache
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Compute calculates the full measure catalogue for returns.
func (e *Engine) Compute(returns domain.ReturnSeries, opts ...Option) (*MeasureSet, error) {
	o := buildOptions(e.cfg.RiskFreeRate, opts)

	if returns.Len() < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", domain.ErrInsufficientData, returns.Len())
	}
	for _, c := range o.confidenceLevels {
		if c <= 0 || c >= 1 || math.IsNaN(c) {
			return nil, fmt.Errorf("%w: confidence level %v outside (0, 1)", domain.ErrInvalidConfiguration, c)
		}
	}

	if e.cache == nil {
		return e.compute(returns, o)
	}

	key, err := fingerprint(returns, o, e.cfg)
	if err != nil {
		e.log.Debug().Err(err).Msg("Cache key encoding failed, computing without cache")
		return e.compute(returns, o)
	}
	if cached, ok := e.cache.Get(key); ok {
		return cached, nil
	}

	result, err := e.compute(returns, o)
	if err != nil {
		return nil, err
	}
	e.cache.Put(key, result)
	return result, nil
}

func (e *Engine) compute(returns domain.ReturnSeries, o options) (*MeasureSet, error) {
	r := returns.Values()
	periods := e.cfg.PeriodsPerYear
	sorted := formulas.Sorted(r)

	m := &MeasureSet{
		Observations: len(r),
		RiskFreeRate: o.riskFreeRate,
	}

	// Location and dispersion
	m.MeanReturn = formulas.Mean(r)
	m.AnnualizedReturn = m.MeanReturn * periods
	wealth := formulas.WealthIndex(r)
	m.CumulativeReturn = wealth[len(wealth)-1] - 1

	m.Variance = formulas.Variance(r) * periods
	m.Volatility = formulas.StdDev(r) * math.Sqrt(periods)
	m.Semivariance = formulas.Semivariance(r) * periods
	m.DownsideVolatility = formulas.DownsideDeviation(r) * math.Sqrt(periods)

	// Tail risk
	levels := append([]float64(nil), o.confidenceLevels...)
	sort.Float64s(levels)
	m.Tail = make([]TailMeasure, 0, len(levels))
	for i, c := range levels {
		if i > 0 && levels[i-1] == c {
			continue
		}
		v := formulas.PercentileSorted(sorted, 1-c)
		m.Tail = append(m.Tail, TailMeasure{
			Confidence: c,
			VaR:        v,
			CVaR:       formulas.TailMean(sorted, v),
		})
	}
	m.EVaR = formulas.EntropicValueAtRisk(r, e.cfg.EVaRTheta)

	// Drawdown family
	dd := formulas.CalculateDrawdownStats(r)
	m.Drawdown = DrawdownMeasures{
		MaxDrawdown:     dd.MaxDrawdown,
		AverageDrawdown: dd.AverageDrawdown,
		UlcerIndex:      dd.UlcerIndex,
		PainIndex:       dd.PainIndex,
		CDaR:            formulas.ConditionalDrawdownAtRisk(r, e.cfg.CDaRConfidence),
	}
	if dd.MaxDrawdown < 0 {
		m.Drawdown.CalmarRatio = m.AnnualizedReturn / math.Abs(dd.MaxDrawdown)
	}

	// Higher moments and distribution shape
	m.Skewness = formulas.Skewness(r)
	m.ExcessKurtosis = formulas.ExcessKurtosis(r)
	m.FourthMoment = formulas.CentralMoment(r, 4)
	m.FourthLPM = formulas.LowerPartialMoment(r, e.cfg.LPMThreshold, 4)
	m.TailRatio = domain.ExtendedFloat(formulas.TailRatio(r, e.cfg.TailFraction))
	m.GiniMeanDifference = formulas.GiniMeanDifference(r)
	m.MeanAbsoluteDeviation = formulas.MeanAbsoluteDeviation(r)
	m.WorstRealization = sorted[0]
	m.Range = sorted[len(sorted)-1] - sorted[0]

	// Risk-adjusted ratios
	excess := m.AnnualizedReturn - o.riskFreeRate
	m.SharpeRatio = formulas.SafeDiv(excess, m.Volatility)
	m.SortinoRatio = formulas.SafeDiv(excess, m.DownsideVolatility)

	if o.benchmark != nil {
		market, err := e.marketMeasures(returns, *o.benchmark, o.riskFreeRate)
		if err != nil {
			return nil, err
		}
		m.Market = market
		m.BetaUsed = market.Beta
	}
	if o.beta != nil {
		m.BetaUsed = *o.beta
	}
	m.TreynorRatio = formulas.SafeDiv(excess, m.BetaUsed)

	return m, nil
}

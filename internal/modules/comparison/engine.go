// Package comparison ranks cross-validated models and tests whether their
// fold scores differ significantly.
package comparison

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/validation"
	"github.com/aristath/riskengine/internal/progress"
	"github.com/aristath/riskengine/internal/workers"
	"github.com/aristath/riskengine/pkg/formulas"
	"github.com/aristath/riskengine/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config controls the significance tests.
type Config struct {
	SignificanceLevel float64 `json:"significance_level"`
	Test              Test    `json:"test"`
}

// DefaultConfig uses a paired t-test at the 5% level.
func DefaultConfig() Config {
	return Config{SignificanceLevel: 0.05, Test: PairedT}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SignificanceLevel <= 0 || c.SignificanceLevel >= 1 || math.IsNaN(c.SignificanceLevel) {
		return fmt.Errorf("%w: significance level %v outside (0, 1)", domain.ErrInvalidConfiguration, c.SignificanceLevel)
	}
	_, err := ParseTest(string(c.Test))
	return err
}

// Ranking is one model's position by the primary metric.
type Ranking struct {
	Rank  int     `json:"rank"`
	Model string  `json:"model"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Folds int     `json:"folds"`
}

// PairwiseResult is the significance test between two models' fold scores.
// Positive effect sizes favour ModelA. PairedFolds counts the folds matched
// by index for paired tests.
type PairwiseResult struct {
	ModelA         string               `json:"model_a"`
	ModelB         string               `json:"model_b"`
	Test           Test                 `json:"test"`
	Statistic      domain.ExtendedFloat `json:"statistic"`
	PValue         float64              `json:"p_value"`
	PairedFolds    int                  `json:"paired_folds,omitempty"`
	Significant    bool                 `json:"significant"`
	MeanDifference float64              `json:"mean_difference"`
	CohensD        float64              `json:"cohens_d"`
	Effect         string               `json:"effect"`
	Error          string               `json:"error,omitempty"`
}

// Key identifies the unordered model pair.
func (p PairwiseResult) Key() string {
	return pairKey(p.ModelA, p.ModelB)
}

// PracticalSignificance grades the spread of a metric's mean across models.
type PracticalSignificance struct {
	Metric string  `json:"metric"`
	Best   float64 `json:"best"`
	Worst  float64 `json:"worst"`
	Range  float64 `json:"range"`
	Level  string  `json:"level"`
}

// Report is the result of Compare.
type Report struct {
	RunID             string                        `json:"run_id"`
	PrimaryMetric     string                        `json:"primary_metric"`
	Test              Test                          `json:"test"`
	SignificanceLevel float64                       `json:"significance_level"`
	Rankings          []Ranking                     `json:"rankings"`
	Best              string                        `json:"best_model"`
	Pairwise          []PairwiseResult              `json:"pairwise"`
	Practical         []PracticalSignificance       `json:"practical_significance"`
	Reports           map[string]*validation.Report `json:"reports"`
	Duration          time.Duration                 `json:"duration_ns"`
}

// Pair returns the result for two models in either order.
func (r *Report) Pair(a, b string) (PairwiseResult, bool) {
	key := pairKey(a, b)
	for _, p := range r.Pairwise {
		if p.Key() == key {
			return p, true
		}
	}
	return PairwiseResult{}, false
}

// practical thresholds as (high, medium) range cut-offs.
var practicalThresholds = []struct {
	metric       string
	high, medium float64
}{
	{"sharpe_ratio", 0.5, 0.2},
	{"annualized_return", 0.05, 0.02},
}

// Engine compares validation reports.
type Engine struct {
	pool       *workers.Pool
	onProgress progress.Callback
	log        zerolog.Logger
}

// NewEngine creates a comparison engine running pair tests on pool.
func NewEngine(pool *workers.Pool, log zerolog.Logger) *Engine {
	if pool == nil {
		pool = workers.NewPool(0)
	}
	return &Engine{
		pool: pool,
		log:  logger.Component(log, "model_comparison"),
	}
}

// WithProgress returns a copy of the engine reporting each pair test start.
func (e *Engine) WithProgress(cb progress.Callback) *Engine {
	cp := *e
	cp.onProgress = cb
	return &cp
}

// Compare ranks the models by the mean of primaryMetric (descending, ties by
// name) and tests every unordered pair of fold-score sequences. The returned
// report holds annotated copies of the inputs; the inputs are not modified.
func (e *Engine) Compare(ctx context.Context, reports map[string]*validation.Report, primaryMetric string, cfg Config) (*Report, error) {
	started := time.Now()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Test, _ = ParseTest(string(cfg.Test))
	if len(reports) == 0 {
		return nil, fmt.Errorf("%w: no reports to compare", domain.ErrInvalidConfiguration)
	}
	if primaryMetric == "" {
		primaryMetric = validation.MetricScore
	}

	names := make([]string, 0, len(reports))
	for name, r := range reports {
		if r == nil {
			return nil, fmt.Errorf("%w: nil report for model %q", domain.ErrInvalidConfiguration, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	rankings, err := rank(names, reports, primaryMetric)
	if err != nil {
		return nil, err
	}

	type pair struct{ a, b string }
	var pairs []pair
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			pairs = append(pairs, pair{names[i], names[j]})
		}
	}

	jobs := make([]workers.Job[PairwiseResult], len(pairs))
	for i, p := range pairs {
		p := p
		jobs[i] = workers.Job[PairwiseResult]{
			Name: fmt.Sprintf("%s vs %s", p.a, p.b),
			Run: func(context.Context) (PairwiseResult, error) {
				scoresA, scoresB, err := pairScores(reports[p.a], reports[p.b], cfg.Test)
				if err != nil {
					return PairwiseResult{}, err
				}
				return comparePair(p.a, p.b, scoresA, scoresB, cfg)
			},
		}
	}
	results := workers.Run(ctx, e.pool.WithProgress(e.onProgress), jobs)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("model comparison cancelled: %w", err)
	}

	report := &Report{
		RunID:             uuid.New().String(),
		PrimaryMetric:     primaryMetric,
		Test:              cfg.Test,
		SignificanceLevel: cfg.SignificanceLevel,
		Rankings:          rankings,
		Best:              rankings[0].Model,
		Pairwise:          make([]PairwiseResult, 0, len(results)),
		Reports:           make(map[string]*validation.Report, len(names)),
	}

	for i, r := range results {
		if r.Err != nil {
			if errors.Is(r.Err, domain.ErrInvalidConfiguration) {
				return nil, r.Err
			}
			e.log.Warn().Err(r.Err).Str("pair", pairs[i].a+"/"+pairs[i].b).Msg("Pairwise test failed")
			report.Pairwise = append(report.Pairwise, PairwiseResult{
				ModelA: pairs[i].a,
				ModelB: pairs[i].b,
				Test:   cfg.Test,
				PValue: 1,
				Error:  r.Err.Error(),
			})
			continue
		}
		report.Pairwise = append(report.Pairwise, r.Value)
	}

	report.Practical = practical(names, reports)
	annotate(report, names, reports)
	report.Duration = time.Since(started)

	e.log.Info().
		Str("run_id", report.RunID).
		Int("models", len(names)).
		Int("pairs", len(report.Pairwise)).
		Str("best", report.Best).
		Msg("Model comparison complete")

	return report, nil
}

func rank(names []string, reports map[string]*validation.Report, metric string) ([]Ranking, error) {
	rankings := make([]Ranking, 0, len(names))
	for _, name := range names {
		summary, ok := reports[name].Summary(metric)
		if !ok {
			return nil, fmt.Errorf("%w: model %q has no metric %q", domain.ErrInvalidConfiguration, name, metric)
		}
		rankings = append(rankings, Ranking{
			Model: name,
			Mean:  summary.Mean,
			Std:   summary.Std,
			Folds: len(reports[name].Folds),
		})
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].Mean != rankings[j].Mean {
			return rankings[i].Mean > rankings[j].Mean
		}
		return rankings[i].Model < rankings[j].Model
	})
	for i := range rankings {
		rankings[i].Rank = i + 1
	}
	return rankings, nil
}

// pairScores returns the score sequences a test compares. Paired tests match
// folds by index, so a fold that failed in either model is left out of the
// pair; the runs must come from the same policy with the same fold count.
func pairScores(a, b *validation.Report, test Test) ([]float64, []float64, error) {
	if !test.Paired() {
		return a.Scores(), b.Scores(), nil
	}
	if a.Policy != "" && b.Policy != "" && a.Policy != b.Policy {
		return nil, nil, fmt.Errorf("%w: paired test across policies %q and %q",
			domain.ErrInvalidConfiguration, a.Policy, b.Policy)
	}
	if a.TotalFolds != b.TotalFolds {
		return nil, nil, fmt.Errorf("%w: paired test needs equal fold counts, got %d and %d",
			domain.ErrInvalidConfiguration, a.TotalFolds, b.TotalFolds)
	}

	byIndex := make(map[int]float64, len(b.Folds))
	for _, f := range b.Folds {
		byIndex[f.Index] = f.Score
	}
	folds := append([]validation.FoldResult(nil), a.Folds...)
	sort.Slice(folds, func(i, j int) bool { return folds[i].Index < folds[j].Index })

	var scoresA, scoresB []float64
	for _, f := range folds {
		if sb, ok := byIndex[f.Index]; ok {
			scoresA = append(scoresA, f.Score)
			scoresB = append(scoresB, sb)
		}
	}
	return scoresA, scoresB, nil
}

func comparePair(a, b string, scoresA, scoresB []float64, cfg Config) (PairwiseResult, error) {
	res, err := runTest(cfg.Test, scoresA, scoresB)
	if err != nil {
		return PairwiseResult{}, err
	}
	d := CohensD(scoresA, scoresB)
	out := PairwiseResult{
		ModelA:         a,
		ModelB:         b,
		Test:           cfg.Test,
		Statistic:      domain.ExtendedFloat(res.statistic),
		PValue:         res.pValue,
		Significant:    res.pValue < cfg.SignificanceLevel,
		MeanDifference: formulas.Mean(scoresA) - formulas.Mean(scoresB),
		CohensD:        d,
		Effect:         EffectLabel(d),
	}
	if cfg.Test.Paired() {
		out.PairedFolds = len(scoresA)
	}
	return out, nil
}

func practical(names []string, reports map[string]*validation.Report) []PracticalSignificance {
	out := make([]PracticalSignificance, 0, len(practicalThresholds))
	for _, th := range practicalThresholds {
		best, worst := math.Inf(-1), math.Inf(1)
		found := false
		for _, name := range names {
			s, ok := reports[name].Summary(th.metric)
			if !ok {
				continue
			}
			found = true
			best = math.Max(best, s.Mean)
			worst = math.Min(worst, s.Mean)
		}
		if !found {
			continue
		}

		spread := best - worst
		level := "low"
		switch {
		case spread > th.high:
			level = "high"
		case spread > th.medium:
			level = "medium"
		}
		out = append(out, PracticalSignificance{
			Metric: th.metric,
			Best:   best,
			Worst:  worst,
			Range:  spread,
			Level:  level,
		})
	}
	return out
}

// annotate stores a copy of every input report carrying its pair results,
// seen from that model's side.
func annotate(report *Report, names []string, reports map[string]*validation.Report) {
	sig := make(map[string][]validation.Significance, len(names))
	for _, p := range report.Pairwise {
		if p.Error != "" {
			continue
		}
		sig[p.ModelA] = append(sig[p.ModelA], significanceFor(p.ModelB, p, 1))
		sig[p.ModelB] = append(sig[p.ModelB], significanceFor(p.ModelA, p, -1))
	}
	for _, name := range names {
		report.Reports[name] = reports[name].WithSignificance(sig[name]...)
	}
}

func significanceFor(against string, p PairwiseResult, sign float64) validation.Significance {
	return validation.Significance{
		Against:     against,
		Test:        string(p.Test),
		Statistic:   p.Statistic,
		PValue:      p.PValue,
		Significant: p.Significant,
		EffectSize:  sign * p.CohensD,
		Effect:      p.Effect,
	}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

package validation

import (
	"time"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/aristath/riskengine/pkg/formulas"
)

// DefaultScoreMetric is the fold score when none is configured.
const DefaultScoreMetric = "sharpe_ratio"

// MetricScore is the aggregate key of the configured fold score.
const MetricScore = "score"

// TrackedMetrics are aggregated across folds in addition to the score.
var TrackedMetrics = []string{"sharpe_ratio", "annualized_return", "volatility", "max_drawdown"}

// Stage identifies the step at which a fold failed.
type Stage string

const (
	StageFit      Stage = "fit"
	StagePredict  Stage = "predict"
	StageScore    Stage = "score"
	StageInSample Stage = "in_sample"
)

// FoldResult is one successful fold.
type FoldResult struct {
	Index           int                 `json:"index"`
	TrainSize       int                 `json:"train_size"`
	TestSize        int                 `json:"test_size"`
	Train           []Range             `json:"train"`
	Test            []Range             `json:"test"`
	Weights         domain.WeightVector `json:"weights"`
	Metrics         *risk.MeasureSet    `json:"metrics"`
	InSample        *risk.MeasureSet    `json:"in_sample,omitempty"`
	Score           float64             `json:"score"`
	FitDuration     time.Duration       `json:"fit_duration_ns"`
	PredictDuration time.Duration       `json:"predict_duration_ns"`
}

// FailedFold records a fold whose fit, predict or scoring step failed.
// Err wraps domain.ErrFoldExecution.
type FailedFold struct {
	Index   int    `json:"index"`
	Stage   Stage  `json:"stage"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

// MetricSummary is the mean and sample standard deviation of a metric across folds.
type MetricSummary struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Significance is a pairwise test result attached to a report by the
// comparison engine.
type Significance struct {
	Against     string               `json:"against"`
	Test        string               `json:"test"`
	Statistic   domain.ExtendedFloat `json:"statistic"`
	PValue      float64              `json:"p_value"`
	Significant bool                 `json:"significant"`
	EffectSize  float64              `json:"effect_size"`
	Effect      string               `json:"effect"`
}

// Report aggregates one model's cross-validation run.
type Report struct {
	RunID            string                   `json:"run_id"`
	Model            string                   `json:"model"`
	Policy           string                   `json:"policy"`
	ScoreMetric      string                   `json:"score_metric"`
	TotalFolds       int                      `json:"total_folds"`
	Folds            []FoldResult             `json:"folds"`
	FailedFolds      []FailedFold             `json:"failed_folds,omitempty"`
	Metrics          map[string]MetricSummary `json:"metrics"`
	InSampleMetrics  map[string]MetricSummary `json:"in_sample_metrics,omitempty"`
	Significance     []Significance           `json:"significance,omitempty"`
	TotalFitTime     time.Duration            `json:"total_fit_time_ns"`
	TotalPredictTime time.Duration            `json:"total_predict_time_ns"`
	Duration         time.Duration            `json:"duration_ns"`
}

// Scores returns the fold scores in fold order.
func (r *Report) Scores() []float64 {
	out := make([]float64, len(r.Folds))
	for i, f := range r.Folds {
		out[i] = f.Score
	}
	return out
}

// MetricValues returns a metric's out-of-sample value per fold. MetricScore
// returns the scores.
func (r *Report) MetricValues(name string) []float64 {
	if name == MetricScore {
		return r.Scores()
	}
	var out []float64
	for _, f := range r.Folds {
		if f.Metrics == nil {
			continue
		}
		if v, ok := f.Metrics.Metric(name); ok {
			out = append(out, v)
		}
	}
	return out
}

// InSampleValues returns a metric's in-sample value for every fold that tracked it.
func (r *Report) InSampleValues(name string) []float64 {
	var out []float64
	for _, f := range r.Folds {
		if f.InSample == nil {
			continue
		}
		if v, ok := f.InSample.Metric(name); ok {
			out = append(out, v)
		}
	}
	return out
}

// Summary returns the aggregate for a metric. Names outside TrackedMetrics
// are computed on demand from the fold measure sets.
func (r *Report) Summary(name string) (MetricSummary, bool) {
	if s, ok := r.Metrics[name]; ok {
		return s, true
	}
	values := r.MetricValues(name)
	if len(values) == 0 {
		return MetricSummary{}, false
	}
	return summarize(values), true
}

// WithSignificance returns a shallow copy of the report carrying sig.
func (r *Report) WithSignificance(sig ...Significance) *Report {
	cp := *r
	cp.Significance = append(append([]Significance(nil), r.Significance...), sig...)
	return &cp
}

func (r *Report) aggregate() {
	r.Metrics = map[string]MetricSummary{MetricScore: summarize(r.Scores())}
	for _, name := range TrackedMetrics {
		r.Metrics[name] = summarize(r.MetricValues(name))
	}

	for _, name := range TrackedMetrics {
		if values := r.InSampleValues(name); len(values) > 0 {
			if r.InSampleMetrics == nil {
				r.InSampleMetrics = make(map[string]MetricSummary, len(TrackedMetrics))
			}
			r.InSampleMetrics[name] = summarize(values)
		}
	}

	r.TotalFitTime, r.TotalPredictTime = 0, 0
	for _, f := range r.Folds {
		r.TotalFitTime += f.FitDuration
		r.TotalPredictTime += f.PredictDuration
	}
}

func summarize(values []float64) MetricSummary {
	return MetricSummary{Mean: formulas.Mean(values), Std: formulas.StdDev(values)}
}

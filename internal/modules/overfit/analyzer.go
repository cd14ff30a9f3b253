// Package overfit compares in-sample and out-of-sample performance to flag
// models that do not generalize.
package overfit

import (
	"fmt"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/aristath/riskengine/internal/modules/validation"
	"github.com/aristath/riskengine/pkg/formulas"
	"github.com/aristath/riskengine/pkg/logger"
	"github.com/rs/zerolog"
)

// Level grades the overfitting score.
type Level string

const (
	LevelSevere   Level = "severe"
	LevelModerate Level = "moderate"
	LevelMild     Level = "mild"
	LevelMinimal  Level = "minimal"
)

// Score thresholds, exclusive.
const (
	severeThreshold   = 0.30
	moderateThreshold = 0.15
	mildThreshold     = 0.05
)

var recommendations = map[Level][]string{
	LevelSevere: {
		"Increase regularization or reduce the number of free parameters",
		"Collect a longer history before trusting the model",
		"Ensemble with simpler models such as equal weight",
		"Re-run with combinatorial purged cross-validation to confirm",
	},
	LevelModerate: {
		"Add regularization",
		"Extend the training window",
		"Consider ensembling with a simpler model",
	},
	LevelMild: {
		"Monitor out-of-sample performance",
		"Consider light regularization",
	},
	LevelMinimal: {
		"No action needed",
	},
}

// Metrics are the performance figures compared by the analyzer.
type Metrics struct {
	SharpeRatio      float64 `json:"sharpe_ratio"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Volatility       float64 `json:"volatility"`
}

// MetricsFrom extracts Metrics from a measure set.
func MetricsFrom(m *risk.MeasureSet) Metrics {
	if m == nil {
		return Metrics{}
	}
	return Metrics{
		SharpeRatio:      m.SharpeRatio,
		AnnualizedReturn: m.AnnualizedReturn,
		Volatility:       m.Volatility,
	}
}

// Report is the result of an overfitting analysis.
type Report struct {
	InSample           Metrics  `json:"in_sample"`
	OutOfSample        Metrics  `json:"out_of_sample"`
	SharpeDegradation  float64  `json:"sharpe_degradation"`
	ReturnDegradation  float64  `json:"return_degradation"`
	VolatilityIncrease float64  `json:"volatility_increase"`
	Score              float64  `json:"overfitting_score"`
	Level              Level    `json:"level"`
	Recommendations    []string `json:"recommendations"`
	Folds              int      `json:"folds,omitempty"`
}

// Analyzer computes overfitting reports.
type Analyzer struct {
	log zerolog.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(log zerolog.Logger) *Analyzer {
	return &Analyzer{log: logger.Component(log, "overfit")}
}

// Analyze compares in-sample and out-of-sample metrics. Each relative change
// is 0 when its in-sample denominator is 0.
func (a *Analyzer) Analyze(in, out Metrics) Report {
	r := Report{
		InSample:           in,
		OutOfSample:        out,
		SharpeDegradation:  formulas.SafeDiv(in.SharpeRatio-out.SharpeRatio, in.SharpeRatio),
		ReturnDegradation:  formulas.SafeDiv(in.AnnualizedReturn-out.AnnualizedReturn, in.AnnualizedReturn),
		VolatilityIncrease: formulas.SafeDiv(out.Volatility-in.Volatility, in.Volatility),
	}
	r.Score = (r.SharpeDegradation + r.ReturnDegradation + r.VolatilityIncrease) / 3
	r.Level = Classify(r.Score)
	r.Recommendations = Recommendations(r.Level)

	a.log.Debug().
		Float64("score", r.Score).
		Str("level", string(r.Level)).
		Msg("Overfitting analyzed")
	return r
}

// AnalyzeReport averages in-sample and out-of-sample metrics over the folds
// of a validation run that tracked in-sample performance.
func (a *Analyzer) AnalyzeReport(vr *validation.Report) (Report, error) {
	if vr == nil {
		return Report{}, fmt.Errorf("%w: no validation report", domain.ErrInvalidConfiguration)
	}

	var ins, outs []Metrics
	for _, f := range vr.Folds {
		if f.InSample == nil || f.Metrics == nil {
			continue
		}
		ins = append(ins, MetricsFrom(f.InSample))
		outs = append(outs, MetricsFrom(f.Metrics))
	}
	if len(ins) == 0 {
		return Report{}, fmt.Errorf("%w: report %s has no folds with in-sample metrics", domain.ErrInsufficientData, vr.RunID)
	}

	r := a.Analyze(average(ins), average(outs))
	r.Folds = len(ins)
	return r, nil
}

// Classify maps a score to its level.
func Classify(score float64) Level {
	switch {
	case score > severeThreshold:
		return LevelSevere
	case score > moderateThreshold:
		return LevelModerate
	case score > mildThreshold:
		return LevelMild
	default:
		return LevelMinimal
	}
}

// Recommendations returns a copy of the remediation list for level.
func Recommendations(level Level) []string {
	return append([]string(nil), recommendations[level]...)
}

func average(ms []Metrics) Metrics {
	var sum Metrics
	for _, m := range ms {
		sum.SharpeRatio += m.SharpeRatio
		sum.AnnualizedReturn += m.AnnualizedReturn
		sum.Volatility += m.Volatility
	}
	n := float64(len(ms))
	return Metrics{
		SharpeRatio:      sum.SharpeRatio / n,
		AnnualizedReturn: sum.AnnualizedReturn / n,
		Volatility:       sum.Volatility / n,
	}
}

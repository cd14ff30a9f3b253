// Package validation drives pluggable portfolio models through leakage-aware
// cross-validation folds and scores their out-of-sample weights.
package validation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/aristath/riskengine/internal/progress"
	"github.com/aristath/riskengine/internal/workers"
	"github.com/aristath/riskengine/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Model is fitted once per fold on the training window.
type Model interface {
	Fit(ctx context.Context, train domain.ReturnMatrix) (FittedModel, error)
}

// FittedModel produces portfolio weights for an evaluation window.
type FittedModel interface {
	Predict(ctx context.Context, test domain.ReturnMatrix) (domain.WeightVector, error)
}

// Named is implemented by models that want a stable name in reports.
type Named interface {
	Name() string
}

// ModelName returns the model's Name or its type name.
func ModelName(m Model) string {
	if n, ok := m.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return fmt.Sprintf("%T", m)
}

// Config controls scoring.
type Config struct {
	// ScoreMetric is any risk.MetricNames entry. Defaults to sharpe_ratio.
	ScoreMetric   string  `json:"score_metric"`
	TrackInSample bool    `json:"track_in_sample"`
	RiskFreeRate  float64 `json:"risk_free_rate"`
}

// DefaultConfig scores folds by Sharpe ratio.
func DefaultConfig() Config {
	return Config{
		ScoreMetric:  DefaultScoreMetric,
		RiskFreeRate: risk.DefaultRiskFreeRate,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !slices.Contains(risk.MetricNames(), c.ScoreMetric) {
		return fmt.Errorf("%w: unknown score metric %q", domain.ErrInvalidConfiguration, c.ScoreMetric)
	}
	return nil
}

// Framework runs cross-validation.
type Framework struct {
	engine     *risk.Engine
	pool       *workers.Pool
	cfg        Config
	onProgress progress.Callback
	log        zerolog.Logger
}

// NewFramework creates a framework scoring folds with engine and running them on pool.
// A nil engine uses the default risk configuration.
func NewFramework(engine *risk.Engine, pool *workers.Pool, cfg Config, log zerolog.Logger) (*Framework, error) {
	if cfg.ScoreMetric == "" {
		cfg.ScoreMetric = DefaultScoreMetric
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		var err error
		engine, err = risk.NewEngine(risk.DefaultConfig(), log)
		if err != nil {
			return nil, err
		}
	}
	if pool == nil {
		pool = workers.NewPool(0)
	}
	return &Framework{
		engine: engine,
		pool:   pool,
		cfg:    cfg,
		log:    logger.Component(log, "cross_validation"),
	}, nil
}

// WithProgress returns a copy of the framework reporting each fold start.
func (f *Framework) WithProgress(cb progress.Callback) *Framework {
	cp := *f
	cp.onProgress = cb
	return &cp
}

// Config returns the scoring configuration.
func (f *Framework) Config() Config {
	return f.cfg
}

// stageError tags a fold error with the step that produced it.
type stageError struct {
	stage Stage
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

// Validate splits returns with policy, fits and predicts model on every fold
// and scores the predicted weights on the fold's test window. Failed folds are
// recorded and skipped; ErrAllFoldsFailed is returned only when none succeeds.
func (f *Framework) Validate(ctx context.Context, returns domain.ReturnMatrix, model Model, policy SplitPolicy) (*Report, error) {
	started := time.Now()

	if model == nil || policy == nil {
		return nil, fmt.Errorf("%w: model and split policy are required", domain.ErrInvalidConfiguration)
	}
	splits, err := policy.Split(returns.Len())
	if err != nil {
		return nil, err
	}

	name := ModelName(model)
	log := f.log.With().Str("model", name).Str("policy", policy.Name()).Logger()
	log.Debug().Int("folds", len(splits)).Msg("Starting cross-validation")

	jobs := make([]workers.Job[FoldResult], len(splits))
	for i, split := range splits {
		i, split := i, split
		jobs[i] = workers.Job[FoldResult]{
			Name: fmt.Sprintf("fold %d/%d", i+1, len(splits)),
			Run: func(ctx context.Context) (FoldResult, error) {
				return f.runFold(ctx, i, split, returns, model)
			},
		}
	}

	results := workers.Run(ctx, f.pool.WithProgress(f.onProgress), jobs)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cross-validation cancelled: %w", err)
	}

	report := &Report{
		RunID:       uuid.New().String(),
		Model:       name,
		Policy:      policy.Name(),
		ScoreMetric: f.cfg.ScoreMetric,
		TotalFolds:  len(splits),
	}
	for _, r := range results {
		if r.Err != nil {
			stage := StageFit
			var se *stageError
			if errors.As(r.Err, &se) {
				stage = se.stage
			}
			wrapped := fmt.Errorf("%w: fold %d: %w", domain.ErrFoldExecution, r.Index, r.Err)
			log.Warn().Err(r.Err).Int("fold", r.Index).Str("stage", string(stage)).Msg("Fold failed")
			report.FailedFolds = append(report.FailedFolds, FailedFold{
				Index:   r.Index,
				Stage:   stage,
				Message: wrapped.Error(),
				Err:     wrapped,
			})
			continue
		}
		report.Folds = append(report.Folds, r.Value)
	}

	if len(report.Folds) == 0 {
		return nil, fmt.Errorf("%w: %d of %d folds failed for model %s",
			domain.ErrAllFoldsFailed, len(report.FailedFolds), len(splits), name)
	}

	report.aggregate()
	report.Duration = time.Since(started)

	log.Info().
		Str("run_id", report.RunID).
		Int("folds", len(report.Folds)).
		Int("failed", len(report.FailedFolds)).
		Float64("mean_score", report.Metrics[MetricScore].Mean).
		Dur("duration", report.Duration).
		Msg("Cross-validation complete")

	return report, nil
}

func (f *Framework) runFold(ctx context.Context, index int, split Split, returns domain.ReturnMatrix, model Model) (FoldResult, error) {
	train, err := returns.Rows(split.TrainIndices())
	if err != nil {
		return FoldResult{}, &stageError{StageFit, err}
	}
	test, err := returns.Rows(split.TestIndices())
	if err != nil {
		return FoldResult{}, &stageError{StageFit, err}
	}

	fold := FoldResult{
		Index:     index,
		TrainSize: split.TrainSize(),
		TestSize:  split.TestSize(),
		Train:     split.Train,
		Test:      split.Test,
	}

	var fitted FittedModel
	fitStart := time.Now()
	err = guard(StageFit, func() error {
		var err error
		fitted, err = model.Fit(ctx, train)
		if err == nil && fitted == nil {
			err = errors.New("model returned no fitted model")
		}
		return err
	})
	fold.FitDuration = time.Since(fitStart)
	if err != nil {
		return FoldResult{}, err
	}

	predictStart := time.Now()
	err = guard(StagePredict, func() error {
		var err error
		fold.Weights, err = fitted.Predict(ctx, test)
		return err
	})
	fold.PredictDuration = time.Since(predictStart)
	if err != nil {
		return FoldResult{}, err
	}

	fold.Metrics, err = f.score(test, fold.Weights)
	if err != nil {
		return FoldResult{}, &stageError{StageScore, err}
	}
	fold.Score, _ = fold.Metrics.Metric(f.cfg.ScoreMetric)

	if f.cfg.TrackInSample {
		var weights domain.WeightVector
		err = guard(StageInSample, func() error {
			var err error
			weights, err = fitted.Predict(ctx, train)
			return err
		})
		if err != nil {
			return FoldResult{}, err
		}
		if fold.InSample, err = f.score(train, weights); err != nil {
			return FoldResult{}, &stageError{StageInSample, err}
		}
	}

	return fold, nil
}

func (f *Framework) score(window domain.ReturnMatrix, weights domain.WeightVector) (*risk.MeasureSet, error) {
	portfolio, err := window.PortfolioReturns(weights)
	if err != nil {
		return nil, err
	}
	return f.engine.Compute(portfolio, risk.WithRiskFreeRate(f.cfg.RiskFreeRate))
}

// guard runs fn, converting a panic into an error tagged with stage.
func guard(stage Stage, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &stageError{stage, fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &stageError{stage, err}
	}
	return nil
}

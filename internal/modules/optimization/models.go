// Package optimization provides reference portfolio construction models that
// plug into cross-validation.
package optimization

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/validation"
	"github.com/aristath/riskengine/pkg/formulas"
	"github.com/aristath/riskengine/pkg/logger"
	"github.com/rs/zerolog"
)

// Kind names a reference model.
type Kind string

const (
	KindEqualWeight       Kind = "equal_weight"
	KindInverseVolatility Kind = "inverse_volatility"
	KindHRP               Kind = "hrp"
	KindMinVolatility     Kind = "min_volatility"
	KindMaxSharpe         Kind = "max_sharpe"
)

// Kinds lists the supported model kinds.
func Kinds() []Kind {
	return []Kind{KindEqualWeight, KindInverseVolatility, KindHRP, KindMinVolatility, KindMaxSharpe}
}

// Options tune the models. Unused fields are ignored by kinds that do not need them.
type Options struct {
	Linkage        Linkage `json:"linkage"`
	Shrinkage      bool    `json:"shrinkage"`
	MaxWeight      float64 `json:"max_weight"`
	RiskFreeRate   float64 `json:"risk_free_rate"`
	PeriodsPerYear float64 `json:"periods_per_year"`
}

// Model estimates a fixed allocation on the training window and holds it
// through the evaluation window.
type Model struct {
	kind Kind
	name string
	opts Options
	log  zerolog.Logger
}

// NewModel builds a reference model by kind.
func NewModel(kind string, opts Options, log zerolog.Logger) (*Model, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(kind)))
	known := false
	for _, candidate := range Kinds() {
		if k == candidate {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: unknown model %q", domain.ErrInvalidConfiguration, kind)
	}
	switch opts.Linkage {
	case "", LinkageSingle, LinkageComplete, LinkageAverage:
	default:
		return nil, fmt.Errorf("%w: unknown linkage %q", domain.ErrInvalidConfiguration, opts.Linkage)
	}
	if opts.MaxWeight < 0 || opts.MaxWeight > 1 {
		return nil, fmt.Errorf("%w: max weight must be in [0, 1]", domain.ErrInvalidConfiguration)
	}
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = formulas.DefaultPeriodsPerYear
	}

	return &Model{
		kind: k,
		name: string(k),
		opts: opts,
		log:  logger.Component(log, "optimization").With().Str("model", string(k)).Logger(),
	}, nil
}

// Named returns a copy of the model reported under name.
func (m *Model) Named(name string) *Model {
	cp := *m
	cp.name = name
	return &cp
}

// Name implements validation.Named.
func (m *Model) Name() string { return m.name }

// Kind returns the model kind.
func (m *Model) Kind() Kind { return m.kind }

// Fit implements validation.Model.
func (m *Model) Fit(ctx context.Context, train domain.ReturnMatrix) (validation.FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	weights, err := m.Weights(train)
	if err != nil {
		return nil, err
	}
	return Allocation{Weights: weights}, nil
}

// Weights computes the allocation for returns.
func (m *Model) Weights(returns domain.ReturnMatrix) (domain.WeightVector, error) {
	assets := returns.Assets()
	if len(assets) == 0 {
		return nil, fmt.Errorf("%w: no assets", domain.ErrDegenerateInput)
	}

	var w []float64
	switch m.kind {
	case KindEqualWeight:
		w = make([]float64, len(assets))
		for i := range w {
			w[i] = 1 / float64(len(assets))
		}
	case KindInverseVolatility:
		variances := make([]float64, len(assets))
		for i, asset := range assets {
			col, _ := returns.Column(asset)
			variances[i] = formulas.Variance(col)
		}
		w = formulas.InverseVarianceWeights(variances)
	default:
		cov, err := m.covariance(returns)
		if err != nil {
			return nil, err
		}
		w, err = m.optimize(returns, cov)
		if err != nil {
			return nil, err
		}
	}

	out := make(domain.WeightVector, len(assets))
	for i, asset := range assets {
		if math.IsNaN(w[i]) {
			return nil, fmt.Errorf("%w: weight for %s is NaN", domain.ErrDegenerateInput, asset)
		}
		out[asset] = w[i]
	}

	m.log.Debug().Int("assets", len(assets)).Int("observations", returns.Len()).Msg("Allocation fitted")
	return out, nil
}

func (m *Model) covariance(returns domain.ReturnMatrix) ([][]float64, error) {
	cov, err := formulas.CovarianceMatrix(returns.Data(), m.opts.PeriodsPerYear)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInsufficientData, err)
	}
	if m.opts.Shrinkage {
		cov = shrinkCovariance(cov)
	}
	return cov, nil
}

func (m *Model) optimize(returns domain.ReturnMatrix, cov [][]float64) ([]float64, error) {
	if m.kind == KindHRP {
		return hierarchicalRiskParity(cov, m.opts.Linkage)
	}

	assets := returns.Assets()
	mu := make([]float64, len(assets))
	for i, asset := range assets {
		col, _ := returns.Column(asset)
		mu[i] = formulas.Mean(col) * m.opts.PeriodsPerYear
	}
	problem, err := newMeanVarianceProblem(mu, cov, m.opts.MaxWeight, m.opts.RiskFreeRate)
	if err != nil {
		return nil, err
	}
	if m.kind == KindMaxSharpe {
		return problem.solve(problem.maxSharpe())
	}
	return problem.solve(problem.minVolatility())
}

// Allocation is a fitted model that predicts the same weights for any window.
type Allocation struct {
	Weights domain.WeightVector
}

// Predict implements validation.FittedModel.
func (a Allocation) Predict(ctx context.Context, _ domain.ReturnMatrix) (domain.WeightVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.Weights.Clone(), nil
}

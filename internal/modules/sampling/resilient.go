package sampling

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/logger"
	"github.com/rs/zerolog"
)

// Resilient fits the Gaussian copula and falls back to the multivariate
// normal whenever the copula cannot be fitted or sampled.
type Resilient struct {
	log zerolog.Logger
}

// NewResilient creates the fitting front end.
func NewResilient(log zerolog.Logger) *Resilient {
	return &Resilient{log: logger.Component(log, "sampler")}
}

// Fitted is the model returned by Resilient.Fit.
type Fitted struct {
	primary  Model // nil when the copula fit failed
	fallback *MultivariateNormal
	fitError error
	log      zerolog.Logger
}

// Draws is one batch of synthetic returns and the method that produced it.
type Draws struct {
	Assets []string
	Values [][]float64
	Method Method
}

// Fit fits both models. Only a failure of the fallback is returned.
func (r *Resilient) Fit(returns domain.ReturnMatrix, changes []CorrelationChange) (*Fitted, error) {
	fallback, err := FitMultivariateNormal(returns, changes)
	if err != nil {
		return nil, fmt.Errorf("fallback sampler fit failed: %w", err)
	}

	f := &Fitted{fallback: fallback, log: r.log}

	copula, err := FitGaussianCopula(returns, changes)
	if err != nil {
		f.fitError = err
		r.log.Warn().
			Err(err).
			Int("assets", returns.NumAssets()).
			Int("observations", returns.Len()).
			Msg("Dependency model fit failed, using multivariate normal fallback")
		return f, nil
	}
	f.primary = copula

	if adj := copula.Adjustment(); adj.Requested > 0 && !adj.Applied {
		r.log.Warn().
			Str("reason", adj.Reason).
			Int("changes", adj.Requested).
			Msg("Correlation changes dropped")
	}
	return f, nil
}

// Method returns the method that will be tried first.
func (f *Fitted) Method() Method {
	if f.primary != nil {
		return f.primary.Method()
	}
	return f.fallback.Method()
}

// Assets returns the asset order of every draw.
func (f *Fitted) Assets() []string { return f.fallback.Assets() }

// FitError returns the wrapped domain.ErrDependencyFit when the copula was not fitted.
func (f *Fitted) FitError() error { return f.fitError }

// Adjustment reports the correlation-change outcome of the active model.
func (f *Fitted) Adjustment() Adjustment {
	if c, ok := f.primary.(*GaussianCopula); ok {
		return c.Adjustment()
	}
	return f.fallback.Adjustment()
}

// Draw samples n rows, transparently switching to the fallback on a primary failure.
func (f *Fitted) Draw(n int, src rand.Source) (Draws, error) {
	if err := validateSampleSize(n); err != nil {
		return Draws{}, err
	}

	if f.primary != nil {
		values, err := f.primary.Sample(n, src)
		if err == nil {
			return Draws{Assets: f.primary.Assets(), Values: values, Method: f.primary.Method()}, nil
		}
		f.log.Warn().
			Err(fmt.Errorf("%w: %v", domain.ErrDependencyFit, err)).
			Msg("Dependency model sampling failed, using multivariate normal fallback")
	}

	values, err := f.fallback.Sample(n, src)
	if err != nil {
		return Draws{}, err
	}
	return Draws{Assets: f.fallback.Assets(), Values: values, Method: f.fallback.Method()}, nil
}

// IsFallback reports whether err came from a recovered dependency fit failure.
func IsFallback(err error) bool {
	return errors.Is(err, domain.ErrDependencyFit)
}

package risk

import (
	"fmt"
	"math"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
)

// marketMeasures aligns returns and benchmark on their common timestamps and
// computes the benchmark-relative measures. Alpha is Jensen's alpha on
// annualized means.
func (e *Engine) marketMeasures(returns, benchmark domain.ReturnSeries, riskFreeRate float64) (*MarketMeasures, error) {
	r, b := domain.Align(returns, benchmark)
	if len(r) < 2 {
		return nil, fmt.Errorf("%w: benchmark shares %d timestamps with the series, need at least 2",
			domain.ErrInsufficientData, len(r))
	}

	periods := e.cfg.PeriodsPerYear
	active := make([]float64, len(r))
	for i := range r {
		active[i] = r[i] - b[i]
	}

	corr := formulas.Correlation(r, b)
	beta := formulas.SafeDiv(formulas.Covariance(r, b), formulas.Variance(b))
	annR := formulas.Mean(r) * periods
	annB := formulas.Mean(b) * periods
	te := formulas.StdDev(active) * math.Sqrt(periods)

	return &MarketMeasures{
		Observations:     len(r),
		Beta:             beta,
		Alpha:            annR - (riskFreeRate + beta*(annB-riskFreeRate)),
		RSquared:         corr * corr,
		Correlation:      corr,
		TrackingError:    te,
		InformationRatio: formulas.SafeDiv(formulas.Mean(active)*periods, te),
	}, nil
}

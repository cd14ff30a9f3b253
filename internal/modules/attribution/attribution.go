// Package attribution decomposes portfolio volatility into per-asset
// marginal and component contributions.
package attribution

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
	"github.com/aristath/riskengine/pkg/logger"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Contribution is one asset's share of portfolio risk.
type Contribution struct {
	Asset                  string  `json:"asset"`
	Weight                 float64 `json:"weight"`
	StandaloneVolatility   float64 `json:"standalone_volatility"`
	MarginalContribution   float64 `json:"marginal_contribution"`
	ComponentContribution  float64 `json:"component_contribution"`
	PercentageContribution float64 `json:"percentage_contribution"`
}

// Report is the result of Engine.Attribute.
type Report struct {
	PortfolioVariance    float64              `json:"portfolio_variance"`
	PortfolioVolatility  float64              `json:"portfolio_volatility"`
	Contributions        []Contribution       `json:"contributions"`
	HerfindahlIndex      float64              `json:"herfindahl_index"`
	EffectiveAssets      domain.ExtendedFloat `json:"effective_assets"`
	DiversificationRatio float64              `json:"diversification_ratio"`
}

// Contribution returns the entry for asset.
func (r *Report) Contribution(asset string) (Contribution, bool) {
	for _, c := range r.Contributions {
		if c.Asset == asset {
			return c, true
		}
	}
	return Contribution{}, false
}

// Engine computes risk attribution reports.
type Engine struct {
	periodsPerYear float64
	log            zerolog.Logger
}

// NewEngine creates an attribution engine. periodsPerYear annualizes the
// sample covariance when none is supplied.
func NewEngine(periodsPerYear float64, log zerolog.Logger) *Engine {
	if periodsPerYear <= 0 {
		periodsPerYear = formulas.DefaultPeriodsPerYear
	}
	return &Engine{
		periodsPerYear: periodsPerYear,
		log:            logger.Component(log, "risk_attribution"),
	}
}

// Attribute decomposes the volatility of the weighted portfolio. covariance
// rows and columns follow returns.Assets(); nil means the annualized sample
// covariance of returns.
func (e *Engine) Attribute(weights domain.WeightVector, returns domain.ReturnMatrix, covariance [][]float64) (*Report, error) {
	if err := weights.Validate(returns); err != nil {
		return nil, err
	}

	assets := returns.Assets()
	n := len(assets)

	if covariance == nil {
		if returns.Len() < 2 {
			return nil, fmt.Errorf("%w: need at least 2 observations to estimate covariance, got %d",
				domain.ErrInsufficientData, returns.Len())
		}
		cov, err := formulas.CovarianceMatrix(returns.Data(), e.periodsPerYear)
		if err != nil {
			return nil, fmt.Errorf("failed to estimate covariance: %w", err)
		}
		covariance = cov
	}

	if len(covariance) != n {
		return nil, fmt.Errorf("%w: covariance has %d rows for %d assets",
			domain.ErrInvalidConfiguration, len(covariance), n)
	}
	sigma, err := formulas.ToSymDense(covariance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}

	w := mat.NewVecDense(n, weights.Vector(assets))
	variance := mat.Inner(w, sigma, w)
	if variance <= 0 || math.IsNaN(variance) {
		return nil, fmt.Errorf("%w: portfolio variance is %v", domain.ErrDegenerateInput, variance)
	}
	vol := math.Sqrt(variance)

	var sw mat.VecDense
	sw.MulVec(sigma, w)

	report := &Report{
		PortfolioVariance:   variance,
		PortfolioVolatility: vol,
		Contributions:       make([]Contribution, n),
	}

	weightedStandalone := 0.0
	for i, asset := range assets {
		wi := w.AtVec(i)
		marginal := sw.AtVec(i) / vol
		component := wi * marginal
		standalone := math.Sqrt(math.Max(0, sigma.At(i, i)))

		report.Contributions[i] = Contribution{
			Asset:                  asset,
			Weight:                 wi,
			StandaloneVolatility:   standalone,
			MarginalContribution:   marginal,
			ComponentContribution:  component,
			PercentageContribution: component / vol * 100,
		}
		report.HerfindahlIndex += wi * wi
		weightedStandalone += wi * standalone
	}

	if report.HerfindahlIndex == 0 {
		report.EffectiveAssets = domain.ExtendedFloat(math.Inf(1))
	} else {
		report.EffectiveAssets = domain.ExtendedFloat(1 / report.HerfindahlIndex)
	}
	report.DiversificationRatio = weightedStandalone / vol

	sort.SliceStable(report.Contributions, func(i, j int) bool {
		a, b := report.Contributions[i], report.Contributions[j]
		pa, pb := math.Abs(a.PercentageContribution), math.Abs(b.PercentageContribution)
		if pa != pb {
			return pa > pb
		}
		return a.Asset < b.Asset
	})

	e.log.Debug().
		Int("assets", n).
		Float64("volatility", vol).
		Msg("Risk attribution computed")

	return report, nil
}

package risk

import (
	"sort"

	"github.com/aristath/riskengine/internal/domain"
)

// TailMeasure holds VaR and CVaR at one confidence level. Both are raw-return
// percentiles, so losses are negative.
type TailMeasure struct {
	Confidence float64 `json:"confidence"`
	VaR        float64 `json:"var"`
	CVaR       float64 `json:"cvar"`
}

// DrawdownMeasures is the drawdown family. All values except the ratios are <= 0.
type DrawdownMeasures struct {
	MaxDrawdown     float64 `json:"max_drawdown"`
	AverageDrawdown float64 `json:"average_drawdown"`
	UlcerIndex      float64 `json:"ulcer_index"`
	PainIndex       float64 `json:"pain_index"`
	CDaR            float64 `json:"cdar"`
	CalmarRatio     float64 `json:"calmar_ratio"`
}

// MarketMeasures are populated only when a benchmark is supplied.
type MarketMeasures struct {
	Observations     int     `json:"observations"`
	Beta             float64 `json:"beta"`
	Alpha            float64 `json:"alpha"`
	RSquared         float64 `json:"r_squared"`
	Correlation      float64 `json:"correlation"`
	TrackingError    float64 `json:"tracking_error"`
	InformationRatio float64 `json:"information_ratio"`
}

// MeasureSet is the immutable result of one Engine.Compute call.
type MeasureSet struct {
	Observations int     `json:"observations"`
	RiskFreeRate float64 `json:"risk_free_rate"`

	MeanReturn       float64 `json:"mean_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	CumulativeReturn float64 `json:"cumulative_return"`

	Volatility         float64 `json:"volatility"`
	Variance           float64 `json:"variance"`
	Semivariance       float64 `json:"semivariance"`
	DownsideVolatility float64 `json:"downside_volatility"`

	Tail []TailMeasure `json:"tail"`
	EVaR float64       `json:"evar"`

	Drawdown DrawdownMeasures `json:"drawdown"`

	Skewness           float64              `json:"skewness"`
	ExcessKurtosis     float64              `json:"excess_kurtosis"`
	FourthMoment       float64              `json:"fourth_moment"`
	FourthLPM          float64              `json:"fourth_lpm"`
	TailRatio          domain.ExtendedFloat `json:"tail_ratio"`
	GiniMeanDifference float64              `json:"gini_mean_difference"`

	MeanAbsoluteDeviation float64 `json:"mean_absolute_deviation"`
	WorstRealization      float64 `json:"worst_realization"`
	Range                 float64 `json:"range"`

	SharpeRatio  float64         `json:"sharpe_ratio"`
	SortinoRatio float64         `json:"sortino_ratio"`
	TreynorRatio float64         `json:"treynor_ratio"`
	BetaUsed     float64         `json:"beta_used"`
	Market       *MarketMeasures `json:"market,omitempty"`
}

// VaR returns the VaR at confidence c if it was computed.
func (m *MeasureSet) VaR(c float64) (float64, bool) {
	for _, t := range m.Tail {
		if t.Confidence == c {
			return t.VaR, true
		}
	}
	return 0, false
}

// CVaR returns the CVaR at confidence c if it was computed.
func (m *MeasureSet) CVaR(c float64) (float64, bool) {
	for _, t := range m.Tail {
		if t.Confidence == c {
			return t.CVaR, true
		}
	}
	return 0, false
}

// Metric looks a scalar measure up by its JSON name. Used by callers that
// select a score at runtime (cross-validation, model comparison).
func (m *MeasureSet) Metric(name string) (float64, bool) {
	switch name {
	case "sharpe_ratio", "sharpe":
		return m.SharpeRatio, true
	case "sortino_ratio", "sortino":
		return m.SortinoRatio, true
	case "treynor_ratio":
		return m.TreynorRatio, true
	case "calmar_ratio":
		return m.Drawdown.CalmarRatio, true
	case "annualized_return":
		return m.AnnualizedReturn, true
	case "mean_return":
		return m.MeanReturn, true
	case "cumulative_return":
		return m.CumulativeReturn, true
	case "volatility":
		return m.Volatility, true
	case "max_drawdown":
		return m.Drawdown.MaxDrawdown, true
	case "evar":
		return m.EVaR, true
	case "var_95":
		return m.VaR(0.95)
	case "cvar_95":
		return m.CVaR(0.95)
	case "var_99":
		return m.VaR(0.99)
	case "cvar_99":
		return m.CVaR(0.99)
	}
	return 0, false
}

// MetricNames lists the names accepted by Metric.
func MetricNames() []string {
	names := []string{
		"sharpe_ratio", "sortino_ratio", "treynor_ratio", "calmar_ratio",
		"annualized_return", "mean_return", "cumulative_return", "volatility",
		"max_drawdown", "evar", "var_95", "cvar_95", "var_99", "cvar_99",
	}
	sort.Strings(names)
	return names
}

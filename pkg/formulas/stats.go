package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DefaultPeriodsPerYear is the number of trading periods used for annualization.
const DefaultPeriodsPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation (N-1 denominator).
// Returns 0 for fewer than two observations.
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance (N-1 denominator).
// Returns 0 for fewer than two observations.
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// AnnualizedVolatility scales the sample standard deviation by sqrt(periodsPerYear).
func AnnualizedVolatility(returns []float64, periodsPerYear float64) float64 {
	return StdDev(returns) * math.Sqrt(periodsPerYear)
}

// Skewness calculates the sample skewness. Returns 0 when undefined.
func Skewness(data []float64) float64 {
	if len(data) < 3 || StdDev(data) == 0 {
		return 0
	}
	return finiteOrZero(stat.Skew(data, nil))
}

// ExcessKurtosis calculates the sample excess kurtosis. Returns 0 when undefined.
func ExcessKurtosis(data []float64) float64 {
	if len(data) < 4 || StdDev(data) == 0 {
		return 0
	}
	return finiteOrZero(stat.ExKurtosis(data, nil))
}

// CentralMoment calculates the population central moment of the given order.
func CentralMoment(data []float64, order float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Moment(order, data, nil)
}

// Sorted returns an ascending copy of data.
func Sorted(data []float64) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	sort.Float64s(out)
	return out
}

// PercentileSorted returns the q-quantile (q in [0,1]) of ascending data using
// linear interpolation between order statistics: position q*(n-1).
func PercentileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}

	pos := q * float64(n-1)
	lower := int(math.Floor(pos))
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// Percentile returns the q-quantile (q in [0,1]) of unsorted data.
func Percentile(data []float64, q float64) float64 {
	return PercentileSorted(Sorted(data), q)
}

// Percentiles evaluates several percentiles (expressed 0-100) in one sort.
func Percentiles(data []float64, points []int) map[int]float64 {
	sorted := Sorted(data)
	out := make(map[int]float64, len(points))
	for _, p := range points {
		out[p] = PercentileSorted(sorted, float64(p)/100.0)
	}
	return out
}

// Median returns the 50th percentile.
func Median(data []float64) float64 {
	return Percentile(data, 0.5)
}

// Min returns the smallest value, or 0 for empty input.
func Min(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := data[0]
	for _, v := range data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest value, or 0 for empty input.
func Max(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	m := data[0]
	for _, v := range data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return finiteOrZero(stat.Correlation(x, y, nil))
}

// Covariance calculates the sample covariance between two datasets
func Covariance(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// SafeDiv divides and returns 0 when the denominator is zero or the result is not finite.
func SafeDiv(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finiteOrZero(num / den)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

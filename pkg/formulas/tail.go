package formulas

import (
	"math"
	"sort"
)

// ValueAtRisk returns the (1-confidence) percentile of the raw return distribution.
// Losses are negative.
func ValueAtRisk(returns []float64, confidence float64) float64 {
	return Percentile(returns, 1-confidence)
}

// TailMean returns the mean of all observations <= threshold (threshold itself
// if no observation qualifies).
func TailMean(data []float64, threshold float64) float64 {
	sum := 0.0
	count := 0
	for _, v := range data {
		if v <= threshold {
			sum += v
			count++
		}
	}
	if count == 0 {
		return threshold
	}
	return sum / float64(count)
}

// ConditionalValueAtRisk returns the mean of observations at or below the VaR
// threshold for the given confidence.
func ConditionalValueAtRisk(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return TailMean(returns, ValueAtRisk(returns, confidence))
}

// EntropicValueAtRisk computes (1/θ) * log(mean(exp(-θ·r))).
// The log-sum-exp is shifted by its maximum to stay finite for large |θ·r|.
func EntropicValueAtRisk(returns []float64, theta float64) float64 {
	if len(returns) == 0 || theta <= 0 {
		return 0
	}
	maxExp := math.Inf(-1)
	for _, r := range returns {
		if e := -theta * r; e > maxExp {
			maxExp = e
		}
	}
	sum := 0.0
	for _, r := range returns {
		sum += math.Exp(-theta*r - maxExp)
	}
	return (maxExp + math.Log(sum/float64(len(returns)))) / theta
}

// LowerPartialMoment returns mean((threshold - r)^order) over r < threshold,
// or 0 when no observation is below the threshold.
func LowerPartialMoment(returns []float64, threshold, order float64) float64 {
	sum := 0.0
	count := 0
	for _, r := range returns {
		if r < threshold {
			sum += math.Pow(threshold-r, order)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Semivariance returns the sample variance of the observations below the mean.
func Semivariance(returns []float64) float64 {
	mean := Mean(returns)
	below := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < mean {
			below = append(below, r)
		}
	}
	return Variance(below)
}

// DownsideDeviation returns the sample standard deviation of the negative returns.
func DownsideDeviation(returns []float64) float64 {
	neg := make([]float64, 0, len(returns))
	for _, r := range returns {
		if r < 0 {
			neg = append(neg, r)
		}
	}
	return StdDev(neg)
}

// TailRatio returns |percentile(1-p) / percentile(p)|, +Inf when the lower
// percentile is exactly 0.
func TailRatio(returns []float64, p float64) float64 {
	sorted := Sorted(returns)
	lower := PercentileSorted(sorted, p)
	upper := PercentileSorted(sorted, 1-p)
	if lower == 0 {
		return math.Inf(1)
	}
	return math.Abs(upper / lower)
}

// GiniMeanDifference computes (2/n²) Σ_i Σ_j |r_i - r_j|.
//
// Uses the order-statistics identity Σ_i Σ_j |x_i - x_j| = 2 Σ_k (2k - n - 1) x_(k)
// (k 1-based over the sorted sample), which runs in O(n log n).
func GiniMeanDifference(returns []float64) float64 {
	n := len(returns)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, returns)
	sort.Float64s(sorted)

	sum := 0.0
	for k, x := range sorted {
		sum += float64(2*(k+1)-n-1) * x
	}
	nf := float64(n)
	return 2.0 * (2.0 * sum) / (nf * nf)
}

// MeanAbsoluteDeviation returns mean(|r - mean(r)|).
func MeanAbsoluteDeviation(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := Mean(returns)
	sum := 0.0
	for _, r := range returns {
		sum += math.Abs(r - mean)
	}
	return sum / float64(len(returns))
}

// MaxConsecutiveLosses returns the longest run of strictly negative returns.
func MaxConsecutiveLosses(returns []float64) int {
	best, run := 0, 0
	for _, r := range returns {
		if r < 0 {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}

// RecoveryTime counts observations from the first time cumulative wealth drops
// below 1 until it is back at or above 1. Returns (0, true) if wealth never
// drops below 1 and (steps so far, false) if it never recovers.
func RecoveryTime(returns []float64) (int, bool) {
	wealth := 1.0
	start := -1
	for i, r := range returns {
		wealth *= 1 + r
		if start < 0 {
			if wealth < 1 {
				start = i
			}
			continue
		}
		if wealth >= 1 {
			return i - start, true
		}
	}
	if start < 0 {
		return 0, true
	}
	return len(returns) - start, false
}

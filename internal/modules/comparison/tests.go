package comparison

import (
	"fmt"
	"math"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
	"gonum.org/v1/gonum/stat/distuv"
)

// Test selects the pairwise significance test.
type Test string

const (
	// PairedT is the paired Student t-test on per-fold differences. Folds
	// are matched by index.
	PairedT Test = "paired_t"
	// Wilcoxon is the Wilcoxon signed-rank test on per-fold differences.
	Wilcoxon Test = "wilcoxon"
	// MannWhitney is the Mann-Whitney U rank-sum test on two independent samples.
	MannWhitney Test = "mann_whitney"
)

// Paired reports whether the test compares fold scores pairwise.
func (t Test) Paired() bool {
	return t == PairedT || t == Wilcoxon
}

// ParseTest resolves a test name. The empty string selects PairedT.
func ParseTest(name string) (Test, error) {
	switch Test(name) {
	case "", PairedT, "ttest", "t_test":
		return PairedT, nil
	case Wilcoxon:
		return Wilcoxon, nil
	case MannWhitney, "mannwhitney":
		return MannWhitney, nil
	}
	return "", fmt.Errorf("%w: unknown significance test %q", domain.ErrInvalidConfiguration, name)
}

type testResult struct {
	statistic float64
	pValue    float64
}

func runTest(test Test, a, b []float64) (testResult, error) {
	switch test {
	case PairedT:
		return pairedTTest(a, b)
	case Wilcoxon:
		return wilcoxonSignedRank(a, b)
	case MannWhitney:
		return mannWhitneyU(a, b)
	}
	return testResult{}, fmt.Errorf("%w: unknown significance test %q", domain.ErrInvalidConfiguration, test)
}

func differences(a, b []float64) ([]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("%w: paired test needs equal fold counts, got %d and %d",
			domain.ErrInvalidConfiguration, len(a), len(b))
	}
	d := make([]float64, len(a))
	for i := range a {
		d[i] = a[i] - b[i]
	}
	return d, nil
}

// pairedTTest returns t = mean(d) / (sd(d)/sqrt(n)) with n-1 degrees of freedom.
func pairedTTest(a, b []float64) (testResult, error) {
	d, err := differences(a, b)
	if err != nil {
		return testResult{}, err
	}
	n := len(d)
	if n < 2 {
		return testResult{}, fmt.Errorf("%w: paired t-test needs at least 2 folds, got %d", domain.ErrInsufficientData, n)
	}

	mean := formulas.Mean(d)
	sd := formulas.StdDev(d)
	if sd == 0 {
		if mean == 0 {
			return testResult{statistic: 0, pValue: 1}, nil
		}
		return testResult{statistic: math.Copysign(math.Inf(1), mean), pValue: 0}, nil
	}

	t := mean / (sd / math.Sqrt(float64(n)))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}
	return testResult{statistic: t, pValue: twoSided(dist.CDF(-math.Abs(t)))}, nil
}

// wilcoxonSignedRank drops zero differences, ranks the absolute differences
// and compares W+ with its normal approximation, correcting the variance for
// ties. The reported statistic is min(W+, W-).
func wilcoxonSignedRank(a, b []float64) (testResult, error) {
	d, err := differences(a, b)
	if err != nil {
		return testResult{}, err
	}

	var nonzero, abs []float64
	for _, v := range d {
		if v != 0 {
			nonzero = append(nonzero, v)
			abs = append(abs, math.Abs(v))
		}
	}
	n := float64(len(nonzero))
	if n == 0 {
		return testResult{statistic: 0, pValue: 1}, nil
	}

	ranks := formulas.Ranks(abs)
	var wPlus, wMinus float64
	for i, v := range nonzero {
		if v > 0 {
			wPlus += ranks[i]
		} else {
			wMinus += ranks[i]
		}
	}

	mean := n * (n + 1) / 4
	variance := n*(n+1)*(2*n+1)/24 - tieCorrection(abs)/48
	stat := math.Min(wPlus, wMinus)
	if variance <= 0 {
		return testResult{statistic: stat, pValue: 1}, nil
	}
	z := (wPlus - mean) / math.Sqrt(variance)
	return testResult{statistic: stat, pValue: twoSided(distuv.UnitNormal.CDF(-math.Abs(z)))}, nil
}

// mannWhitneyU ranks the pooled samples and compares U of the first sample
// with its tie-corrected normal approximation.
func mannWhitneyU(a, b []float64) (testResult, error) {
	n1, n2 := float64(len(a)), float64(len(b))
	if n1 == 0 || n2 == 0 {
		return testResult{}, fmt.Errorf("%w: Mann-Whitney needs two non-empty samples", domain.ErrInsufficientData)
	}

	pooled := append(append(make([]float64, 0, len(a)+len(b)), a...), b...)
	ranks := formulas.Ranks(pooled)
	r1 := 0.0
	for i := range a {
		r1 += ranks[i]
	}
	u1 := r1 - n1*(n1+1)/2

	total := n1 + n2
	mean := n1 * n2 / 2
	variance := n1 * n2 / 12 * ((total + 1) - tieCorrection(pooled)/(total*(total-1)))
	if variance <= 0 || math.IsNaN(variance) {
		return testResult{statistic: u1, pValue: 1}, nil
	}
	z := (u1 - mean) / math.Sqrt(variance)
	return testResult{statistic: u1, pValue: twoSided(distuv.UnitNormal.CDF(-math.Abs(z)))}, nil
}

// tieCorrection returns Σ(t³ - t) over groups of tied values.
func tieCorrection(data []float64) float64 {
	sum := 0.0
	for _, t := range formulas.TieGroups(data) {
		ft := float64(t)
		sum += ft*ft*ft - ft
	}
	return sum
}

func twoSided(lowerTail float64) float64 {
	return math.Min(1, 2*lowerTail)
}

// CohensD is the mean difference divided by the pooled sample standard
// deviation. It is 0 when the pooled deviation is 0 or undefined.
func CohensD(a, b []float64) float64 {
	n1, n2 := float64(len(a)), float64(len(b))
	if n1+n2-2 <= 0 {
		return 0
	}
	pooled := math.Sqrt(((n1-1)*formulas.Variance(a) + (n2-1)*formulas.Variance(b)) / (n1 + n2 - 2))
	if pooled == 0 || math.IsNaN(pooled) {
		return 0
	}
	return (formulas.Mean(a) - formulas.Mean(b)) / pooled
}

// EffectLabel classifies |d|: below 0.2 is small, below 0.5 medium, otherwise large.
func EffectLabel(d float64) string {
	switch ad := math.Abs(d); {
	case ad < 0.2:
		return "small"
	case ad < 0.5:
		return "medium"
	default:
		return "large"
	}
}

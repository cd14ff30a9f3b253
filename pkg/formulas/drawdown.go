package formulas

import "math"

// DrawdownStats summarizes a drawdown series. All drawdown values are <= 0.
type DrawdownStats struct {
	MaxDrawdown     float64 `json:"max_drawdown"`
	AverageDrawdown float64 `json:"average_drawdown"`
	UlcerIndex      float64 `json:"ulcer_index"`
	PainIndex       float64 `json:"pain_index"`
}

// WealthIndex compounds returns into a wealth path starting from 1: W_t = Π(1+r_i).
func WealthIndex(returns []float64) []float64 {
	wealth := make([]float64, len(returns))
	w := 1.0
	for i, r := range returns {
		w *= 1 + r
		wealth[i] = w
	}
	return wealth
}

// DrawdownSeries converts returns into relative drawdowns from the running peak.
//
// Formula: D_t = (W_t - max_{s<=t} W_s) / max_{s<=t} W_s
//
// The peak runs over the observed wealth index only, so D_0 is always 0.
func DrawdownSeries(returns []float64) []float64 {
	return DrawdownFromWealth(WealthIndex(returns))
}

// DrawdownFromWealth computes drawdowns for an already compounded wealth path.
func DrawdownFromWealth(wealth []float64) []float64 {
	if len(wealth) == 0 {
		return nil
	}
	dd := make([]float64, len(wealth))
	peak := wealth[0]
	for i, w := range wealth {
		if w > peak {
			peak = w
		}
		if peak > 0 {
			dd[i] = math.Min(0, (w-peak)/peak)
		}
	}
	return dd
}

// MaxDrawdown returns the most negative drawdown of the return series (0 if never underwater).
func MaxDrawdown(returns []float64) float64 {
	return Min(DrawdownSeries(returns))
}

// CalculateDrawdownStats computes the drawdown family from returns.
func CalculateDrawdownStats(returns []float64) DrawdownStats {
	dd := DrawdownSeries(returns)
	if len(dd) == 0 {
		return DrawdownStats{}
	}

	var (
		maxDD    float64
		negSum   float64
		negCount int
		sqSum    float64
	)
	for _, d := range dd {
		if d < maxDD {
			maxDD = d
		}
		if d < 0 {
			negSum += d
			negCount++
		}
		sqSum += d * d
	}

	stats := DrawdownStats{
		MaxDrawdown: maxDD,
		UlcerIndex:  math.Sqrt(sqSum / float64(len(dd))),
		PainIndex:   negSum / float64(len(dd)),
	}
	if negCount > 0 {
		stats.AverageDrawdown = negSum / float64(negCount)
	}
	return stats
}

// ConditionalDrawdownAtRisk returns the mean of the drawdowns at or below the
// (1-confidence) percentile of the drawdown series. The result is <= 0.
func ConditionalDrawdownAtRisk(returns []float64, confidence float64) float64 {
	dd := DrawdownSeries(returns)
	if len(dd) == 0 {
		return 0
	}
	threshold := Percentile(dd, 1-confidence)
	return TailMean(dd, threshold)
}

package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// shrinkCovariance blends the sample covariance with a constant-covariance
// target: Σ = (1-δ)·S + δ·F, where F has the average variance on the diagonal
// and the average covariance elsewhere. δ is estimated from the dispersion
// of S relative to its distance from F and capped at 0.5.
func shrinkCovariance(sample [][]float64) [][]float64 {
	n := len(sample)
	if n < 2 {
		return sample
	}

	var avgVar, avgCov float64
	for i := 0; i < n; i++ {
		avgVar += sample[i][i]
		for j := 0; j < n; j++ {
			if i != j {
				avgCov += sample[i][j]
			}
		}
	}
	avgVar /= float64(n)
	avgCov /= float64(n * (n - 1))

	s := mat.NewSymDense(n, nil)
	f := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, sample[i][j])
			if i == j {
				f.SetSym(i, j, avgVar)
			} else if avgVar > 0 {
				f.SetSym(i, j, avgCov)
			}
		}
	}

	delta := 0.2
	if n > 2 && avgVar > 0 {
		var negF, diff mat.SymDense
		negF.ScaleSym(-1, f)
		diff.AddSym(s, &negF)
		distance := mat.Norm(&diff, 2)
		distance *= distance / float64(n*n)

		var sum, sumSq float64
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := sample[i][j]
				sum += v
				sumSq += v * v
			}
		}
		mean := sum / float64(n*n)
		dispersion := sumSq/float64(n*n) - mean*mean
		if dispersion > 0 && distance > 0 {
			delta = math.Min(0.5, math.Max(0, dispersion/(dispersion+distance)))
		}
	}

	var scaledS, scaledF, shrunk mat.SymDense
	scaledS.ScaleSym(1-delta, s)
	scaledF.ScaleSym(delta, f)
	shrunk.AddSym(&scaledS, &scaledF)

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = shrunk.At(i, j)
		}
	}
	return out
}

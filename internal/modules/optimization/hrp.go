package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
)

// Linkage selects the inter-cluster distance used to build the dendrogram.
type Linkage string

const (
	LinkageSingle   Linkage = "single"
	LinkageComplete Linkage = "complete"
	LinkageAverage  Linkage = "average"
)

type clusterNode struct {
	left    *clusterNode
	right   *clusterNode
	leaves  []int
	minLeaf int
}

// hierarchicalRiskParity allocates with the full HRP procedure:
// 1) correlation from covariance
// 2) distance d_ij = sqrt(2 * (1 - ρ_ij))
// 3) agglomerative clustering with a deterministic tie-break
// 4) quasi-diagonal leaf order from the dendrogram
// 5) recursive bisection, splitting by inverse-variance cluster risk
func hierarchicalRiskParity(cov [][]float64, linkage Linkage) ([]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty covariance matrix", domain.ErrDegenerateInput)
	}
	if n == 1 {
		return []float64{1}, nil
	}

	corr, err := formulas.CorrelationMatrixFromCovariance(cov)
	if err != nil {
		return nil, fmt.Errorf("%w: correlation from covariance: %v", domain.ErrDegenerateInput, err)
	}
	dist := formulas.CorrelationToDistance(corr)

	if linkage == "" {
		linkage = LinkageSingle
	}
	order := quasiDiagonalOrder(buildDendrogram(dist, linkage))
	if len(order) != n {
		return nil, fmt.Errorf("%w: invalid HRP order length %d", domain.ErrDegenerateInput, len(order))
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	recursiveBisection(weights, cov, order)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: HRP weights sum to %v", domain.ErrDegenerateInput, sum)
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, nil
}

func buildDendrogram(dist [][]float64, linkage Linkage) *clusterNode {
	clusters := make([]*clusterNode, len(dist))
	for i := range clusters {
		clusters[i] = &clusterNode{leaves: []int{i}, minLeaf: i}
	}

	for len(clusters) > 1 {
		bestI, bestJ := 0, 1
		bestD := clusterDistance(dist, clusters[0], clusters[1], linkage)
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := clusterDistance(dist, clusters[i], clusters[j], linkage)
				if d < bestD || (d == bestD && pairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD, bestI, bestJ = d, i, j
				}
			}
		}

		left, right := clusters[bestI], clusters[bestJ]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}
		merged := &clusterNode{
			left:    left,
			right:   right,
			leaves:  append(append([]int(nil), left.leaves...), right.leaves...),
			minLeaf: left.minLeaf,
		}

		next := make([]*clusterNode, 0, len(clusters)-1)
		for k, c := range clusters {
			if k != bestI && k != bestJ {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}
	return clusters[0]
}

// pairLess orders cluster pairs by their smallest and then second-smallest leaf.
func pairLess(a1, b1, a2, b2 *clusterNode) bool {
	x1, y1 := min(a1.minLeaf, b1.minLeaf), max(a1.minLeaf, b1.minLeaf)
	x2, y2 := min(a2.minLeaf, b2.minLeaf), max(a2.minLeaf, b2.minLeaf)
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func clusterDistance(dist [][]float64, a, b *clusterNode, linkage Linkage) float64 {
	switch linkage {
	case LinkageComplete:
		best := math.Inf(-1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Max(best, dist[i][j])
			}
		}
		return best
	case LinkageAverage:
		sum := 0.0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				sum += dist[i][j]
			}
		}
		return sum / float64(len(a.leaves)*len(b.leaves))
	default:
		best := math.Inf(1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Min(best, dist[i][j])
			}
		}
		return best
	}
}

func quasiDiagonalOrder(node *clusterNode) []int {
	if node == nil {
		return nil
	}
	if node.left == nil && node.right == nil {
		return []int{node.leaves[0]}
	}
	return append(quasiDiagonalOrder(node.left), quasiDiagonalOrder(node.right)...)
}

func recursiveBisection(weights []float64, cov [][]float64, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left, right := order[:split], order[split:]

	vLeft := clusterVariance(cov, left)
	vRight := clusterVariance(cov, right)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1 - vLeft/(vLeft+vRight)
	}
	alpha = math.Max(0, math.Min(1, alpha))

	for _, idx := range left {
		weights[idx] *= alpha
	}
	for _, idx := range right {
		weights[idx] *= 1 - alpha
	}

	recursiveBisection(weights, cov, left)
	recursiveBisection(weights, cov, right)
}

// clusterVariance is w'Σw for the inverse-variance portfolio of the cluster.
func clusterVariance(cov [][]float64, idxs []int) float64 {
	if len(idxs) == 0 {
		return 0
	}
	variances := make([]float64, len(idxs))
	for k, i := range idxs {
		variances[k] = cov[i][i]
	}
	w := formulas.InverseVarianceWeights(variances)

	variance := 0.0
	for a, i := range idxs {
		for b, j := range idxs {
			variance += w[a] * cov[i][j] * w[b]
		}
	}
	return math.Max(variance, 0)
}

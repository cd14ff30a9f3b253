package validation

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/aristath/riskengine/internal/domain"
	"gonum.org/v1/gonum/stat/combin"
)

// Range is a half-open index range [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.End - r.Start }

// Split is one train/test partition. Ranges are sorted and non-overlapping.
type Split struct {
	Train []Range `json:"train"`
	Test  []Range `json:"test"`
}

// TrainIndices expands the training ranges.
func (s Split) TrainIndices() []int { return expand(s.Train) }

// TestIndices expands the test ranges.
func (s Split) TestIndices() []int { return expand(s.Test) }

// TrainSize returns the number of training observations.
func (s Split) TrainSize() int { return totalLen(s.Train) }

// TestSize returns the number of test observations.
func (s Split) TestSize() int { return totalLen(s.Test) }

// SplitPolicy partitions n time-ordered observations into folds. Split is a
// pure function of n and the policy parameters.
type SplitPolicy interface {
	Name() string
	Split(n int) ([]Split, error)
}

// Policy names accepted by NewSplitPolicy.
const (
	PolicyWalkForward         = "walk_forward"
	PolicyCombinatorialPurged = "combinatorial_purged"
	PolicyKFold               = "kfold"
)

// PolicyParams carries the union of all policy parameters for string-configured callers.
type PolicyParams struct {
	TrainSize     int    `json:"train_size"`
	TestSize      int    `json:"test_size"`
	NFolds        int    `json:"n_folds"`
	NTestFolds    int    `json:"n_test_folds"`
	PurgeLength   int    `json:"purge_length"`
	EmbargoLength int    `json:"embargo_length"`
	Shuffle       bool   `json:"shuffle"`
	Seed          uint64 `json:"seed"`
}

// NewSplitPolicy builds a policy by name.
func NewSplitPolicy(name string, p PolicyParams) (SplitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PolicyWalkForward, "walkforward":
		return WalkForward{TrainSize: p.TrainSize, TestSize: p.TestSize}, nil
	case PolicyCombinatorialPurged, "cpcv":
		return CombinatorialPurged{
			NFolds:        p.NFolds,
			NTestFolds:    p.NTestFolds,
			PurgeLength:   p.PurgeLength,
			EmbargoLength: p.EmbargoLength,
		}, nil
	case PolicyKFold, "k_fold":
		return KFold{NFolds: p.NFolds, Shuffle: p.Shuffle, Seed: p.Seed}, nil
	}
	return nil, fmt.Errorf("%w: unknown split policy %q", domain.ErrInvalidConfiguration, name)
}

// WalkForward slides a TrainSize training window followed by a TestSize test
// window forward by TestSize. Test windows never overlap and only complete
// windows are emitted.
type WalkForward struct {
	TrainSize int
	TestSize  int
}

// Name implements SplitPolicy.
func (WalkForward) Name() string { return PolicyWalkForward }

// Split implements SplitPolicy.
func (w WalkForward) Split(n int) ([]Split, error) {
	if w.TrainSize <= 0 || w.TestSize <= 0 {
		return nil, fmt.Errorf("%w: walk-forward train and test sizes must be positive", domain.ErrInvalidConfiguration)
	}
	if n < w.TrainSize+w.TestSize {
		return nil, fmt.Errorf("%w: walk-forward needs %d observations, got %d",
			domain.ErrInsufficientData, w.TrainSize+w.TestSize, n)
	}

	var splits []Split
	for start := 0; start+w.TrainSize+w.TestSize <= n; start += w.TestSize {
		trainEnd := start + w.TrainSize
		splits = append(splits, Split{
			Train: []Range{{Start: start, End: trainEnd}},
			Test:  []Range{{Start: trainEnd, End: trainEnd + w.TestSize}},
		})
	}
	return splits, nil
}

// CombinatorialPurged splits the data into NFolds contiguous blocks and uses
// every combination of NTestFolds blocks as a test set. For each test block
// [s, e) the indices [s-PurgeLength, e+EmbargoLength) are withheld from
// training, so no training observation overlaps the information window of
// the test period.
type CombinatorialPurged struct {
	NFolds        int
	NTestFolds    int
	PurgeLength   int
	EmbargoLength int
}

// Name implements SplitPolicy.
func (CombinatorialPurged) Name() string { return PolicyCombinatorialPurged }

// Split implements SplitPolicy.
func (c CombinatorialPurged) Split(n int) ([]Split, error) {
	if c.NFolds < 2 {
		return nil, fmt.Errorf("%w: combinatorial purged CV needs at least 2 folds", domain.ErrInvalidConfiguration)
	}
	if c.NTestFolds < 1 || c.NTestFolds >= c.NFolds {
		return nil, fmt.Errorf("%w: test folds must be in [1, %d), got %d",
			domain.ErrInvalidConfiguration, c.NFolds, c.NTestFolds)
	}
	if c.PurgeLength < 0 || c.EmbargoLength < 0 {
		return nil, fmt.Errorf("%w: purge and embargo lengths must be >= 0", domain.ErrInvalidConfiguration)
	}
	if n < c.NFolds {
		return nil, fmt.Errorf("%w: %d observations cannot form %d blocks", domain.ErrInsufficientData, n, c.NFolds)
	}

	blocks := contiguousBlocks(n, c.NFolds)
	combos := combin.Combinations(c.NFolds, c.NTestFolds)

	splits := make([]Split, 0, len(combos))
	for _, combo := range combos {
		excluded := make([]bool, n)
		test := make([]Range, 0, len(combo))
		for _, b := range combo {
			blk := blocks[b]
			test = append(test, blk)
			for i := max(0, blk.Start-c.PurgeLength); i < min(n, blk.End+c.EmbargoLength); i++ {
				excluded[i] = true
			}
		}

		train := rangesWhere(n, func(i int) bool { return !excluded[i] })
		if len(train) == 0 {
			return nil, fmt.Errorf("%w: purge and embargo leave no training data", domain.ErrInsufficientData)
		}
		splits = append(splits, Split{Train: train, Test: mergeRanges(test)})
	}
	return splits, nil
}

// KFold is the standard k-way partition, optionally shuffled with Seed.
// It ignores temporal ordering: with autocorrelated returns, training folds
// that follow a test fold leak future information. Prefer WalkForward or
// CombinatorialPurged for financial series.
type KFold struct {
	NFolds  int
	Shuffle bool
	Seed    uint64
}

// Name implements SplitPolicy.
func (KFold) Name() string { return PolicyKFold }

// Split implements SplitPolicy.
func (k KFold) Split(n int) ([]Split, error) {
	if k.NFolds < 2 {
		return nil, fmt.Errorf("%w: k-fold needs at least 2 folds", domain.ErrInvalidConfiguration)
	}
	if n < k.NFolds {
		return nil, fmt.Errorf("%w: %d observations cannot form %d folds", domain.ErrInsufficientData, n, k.NFolds)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if k.Shuffle {
		rng := rand.New(rand.NewPCG(k.Seed, 0x6b666f6c64))
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	blocks := contiguousBlocks(n, k.NFolds)
	splits := make([]Split, 0, k.NFolds)
	for _, blk := range blocks {
		inTest := make([]bool, n)
		for _, idx := range order[blk.Start:blk.End] {
			inTest[idx] = true
		}
		splits = append(splits, Split{
			Train: rangesWhere(n, func(i int) bool { return !inTest[i] }),
			Test:  rangesWhere(n, func(i int) bool { return inTest[i] }),
		})
	}
	return splits, nil
}

// contiguousBlocks splits [0, n) into k blocks whose sizes differ by at most
// one, larger blocks first.
func contiguousBlocks(n, k int) []Range {
	blocks := make([]Range, k)
	size, extra := n/k, n%k
	start := 0
	for i := 0; i < k; i++ {
		l := size
		if i < extra {
			l++
		}
		blocks[i] = Range{Start: start, End: start + l}
		start += l
	}
	return blocks
}

// rangesWhere collects maximal runs of indices in [0, n) satisfying keep.
func rangesWhere(n int, keep func(int) bool) []Range {
	var out []Range
	for i := 0; i < n; {
		if !keep(i) {
			i++
			continue
		}
		j := i
		for j < n && keep(j) {
			j++
		}
		out = append(out, Range{Start: i, End: j})
		i = j
	}
	return out
}

func mergeRanges(rs []Range) []Range {
	sorted := append([]Range(nil), rs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []Range
	for _, r := range sorted {
		if len(out) > 0 && out[len(out)-1].End >= r.Start {
			if r.End > out[len(out)-1].End {
				out[len(out)-1].End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func expand(rs []Range) []int {
	out := make([]int, 0, totalLen(rs))
	for _, r := range rs {
		for i := r.Start; i < r.End; i++ {
			out = append(out, i)
		}
	}
	return out
}

func totalLen(rs []Range) int {
	n := 0
	for _, r := range rs {
		n += r.Len()
	}
	return n
}

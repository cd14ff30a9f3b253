package validation

import (
	"testing"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkForward_Split(t *testing.T) {
	splits, err := WalkForward{TrainSize: 100, TestSize: 20}.Split(140)
	require.NoError(t, err)
	require.Len(t, splits, 2)

	assert.Equal(t, []Range{{0, 100}}, splits[0].Train)
	assert.Equal(t, []Range{{100, 120}}, splits[0].Test)
	assert.Equal(t, []Range{{20, 120}}, splits[1].Train)
	assert.Equal(t, []Range{{120, 140}}, splits[1].Test)
}

func TestWalkForward_Errors(t *testing.T) {
	tests := []struct {
		name    string
		policy  WalkForward
		n       int
		wantErr error
	}{
		{"zero train", WalkForward{TrainSize: 0, TestSize: 5}, 50, domain.ErrInvalidConfiguration},
		{"zero test", WalkForward{TrainSize: 10, TestSize: 0}, 50, domain.ErrInvalidConfiguration},
		{"too short", WalkForward{TrainSize: 40, TestSize: 20}, 50, domain.ErrInsufficientData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.policy.Split(tt.n)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWalkForward_TestWindowsDoNotOverlap(t *testing.T) {
	splits, err := WalkForward{TrainSize: 30, TestSize: 7}.Split(101)
	require.NoError(t, err)

	seen := make(map[int]bool)
	for _, s := range splits {
		for _, idx := range s.TestIndices() {
			assert.False(t, seen[idx], "index %d tested twice", idx)
			seen[idx] = true
		}
		assert.Less(t, s.Train[0].End-1, s.Test[0].Start)
	}
}

func TestCombinatorialPurged_PurgeAndEmbargo(t *testing.T) {
	tests := []struct {
		name   string
		policy CombinatorialPurged
		n      int
		folds  int
	}{
		{"6 choose 2", CombinatorialPurged{NFolds: 6, NTestFolds: 2, PurgeLength: 5, EmbargoLength: 3}, 120, 15},
		{"5 choose 1", CombinatorialPurged{NFolds: 5, NTestFolds: 1, PurgeLength: 2, EmbargoLength: 2}, 55, 5},
		{"no purge", CombinatorialPurged{NFolds: 4, NTestFolds: 2}, 40, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splits, err := tt.policy.Split(tt.n)
			require.NoError(t, err)
			assert.Len(t, splits, tt.folds)

			for i, s := range splits {
				train := make(map[int]bool)
				for _, idx := range s.TrainIndices() {
					train[idx] = true
				}
				for _, blk := range s.Test {
					for idx := blk.Start - tt.policy.PurgeLength; idx < blk.End+tt.policy.EmbargoLength; idx++ {
						assert.False(t, train[idx], "fold %d: index %d leaks into training", i, idx)
					}
				}
				assert.Equal(t, tt.n*tt.policy.NTestFolds/tt.policy.NFolds, s.TestSize(), "fold %d", i)
			}
		})
	}
}

func TestCombinatorialPurged_UsesEveryBlockEquallyOften(t *testing.T) {
	splits, err := CombinatorialPurged{NFolds: 5, NTestFolds: 2}.Split(50)
	require.NoError(t, err)

	counts := make(map[int]int)
	for _, s := range splits {
		for _, idx := range s.TestIndices() {
			counts[idx]++
		}
	}
	require.Len(t, counts, 50)
	for idx, c := range counts {
		assert.Equal(t, 4, c, "index %d", idx)
	}
}

func TestCombinatorialPurged_Errors(t *testing.T) {
	tests := []struct {
		name    string
		policy  CombinatorialPurged
		n       int
		wantErr error
	}{
		{"one fold", CombinatorialPurged{NFolds: 1, NTestFolds: 1}, 10, domain.ErrInvalidConfiguration},
		{"all test", CombinatorialPurged{NFolds: 3, NTestFolds: 3}, 30, domain.ErrInvalidConfiguration},
		{"negative purge", CombinatorialPurged{NFolds: 3, NTestFolds: 1, PurgeLength: -1}, 30, domain.ErrInvalidConfiguration},
		{"fewer rows than folds", CombinatorialPurged{NFolds: 6, NTestFolds: 1}, 4, domain.ErrInsufficientData},
		{"purge swallows training", CombinatorialPurged{NFolds: 2, NTestFolds: 1, PurgeLength: 10, EmbargoLength: 10}, 10, domain.ErrInsufficientData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.policy.Split(tt.n)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestKFold_Split(t *testing.T) {
	splits, err := KFold{NFolds: 3}.Split(10)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	assert.Equal(t, []Range{{0, 4}}, splits[0].Test)
	assert.Equal(t, []Range{{4, 10}}, splits[0].Train)
	assert.Equal(t, []Range{{4, 7}}, splits[1].Test)
	assert.Equal(t, []Range{{0, 4}, {7, 10}}, splits[1].Train)
}

func TestKFold_ShuffleIsSeededPartition(t *testing.T) {
	a, err := KFold{NFolds: 4, Shuffle: true, Seed: 7}.Split(40)
	require.NoError(t, err)
	b, err := KFold{NFolds: 4, Shuffle: true, Seed: 7}.Split(40)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	seen := make(map[int]int)
	for _, s := range a {
		assert.Equal(t, 40, s.TrainSize()+s.TestSize())
		for _, idx := range s.TestIndices() {
			seen[idx]++
		}
	}
	assert.Len(t, seen, 40)
	for _, c := range seen {
		assert.Equal(t, 1, c)
	}
}

func TestNewSplitPolicy(t *testing.T) {
	p, err := NewSplitPolicy("walk_forward", PolicyParams{TrainSize: 10, TestSize: 5})
	require.NoError(t, err)
	assert.Equal(t, WalkForward{TrainSize: 10, TestSize: 5}, p)

	p, err = NewSplitPolicy("CPCV", PolicyParams{NFolds: 6, NTestFolds: 2, PurgeLength: 1})
	require.NoError(t, err)
	assert.Equal(t, PolicyCombinatorialPurged, p.Name())

	p, err = NewSplitPolicy("kfold", PolicyParams{NFolds: 5, Shuffle: true})
	require.NoError(t, err)
	assert.Equal(t, KFold{NFolds: 5, Shuffle: true}, p)

	_, err = NewSplitPolicy("bootstrap", PolicyParams{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

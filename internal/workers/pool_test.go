package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squareJobs(n int) []Job[int] {
	jobs := make([]Job[int], n)
	for i := range jobs {
		i := i
		jobs[i] = Job[int]{
			Name: "square",
			Run: func(ctx context.Context) (int, error) {
				return i * i, nil
			},
		}
	}
	return jobs
}

func TestRun_ResultsInInputOrder(t *testing.T) {
	results := Run(context.Background(), NewPool(4), squareJobs(50))

	require.Len(t, results, 50)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i*i, r.Value)
		assert.NoError(t, r.Err)
	}
}

func TestRun_Empty(t *testing.T) {
	assert.Empty(t, Run[int](context.Background(), NewPool(2), nil))
}

func TestRun_PerJobErrorsAndPanics(t *testing.T) {
	boom := errors.New("boom")
	jobs := []Job[string]{
		{Name: "ok", Run: func(ctx context.Context) (string, error) { return "fine", nil }},
		{Name: "fails", Run: func(ctx context.Context) (string, error) { return "", boom }},
		{Name: "panics", Run: func(ctx context.Context) (string, error) { panic("bad input") }},
	}

	results := Run(context.Background(), NewPool(3), jobs)

	assert.Equal(t, "fine", results[0].Value)
	assert.ErrorIs(t, results[1].Err, boom)
	require.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "bad input")
}

func TestRun_CancelledContextSkipsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	jobs := make([]Job[int], 5)
	for i := range jobs {
		jobs[i] = Job[int]{Run: func(ctx context.Context) (int, error) {
			ran.Add(1)
			return 1, nil
		}}
	}

	results := Run(ctx, NewPool(2), jobs)
	assert.Equal(t, int32(0), ran.Load())
	for _, r := range results {
		assert.True(t, r.Skipped)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

func TestRun_ProgressIsSerialized(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	total := 0

	pool := NewPool(8).WithProgress(func(current, n int, message string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, current)
		total = n
	})

	Run(context.Background(), pool, squareJobs(20))

	assert.Equal(t, 20, total)
	require.Len(t, seen, 20)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}, seen)
}

func TestNewPool_DefaultsToHostWorkers(t *testing.T) {
	assert.Equal(t, HostWorkers(), NewPool(0).Size())
	assert.Positive(t, HostWorkers())
	assert.Equal(t, 3, NewPool(3).Size())
}

// Package workers runs independent units of work on a bounded goroutine pool.
package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/aristath/riskengine/internal/progress"
	"github.com/shirou/gopsutil/v3/cpu"
)

// DefaultWorkers is used when the host CPU count cannot be determined.
const DefaultWorkers = 10

// Job is a single independent unit of work. Name is reported to the progress
// callback when the job starts.
type Job[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result holds the outcome of the job at the same index in the input slice.
// Skipped is set when the context was cancelled before the job started.
type Result[T any] struct {
	Index   int
	Value   T
	Err     error
	Skipped bool
}

// Pool manages a pool of worker goroutines.
type Pool struct {
	numWorkers int
	onProgress progress.Callback

	mu      sync.Mutex
	started int
}

// HostWorkers returns the number of logical CPUs, or DefaultWorkers if it
// cannot be determined.
func HostWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return DefaultWorkers
	}
	return n
}

// NewPool creates a pool with the specified number of workers. A non-positive
// count uses HostWorkers.
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = HostWorkers()
	}
	return &Pool{numWorkers: numWorkers}
}

// Size returns the configured worker count.
func (p *Pool) Size() int { return p.numWorkers }

// WithProgress returns a copy of the pool reporting job starts to cb.
func (p *Pool) WithProgress(cb progress.Callback) *Pool {
	return &Pool{numWorkers: p.numWorkers, onProgress: cb}
}

func (p *Pool) reportStart(total int, name string) {
	if p.onProgress == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started++
	progress.Call(p.onProgress, p.started, total, name)
}

// Run executes jobs in parallel and returns one Result per job, in input order.
// The context is checked before each job starts; jobs that never start are
// marked Skipped with the context error. A panicking job yields an error result.
func Run[T any](ctx context.Context, p *Pool, jobs []Job[T]) []Result[T] {
	n := len(jobs)
	if n == 0 {
		return []Result[T]{}
	}

	pool := p
	if pool == nil {
		pool = NewPool(0)
	}
	// Fresh counter per run so concurrent runs on the same pool do not interleave.
	pool = pool.WithProgress(pool.onProgress)

	indices := make(chan int, n)
	results := make(chan Result[T], n)

	numActualWorkers := pool.numWorkers
	if n < numActualWorkers {
		numActualWorkers = n
	}

	var wg sync.WaitGroup
	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indices {
				results <- execute(ctx, pool, idx, n, jobs[idx])
			}
		}()
	}

	for idx := range jobs {
		indices <- idx
	}
	close(indices)

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]Result[T], n)
	for r := range results {
		out[r.Index] = r
	}
	return out
}

func execute[T any](ctx context.Context, p *Pool, idx, total int, job Job[T]) (res Result[T]) {
	res.Index = idx
	if err := ctx.Err(); err != nil {
		res.Err = err
		res.Skipped = true
		return res
	}

	p.reportStart(total, job.Name)

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("job %q panicked: %v", job.Name, r)
		}
	}()
	res.Value, res.Err = job.Run(ctx)
	return res
}

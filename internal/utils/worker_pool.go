package utils

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds how many tasks run at once. Each call to Each is an
// independent fan-out and fan-in; the pool itself holds no goroutines.
type WorkerPool struct {
	workers int
}

// NewWorkerPool creates a pool that runs at most workers tasks concurrently.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{workers: workers}
}

// Workers returns the concurrency limit.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Each calls fn for every index in [0, n) and returns once all started calls
// have finished. Tasks report their own failures; one task never cancels its
// siblings. If ctx is cancelled no further tasks are started and ctx.Err()
// is returned after the running ones finish.
func (wp *WorkerPool) Each(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	var g errgroup.Group
	g.SetLimit(wp.workers)

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// fanOut starts one task per item, runs at most workers of them at a time and
// yields their results in completion order. The channel is closed once every
// started task has returned. Items still waiting for a slot when ctx is done
// are skipped; tasks already running see a context that is never cancelled
// and finish on their own deadlines.
func fanOut[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) R) <-chan R {
	results := make(chan R, len(items))
	sem := semaphore.NewWeighted(int64(max(workers, 1)))
	taskCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			results <- fn(taskCtx, item)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

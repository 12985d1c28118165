package scanner

// concurrent.go: worker pool for read-only ledger lookups.
//
// Scans touch every live id on every tick, so reads are fanned out over a small pool.
// Writes never go through here: execution stays sequential to keep the nonce ordered.

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
)

// lookup is the result of reading one id.
type lookup[T any] struct {
	id  uint64
	val T
	err error
}

// lookupConcurrent calls fn for every id on a pool of workers and returns the results
// sorted by id, so callers see discovery order regardless of completion order.
//
// If workers <= 0 it uses runtime.NumCPU().
func lookupConcurrent[T any](
	ctx context.Context,
	ids []uint64,
	workers int,
	fn func(ctx context.Context, id uint64) (T, error),
) []lookup[T] {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	workCh := make(chan uint64, len(ids))
	resultCh := make(chan lookup[T], len(ids))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range workCh {
				if err := ctx.Err(); err != nil {
					resultCh <- lookup[T]{id: id, err: err}
					continue
				}
				val, err := fn(ctx, id)
				resultCh <- lookup[T]{id: id, val: val, err: err}
			}
		}()
	}

	for _, id := range ids {
		workCh <- id
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	out := make([]lookup[T], 0, len(ids))
	for r := range resultCh {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })

	slog.Debug("scanner: concurrent lookups complete",
		"ids", len(ids),
		"workers", workers,
	)
	return out
}

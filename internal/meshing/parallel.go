package meshing

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelFor splits [0,n) into contiguous ranges and runs fn on each from
// its own goroutine. Every call owns its range, so writes into
// per-index result slices need no locking.
func parallelFor(ctx context.Context, n, workers int, fn func(from, to int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(0, n)
	}

	g, ctx := errgroup.WithContext(ctx)
	chunk := (n + workers - 1) / workers
	for from := 0; from < n; from += chunk {
		from, to := from, min(from+chunk, n)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(from, to)
		})
	}
	return g.Wait()
}

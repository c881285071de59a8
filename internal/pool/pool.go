// Package pool maps a transform over a slice with bounded parallelism while
// keeping results in input order.
package pool

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Map applies fn to every input with at most limit calls in flight. A limit
// of zero or less means len(inputs). out[i] always corresponds to inputs[i].
//
// Workers claim indexes from a shared cursor, so completion order does not
// matter. The first error returned by fn (or recovered from a panic) cancels
// the context passed to the remaining calls and is returned; callers that
// want per-item failures to be non-fatal should return a zero R instead.
func Map[T, R any](ctx context.Context, inputs []T, limit int, fn func(context.Context, int, T) (R, error)) ([]R, error) {
	n := len(inputs)
	out := make([]R, n)
	if n == 0 {
		return out, nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	g, gctx := errgroup.WithContext(ctx)
	var cursor atomic.Int64
	for w := 0; w < limit; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				r, err := call(gctx, i, inputs[i], fn)
				if err != nil {
					return err
				}
				out[i] = r
			}
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func call[T, R any](ctx context.Context, i int, in T, fn func(context.Context, int, T) (R, error)) (r R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("pool: item %d panicked: %v", i, p)
		}
	}()
	return fn(ctx, i, in)
}

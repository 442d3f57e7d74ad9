package task

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a provider call outlives its bound.
var ErrTimeout = errors.New("task: provider call timed out")

// Bounded runs fn with a deadline of d. A zero or negative d calls fn
// directly. On timeout the call is abandoned and ErrTimeout returned; fn
// receives the derived context and should stop when it is done.
func Bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}

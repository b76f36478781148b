package fileutil

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout runs fn and returns its result, or a timeout error once d has
// elapsed or ctx is done. Blocking syscalls such as stat on a hung network
// mount cannot be interrupted; fn keeps running in the background and its
// late result is discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func() (T, error)) (T, error) {
	if d <= 0 {
		return fn()
	}
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn()
		done <- result{value: value, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.value, res.err
	case <-timer.C:
		var zero T
		return zero, fmt.Errorf("operation exceeded %s: %w", d, context.DeadlineExceeded)
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

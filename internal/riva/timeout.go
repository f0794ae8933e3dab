package riva

import (
	"context"
	"fmt"
	"time"
)

type callResult[T any] struct {
	value T
	err   error
}

// callWithTimeout bounds one blocking stream call when the engine stalls.
// A call that outlives the timeout keeps running; its result is discarded.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, call func() (T, error)) (T, error) {
	if timeout <= 0 {
		return call()
	}

	resultCh := make(chan callResult[T], 1)
	go func() {
		value, err := call()
		resultCh <- callResult[T]{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, fmt.Errorf("timed out after %s", timeout)
	case result := <-resultCh:
		return result.value, result.err
	}
}

// runWithTimeout is callWithTimeout for calls without a result.
func runWithTimeout(ctx context.Context, timeout time.Duration, call func() error) error {
	_, err := callWithTimeout(ctx, timeout, func() (struct{}, error) {
		return struct{}{}, call()
	})
	return err
}

package core

import (
	"context"
	"fmt"
)

// Future is the pending result of an operation started with Promise.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Promise runs op in its own goroutine. The query passed to op must not be
// used by the caller until the future completes.
func Promise[T any](ctx context.Context, op func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("panic: %v", r)
			}
		}()
		f.val, f.err = op(ctx)
	}()
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is ready or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then delivers the result to cb from another goroutine once it is ready.
func (f *Future[T]) Then(cb func(error, T)) {
	go func() {
		<-f.done
		cb(f.err, f.val)
	}()
}

// Callback runs op and hands its result to cb, error first. It shares the
// code path of Promise.
func Callback[T any](ctx context.Context, op func(context.Context) (T, error), cb func(error, T)) {
	Promise(ctx, op).Then(cb)
}

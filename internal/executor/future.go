package executor

import (
	"context"
	"sync"
)

// Future is the eventual result of a task submitted to a KeyedExecutor.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future that is already resolved with value.
func Completed[T any](value T) *Future[T] {
	f := newFuture[T]()
	f.complete(value, nil)
	return f
}

// Failed returns a future that is already resolved with err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

func (f *Future[T]) complete(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed once the task finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the task finished or ctx is done.
// Giving up on the wait does not cancel the task.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks until the task finished.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// Then returns a future resolved with fn applied to f's value once f succeeds.
// fn runs on its own goroutine, never on an executor worker.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := newFuture[U]()
	go func() {
		v, err := f.Wait()
		if err != nil {
			var zero U
			out.complete(zero, err)
			return
		}
		out.complete(fn(v))
	}()
	return out
}

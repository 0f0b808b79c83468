package sagastack

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Future is the pending result of an asynchronous step. A Future is completed
// exactly once.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future that is already completed with value and err.
func Resolved[T any](value T, err error) *Future[T] {
	f := newFuture[T]()
	f.complete(value, err)
	return f
}

func (f *Future[T]) complete(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed once the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsReady reports whether the future is completed.
func (f *Future[T]) IsReady() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future is completed or ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait blocks like Get but discards the value.
func (f *Future[T]) Wait(ctx context.Context) error {
	_, err := f.Get(ctx)
	return err
}

// Then returns a future completed with fn applied to f's value. fn runs
// before the returned future is completed; if f fails, fn is skipped and the
// error is passed through.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	next := newFuture[U]()
	go func() {
		<-f.done
		if f.err != nil {
			var zero U
			next.complete(zero, f.err)
			return
		}
		next.complete(fn(f.value))
	}()
	return next
}

// Awaitable is satisfied by every Future.
type Awaitable interface {
	Wait(ctx context.Context) error
}

// AwaitAll waits for every future and returns the first error. Waiting stops
// early when one of them fails.
func AwaitAll(ctx context.Context, futures ...Awaitable) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range futures {
		f := f
		g.Go(func() error {
			return f.Wait(gctx)
		})
	}
	return g.Wait()
}

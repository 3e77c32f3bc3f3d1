package sequencer

import (
	"context"
	"sync"
)

// --------------------------------------------------------------------------
// Future
// --------------------------------------------------------------------------

// Future is the result of an asynchronous operation that settles exactly once,
// either with a value (Resolve) or with an error (Reject).
// The first settle call wins, later calls are ignored.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	value     T
	err       error
	callbacks []func(T, error)
}

// NewFuture creates a new unsettled future
func NewFuture[T any]() *Future[T] {
	return &Future[T]{
		done: make(chan struct{}),
	}
}

// Resolved returns a future that is already settled with the given value
func Resolved[T any](value T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(value)
	return f
}

// Rejected returns a future that is already settled with the given error
func Rejected[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Reject(err)
	return f
}

// Go runs fn in a new goroutine and returns a future for its result
func Go[T any](fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		value, err := fn()
		f.settle(value, err)
	}()
	return f
}

// Resolve settles the future with a value.
// Returns false if the future was already settled.
func (f *Future[T]) Resolve(value T) bool {
	return f.settle(value, nil)
}

// Reject settles the future with an error.
// Returns false if the future was already settled.
func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(zero, err)
}

// Cancel rejects the future with context.Canceled
func (f *Future[T]) Cancel() bool {
	return f.Reject(context.Canceled)
}

// OnSettled registers a callback that is called with the result of the future.
// Callbacks run in registration order in the goroutine that settles the future,
// and all of them have returned before Done is closed. If the future is already
// settled the callback is invoked immediately.
func (f *Future[T]) OnSettled(cb func(T, error)) {
	f.mu.Lock()
	if f.settled {
		value, err := f.value, f.err
		f.mu.Unlock()
		cb(value, err)
		return
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// Done returns a channel that is closed once the future is settled
// and all callbacks have run
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future is settled and returns its value and error
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Await waits for the future or the context, whichever finishes first
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// IsSettled reports whether the future has a result
func (f *Future[T]) IsSettled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// settle stores the result, runs all callbacks and then closes done
func (f *Future[T]) settle(value T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(value, err)
	}
	close(f.done)
	return true
}

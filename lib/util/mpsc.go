// Package util provides the lock-free Multi-Producer Single-Consumer (MPSC) queue
// used as the frame write queue of a connection.
//
// Features and Guarantees:
//
//   - Lock-Free Push: producers append with atomic compare-and-swap, no mutex on the hot path
//   - Unbounded Size: the queue grows as needed, producers that wait for their own item
//     (like the payload sender does) bound it by the number of producers
//   - Per-Producer Order: items pushed by the same goroutine are delivered in push order.
//     Items of different producers are delivered in the order their CAS succeeded
//   - Single Consumer: exactly one goroutine reads values from the Recv() channel
//   - Draining Close: items pushed before Close are still delivered, then Recv() is closed
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the linked list
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is a lock-free multi-producer single-consumer queue
type LockFreeMPSC[T any] struct {
	head   atomic.Pointer[node[T]] // sentinel, owned by the consumer goroutine
	tail   atomic.Pointer[node[T]]
	out    chan T
	closed atomic.Bool
	length atomic.Int64

	// Condition variable to park the pump goroutine while the list is empty
	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a new queue and starts its pump goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.pump()

	return q
}

// Push adds an item to the queue.
// Returns false if the queue is closed.
//
// Thread-safety: This method can be called concurrently from any number of goroutines.
func (q *LockFreeMPSC[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}
	q.length.Add(1)
	var backoff uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()

		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// a failing CAS here means another producer already advanced the tail
				q.tail.CompareAndSwap(tail, n)

				// wake the pump (lock so the signal cannot slip between its check and Wait)
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// exponential backoff under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// pump moves items from the linked list into the output channel
func (q *LockFreeMPSC[T]) pump() {
	defer close(q.out)

	for {
		head := q.head.Load()
		next := head.next.Load()

		if next != nil {
			value := next.value
			q.head.Store(next)

			// release the reference held by the new sentinel
			var zero T
			next.value = zero

			q.length.Add(-1)
			q.out <- value
			continue
		}

		q.mu.Lock()
		// re-check under the lock before parking
		if q.head.Load().next.Load() == nil {
			if q.closed.Load() {
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
		}
		q.mu.Unlock()
	}
}

// Recv returns the channel the consumer reads from.
// It is closed after Close was called and all remaining items were delivered.
func (q *LockFreeMPSC[T]) Recv() <-chan T {
	return q.out
}

// Close prevents further pushes. Items already in the queue are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed returns true if the queue is closed
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of items waiting in the list (not counting an item
// the pump is currently handing to the consumer)
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.length.Load())
}

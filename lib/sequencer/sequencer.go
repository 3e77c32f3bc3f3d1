package sequencer

import (
	"sync"
)

// --------------------------------------------------------------------------
// Sequencer
// --------------------------------------------------------------------------

// Sequencer is a FIFO gate for asynchronous results. Every call to Sequence
// returns a gated future that settles only after its input settled and after
// every gated future returned by earlier calls has settled.
type Sequencer[T any] struct {
	mu   sync.Mutex
	tail chan struct{} // closed once the most recent entry was released
}

// New creates a new empty sequencer
func New[T any]() *Sequencer[T] {
	return &Sequencer[T]{}
}

// Sequence appends a pending result to the chain and returns its gated future.
//
// The gated future may be cancelled (or rejected) by the caller at any time.
// A cancelled entry still waits for its predecessor before releasing its
// successor, so the release order is kept even if entries in the middle are
// abandoned. Failures of the input are propagated unchanged.
func (s *Sequencer[T]) Sequence(in *Future[T]) *Future[T] {
	out := NewFuture[T]()
	released := make(chan struct{})

	s.mu.Lock()
	prev := s.tail
	s.tail = released
	s.mu.Unlock()

	go func() {
		defer close(released)

		// wait for the previous entry to be released
		if prev != nil {
			<-prev
		}

		// wait for our own input, unless the gated future was settled externally
		select {
		case <-in.Done():
			value, err := in.Result()
			out.settle(value, err)
		case <-out.Done():
		}

		// the callbacks of out have completed once Done is closed
		<-out.Done()
	}()

	return out
}

// Go is a shortcut for Sequence(Go(fn))
func (s *Sequencer[T]) Go(fn func() (T, error)) *Future[T] {
	return s.Sequence(Go(fn))
}

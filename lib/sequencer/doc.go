// Package sequencer provides futures and an order preserving gate for them.
//
// A Sequencer releases results in the order they were submitted, independent of
// the order in which the underlying operations complete. This is used wherever
// several asynchronous reads or requests are issued back-to-back and the consumer
// must observe them in submission order.
//
// Key Components:
//
//   - Future: a single-assignment result with Resolve/Reject, blocking and
//     context aware waiting, and callbacks that run before the future reports done.
//
//   - Sequencer: a chain of gated futures. Entry N settles only after entry N-1
//     settled (and ran its callbacks) and after its own input settled.
//
// Example usage:
//
//	seq := sequencer.New[string]()
//	a := seq.Sequence(fetchA())
//	b := seq.Sequence(fetchB())
//	b.OnSettled(func(v string, err error) { ... }) // runs after a's callbacks
package sequencer

// Package protocol implements the dStream streaming protocol on top of a
// connected transport. Requests, responses and content streams of any number
// of concurrent exchanges are split into frames and multiplexed over one
// connection, every frame starts with a 22 byte header:
//
//	type(1) | length(4, big endian) | id(16) | end(1)
//
// The request and response descriptors are serialized with one of the
// serializer implementations, content streams are sent as raw bytes.
//
// Key Components:
//
//   - Adapter: Runs the protocol on one transport. Both peers can send requests,
//     incoming requests are served by a RequestHandler.
//
//   - PayloadSender / PayloadReceiver: Write frames through a single writer
//     goroutine and parse frames from a byte stream of any segmentation.
//
//   - AssemblerManager: Routes incoming frames to the assembler of their id,
//     tombstones cancelled ids and expires idle payloads.
//
//   - StreamManager / ContentStream: Buffer incoming stream bytes until they are
//     read. The bytes buffered per connection are capped, a full buffer stops the
//     reader of the transport (backpressure).
//
//   - SendOperations: Chunk outgoing descriptors and streams into frames.
//
//   - RequestManager: Correlates responses with waiting requests and enforces
//     the request timeout.
//
//   - ConnStats and the process metrics: Per connection statistics (go-metrics)
//     and process wide counters in the Prometheus text format (VictoriaMetrics).
package protocol

// Package serializer provides the encodings of the request and response
// descriptors that are sent as the payload of request ('A') and response ('B')
// frames. Content streams are never serialized, they are sent as raw bytes.
//
// Key Components:
//
//   - IPayloadSerializer: Core interface that all serializer implementations must satisfy.
//
//   - jsonSerializerImpl: The default. Encodes descriptors as
//     {"verb","path","streams":[{"id","type","length"}]} and
//     {"statusCode","streams":[...]}, the format other implementations of the
//     protocol speak.
//
//   - binarySerializerImpl: Custom length prefixed binary format, smallest and
//     fastest, but only understood by dStream peers.
//
//   - gobSerializerImpl: Implementation using Go's built-in gob encoding.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.New("json")
//	data, err := s.SerializeRequest(common.RequestPayload{Verb: "GET", Path: "/ping"})
package serializer

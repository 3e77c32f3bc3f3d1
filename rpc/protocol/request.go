package protocol

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Outgoing Streams
// --------------------------------------------------------------------------

// OutgoingStream is a content stream that is sent after a request or response
type OutgoingStream struct {
	// ID of the stream, a new id is assigned on send if it is uuid.Nil
	ID          uuid.UUID
	ContentType string
	// Length is announced to the peer, use common.UnknownLength if unknown
	Length int64
	// Source is read until io.EOF, a nil source sends an empty stream
	Source io.Reader
}

// NewOutgoingStream creates a stream with a new id
func NewOutgoingStream(contentType string, length int64, source io.Reader) *OutgoingStream {
	return &OutgoingStream{
		ID:          uuid.New(),
		ContentType: contentType,
		Length:      length,
		Source:      source,
	}
}

// describe assigns a missing id and returns the descriptions of streams
func describe(streams []*OutgoingStream) []common.StreamDescription {
	if len(streams) == 0 {
		return nil
	}
	descs := make([]common.StreamDescription, len(streams))
	for i, s := range streams {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		descs[i] = common.StreamDescription{
			ID:          s.ID.String(),
			ContentType: s.ContentType,
			Length:      s.Length,
		}
	}
	return descs
}

// jsonStream marshals v into a json stream
func jsonStream(v any) (*OutgoingStream, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal json body")
	}
	return NewOutgoingStream("application/json; charset=utf-8", int64(len(b)), bytes.NewReader(b)), nil
}

// --------------------------------------------------------------------------
// Outgoing Request
// --------------------------------------------------------------------------

// StreamingRequest is a request that is sent to the peer
type StreamingRequest struct {
	Verb    string
	Path    string
	Streams []*OutgoingStream
}

// NewRequest creates a new request without streams
func NewRequest(verb, path string) *StreamingRequest {
	return &StreamingRequest{Verb: verb, Path: path}
}

// AddStream appends a content stream to the request and returns it
func (r *StreamingRequest) AddStream(contentType string, length int64, source io.Reader) *OutgoingStream {
	s := NewOutgoingStream(contentType, length, source)
	r.Streams = append(r.Streams, s)
	return s
}

// SetBody appends body as content stream
func (r *StreamingRequest) SetBody(contentType string, body []byte) {
	r.AddStream(contentType, int64(len(body)), bytes.NewReader(body))
}

// SetJSONBody appends v marshalled as json content stream
func (r *StreamingRequest) SetJSONBody(v any) error {
	s, err := jsonStream(v)
	if err != nil {
		return err
	}
	r.Streams = append(r.Streams, s)
	return nil
}

// payload returns the descriptor of the request
func (r *StreamingRequest) payload() common.RequestPayload {
	return common.RequestPayload{
		Verb:    r.Verb,
		Path:    r.Path,
		Streams: describe(r.Streams),
	}
}

// --------------------------------------------------------------------------
// Incoming Request
// --------------------------------------------------------------------------

// ReceiveRequest is a request received from the peer
type ReceiveRequest struct {
	ID      uuid.UUID
	Verb    string
	Path    string
	Streams []*ContentStream
}

// Close discards all streams that were not read completely
func (r *ReceiveRequest) Close() {
	for _, s := range r.Streams {
		s.Discard()
	}
}

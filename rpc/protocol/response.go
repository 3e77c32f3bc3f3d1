package protocol

import (
	"bytes"
	"io"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Outgoing Response
// --------------------------------------------------------------------------

// StreamingResponse is a response that is sent to the peer
type StreamingResponse struct {
	StatusCode int
	Streams    []*OutgoingStream
}

// NewResponse creates a new response without streams
func NewResponse(statusCode int) *StreamingResponse {
	return &StreamingResponse{StatusCode: statusCode}
}

// AddStream appends a content stream to the response and returns it
func (r *StreamingResponse) AddStream(contentType string, length int64, source io.Reader) *OutgoingStream {
	s := NewOutgoingStream(contentType, length, source)
	r.Streams = append(r.Streams, s)
	return s
}

// SetBody appends body as content stream
func (r *StreamingResponse) SetBody(contentType string, body []byte) {
	r.AddStream(contentType, int64(len(body)), bytes.NewReader(body))
}

// SetJSONBody appends v marshalled as json content stream
func (r *StreamingResponse) SetJSONBody(v any) error {
	s, err := jsonStream(v)
	if err != nil {
		return err
	}
	r.Streams = append(r.Streams, s)
	return nil
}

func (r *StreamingResponse) payload() common.ResponsePayload {
	return common.ResponsePayload{
		StatusCode: r.StatusCode,
		Streams:    describe(r.Streams),
	}
}

// --------------------------------------------------------------------------
// Incoming Response
// --------------------------------------------------------------------------

// ReceiveResponse is a response received from the peer
type ReceiveResponse struct {
	ID         uuid.UUID
	StatusCode int
	Streams    []*ContentStream
}

// IsSuccess reports whether the status code is in the 2xx range
func (r *ReceiveResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Close discards all streams that were not read completely
func (r *ReceiveResponse) Close() {
	for _, s := range r.Streams {
		s.Discard()
	}
}

// cancel cancels all streams, the peer stops sending them
func (r *ReceiveResponse) cancel() {
	for _, s := range r.Streams {
		s.Cancel()
	}
}

package common

import (
	"fmt"
)

// --------------------------------------------------------------------------
// Payload Type Definition
// --------------------------------------------------------------------------

// PayloadType is the first byte of every frame header
type PayloadType byte

const (
	PayloadTypeRequest      PayloadType = 'A' // request descriptor
	PayloadTypeResponse     PayloadType = 'B' // response descriptor
	PayloadTypeStream       PayloadType = 'S' // raw content stream bytes
	PayloadTypeCancelStream PayloadType = 'C' // cancel a single id
	PayloadTypeCancelAll    PayloadType = 'X' // cancel everything of this connection
)

// String returns the string representation of a PayloadType.
func (t PayloadType) String() string {
	switch t {
	case PayloadTypeRequest:
		return "request"
	case PayloadTypeResponse:
		return "response"
	case PayloadTypeStream:
		return "stream"
	case PayloadTypeCancelStream:
		return "cancelStream"
	case PayloadTypeCancelAll:
		return "cancelAll"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(t))
	}
}

// IsValid reports whether t is one of the known payload types
func (t PayloadType) IsValid() bool {
	switch t {
	case PayloadTypeRequest, PayloadTypeResponse, PayloadTypeStream,
		PayloadTypeCancelStream, PayloadTypeCancelAll:
		return true
	default:
		return false
	}
}

// IsCancel reports whether t is a cancel frame type. Cancel frames never carry a payload.
func (t PayloadType) IsCancel() bool {
	return t == PayloadTypeCancelStream || t == PayloadTypeCancelAll
}

// --------------------------------------------------------------------------
// Payload Descriptors
// --------------------------------------------------------------------------

// UnknownLength marks a stream whose total length is not known up front
const UnknownLength int64 = -1

// StreamDescription announces a content stream that follows a request or response
type StreamDescription struct {
	ID          string `json:"id"`
	ContentType string `json:"type,omitempty"`
	Length      int64  `json:"length"`
}

// RequestPayload is the descriptor that is sent as the payload of a request frame
type RequestPayload struct {
	Verb    string              `json:"verb"`
	Path    string              `json:"path"`
	Streams []StreamDescription `json:"streams,omitempty"`
}

// ResponsePayload is the descriptor that is sent as the payload of a response frame
type ResponsePayload struct {
	StatusCode int                 `json:"statusCode"`
	Streams    []StreamDescription `json:"streams,omitempty"`
}

// String returns a short representation of the request payload for logging
func (p *RequestPayload) String() string {
	return fmt.Sprintf("%s %s (%d streams)", p.Verb, p.Path, len(p.Streams))
}

// String returns a short representation of the response payload for logging
func (p *ResponsePayload) String() string {
	return fmt.Sprintf("%d (%d streams)", p.StatusCode, len(p.Streams))
}

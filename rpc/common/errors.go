package common

import (
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Protocol Errors
// --------------------------------------------------------------------------

// Connection fatal errors. A peer that receives one of these while parsing
// closes the connection.
var (
	// ErrMalformedHeader is returned if a header can not be decoded
	ErrMalformedHeader = errors.New("malformed header")
	// ErrUnknownPayloadType is returned if the type byte of a header is not known
	ErrUnknownPayloadType = errors.New("unknown payload type")
	// ErrTransportClosed is returned for every operation on a closed or failed transport
	ErrTransportClosed = errors.New("transport closed")
)

// Errors scoped to a single request or stream id
var (
	// ErrDuplicateRequestID is returned if a request id is registered twice
	ErrDuplicateRequestID = errors.New("duplicate request id")
	// ErrRequestTimeout is returned if no response arrived in time
	ErrRequestTimeout = errors.New("request timeout")
	// ErrIncompleteStream is returned if a stream was abandoned before its end frame
	ErrIncompleteStream = errors.New("incomplete stream")
	// ErrUnknownStreamID is returned for frames of an id that was cancelled
	ErrUnknownStreamID = errors.New("unknown stream id")
	// ErrStreamCancelled is returned if a stream was cancelled by either peer
	ErrStreamCancelled = errors.New("stream cancelled")
	// ErrBufferLimit is returned if a stream was failed because no consumer freed buffer space
	ErrBufferLimit = errors.New("buffer limit exceeded")
)

// IsFatal reports whether err must close the connection
func IsFatal(err error) bool {
	return errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrUnknownPayloadType) ||
		errors.Is(err, ErrTransportClosed)
}

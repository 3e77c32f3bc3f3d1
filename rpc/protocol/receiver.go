package protocol

// --------------------------------------------------------------------------
// Payload Receiver
// --------------------------------------------------------------------------

// ChunkHandler is called for every complete frame. A returned error stops the receiver.
type ChunkHandler func(h Header, payload []byte) error

// PayloadReceiver incrementally parses frames from a byte stream of arbitrary
// segmentation. It is not safe for concurrent use, a connection feeds it from
// a single goroutine.
type PayloadReceiver struct {
	onChunk ChunkHandler

	header    [HeaderSize]byte
	headerLen int

	current    Header
	payload    []byte
	payloadLen int
	inPayload  bool

	err error // sticky, the stream can not be resynchronized after an error
}

// NewPayloadReceiver creates a receiver that dispatches every frame to onChunk
func NewPayloadReceiver(onChunk ChunkHandler) *PayloadReceiver {
	return &PayloadReceiver{onChunk: onChunk}
}

// Feed consumes the next bytes of the stream. Complete frames are dispatched
// immediately, partial frames are kept until the missing bytes arrive.
// After the first error every call returns that error.
func (r *PayloadReceiver) Feed(data []byte) error {
	if r.err != nil {
		return r.err
	}

	for len(data) > 0 {
		if !r.inPayload {
			// collect the header
			n := copy(r.header[r.headerLen:], data)
			r.headerLen += n
			data = data[n:]
			if r.headerLen < HeaderSize {
				return nil
			}

			h, err := DecodeHeader(r.header[:])
			if err != nil {
				r.err = err
				return err
			}
			r.headerLen = 0
			r.current = h

			if h.PayloadLength == 0 {
				if err := r.dispatch(h, nil); err != nil {
					return err
				}
				continue
			}

			r.payload = make([]byte, h.PayloadLength)
			r.payloadLen = 0
			r.inPayload = true
		}

		// collect the payload
		n := copy(r.payload[r.payloadLen:], data)
		r.payloadLen += n
		data = data[n:]
		if r.payloadLen < len(r.payload) {
			return nil
		}

		payload := r.payload
		r.payload = nil
		r.inPayload = false
		if err := r.dispatch(r.current, payload); err != nil {
			return err
		}
	}
	return nil
}

// Err returns the error that stopped the receiver, if any
func (r *PayloadReceiver) Err() error {
	return r.err
}

func (r *PayloadReceiver) dispatch(h Header, payload []byte) error {
	if r.onChunk == nil {
		return nil
	}
	if err := r.onChunk(h, payload); err != nil {
		r.err = err
		return err
	}
	return nil
}

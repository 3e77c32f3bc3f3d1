package protocol

import (
	"bytes"
	"sync"
	"time"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// payloadAssembler collects the frames of one logical payload. Request and
// response descriptors are buffered until their end frame, the bytes of a
// content stream are handed to the stream manager as they arrive.
type payloadAssembler struct {
	id        uuid.UUID
	kind      common.PayloadType
	createdAt time.Time

	mu       sync.Mutex
	buffer   bytes.Buffer // descriptor bytes, unused for streams
	received int64
	closed   bool
}

func newPayloadAssembler(h Header) *payloadAssembler {
	return &payloadAssembler{
		id:        h.ID,
		kind:      h.PayloadType,
		createdAt: time.Now(),
	}
}

// appendDescriptor buffers a descriptor chunk. If end is set the complete
// descriptor is returned and the assembler is closed. A descriptor growing
// beyond limit closes the assembler with common.ErrBufferLimit.
func (a *payloadAssembler) appendDescriptor(payload []byte, end bool, limit int64) ([]byte, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, false, nil
	}
	if a.received+int64(len(payload)) > limit {
		a.closed = true
		a.buffer = bytes.Buffer{}
		return nil, false, errors.Wrapf(common.ErrBufferLimit, "%s %s exceeds %d bytes", a.kind, a.id, limit)
	}
	a.buffer.Write(payload)
	a.received += int64(len(payload))
	if !end {
		return nil, false, nil
	}
	a.closed = true
	return a.buffer.Bytes(), true, nil
}

// countStream records received stream bytes. Returns false if the assembler is closed.
func (a *payloadAssembler) countStream(n int, end bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	a.received += int64(n)
	if end {
		a.closed = true
	}
	return true
}

// close closes the assembler, returns false if it was closed already
func (a *payloadAssembler) close() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return false
	}
	a.closed = true
	return true
}

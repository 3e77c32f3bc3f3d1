package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// HeaderSize is the size of an encoded header
//
//	type(1) | length(4, big endian) | id(16) | end(1)
const HeaderSize = 1 + 4 + 16 + 1

// Header precedes every frame on the wire
type Header struct {
	PayloadType   common.PayloadType
	PayloadLength uint32
	ID            uuid.UUID
	End           bool
}

// String returns a short representation of the header for logging
func (h Header) String() string {
	return fmt.Sprintf("%s %s len=%d end=%t", h.PayloadType, h.ID, h.PayloadLength, h.End)
}

// AppendTo appends the encoded header to dst and returns the extended slice
func (h Header) AppendTo(dst []byte) []byte {
	dst = append(dst, byte(h.PayloadType))
	dst = binary.BigEndian.AppendUint32(dst, h.PayloadLength)
	dst = append(dst, h.ID[:]...)
	if h.End {
		return append(dst, 1)
	}
	return append(dst, 0)
}

// EncodeHeader encodes a header into a new HeaderSize byte slice
func EncodeHeader(h Header) []byte {
	return h.AppendTo(make([]byte, 0, HeaderSize))
}

// DecodeHeader decodes the first HeaderSize bytes of b.
// An unknown type byte yields common.ErrUnknownPayloadType, every other
// violation common.ErrMalformedHeader. Both are fatal for the connection.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Wrapf(common.ErrMalformedHeader, "header too short (%d bytes)", len(b))
	}

	h := Header{
		PayloadType:   common.PayloadType(b[0]),
		PayloadLength: binary.BigEndian.Uint32(b[1:5]),
	}
	copy(h.ID[:], b[5:21])

	if !h.PayloadType.IsValid() {
		return Header{}, errors.Wrapf(common.ErrUnknownPayloadType, "type byte %#x", b[0])
	}

	switch b[21] {
	case 0:
	case 1:
		h.End = true
	default:
		return Header{}, errors.Wrapf(common.ErrMalformedHeader, "invalid end flag %#x", b[21])
	}

	if h.PayloadLength > common.MaxPayloadLength {
		return Header{}, errors.Wrapf(common.ErrMalformedHeader, "payload length %d exceeds %d", h.PayloadLength, common.MaxPayloadLength)
	}
	if h.PayloadType.IsCancel() && h.PayloadLength != 0 {
		return Header{}, errors.Wrapf(common.ErrMalformedHeader, "%s frame with payload length %d", h.PayloadType, h.PayloadLength)
	}

	return h, nil
}

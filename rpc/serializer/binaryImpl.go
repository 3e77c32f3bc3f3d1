package serializer

import (
	"encoding/binary"
	"math"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/pkg/errors"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IPayloadSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IPayloadSerializer using a custom binary format.
//
// Request:  verbLen(2) | verb | pathLen(4) | path | streams
// Response: statusCode(4) | streams
// Streams:  count(2) | { idLen(2) | id | typeLen(2) | type | length(8) }*
//
// All integers are big endian, the stream length is a signed int64 (-1 = unknown).
type binarySerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IPayloadSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) SerializeRequest(p common.RequestPayload) ([]byte, error) {
	if len(p.Verb) > math.MaxUint16 {
		return nil, errors.Errorf("verb too long (%d bytes)", len(p.Verb))
	}
	if err := b.checkStreams(p.Streams); err != nil {
		return nil, err
	}

	// Calculate total size needed
	result := make([]byte, 2+len(p.Verb)+4+len(p.Path)+b.sizeStreams(p.Streams))
	pos := 0

	// Write verb
	binary.BigEndian.PutUint16(result[pos:pos+2], uint16(len(p.Verb)))
	pos += 2
	pos += copy(result[pos:], p.Verb)

	// Write path
	binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(p.Path)))
	pos += 4
	pos += copy(result[pos:], p.Path)

	b.writeStreams(result[pos:], p.Streams)
	return result, nil
}

func (b binarySerializerImpl) DeserializeRequest(data []byte, p *common.RequestPayload) error {
	pos := 0

	// Read verb
	if pos+2 > len(data) {
		return errors.New("data too short for verb length")
	}
	verbLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+verbLen > len(data) {
		return errors.New("data too short for verb")
	}
	p.Verb = string(data[pos : pos+verbLen])
	pos += verbLen

	// Read path
	if pos+4 > len(data) {
		return errors.New("data too short for path length")
	}
	pathLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pathLen < 0 || pos+pathLen > len(data) {
		return errors.New("data too short for path")
	}
	p.Path = string(data[pos : pos+pathLen])
	pos += pathLen

	streams, err := b.readStreams(data[pos:])
	if err != nil {
		return err
	}
	p.Streams = streams
	return nil
}

func (b binarySerializerImpl) SerializeResponse(p common.ResponsePayload) ([]byte, error) {
	if p.StatusCode < math.MinInt32 || p.StatusCode > math.MaxInt32 {
		return nil, errors.Errorf("status code out of range: %d", p.StatusCode)
	}
	if err := b.checkStreams(p.Streams); err != nil {
		return nil, err
	}

	result := make([]byte, 4+b.sizeStreams(p.Streams))

	// Write status code
	binary.BigEndian.PutUint32(result[0:4], uint32(int32(p.StatusCode)))

	b.writeStreams(result[4:], p.Streams)
	return result, nil
}

func (b binarySerializerImpl) DeserializeResponse(data []byte, p *common.ResponsePayload) error {
	// Read status code
	if len(data) < 4 {
		return errors.New("data too short for status code")
	}
	p.StatusCode = int(int32(binary.BigEndian.Uint32(data[0:4])))

	streams, err := b.readStreams(data[4:])
	if err != nil {
		return err
	}
	p.Streams = streams
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// checkStreams validates that all stream descriptions fit into the length fields
func (b binarySerializerImpl) checkStreams(streams []common.StreamDescription) error {
	if len(streams) > math.MaxUint16 {
		return errors.Errorf("too many streams (%d)", len(streams))
	}
	for _, s := range streams {
		if len(s.ID) > math.MaxUint16 || len(s.ContentType) > math.MaxUint16 {
			return errors.Errorf("stream description of %s too long", s.ID)
		}
	}
	return nil
}

// sizeStreams calculates the size needed for the stream descriptions
func (b binarySerializerImpl) sizeStreams(streams []common.StreamDescription) int {
	size := 2 // count
	for _, s := range streams {
		size += 2 + len(s.ID) + 2 + len(s.ContentType) + 8
	}
	return size
}

// writeStreams writes the stream descriptions into dst, which must be large enough
func (b binarySerializerImpl) writeStreams(dst []byte, streams []common.StreamDescription) {
	pos := 0
	binary.BigEndian.PutUint16(dst[pos:pos+2], uint16(len(streams)))
	pos += 2

	for _, s := range streams {
		binary.BigEndian.PutUint16(dst[pos:pos+2], uint16(len(s.ID)))
		pos += 2
		pos += copy(dst[pos:], s.ID)

		binary.BigEndian.PutUint16(dst[pos:pos+2], uint16(len(s.ContentType)))
		pos += 2
		pos += copy(dst[pos:], s.ContentType)

		binary.BigEndian.PutUint64(dst[pos:pos+8], uint64(s.Length))
		pos += 8
	}
}

// readStreams reads the stream descriptions. No streams are returned as nil.
func (b binarySerializerImpl) readStreams(data []byte) ([]common.StreamDescription, error) {
	if len(data) < 2 {
		return nil, errors.New("data too short for stream count")
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	pos := 2

	if count == 0 {
		return nil, nil
	}

	streams := make([]common.StreamDescription, 0, count)
	for i := 0; i < count; i++ {
		var s common.StreamDescription

		// Read id
		if pos+2 > len(data) {
			return nil, errors.Errorf("data too short for id length of stream %d", i)
		}
		idLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+idLen > len(data) {
			return nil, errors.Errorf("data too short for id of stream %d", i)
		}
		s.ID = string(data[pos : pos+idLen])
		pos += idLen

		// Read content type
		if pos+2 > len(data) {
			return nil, errors.Errorf("data too short for type length of stream %d", i)
		}
		typeLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+typeLen > len(data) {
			return nil, errors.Errorf("data too short for type of stream %d", i)
		}
		s.ContentType = string(data[pos : pos+typeLen])
		pos += typeLen

		// Read length
		if pos+8 > len(data) {
			return nil, errors.Errorf("data too short for length of stream %d", i)
		}
		s.Length = int64(binary.BigEndian.Uint64(data[pos : pos+8]))
		pos += 8

		streams = append(streams, s)
	}
	return streams, nil
}

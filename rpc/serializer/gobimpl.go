package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/dStream/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IPayloadSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IPayloadSerializer interface using gob encoding
type gobSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IPayloadSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) SerializeRequest(p common.RequestPayload) ([]byte, error) {
	return g.encode(p)
}

func (g gobSerializerImpl) DeserializeRequest(b []byte, p *common.RequestPayload) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(p)
}

func (g gobSerializerImpl) SerializeResponse(p common.ResponsePayload) ([]byte, error) {
	return g.encode(p)
}

func (g gobSerializerImpl) DeserializeResponse(b []byte, p *common.ResponsePayload) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(p)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (g gobSerializerImpl) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

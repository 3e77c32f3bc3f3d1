package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/dStream/rpc/common"
)

// NewJSONSerializer creates a new serializer using json encoding.
// This is the default format, it matches the descriptors used by other implementations of the protocol.
func NewJSONSerializer() IPayloadSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IPayloadSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IPayloadSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) SerializeRequest(p common.RequestPayload) ([]byte, error) {
	return json.Marshal(p)
}

func (j jsonSerializerImpl) DeserializeRequest(b []byte, p *common.RequestPayload) error {
	return json.Unmarshal(b, p)
}

func (j jsonSerializerImpl) SerializeResponse(p common.ResponsePayload) ([]byte, error) {
	return json.Marshal(p)
}

func (j jsonSerializerImpl) DeserializeResponse(b []byte, p *common.ResponsePayload) error {
	return json.Unmarshal(b, p)
}

package serializer

import (
	"strings"

	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/pkg/errors"
)

// IPayloadSerializer is the interface for all payload descriptor serializers.
// Both peers of a connection must use the same serializer.
type IPayloadSerializer interface {
	// SerializeRequest serializes a request descriptor into a byte array
	SerializeRequest(p common.RequestPayload) ([]byte, error)
	// DeserializeRequest deserializes a byte array into a request descriptor
	DeserializeRequest(b []byte, p *common.RequestPayload) error
	// SerializeResponse serializes a response descriptor into a byte array
	SerializeResponse(p common.ResponsePayload) ([]byte, error)
	// DeserializeResponse deserializes a byte array into a response descriptor
	DeserializeResponse(b []byte, p *common.ResponsePayload) error
}

// New returns the serializer with the given name (json, binary or gob)
func New(name string) (IPayloadSerializer, error) {
	switch strings.ToLower(name) {
	case "json", "":
		return NewJSONSerializer(), nil
	case "binary":
		return NewBinarySerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	default:
		return nil, errors.Errorf("unknown serializer: %s. must be one of json, binary, gob", name)
	}
}

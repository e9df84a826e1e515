package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype the pipeline messages travel with
const CodecName = "json"

// jsonCodec marshals the plain Go message structs of the pipeline
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// WireSize returns the encoded size of a pipeline message, 0 if it cannot be encoded
func WireSize(v any) int {
	b, err := jsonCodec{}.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

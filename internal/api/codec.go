package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "json"

// jsonCodec carries admin RPC messages as JSON. The admin surface is small
// and its messages are the service's own models, so there is no generated
// protobuf layer.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// JSONCodec returns the codec admin clients must force on their calls.
func JSONCodec() encoding.Codec {
	return jsonCodec{}
}

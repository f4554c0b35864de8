package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the RiskEngine service
// ("application/grpc+json"). Clients select it with
// grpc.CallContentSubtype(CodecName).
const CodecName = "json"

// jsonCodec carries RiskEngine messages as JSON. The RiskEngine types are
// plain Go structs shared with the HTTP surface.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

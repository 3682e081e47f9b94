// Package transport is the wire layer between nodes and the master's
// Request Multiplexer. Protobuf code generation is out of scope (spec
// section 1), so the gRPC service contract is hand-written as a
// grpc.ServiceDesc operating directly on the plain wire.Envelope /
// wire.Response structs, paired with a JSON encoding.Codec instead of
// the usual generated proto marshaller.
package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets grpc.Server and grpc.ClientConn exchange the plain
// wire.Envelope/wire.Response structs without a .pb.go marshaller.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

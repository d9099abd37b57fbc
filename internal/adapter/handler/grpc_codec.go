package handler

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the gRPC service exchange plain Go structs without
// generated protobuf types.
type jsonCodec struct{}

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }

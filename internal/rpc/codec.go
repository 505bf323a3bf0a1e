// Package rpc provides the JSON-over-gRPC codec used for the extension RPC
// boundary (C8). Extensions are arbitrary third-party containers speaking a
// small fixed RPC surface (init/info/subscribe/unsubscribe/shutdown/
// external_event/trigger_fire); generated protobuf message types are
// unnecessary ceremony for that surface, so method payloads travel as plain
// JSON over a standard gRPC transport.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is passed via grpc.CallContentSubtype on the client and is
// negotiated automatically on the server once the codec is registered.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// RawMessage is used by the server's unknown-service handler to decode a
// call's payload generically before dispatching on method name.
type RawMessage = json.RawMessage

// Marshal/Unmarshal are exposed for callers (the extension server's generic
// dispatcher) that need codec semantics without a *grpc.ClientConn.
func Marshal(v any) ([]byte, error) { return jsonCodec{}.Marshal(v) }

func Unmarshal(data []byte, v any) error { return jsonCodec{}.Unmarshal(data, v) }

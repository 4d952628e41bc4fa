package server

import "encoding/json"

// jsonCodec marshals request and response messages as plain JSON. The
// service's message types are ordinary structs with json tags, so no
// generated code is involved.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(message any) ([]byte, error) {
	return json.Marshal(message)
}

func (jsonCodec) Unmarshal(data []byte, message any) error {
	return json.Unmarshal(data, message)
}

// Package codec converts event payloads and aggregate state to and from their
// stored byte form.
package codec

import "encoding/json"

// Codec marshals values into bytes and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the default codec for payloads and state.
var JSON Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Func adapts a pair of functions into a Codec.
type Func struct {
	MarshalFunc   func(v any) ([]byte, error)
	UnmarshalFunc func(data []byte, v any) error
}

// Marshal calls MarshalFunc.
func (f Func) Marshal(v any) ([]byte, error) {
	return f.MarshalFunc(v)
}

// Unmarshal calls UnmarshalFunc.
func (f Func) Unmarshal(data []byte, v any) error {
	return f.UnmarshalFunc(data, v)
}

package index

import (
	"encoding/json"
	"fmt"
)

// Codec serializes keys and values for the persistent bucket store.
// Encoded keys must be stable: equal keys must always encode to equal bytes.
type Codec[K comparable, V any] interface {
	EncodeKey(k K) ([]byte, error)
	EncodeValue(v V) ([]byte, error)
	DecodeValue(b []byte) (V, error)
}

// StringCodec stores string keys and []byte values as-is.
type StringCodec struct{}

func (StringCodec) EncodeKey(k string) ([]byte, error)   { return []byte(k), nil }
func (StringCodec) EncodeValue(v []byte) ([]byte, error) { return v, nil }
func (StringCodec) DecodeValue(b []byte) ([]byte, error) { return b, nil }

// JSONCodec encodes keys and values with encoding/json.
// Map-typed or otherwise non-deterministic keys must not be used with it.
type JSONCodec[K comparable, V any] struct{}

func (JSONCodec[K, V]) EncodeKey(k K) ([]byte, error) {
	b, err := json.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("index: encode key: %w", err)
	}
	return b, nil
}

func (JSONCodec[K, V]) EncodeValue(v V) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("index: encode value: %w", err)
	}
	return b, nil
}

func (JSONCodec[K, V]) DecodeValue(b []byte) (V, error) {
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("index: decode value: %w", err)
	}
	return v, nil
}

// defaultCodec picks StringCodec when it fits the type parameters.
func defaultCodec[K comparable, V any]() Codec[K, V] {
	if c, ok := any(StringCodec{}).(Codec[K, V]); ok {
		return c
	}
	return JSONCodec[K, V]{}
}

var (
	_ Codec[string, []byte] = StringCodec{}
	_ Codec[int, string]    = JSONCodec[int, string]{}
)

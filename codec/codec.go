// Package codec serializes task domain objects and scratch values.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes values to bytes and back.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	// Name returns the codec identifier ("json", "msgpack").
	Name() string
}

// Codec names.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. An empty name selects JSON.
func Get(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return JSON{}, nil
	case NameMsgpack:
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}

// JSON encodes values with encoding/json.
type JSON struct{}

func (JSON) Encode(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSON) Decode(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                    { return NameJSON }

// Msgpack encodes values as MessagePack.
type Msgpack struct{}

func (Msgpack) Encode(v any) ([]byte, error)    { return msgpack.Marshal(v) }
func (Msgpack) Decode(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
func (Msgpack) Name() string                    { return NameMsgpack }

package store

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Codec encodes values for an adapter.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the default codec.
type JSON struct{}

func (JSON) Name() string                       { return "json" }
func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// YAML encodes values as YAML documents.
type YAML struct{}

func (YAML) Name() string                       { return "yaml" }
func (YAML) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (YAML) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

// CodecByName returns the codec called name, or nil.
func CodecByName(name string) Codec {
	switch name {
	case "", "json":
		return JSON{}
	case "yaml", "yml":
		return YAML{}
	default:
		return nil
	}
}

func decode[T any](c Codec, data []byte) (T, error) {
	var v T
	err := c.Unmarshal(data, &v)
	return v, err
}

package wire

import (
	"encoding/json"
	"fmt"
	"mime"
)

const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Codec serialises payloads for one content type.
type Codec interface {
	ContentType() string
	Marshal(p *Payload) ([]byte, error)
	Unmarshal(data []byte, p *Payload) error
}

// JSON is the default codec.
type JSON struct{}

// ContentType implements Codec.
func (JSON) ContentType() string { return ContentTypeJSON }

// Marshal implements Codec.
func (JSON) Marshal(p *Payload) ([]byte, error) { return json.Marshal(p) }

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte, p *Payload) error { return json.Unmarshal(data, p) }

// CodecByName returns the codec selected by configuration ("json" or "protobuf").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "protobuf", "proto":
		return Protobuf{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// CodecForContentType picks the codec for a request Content-Type header.
// A missing header is treated as JSON.
func CodecForContentType(header string) (Codec, error) {
	if header == "" {
		return JSON{}, nil
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return nil, fmt.Errorf("bad content type %q: %w", header, err)
	}
	switch mt {
	case ContentTypeJSON:
		return JSON{}, nil
	case ContentTypeProtobuf, "application/protobuf":
		return Protobuf{}, nil
	default:
		return nil, fmt.Errorf("unsupported content type %q", mt)
	}
}

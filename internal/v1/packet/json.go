package packet

import (
	"encoding/json"
	"fmt"
)

// CodecJSON names the human-readable text codec.
const CodecJSON = "json"

// jsonEnvelope is the outer frame of the text encoding: a type discriminator
// next to the packet body, so decoders can pick a factory before parsing.
type jsonEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JSONCodec encodes packets as field-named JSON. It is the debugging-friendly
// default; the binary codec trades readability for frame size.
type JSONCodec struct{}

func (c *JSONCodec) Name() string { return CodecJSON }

func (c *JSONCodec) Encode(p Packet) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", p.Type(), err)
	}
	frame, err := json.Marshal(jsonEnvelope{Type: p.Type(), Data: body})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", p.Type(), err)
	}
	return frame, nil
}

func (c *JSONCodec) Decode(data []byte) (Packet, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type discriminator")
	}
	p, err := New(env.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", env.Type, err)
	}
	return p, nil
}

package packet

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// CodecBinary names the compact binary codec.
const CodecBinary = "binary"

// binaryEnvelope mirrors jsonEnvelope for the binary encoding. Packets carry
// the msgpack as_array marker, so bodies serialize positionally and field
// names never touch the wire.
type binaryEnvelope struct {
	_msgpack struct{} `msgpack:",as_array"`
	Type     string
	Body     msgpack.RawMessage
}

// BinaryCodec encodes packets as msgpack arrays. Both peers must agree on
// field order, which the struct definitions pin down.
type BinaryCodec struct{}

func (c *BinaryCodec) Name() string { return CodecBinary }

func (c *BinaryCodec) Encode(p Packet) ([]byte, error) {
	body, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", p.Type(), err)
	}
	frame, err := msgpack.Marshal(binaryEnvelope{Type: p.Type(), Body: body})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", p.Type(), err)
	}
	return frame, nil
}

func (c *BinaryCodec) Decode(data []byte) (Packet, error) {
	var env binaryEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type discriminator")
	}
	p, err := New(env.Type)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(env.Body, p); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", env.Type, err)
	}
	return p, nil
}

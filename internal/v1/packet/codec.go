package packet

import (
	"fmt"
	"sync"
)

// Codec turns packets into wire frames and back. Implementations must be
// safe for concurrent use; one codec instance serves every connection.
type Codec interface {
	Name() string
	Encode(p Packet) ([]byte, error)
	Decode(data []byte) (Packet, error)
}

var (
	codecsMu sync.RWMutex
	codecs   = make(map[string]func() Codec)
)

// RegisterCodec makes a codec available under a name for config selection.
func RegisterCodec(name string, factory func() Codec) error {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	if _, exists := codecs[name]; exists {
		return fmt.Errorf("codec %q already registered", name)
	}
	codecs[name] = factory
	return nil
}

// NewCodec builds the codec registered under name.
func NewCodec(name string) (Codec, error) {
	codecsMu.RLock()
	factory, ok := codecs[name]
	codecsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	return factory(), nil
}

func init() {
	if err := RegisterCodec(CodecJSON, func() Codec { return &JSONCodec{} }); err != nil {
		panic(err)
	}
	if err := RegisterCodec(CodecBinary, func() Codec { return &BinaryCodec{} }); err != nil {
		panic(err)
	}
}

package packet

import (
	"fmt"
	"sync"
)

// Factory builds an empty packet ready for decoding.
type Factory func() Packet

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register binds a packet type discriminator to its factory. Registering the
// same type twice is a configuration mistake and fails loudly so it surfaces
// at startup rather than as shadowed packets at runtime.
func Register(packetType string, factory Factory) error {
	if packetType == "" {
		return fmt.Errorf("packet type must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("packet factory for %q must not be nil", packetType)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[packetType]; exists {
		return fmt.Errorf("packet type %q already registered", packetType)
	}
	registry[packetType] = factory
	return nil
}

// New returns an empty packet for the given type discriminator.
func New(packetType string) (Packet, error) {
	registryMu.RLock()
	factory, ok := registry[packetType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown packet type %q", packetType)
	}
	return factory(), nil
}

// RegisteredTypes lists every known discriminator, for diagnostics.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}

func mustRegister(packetType string, factory Factory) {
	if err := Register(packetType, factory); err != nil {
		panic(err)
	}
}

// The built-in packet set registers itself so every binary that imports this
// package can decode the core protocol without extra wiring.
func init() {
	mustRegister(TypeHandshake, func() Packet { return &HandshakePacket{} })
	mustRegister(TypeJoinGame, func() Packet { return &JoinGamePacket{} })
	mustRegister(TypeLeaveGame, func() Packet { return &LeaveGamePacket{} })
	mustRegister(TypeSync, func() Packet { return &SyncPacket{} })
	mustRegister(TypeSuccess, func() Packet { return &SuccessPacket{} })
	mustRegister(TypeFailed, func() Packet { return &FailedPacket{} })
	mustRegister(TypeRoom, func() Packet { return &RoomPacket{} })
	mustRegister(TypeInterprocess, func() Packet { return &InterprocessPacket{} })
	mustRegister(TypeMoveIntent, func() Packet { return &MoveIntentPacket{} })
	mustRegister(TypePing, func() Packet { return &PingPacket{} })
}

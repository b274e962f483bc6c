package types

import (
	"context"
	"sync"

	"github.com/altruist-engine/altruist/internal/v1/packet"
)

// --- Core Domain Types ---

// ConnectionID uniquely identifies a client connection across processes.
type ConnectionID string

// RoomID uniquely identifies a room.
type RoomID string

// WorldIndex identifies a registered game world.
type WorldIndex int

// TransportKind names the transport a connection arrived on.
type TransportKind string

const (
	TransportWebSocket TransportKind = "ws"
	TransportTCP       TransportKind = "tcp"
	TransportUDP       TransportKind = "udp"
)

// ConnectionState tracks where a connection is in its lifecycle.
type ConnectionState string

const (
	// StateConnected means the handshake completed but no room was joined yet.
	StateConnected ConnectionState = "connected"
	// StateJoined means the connection is a member of a room.
	StateJoined ConnectionState = "joined"
)

// --- Shared Interfaces ---

// Bus defines the shared-infrastructure operations the runtime relies on.
// A nil Bus means single-process mode; callers must tolerate it.
type Bus interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	SetAdd(ctx context.Context, key string, value string) error
	SetRem(ctx context.Context, key string, value string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	ListLeftPush(ctx context.Context, key string, value []byte) error
	ListRightPop(ctx context.Context, key string) ([]byte, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, wg *sync.WaitGroup, handler func(payload []byte))
	Ping(ctx context.Context) error
	Close() error
}

// Sender delivers a packet to a single client, wherever it lives.
// Implementations resolve the client locally first and fall back to the
// inter-process bridge for connections hosted elsewhere.
type Sender interface {
	Send(ctx context.Context, clientID ConnectionID, pkt packet.Packet) error
}

// Dispatcher routes a decoded inbound packet to its registered handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, clientID ConnectionID, pkt packet.Packet)
}

// TickSource exposes the engine's current tick counter to consumers that
// schedule work against it.
type TickSource interface {
	CurrentTick() int64
}

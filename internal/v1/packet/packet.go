// Package packet defines the wire-level data model of the runtime: the
// packet types clients and servers exchange, a registry that maps type
// discriminators to factories, and the codecs that put packets on the wire.
package packet

import "time"

// Packet type discriminators. These travel on the wire, so they are stable.
const (
	TypeHandshake    = "handshake"
	TypeJoinGame     = "join_game"
	TypeLeaveGame    = "leave_game"
	TypeSync         = "sync"
	TypeSuccess      = "success"
	TypeFailed       = "failed"
	TypeRoom         = "room"
	TypeInterprocess = "interprocess"
	TypeMoveIntent   = "move_intent"
	TypePing         = "ping"
)

// SenderServer is the sender id stamped on server-originated packets.
const SenderServer = "server"

// Header carries the routing metadata every packet starts with.
type Header struct {
	_msgpack  struct{} `msgpack:",as_array"`
	Timestamp int64    `json:"timestamp"`
	Sender    string   `json:"sender"`
	Receiver  string   `json:"receiver"`
}

// NewHeader stamps a header with the current wall clock in milliseconds.
func NewHeader(sender, receiver string) Header {
	return Header{
		Timestamp: time.Now().UnixMilli(),
		Sender:    sender,
		Receiver:  receiver,
	}
}

// Packet is the contract every wire message satisfies. Implementations are
// pointer types so Header() can hand out a mutable reference for routing.
type Packet interface {
	Type() string
	Header() *Header
}

// HandshakePacket is sent by the server immediately after a transport
// connection is accepted. It tells the client its assigned connection id.
type HandshakePacket struct {
	_msgpack     struct{} `msgpack:",as_array"`
	Head         Header   `json:"head"`
	ConnectionID string   `json:"connectionId"`
}

func (p *HandshakePacket) Type() string    { return TypeHandshake }
func (p *HandshakePacket) Header() *Header { return &p.Head }

// JoinGamePacket asks the server to place the client in a room. RoomID is
// optional; when empty the server picks any room with free capacity.
type JoinGamePacket struct {
	_msgpack struct{} `msgpack:",as_array"`
	Head     Header   `json:"head"`
	RoomID   string   `json:"roomId,omitempty"`
}

func (p *JoinGamePacket) Type() string    { return TypeJoinGame }
func (p *JoinGamePacket) Header() *Header { return &p.Head }

// LeaveGamePacket removes the client from its current room.
type LeaveGamePacket struct {
	_msgpack struct{} `msgpack:",as_array"`
	Head     Header   `json:"head"`
}

func (p *LeaveGamePacket) Type() string    { return TypeLeaveGame }
func (p *LeaveGamePacket) Header() *Header { return &p.Head }

// SyncPacket carries a delta of entity state. Data maps field names to the
// values that changed for the receiving client.
type SyncPacket struct {
	_msgpack   struct{}       `msgpack:",as_array"`
	Head       Header         `json:"head"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Data       map[string]any `json:"data"`
}

func (p *SyncPacket) Type() string    { return TypeSync }
func (p *SyncPacket) Header() *Header { return &p.Head }

// SuccessPacket acknowledges an operation.
type SuccessPacket struct {
	_msgpack    struct{} `msgpack:",as_array"`
	Head        Header   `json:"head"`
	Message     string   `json:"message"`
	SuccessType string   `json:"successType"`
}

func (p *SuccessPacket) Type() string    { return TypeSuccess }
func (p *SuccessPacket) Header() *Header { return &p.Head }

// FailedPacket reports a failed operation back to the originating client.
type FailedPacket struct {
	_msgpack struct{} `msgpack:",as_array"`
	Head     Header   `json:"head"`
	Reason   string   `json:"reason"`
	FailType string   `json:"failType"`
}

func (p *FailedPacket) Type() string    { return TypeFailed }
func (p *FailedPacket) Header() *Header { return &p.Head }

// RoomPacket announces room membership to the clients in it.
type RoomPacket struct {
	_msgpack      struct{} `msgpack:",as_array"`
	Head          Header   `json:"head"`
	RoomID        string   `json:"roomId"`
	ConnectionIDs []string `json:"connectionIds"`
	MaxCapacity   int      `json:"maxCapacity"`
}

func (p *RoomPacket) Type() string    { return TypeRoom }
func (p *RoomPacket) Header() *Header { return &p.Head }

// InterprocessPacket wraps another encoded packet for transit between
// processes. ProcessID identifies the publisher so subscribers can discard
// their own messages.
type InterprocessPacket struct {
	_msgpack  struct{} `msgpack:",as_array"`
	Head      Header   `json:"head"`
	ProcessID string   `json:"processId"`
	Inner     []byte   `json:"inner"`
}

// NewInterprocessPacket wraps an already-encoded packet for the bridge.
func NewInterprocessPacket(processID string, inner []byte) *InterprocessPacket {
	return &InterprocessPacket{
		Head:      NewHeader(SenderServer, ""),
		ProcessID: processID,
		Inner:     inner,
	}
}

func (p *InterprocessPacket) Type() string    { return TypeInterprocess }
func (p *InterprocessPacket) Header() *Header { return &p.Head }

// MoveIntentPacket reports the client's desired velocity. The movement job
// integrates it into a position on the server tick.
type MoveIntentPacket struct {
	_msgpack  struct{} `msgpack:",as_array"`
	Head      Header   `json:"head"`
	VelocityX float64  `json:"velocityX"`
	VelocityY float64  `json:"velocityY"`
}

func (p *MoveIntentPacket) Type() string    { return TypeMoveIntent }
func (p *MoveIntentPacket) Header() *Header { return &p.Head }

// PingPacket keeps a connection's activity clock fresh.
type PingPacket struct {
	_msgpack struct{} `msgpack:",as_array"`
	Head     Header   `json:"head"`
}

func (p *PingPacket) Type() string    { return TypePing }
func (p *PingPacket) Header() *Header { return &p.Head }

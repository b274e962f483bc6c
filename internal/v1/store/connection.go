package store

import (
	"sync"
	"time"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

// Sink is the write side of a live transport connection. The transport layer
// binds one when a client attaches; connections rehydrated from the shared
// tier carry none, which is how senders recognize a remote client.
type Sink interface {
	// Write queues an encoded frame for delivery. It must not block on the
	// peer; slow consumers are the transport's problem.
	Write(data []byte) error
	// Close tears the transport connection down.
	Close()
}

// Connection tracks one client across its lifecycle. ID, Transport and
// AuthDetails are fixed at creation; state and activity mutate under an
// internal lock so transports and tick jobs can touch them concurrently.
type Connection struct {
	ID          types.ConnectionID
	Transport   types.TransportKind
	AuthDetails map[string]string

	mu           sync.RWMutex
	state        types.ConnectionState
	lastActivity time.Time
	connected    bool
	sink         Sink
}

// NewConnection builds a locally-attached connection around a live sink.
func NewConnection(id types.ConnectionID, transport types.TransportKind, sink Sink) *Connection {
	return &Connection{
		ID:           id,
		Transport:    transport,
		AuthDetails:  make(map[string]string),
		state:        types.StateConnected,
		lastActivity: time.Now(),
		connected:    true,
		sink:         sink,
	}
}

// Attached reports whether this process holds the live transport for the
// client. False means the connection is remote or already torn down, and
// delivery must go through the bridge.
func (c *Connection) Attached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.sink != nil
}

// Write hands an encoded frame to the bound sink.
func (c *Connection) Write(data []byte) error {
	c.mu.RLock()
	sink := c.sink
	connected := c.connected
	c.mu.RUnlock()

	if !connected || sink == nil {
		return ErrNotAttached
	}
	return sink.Write(data)
}

// CloseSink tears down the bound transport, if any.
func (c *Connection) CloseSink() {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink != nil {
		sink.Close()
	}
}

// State returns the lifecycle state.
func (c *Connection) State() types.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState moves the connection between lifecycle states.
func (c *Connection) SetState(s types.ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connected reports whether the transport considers this connection live.
func (c *Connection) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// MarkDisconnected flags the connection dead without removing it, so the
// cleanup sweep can reap it even if the disconnect path was interrupted.
func (c *Connection) MarkDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Touch refreshes the activity clock.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent inbound traffic.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

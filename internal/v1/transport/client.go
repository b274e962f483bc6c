package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error) // Read the next message from the connection
	WriteMessage(messageType int, data []byte) error     // Write a message to the connection
	Close() error                                        // Close the connection
	SetWriteDeadline(t time.Time) error
}

// writeWait bounds how long a single frame write may block.
const writeWait = 10 * time.Second

// sendBuffer is the outbound channel depth per client. A client that cannot
// drain this many frames is dropped rather than allowed to stall the sender.
const sendBuffer = 256

// ErrSendBufferFull is returned when a client's outbound buffer is saturated.
var ErrSendBufferFull = errors.New("client send buffer full")

// Client pumps frames between one WebSocket connection and the runtime. It
// is the store's Sink for this connection: the router writes encoded frames
// through Write, the read pump decodes inbound frames and hands them to the
// portal's dispatcher.
type Client struct {
	id         types.ConnectionID
	conn       wsConnection
	codec      packet.Codec
	dispatcher types.Dispatcher
	onClose    func(id types.ConnectionID)
	touch      func(id types.ConnectionID)

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	send chan []byte
}

func newClient(id types.ConnectionID, conn wsConnection, codec packet.Codec, dispatcher types.Dispatcher) *Client {
	return &Client{
		id:         id,
		conn:       conn,
		codec:      codec,
		dispatcher: dispatcher,
		send:       make(chan []byte, sendBuffer),
	}
}

// ID returns the connection id assigned at accept time.
func (c *Client) ID() types.ConnectionID {
	return c.id
}

// Write queues an encoded frame for the write pump. It never blocks on the
// peer; a saturated buffer fails the send instead.
func (c *Client) Write(data []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return errors.New("client closed")
	}
	c.mu.RUnlock()

	// The channel may close between the check and the send.
	defer func() {
		if r := recover(); r != nil {
			logging.GetLogger().Debug("Write raced client close", zap.String("clientId", string(c.id)))
		}
	}()

	select {
	case c.send <- data:
		return nil
	default:
		logging.Warn(context.Background(), "Client send buffer full, dropping frame",
			zap.String("clientId", string(c.id)))
		return ErrSendBufferFull
	}
}

// Close tears the connection down. Closing the send channel makes the write
// pump drain its buffer, send a close frame, and close the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
	})
}

// readPump processes inbound frames until the connection dies. A frame that
// does not decode is logged and dropped; the connection stays open.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		c.Close()
		if c.onClose != nil {
			c.onClose(c.id)
		}
	}()

	ctx := logging.WithConnectionID(context.Background(), string(c.id))
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}

		pkt, err := c.codec.Decode(data)
		if err != nil {
			logging.Warn(ctx, "Dropping undecodable frame", zap.Error(err))
			continue
		}

		if c.touch != nil {
			c.touch(c.id)
		}
		c.dispatcher.Dispatch(ctx, c.id, pkt)
	}
}

// writePump serializes frame writes to the socket. It owns the connection's
// write side; nothing else may call WriteMessage.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message",
				zap.String("clientId", string(c.id)), zap.Error(err))
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Package transport accepts client connections and pumps packets between
// the wire and the runtime. Each accepted WebSocket becomes a store
// connection whose sink is the client's write pump; inbound frames decode
// through the configured codec and dispatch into the portal serving the
// request path.
package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/portal"
	"github.com/altruist-engine/altruist/internal/v1/ratelimit"
	"github.com/altruist-engine/altruist/internal/v1/store"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

// Endpoint serves the WebSocket accept path for every registered portal.
type Endpoint struct {
	store          *store.Store
	portals        *portal.Registry
	codec          packet.Codec
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string

	mu           sync.Mutex
	onDisconnect []func(ctx context.Context, id types.ConnectionID)
}

// NewEndpoint wires the accept path. rateLimiter may be nil to disable the
// accept budget (tests, trusted networks).
func NewEndpoint(st *store.Store, portals *portal.Registry, codec packet.Codec, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string) *Endpoint {
	return &Endpoint{
		store:          st,
		portals:        portals,
		codec:          codec,
		rateLimiter:    rateLimiter,
		allowedOrigins: allowedOrigins,
	}
}

// OnDisconnect registers a hook run after a connection leaves the store.
// Registration is a startup-time call.
func (e *Endpoint) OnDisconnect(fn func(ctx context.Context, id types.ConnectionID)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDisconnect = append(e.onDisconnect, fn)
}

// ServeWS upgrades an HTTP request on /ws/:portal into a live connection.
// The handshake assigns the connection id and reports it to the client
// before any other traffic.
func (e *Endpoint) ServeWS(c *gin.Context) {
	if e.rateLimiter != nil && !e.rateLimiter.CheckAccept(c) {
		return // response already written
	}

	portalPath := c.Param("portal")
	p, ok := e.portals.Get(portalPath)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown portal"})
		return
	}

	if err := validateOrigin(c.Request, e.allowedOrigins); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	conn, err := e.upgrade(c)
	if err != nil {
		return
	}

	e.HandleConnection(c.Request.Context(), conn, p)
}

// HandleConnection registers an accepted transport connection and starts its
// pumps. Split from ServeWS so tests can drive it with a fake connection.
func (e *Endpoint) HandleConnection(ctx context.Context, conn wsConnection, p *portal.Portal) *Client {
	id := types.ConnectionID(uuid.NewString())
	client := newClient(id, conn, e.codec, p)
	client.touch = e.store.Touch
	client.onClose = func(id types.ConnectionID) {
		// Hooks run before the store removal so they can still see the
		// connection's room and announce the departure.
		e.mu.Lock()
		hooks := make([]func(ctx context.Context, id types.ConnectionID), len(e.onDisconnect))
		copy(hooks, e.onDisconnect)
		e.mu.Unlock()
		for _, fn := range hooks {
			fn(context.Background(), id)
		}
		e.store.Remove(context.Background(), id)
		metrics.DecConnection()
	}

	e.store.Add(ctx, store.NewConnection(id, types.TransportWebSocket, client))
	metrics.IncConnection()

	logging.Info(ctx, "Connection accepted",
		zap.String("connection_id", string(id)),
		zap.String("portal", p.Path()))

	go client.writePump()
	go client.readPump()

	e.sendHandshake(ctx, client)
	return client
}

// sendHandshake tells the client its assigned id. It is the first frame on
// every connection.
func (e *Endpoint) sendHandshake(ctx context.Context, client *Client) {
	handshake := &packet.HandshakePacket{
		Head:         packet.NewHeader(packet.SenderServer, string(client.ID())),
		ConnectionID: string(client.ID()),
	}
	data, err := e.codec.Encode(handshake)
	if err != nil {
		logging.Error(ctx, "Failed to encode handshake", zap.Error(err))
		return
	}
	if err := client.Write(data); err != nil {
		logging.Warn(ctx, "Failed to queue handshake",
			zap.String("connection_id", string(client.ID())), zap.Error(err))
	}
}

// upgrade performs the WebSocket upgrade.
func (e *Endpoint) upgrade(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, e.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

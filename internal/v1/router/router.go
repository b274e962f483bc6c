// Package router delivers packets to clients. ClientSender is the base
// primitive every other sender delegates to: it resolves the target through
// the store and either writes to the local transport or hands the packet to
// the inter-process bridge. RoomSender, BroadcastSender and RegionSender fan
// out over it, EngineSender defers it onto the tick engine, and
// Synchronizator turns entity deltas into per-client sync packets.
package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"

	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/store"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

// ErrClientNotFound is returned when the target connection id is unknown to
// both the local store and the shared tier.
var ErrClientNotFound = errors.New("client not found")

// Publisher forwards packets destined for clients attached to another
// process. The bridge satisfies it; a nil Publisher means the server runs
// single-process and remote targets are unreachable.
type Publisher interface {
	Publish(ctx context.Context, pkt packet.Packet) error
}

// ClientSender delivers one packet to one client.
type ClientSender struct {
	store  *store.Store
	codec  packet.Codec
	bridge Publisher
}

// NewClientSender builds the base sender. bridge may be nil for
// single-process deployments.
func NewClientSender(st *store.Store, codec packet.Codec, bridge Publisher) *ClientSender {
	return &ClientSender{store: st, codec: codec, bridge: bridge}
}

// Send stamps the client id into the receiver header, then delivers: a
// locally attached client gets the encoded frame on its transport, anything
// else goes through the bridge. The header mutation means one packet must
// not be shared across concurrent sends.
func (s *ClientSender) Send(ctx context.Context, clientID types.ConnectionID, pkt packet.Packet) error {
	pkt.Header().Receiver = string(clientID)

	conn, ok := s.store.Get(ctx, clientID)
	if !ok {
		metrics.PacketsSent.WithLabelValues("local", "unknown_client").Inc()
		return fmt.Errorf("send %s to %s: %w", pkt.Type(), clientID, ErrClientNotFound)
	}

	if conn.Attached() {
		data, err := s.codec.Encode(pkt)
		if err != nil {
			metrics.PacketsSent.WithLabelValues("local", "encode_error").Inc()
			return fmt.Errorf("encode %s packet: %w", pkt.Type(), err)
		}
		if err := conn.Write(data); err != nil {
			metrics.PacketsSent.WithLabelValues("local", "write_error").Inc()
			return fmt.Errorf("write %s to %s: %w", pkt.Type(), clientID, err)
		}
		metrics.PacketsSent.WithLabelValues("local", "ok").Inc()
		return nil
	}

	if s.bridge == nil {
		metrics.PacketsSent.WithLabelValues("bridge", "unavailable").Inc()
		return fmt.Errorf("send %s to %s: %w", pkt.Type(), clientID, store.ErrNotAttached)
	}
	if err := s.bridge.Publish(ctx, pkt); err != nil {
		metrics.PacketsSent.WithLabelValues("bridge", "error").Inc()
		return fmt.Errorf("bridge %s to %s: %w", pkt.Type(), clientID, err)
	}
	metrics.PacketsSent.WithLabelValues("bridge", "ok").Inc()
	return nil
}

// DeliverLocal hands a packet that arrived over the bridge to its locally
// attached target. Unattached targets are dropped rather than re-bridged so
// two processes can never bounce the same frame between each other.
func (s *ClientSender) DeliverLocal(ctx context.Context, pkt packet.Packet) {
	clientID := types.ConnectionID(pkt.Header().Receiver)

	conn, ok := s.store.Get(ctx, clientID)
	if !ok || !conn.Attached() {
		metrics.PacketsSent.WithLabelValues("local", "dropped").Inc()
		logging.Debug(ctx, "Dropping bridged packet for unattached client",
			zap.String("packetType", pkt.Type()),
			zap.String("clientId", string(clientID)))
		return
	}

	data, err := s.codec.Encode(pkt)
	if err != nil {
		metrics.PacketsSent.WithLabelValues("local", "encode_error").Inc()
		logging.Error(ctx, "Failed to encode bridged packet",
			zap.String("packetType", pkt.Type()),
			zap.String("clientId", string(clientID)),
			zap.Error(err))
		return
	}
	if err := conn.Write(data); err != nil {
		metrics.PacketsSent.WithLabelValues("local", "write_error").Inc()
		logging.Warn(ctx, "Failed to write bridged packet",
			zap.String("packetType", pkt.Type()),
			zap.String("clientId", string(clientID)),
			zap.Error(err))
		return
	}
	metrics.PacketsSent.WithLabelValues("local", "ok").Inc()
}

// TaskEnqueuer is the slice of the tick engine the router needs for
// deferred sends.
type TaskEnqueuer interface {
	SendTask(taskID string, fn func(context.Context))
}

// EngineSender routes sends through the tick engine instead of delivering
// inline. Repeated sends to the same client with the same packet type within
// one tick collapse to the latest packet, and new sends are dropped while a
// previous delivery for the same key is still running.
type EngineSender struct {
	clients *ClientSender
	engine  TaskEnqueuer
}

// NewEngineSender builds the engine-routed sender.
func NewEngineSender(clients *ClientSender, engine TaskEnqueuer) *EngineSender {
	return &EngineSender{clients: clients, engine: engine}
}

// Send enqueues the delivery as a dynamic engine task keyed by client id and
// packet type. The receiver header is stamped when the task runs, so the
// packet must not be reused for other targets in the meantime.
func (s *EngineSender) Send(clientID types.ConnectionID, pkt packet.Packet) {
	s.engine.SendTask(taskKey(clientID, pkt.Type()), func(ctx context.Context) {
		if err := s.clients.Send(ctx, clientID, pkt); err != nil {
			logging.Warn(ctx, "Engine-routed send failed",
				zap.String("packetType", pkt.Type()),
				zap.String("clientId", string(clientID)),
				zap.Error(err))
		}
	})
}

func taskKey(clientID types.ConnectionID, packetType string) string {
	h := fnv.New64a()
	h.Write([]byte(clientID))
	h.Write([]byte(packetType))
	return "send:" + strconv.FormatUint(h.Sum64(), 16)
}

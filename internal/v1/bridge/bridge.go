// Package bridge ferries packets between processes serving one logical
// game. Outbound packets for clients attached elsewhere go onto a shared
// list; a wake notification tells every process to drain it. A process
// discards messages it originated and delivers the rest to its own clients.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/bus"
	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
	"github.com/altruist-engine/altruist/internal/v1/packet"
)

// DefaultMaxPending bounds the local buffer used while the shared
// infrastructure is unreachable.
const DefaultMaxPending = 1024

// Deliverer hands an inbound packet to the local delivery path. It must
// never route back through the bridge.
type Deliverer interface {
	DeliverLocal(ctx context.Context, pkt packet.Packet)
}

// Bridge is the inter-process message plane.
type Bridge struct {
	bus           *bus.Service
	codec         packet.Codec
	processID     string
	queueName     string
	notifyChannel string

	mu         sync.Mutex
	deliverer  Deliverer
	pending    [][]byte
	maxPending int
}

// New wires a bridge to the shared list and wake channel. The deliverer is
// attached separately because the local routing layer is built on top of
// the bridge.
func New(busService *bus.Service, codec packet.Codec, processID, queueName, notifyChannel string) (*Bridge, error) {
	if busService == nil {
		return nil, fmt.Errorf("bridge requires shared infrastructure")
	}
	if codec == nil {
		return nil, fmt.Errorf("bridge requires a codec")
	}
	if processID == "" || queueName == "" || notifyChannel == "" {
		return nil, fmt.Errorf("bridge requires process id, queue name and notify channel")
	}
	return &Bridge{
		bus:           busService,
		codec:         codec,
		processID:     processID,
		queueName:     queueName,
		notifyChannel: notifyChannel,
		maxPending:    DefaultMaxPending,
	}, nil
}

// SetDeliverer attaches the local delivery path. Inbound frames arriving
// before this are dropped.
func (b *Bridge) SetDeliverer(d Deliverer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverer = d
}

// ProcessID returns the identity stamped on outbound messages.
func (b *Bridge) ProcessID() string { return b.processID }

// Publish wraps a packet for another process and pushes it onto the shared
// list, then wakes the subscribers. While the shared infrastructure is
// down, frames land in the bounded pending buffer instead.
func (b *Bridge) Publish(ctx context.Context, pkt packet.Packet) error {
	inner, err := b.codec.Encode(pkt)
	if err != nil {
		return fmt.Errorf("encode inner packet: %w", err)
	}
	wrapped := packet.NewInterprocessPacket(b.processID, inner)
	frame, err := b.codec.Encode(wrapped)
	if err != nil {
		return fmt.Errorf("encode interprocess packet: %w", err)
	}

	// Frames queued behind an existing backlog keep their order; pushing
	// them directly would overtake the buffered ones.
	b.mu.Lock()
	backlog := len(b.pending) > 0
	b.mu.Unlock()
	if backlog {
		b.buffer(frame)
		return nil
	}

	if err := b.bus.ListLeftPush(ctx, b.queueName, frame); err != nil {
		logging.Warn(ctx, "Shared list unreachable, buffering bridge message",
			zap.String("packet_type", pkt.Type()),
			zap.Error(err),
		)
		b.buffer(frame)
		return nil
	}

	// The wake is best-effort; subscribers also drain on their own startup
	// and recovery.
	if err := b.bus.Publish(ctx, b.notifyChannel, nil); err != nil {
		logging.Warn(ctx, "Bridge wake notification failed", zap.Error(err))
	}
	metrics.BridgeMessages.WithLabelValues("outbound", "sent").Inc()
	return nil
}

func (b *Bridge) buffer(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.maxPending {
		b.pending = b.pending[1:]
		metrics.BridgeMessages.WithLabelValues("outbound", "dropped").Inc()
	}
	b.pending = append(b.pending, frame)
	metrics.BridgeMessages.WithLabelValues("outbound", "buffered").Inc()
	metrics.BridgePending.Set(float64(len(b.pending)))
}

// PendingCount reports frames waiting for the shared list to return.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush replays the pending buffer in order. On a mid-flush failure the
// unsent remainder stays buffered, oldest first.
func (b *Bridge) Flush(ctx context.Context) error {
	b.mu.Lock()
	backlog := b.pending
	b.pending = nil
	b.mu.Unlock()
	if len(backlog) == 0 {
		return nil
	}

	for i, frame := range backlog {
		if err := b.bus.ListLeftPush(ctx, b.queueName, frame); err != nil {
			b.mu.Lock()
			b.pending = append(backlog[i:], b.pending...)
			metrics.BridgePending.Set(float64(len(b.pending)))
			b.mu.Unlock()
			return fmt.Errorf("flush stalled after %d of %d frames: %w", i, len(backlog), err)
		}
		metrics.BridgeMessages.WithLabelValues("outbound", "sent").Inc()
	}
	metrics.BridgePending.Set(0)

	if err := b.bus.Publish(ctx, b.notifyChannel, nil); err != nil {
		logging.Warn(ctx, "Bridge wake notification failed after flush", zap.Error(err))
	}
	logging.Info(ctx, "Bridge pending buffer flushed", zap.Int("frames", len(backlog)))
	return nil
}

// Recover is the readiness recovery action: replay what was buffered during
// the outage, then drain whatever accumulated on the shared list while the
// wake notifications were missed.
func (b *Bridge) Recover(ctx context.Context) error {
	if err := b.Flush(ctx); err != nil {
		return err
	}
	b.drain(ctx)
	return nil
}

// Start subscribes to the wake channel and performs the startup drain.
func (b *Bridge) Start(ctx context.Context, wg *sync.WaitGroup) {
	b.bus.Subscribe(ctx, b.notifyChannel, wg, func(_ []byte) {
		b.drain(ctx)
	})
	b.drain(ctx)
}

// drain right-pops the shared list until it is empty. Wakes arrive on one
// subscription goroutine, so drains never overlap within a process.
func (b *Bridge) drain(ctx context.Context) {
	for {
		frame, err := b.bus.ListRightPop(ctx, b.queueName)
		if err != nil {
			logging.Warn(ctx, "Bridge drain interrupted", zap.Error(err))
			return
		}
		if frame == nil {
			return
		}
		b.handleFrame(ctx, frame)
	}
}

func (b *Bridge) handleFrame(ctx context.Context, frame []byte) {
	pkt, err := b.codec.Decode(frame)
	if err != nil {
		logging.Warn(ctx, "Bridge frame did not decode", zap.Error(err))
		metrics.BridgeMessages.WithLabelValues("inbound", "decode_error").Inc()
		return
	}
	wrapped, ok := pkt.(*packet.InterprocessPacket)
	if !ok {
		logging.Warn(ctx, "Bridge frame is not an interprocess packet",
			zap.String("packet_type", pkt.Type()),
		)
		metrics.BridgeMessages.WithLabelValues("inbound", "decode_error").Inc()
		return
	}

	// Own messages come back around on the shared list; discard them.
	if wrapped.ProcessID == b.processID {
		metrics.BridgeMessages.WithLabelValues("inbound", "loopback").Inc()
		return
	}

	inner, err := b.codec.Decode(wrapped.Inner)
	if err != nil {
		logging.Warn(ctx, "Bridge inner packet did not decode",
			zap.String("origin_process", wrapped.ProcessID),
			zap.Error(err),
		)
		metrics.BridgeMessages.WithLabelValues("inbound", "decode_error").Inc()
		return
	}

	b.mu.Lock()
	deliverer := b.deliverer
	b.mu.Unlock()
	if deliverer == nil {
		metrics.BridgeMessages.WithLabelValues("inbound", "dropped").Inc()
		return
	}
	deliverer.DeliverLocal(ctx, inner)
	metrics.BridgeMessages.WithLabelValues("inbound", "delivered").Inc()
}

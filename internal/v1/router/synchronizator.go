package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/delta"
	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/store"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

// TickSource reports the engine's current tick so frequency-gated fields
// sync on the right beat.
type TickSource interface {
	CurrentTick() int64
}

// Synchronizator publishes entity state changes. Each connected client has
// its own delta context inside the sync engine, so a freshly joined client
// receives the full field set while long-watching clients only see what
// moved since their last packet.
type Synchronizator struct {
	deltas  *delta.Engine
	store   *store.Store
	clients *ClientSender
	ticks   TickSource
}

// NewSynchronizator wires the delta engine, store and base sender together.
func NewSynchronizator(deltas *delta.Engine, st *store.Store, clients *ClientSender, ticks TickSource) *Synchronizator {
	return &Synchronizator{deltas: deltas, store: st, clients: clients, ticks: ticks}
}

// Send scans the entity against every client in the two-tier registry and
// delivers a SyncPacket to each one whose view changed; viewers hosted by
// sibling processes get theirs through the bridge. Clients with an empty
// change mask are skipped without a packet. forceAll emits every synced
// field regardless of diff state, which is how observers get full snapshots.
func (s *Synchronizator) Send(ctx context.Context, entity delta.Entity, forceAll bool) {
	tick := s.ticks.CurrentTick()

	for _, id := range s.store.AllKnownIDs(ctx) {
		mask, changed := s.deltas.ChangedData(entity, id, tick, forceAll)
		if !mask.Any() {
			continue
		}

		// changed is reused on this viewer's next scan; Send encodes it
		// before returning, so handing the reference over is safe.
		pkt := &packet.SyncPacket{
			Head:       packet.NewHeader(packet.SenderServer, string(id)),
			EntityType: entity.EntityType(),
			EntityID:   string(entity.ConnectionID()),
			Data:       changed,
		}
		if err := s.clients.Send(ctx, id, pkt); err != nil {
			logging.Warn(ctx, "Sync delivery failed",
				zap.String("entityType", entity.EntityType()),
				zap.String("clientId", string(id)),
				zap.Error(err))
			continue
		}
		metrics.SyncEmitted.WithLabelValues(entity.EntityType()).Inc()
	}
}

// ForgetViewer drops a disconnected client's delta contexts so a later
// reconnect under the same id starts from a clean baseline.
func (s *Synchronizator) ForgetViewer(id types.ConnectionID) {
	s.deltas.ForgetViewer(id)
}

package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"k8s.io/utils/set"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/store"
	"github.com/altruist-engine/altruist/internal/v1/types"
	"github.com/altruist-engine/altruist/internal/v1/world"
)

// RoomSender fans a packet out to every member of a room.
type RoomSender struct {
	store   *store.Store
	clients *ClientSender
}

// NewRoomSender builds a room-cast sender over the base client sender.
func NewRoomSender(st *store.Store, clients *ClientSender) *RoomSender {
	return &RoomSender{store: st, clients: clients}
}

// Send delivers the packet to every current member of the room, each with
// its own id stamped in the receiver header. Individual delivery failures
// are logged and skipped so one dead client cannot block the fan-out.
func (s *RoomSender) Send(ctx context.Context, roomID types.RoomID, pkt packet.Packet) error {
	room, ok := s.store.GetRoom(ctx, roomID)
	if !ok {
		return fmt.Errorf("room-cast %s: %w", roomID, store.ErrRoomNotFound)
	}

	for _, id := range room.Members() {
		if err := s.clients.Send(ctx, id, pkt); err != nil {
			logging.Warn(ctx, "Room-cast delivery failed",
				zap.String("roomId", string(roomID)),
				zap.String("clientId", string(id)),
				zap.String("packetType", pkt.Type()),
				zap.Error(err))
		}
	}
	return nil
}

// BroadcastSender delivers a packet to every known connection.
type BroadcastSender struct {
	store   *store.Store
	clients *ClientSender
}

// NewBroadcastSender builds a broadcast sender over the base client sender.
func NewBroadcastSender(st *store.Store, clients *ClientSender) *BroadcastSender {
	return &BroadcastSender{store: st, clients: clients}
}

// Send delivers the packet to every connection in the two-tier registry
// except excludeID, bridging the ones hosted by sibling processes. Pass an
// empty exclude id to reach everyone. Delivery failures are logged and
// skipped.
func (s *BroadcastSender) Send(ctx context.Context, pkt packet.Packet, excludeID types.ConnectionID) {
	for _, id := range s.store.AllKnownIDs(ctx) {
		if id == excludeID {
			continue
		}
		if err := s.clients.Send(ctx, id, pkt); err != nil {
			logging.Warn(ctx, "Broadcast delivery failed",
				zap.String("clientId", string(id)),
				zap.String("packetType", pkt.Type()),
				zap.Error(err))
		}
	}
}

// RegionSender delivers a packet to the clients observing a patch of a
// world. Observers are the union of the receiver sets of every matched
// object, so a client watching several objects in the region still gets the
// packet exactly once.
type RegionSender struct {
	worlds  *world.Coordinator
	clients *ClientSender
}

// NewRegionSender builds a region-cast sender over the spatial coordinator.
func NewRegionSender(worlds *world.Coordinator, clients *ClientSender) *RegionSender {
	return &RegionSender{worlds: worlds, clients: clients}
}

// Send queries the world for objects of objType within radius of (x, y) in
// the given room and delivers the packet to each observing client once.
func (s *RegionSender) Send(ctx context.Context, worldIndex types.WorldIndex, objType string, x, y, radius float64, roomID types.RoomID, pkt packet.Packet) error {
	m, ok := s.worlds.World(worldIndex)
	if !ok {
		return fmt.Errorf("region-cast: world %d not registered", worldIndex)
	}

	targets := set.New[types.ConnectionID]()
	for _, obj := range m.Query(objType, x, y, radius, roomID) {
		targets.Insert(obj.ReceiverClientIDs.UnsortedList()...)
	}

	for _, id := range targets.SortedList() {
		if err := s.clients.Send(ctx, id, pkt); err != nil {
			logging.Warn(ctx, "Region-cast delivery failed",
				zap.Int("worldIndex", int(worldIndex)),
				zap.String("clientId", string(id)),
				zap.String("packetType", pkt.Type()),
				zap.Error(err))
		}
	}
	return nil
}

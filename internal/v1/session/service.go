// Package session implements the built-in portal every game server carries:
// joining and leaving rooms, and the liveness ping. Game-specific gates hang
// off the same portal; this package owns only the lifecycle ones.
package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/portal"
	"github.com/altruist-engine/altruist/internal/v1/router"
	"github.com/altruist-engine/altruist/internal/v1/store"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

// Service carries the room lifecycle handlers.
type Service struct {
	store   *store.Store
	clients *router.ClientSender
	rooms   *router.RoomSender

	// Optional hooks, set before any traffic. Joined runs after a client
	// lands in a room; Left after it is removed from one.
	Joined func(ctx context.Context, clientID types.ConnectionID, roomID types.RoomID)
	Left   func(ctx context.Context, clientID types.ConnectionID, roomID types.RoomID)
}

// NewService wires the lifecycle handlers to the store and senders.
func NewService(st *store.Store, clients *router.ClientSender, rooms *router.RoomSender) *Service {
	return &Service{store: st, clients: clients, rooms: rooms}
}

// Register binds the lifecycle gates onto a portal.
func (s *Service) Register(p *portal.Portal) error {
	if err := p.Gate(packet.TypeJoinGame, s.HandleJoin); err != nil {
		return err
	}
	if err := p.Gate(packet.TypeLeaveGame, s.HandleLeave); err != nil {
		return err
	}
	if err := p.Gate(packet.TypePing, s.HandlePing); err != nil {
		return err
	}
	return nil
}

// HandleJoin places the client in a room. An explicit room id must name an
// existing room with free capacity; without one the server reuses any room
// with space or creates a fresh one. The room hears a membership update, the
// client gets a success acknowledgement.
func (s *Service) HandleJoin(ctx context.Context, pkt packet.Packet, clientID types.ConnectionID) error {
	join, ok := pkt.(*packet.JoinGamePacket)
	if !ok {
		return fmt.Errorf("join gate received %s", pkt.Type())
	}

	var room *store.Room
	if join.RoomID != "" {
		requested, found := s.store.GetRoom(ctx, types.RoomID(join.RoomID))
		if !found {
			return fmt.Errorf("join room %s: %w", join.RoomID, store.ErrRoomNotFound)
		}
		room = requested
	} else {
		if available, found := s.store.FindAvailableRoom(); found {
			room = available
		} else {
			room = s.store.CreateRoom(ctx, 0)
		}
	}

	if err := s.store.AddClientToRoom(ctx, room.ID, clientID); err != nil {
		return fmt.Errorf("join room %s: %w", room.ID, err)
	}

	ctx = logging.WithRoomID(ctx, string(room.ID))
	s.announceRoom(ctx, room)

	ack := &packet.SuccessPacket{
		Head:        packet.NewHeader(packet.SenderServer, string(clientID)),
		Message:     string(room.ID),
		SuccessType: packet.TypeJoinGame,
	}
	if err := s.clients.Send(ctx, clientID, ack); err != nil {
		logging.Warn(ctx, "Join acknowledgement not delivered", zap.Error(err))
	}

	if s.Joined != nil {
		s.Joined(ctx, clientID, room.ID)
	}
	return nil
}

// HandleLeave removes the client from its room. A roomless client leaving is
// a no-op, not an error; clients disconnect and retry.
func (s *Service) HandleLeave(ctx context.Context, pkt packet.Packet, clientID types.ConnectionID) error {
	if _, ok := pkt.(*packet.LeaveGamePacket); !ok {
		return fmt.Errorf("leave gate received %s", pkt.Type())
	}

	roomID, left := s.store.RemoveClientFromRoom(ctx, clientID)
	if !left {
		return nil
	}

	ctx = logging.WithRoomID(ctx, string(roomID))
	if room, ok := s.store.GetRoom(ctx, roomID); ok {
		s.announceRoom(ctx, room)
	}

	if s.Left != nil {
		s.Left(ctx, clientID, roomID)
	}
	return nil
}

// HandlePing refreshes the client's activity clock so the cleanup sweep
// leaves it alone.
func (s *Service) HandlePing(_ context.Context, pkt packet.Packet, clientID types.ConnectionID) error {
	if _, ok := pkt.(*packet.PingPacket); !ok {
		return fmt.Errorf("ping gate received %s", pkt.Type())
	}
	s.store.Touch(clientID)
	return nil
}

// Disconnected is the transport's disconnect hook: tear the client out of
// its room and tell the remaining members. The store itself already dropped
// the connection.
func (s *Service) Disconnected(ctx context.Context, clientID types.ConnectionID) {
	roomID, left := s.store.RemoveClientFromRoom(ctx, clientID)
	if !left {
		return
	}
	ctx = logging.WithRoomID(ctx, string(roomID))
	if room, ok := s.store.GetRoom(ctx, roomID); ok {
		s.announceRoom(ctx, room)
	}
	if s.Left != nil {
		s.Left(ctx, clientID, roomID)
	}
}

// announceRoom room-casts the current membership.
func (s *Service) announceRoom(ctx context.Context, room *store.Room) {
	members := room.Members()
	ids := make([]string, 0, len(members))
	for _, id := range members {
		ids = append(ids, string(id))
	}

	update := &packet.RoomPacket{
		Head:          packet.NewHeader(packet.SenderServer, ""),
		RoomID:        string(room.ID),
		ConnectionIDs: ids,
		MaxCapacity:   room.MaxCapacity,
	}
	if err := s.rooms.Send(ctx, room.ID, update); err != nil {
		logging.Warn(ctx, "Room announcement failed",
			zap.String("roomId", string(room.ID)),
			zap.Error(err))
	}
}

// Package store is the two-tier registry of connections and rooms. The local
// maps are authoritative for clients attached to this process; every mutation
// is written through to the shared tier so sibling processes can resolve
// clients they do not host. Reads try local state first and fall back to
// rehydrating metadata from the shared tier.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

var (
	// ErrRoomNotFound is returned when an operation names a room that exists
	// in neither tier.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull is returned when a join would exceed the room's capacity.
	ErrRoomFull = errors.New("room is at capacity")
	// ErrNotAttached is returned when writing to a connection whose transport
	// lives on another process.
	ErrNotAttached = errors.New("connection has no local transport")
)

// Store holds every connection and room known to this process.
type Store struct {
	mu               sync.RWMutex
	connections      map[types.ConnectionID]*Connection
	rooms            map[types.RoomID]*Room
	roomByConnection map[types.ConnectionID]types.RoomID

	defaultCapacity int
	shared          *sharedTier
}

// New builds a Store. bus may be nil for single-process deployments; the
// shared tier is then skipped entirely.
func New(defaultCapacity int, bus types.Bus, processID string) *Store {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultRoomCapacity
	}
	return &Store{
		connections:      make(map[types.ConnectionID]*Connection),
		rooms:            make(map[types.RoomID]*Room),
		roomByConnection: make(map[types.ConnectionID]types.RoomID),
		defaultCapacity:  defaultCapacity,
		shared:           newSharedTier(bus, processID),
	}
}

// Add registers a connection, optionally joining it to a room in the same
// call. It returns false when the requested room rejects the join; the
// connection itself is registered either way.
func (s *Store) Add(ctx context.Context, conn *Connection, roomID ...types.RoomID) bool {
	s.mu.Lock()
	if old, exists := s.connections[conn.ID]; exists && old != conn {
		logging.Warn(ctx, "replacing existing connection", zap.String("connection_id", string(conn.ID)))
		old.MarkDisconnected()
	}
	s.connections[conn.ID] = conn
	s.mu.Unlock()

	if err := s.shared.saveConnection(ctx, conn); err != nil {
		logging.Warn(ctx, "shared tier write failed for connection", zap.Error(err))
	}

	logging.Info(ctx, "connection added",
		zap.String("connection_id", string(conn.ID)),
		zap.String("transport", string(conn.Transport)))

	if len(roomID) > 0 && roomID[0] != "" {
		if err := s.AddClientToRoom(ctx, roomID[0], conn.ID); err != nil {
			logging.Warn(ctx, "could not join room during add",
				zap.String("connection_id", string(conn.ID)),
				zap.String("room_id", string(roomID[0])),
				zap.Error(err))
			return false
		}
	}
	return true
}

// Remove unregisters a connection and detaches it from its room. Rooms left
// empty are deleted in the same pass.
func (s *Store) Remove(ctx context.Context, id types.ConnectionID) {
	s.mu.Lock()
	conn, ok := s.connections[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.connections, id)

	roomID, inRoom := s.roomByConnection[id]
	var roomDeleted bool
	if inRoom {
		delete(s.roomByConnection, id)
		if room, found := s.rooms[roomID]; found {
			room.remove(id)
			if room.Len() == 0 {
				delete(s.rooms, roomID)
				roomDeleted = true
			} else {
				metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(room.Len()))
			}
		}
	}
	s.mu.Unlock()

	conn.MarkDisconnected()

	if inRoom {
		if err := s.shared.removeRoomMember(ctx, roomID, id); err != nil {
			logging.Warn(ctx, "shared tier member removal failed", zap.Error(err))
		}
		if roomDeleted {
			if err := s.shared.deleteRoom(ctx, roomID); err != nil {
				logging.Warn(ctx, "shared tier room delete failed", zap.Error(err))
			}
			metrics.RoomMembers.DeleteLabelValues(string(roomID))
			metrics.ActiveRooms.Dec()
		}
	}
	if err := s.shared.deleteConnection(ctx, id); err != nil {
		logging.Warn(ctx, "shared tier connection delete failed", zap.Error(err))
	}

	logging.Info(ctx, "connection removed", zap.String("connection_id", string(id)))
}

// Get resolves a connection, rehydrating metadata from the shared tier when
// it is not hosted here. Rehydrated results are ephemeral and never cached,
// so a stale remote record cannot shadow a late local registration.
func (s *Store) Get(ctx context.Context, id types.ConnectionID) (*Connection, bool) {
	s.mu.RLock()
	conn, ok := s.connections[id]
	s.mu.RUnlock()
	if ok {
		return conn, true
	}
	return s.shared.loadConnection(ctx, id)
}

// Exists reports whether the connection is hosted by this process.
func (s *Store) Exists(id types.ConnectionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.connections[id]
	return ok
}

// AllIDs snapshots the ids of every locally hosted connection.
func (s *Store) AllIDs() []types.ConnectionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]types.ConnectionID, 0, len(s.connections))
	for id := range s.connections {
		ids = append(ids, id)
	}
	return ids
}

// AllKnownIDs unions the locally hosted connection ids with every id the
// shared tier records, so fan-outs reach clients attached to sibling
// processes. Single-process deployments see exactly AllIDs.
func (s *Store) AllKnownIDs(ctx context.Context) []types.ConnectionID {
	ids := s.AllIDs()
	remote := s.shared.connectionIDs(ctx)
	if len(remote) == 0 {
		return ids
	}

	seen := make(map[types.ConnectionID]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range remote {
		if _, dup := seen[id]; !dup {
			ids = append(ids, id)
		}
	}
	return ids
}

// AllConnections snapshots every locally hosted connection.
func (s *Store) AllConnections() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	return conns
}

// GetRoom resolves a room, falling back to the shared tier for rooms whose
// members all live on other processes.
func (s *Store) GetRoom(ctx context.Context, id types.RoomID) (*Room, bool) {
	s.mu.RLock()
	room, ok := s.rooms[id]
	s.mu.RUnlock()
	if ok {
		return room, true
	}
	return s.shared.loadRoom(ctx, id)
}

// AllRooms snapshots every locally known room.
func (s *Store) AllRooms() []*Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// ConnectionsInRoom lists the member ids of a room, including members hosted
// elsewhere.
func (s *Store) ConnectionsInRoom(ctx context.Context, id types.RoomID) []types.ConnectionID {
	room, ok := s.GetRoom(ctx, id)
	if !ok {
		return nil
	}
	return room.Members()
}

// FindRoomForClient returns the room a locally hosted client is joined to.
func (s *Store) FindRoomForClient(id types.ConnectionID) (types.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.roomByConnection[id]
	return roomID, ok
}

// FindAvailableRoom returns any room with free capacity. A linear scan is
// fine at the room counts this store sees; revisit if deployments ever hold
// thousands of mostly-full rooms.
func (s *Store) FindAvailableRoom() (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.rooms {
		if !room.Full() {
			return room, true
		}
	}
	return nil, false
}

// CreateRoom registers a new room under a generated id. A non-positive
// capacity falls back to the store default.
func (s *Store) CreateRoom(ctx context.Context, maxCapacity int) *Room {
	if maxCapacity <= 0 {
		maxCapacity = s.defaultCapacity
	}
	room := newRoom(types.RoomID(uuid.NewString()), maxCapacity)

	s.mu.Lock()
	s.rooms[room.ID] = room
	s.mu.Unlock()

	if err := s.shared.saveRoom(ctx, room); err != nil {
		logging.Warn(ctx, "shared tier write failed for room", zap.Error(err))
	}
	metrics.ActiveRooms.Inc()

	logging.Info(ctx, "room created",
		zap.String("room_id", string(room.ID)),
		zap.Int("max_capacity", room.MaxCapacity))
	return room
}

// AddClientToRoom joins a client to a room, enforcing the capacity bound and
// the one-room-per-client invariant. A client already joined elsewhere is
// moved; rejoining its current room is a no-op. A room created by a sibling
// process is rehydrated from the shared tier into the local map on first
// join, members included, so the capacity check counts the whole cluster.
func (s *Store) AddClientToRoom(ctx context.Context, roomID types.RoomID, clientID types.ConnectionID) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		remote, found := s.shared.loadRoom(ctx, roomID)
		if !found {
			return ErrRoomNotFound
		}
		s.mu.Lock()
		if local, raced := s.rooms[roomID]; raced {
			room = local
		} else {
			s.rooms[roomID] = remote
			room = remote
			metrics.ActiveRooms.Inc()
			logging.Info(ctx, "room rehydrated from shared tier",
				zap.String("room_id", string(roomID)),
				zap.Int("members", remote.Len()))
		}
	}

	if current, joined := s.roomByConnection[clientID]; joined {
		if current == roomID {
			s.mu.Unlock()
			return nil
		}
	}

	if room.Full() {
		s.mu.Unlock()
		return ErrRoomFull
	}

	previous, moved := s.roomByConnection[clientID]
	var previousDeleted bool
	if moved {
		if prevRoom, found := s.rooms[previous]; found {
			prevRoom.remove(clientID)
			if prevRoom.Len() == 0 {
				delete(s.rooms, previous)
				previousDeleted = true
			} else {
				metrics.RoomMembers.WithLabelValues(string(previous)).Set(float64(prevRoom.Len()))
			}
		}
	}

	room.add(clientID)
	s.roomByConnection[clientID] = roomID
	conn, hasConn := s.connections[clientID]
	memberCount := room.Len()
	s.mu.Unlock()

	if hasConn {
		conn.SetState(types.StateJoined)
		if err := s.shared.saveConnection(ctx, conn); err != nil {
			logging.Warn(ctx, "shared tier write failed for connection", zap.Error(err))
		}
	}
	if moved {
		if err := s.shared.removeRoomMember(ctx, previous, clientID); err != nil {
			logging.Warn(ctx, "shared tier member removal failed", zap.Error(err))
		}
		if previousDeleted {
			if err := s.shared.deleteRoom(ctx, previous); err != nil {
				logging.Warn(ctx, "shared tier room delete failed", zap.Error(err))
			}
			metrics.RoomMembers.DeleteLabelValues(string(previous))
			metrics.ActiveRooms.Dec()
		}
	}
	if err := s.shared.addRoomMember(ctx, roomID, clientID); err != nil {
		logging.Warn(ctx, "shared tier member add failed", zap.Error(err))
	}
	metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(memberCount))

	logging.Info(ctx, "client joined room",
		zap.String("connection_id", string(clientID)),
		zap.String("room_id", string(roomID)),
		zap.Int("members", memberCount))
	return nil
}

// RemoveClientFromRoom detaches a client from its room. It returns the room
// the client was removed from, or false when the client was roomless.
func (s *Store) RemoveClientFromRoom(ctx context.Context, clientID types.ConnectionID) (types.RoomID, bool) {
	s.mu.Lock()
	roomID, ok := s.roomByConnection[clientID]
	if !ok {
		s.mu.Unlock()
		return "", false
	}
	delete(s.roomByConnection, clientID)

	var roomDeleted bool
	var memberCount int
	if room, found := s.rooms[roomID]; found {
		room.remove(clientID)
		memberCount = room.Len()
		if memberCount == 0 {
			delete(s.rooms, roomID)
			roomDeleted = true
		}
	}
	conn, hasConn := s.connections[clientID]
	s.mu.Unlock()

	if hasConn {
		conn.SetState(types.StateConnected)
		if err := s.shared.saveConnection(ctx, conn); err != nil {
			logging.Warn(ctx, "shared tier write failed for connection", zap.Error(err))
		}
	}
	if err := s.shared.removeRoomMember(ctx, roomID, clientID); err != nil {
		logging.Warn(ctx, "shared tier member removal failed", zap.Error(err))
	}
	if roomDeleted {
		if err := s.shared.deleteRoom(ctx, roomID); err != nil {
			logging.Warn(ctx, "shared tier room delete failed", zap.Error(err))
		}
		metrics.RoomMembers.DeleteLabelValues(string(roomID))
		metrics.ActiveRooms.Dec()
	} else {
		metrics.RoomMembers.WithLabelValues(string(roomID)).Set(float64(memberCount))
	}

	logging.Info(ctx, "client left room",
		zap.String("connection_id", string(clientID)),
		zap.String("room_id", string(roomID)))
	return roomID, true
}

// Touch refreshes a locally hosted connection's activity clock.
func (s *Store) Touch(id types.ConnectionID) {
	s.mu.RLock()
	conn, ok := s.connections[id]
	s.mu.RUnlock()
	if ok {
		conn.Touch()
	}
}

// Cleanup sweeps out connections whose transports died without a clean
// disconnect. It returns how many were removed.
func (s *Store) Cleanup(ctx context.Context) int {
	s.mu.RLock()
	var stale []types.ConnectionID
	for id, conn := range s.connections {
		if !conn.Connected() {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.Remove(ctx, id)
	}
	if len(stale) > 0 {
		logging.Info(ctx, "cleanup removed stale connections", zap.Int("count", len(stale)))
	}
	return len(stale)
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

// Shared-tier key schema. One KV entry per connection and room, one set per
// room's membership. Every process in the cluster reads and writes the same
// keys, which is what lets any process resolve any client.
const (
	connectionKeyPrefix = "altruist:connection:"
	roomKeyPrefix       = "altruist:room:"
	roomMembersSuffix   = ":members"
)

type connectionRecord struct {
	ID           string            `json:"id"`
	Transport    string            `json:"transport"`
	State        string            `json:"state"`
	LastActivity int64             `json:"lastActivity"`
	AuthDetails  map[string]string `json:"authDetails,omitempty"`
	ProcessID    string            `json:"processId"`
}

type roomRecord struct {
	ID          string `json:"id"`
	MaxCapacity int    `json:"maxCapacity"`
}

// sharedTier mirrors local store mutations into the shared infrastructure.
// Failures degrade to local-only operation; the local maps stay authoritative
// for clients attached to this process.
type sharedTier struct {
	bus       types.Bus
	processID string
}

func newSharedTier(bus types.Bus, processID string) *sharedTier {
	if bus == nil {
		return nil
	}
	return &sharedTier{bus: bus, processID: processID}
}

func connectionKey(id types.ConnectionID) string {
	return connectionKeyPrefix + string(id)
}

func roomKey(id types.RoomID) string {
	return roomKeyPrefix + string(id)
}

func roomMembersKey(id types.RoomID) string {
	return roomKey(id) + roomMembersSuffix
}

func (s *sharedTier) saveConnection(ctx context.Context, c *Connection) error {
	if s == nil {
		return nil
	}
	rec := connectionRecord{
		ID:           string(c.ID),
		Transport:    string(c.Transport),
		State:        string(c.State()),
		LastActivity: c.LastActivity().UnixMilli(),
		AuthDetails:  c.AuthDetails,
		ProcessID:    s.processID,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal connection record: %w", err)
	}
	return s.bus.Set(ctx, connectionKey(c.ID), data)
}

func (s *sharedTier) deleteConnection(ctx context.Context, id types.ConnectionID) error {
	if s == nil {
		return nil
	}
	return s.bus.Del(ctx, connectionKey(id))
}

// loadConnection rehydrates a connection hosted by some other process. The
// result carries metadata only; it has no sink, so Attached() is false and
// senders route packets through the bridge.
func (s *sharedTier) loadConnection(ctx context.Context, id types.ConnectionID) (*Connection, bool) {
	if s == nil {
		return nil, false
	}
	data, err := s.bus.Get(ctx, connectionKey(id))
	if err != nil || data == nil {
		return nil, false
	}
	var rec connectionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	c := &Connection{
		ID:           types.ConnectionID(rec.ID),
		Transport:    types.TransportKind(rec.Transport),
		AuthDetails:  rec.AuthDetails,
		state:        types.ConnectionState(rec.State),
		lastActivity: time.UnixMilli(rec.LastActivity),
		connected:    true,
	}
	if c.AuthDetails == nil {
		c.AuthDetails = make(map[string]string)
	}
	return c, true
}

// connectionIDs lists every connection id the shared tier records, hosted
// anywhere in the cluster. Errors degrade to an empty list.
func (s *sharedTier) connectionIDs(ctx context.Context) []types.ConnectionID {
	if s == nil {
		return nil
	}
	keys, err := s.bus.Keys(ctx, connectionKeyPrefix)
	if err != nil {
		return nil
	}
	ids := make([]types.ConnectionID, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, types.ConnectionID(strings.TrimPrefix(key, connectionKeyPrefix)))
	}
	return ids
}

func (s *sharedTier) saveRoom(ctx context.Context, r *Room) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(roomRecord{ID: string(r.ID), MaxCapacity: r.MaxCapacity})
	if err != nil {
		return fmt.Errorf("marshal room record: %w", err)
	}
	return s.bus.Set(ctx, roomKey(r.ID), data)
}

func (s *sharedTier) deleteRoom(ctx context.Context, id types.RoomID) error {
	if s == nil {
		return nil
	}
	if err := s.bus.Del(ctx, roomMembersKey(id)); err != nil {
		return err
	}
	return s.bus.Del(ctx, roomKey(id))
}

// loadRoom rehydrates a room and its membership from the shared tier.
func (s *sharedTier) loadRoom(ctx context.Context, id types.RoomID) (*Room, bool) {
	if s == nil {
		return nil, false
	}
	data, err := s.bus.Get(ctx, roomKey(id))
	if err != nil || data == nil {
		return nil, false
	}
	var rec roomRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false
	}
	room := newRoom(types.RoomID(rec.ID), rec.MaxCapacity)
	members, err := s.bus.SetMembers(ctx, roomMembersKey(room.ID))
	if err == nil {
		for _, m := range members {
			room.add(types.ConnectionID(m))
		}
	}
	return room, true
}

func (s *sharedTier) addRoomMember(ctx context.Context, roomID types.RoomID, id types.ConnectionID) error {
	if s == nil {
		return nil
	}
	return s.bus.SetAdd(ctx, roomMembersKey(roomID), string(id))
}

func (s *sharedTier) removeRoomMember(ctx context.Context, roomID types.RoomID, id types.ConnectionID) error {
	if s == nil {
		return nil
	}
	return s.bus.SetRem(ctx, roomMembersKey(roomID), string(id))
}

package store

import (
	"sync"

	"k8s.io/utils/set"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

// DefaultRoomCapacity bounds rooms created without an explicit capacity.
const DefaultRoomCapacity = 100

// Room groups connections for room-scoped delivery. Membership mutates only
// through the Store so the capacity invariant and the reverse index stay
// consistent. The Room lock covers member reads taken after the Store lock
// was released. Lock order is always Store before Room.
type Room struct {
	ID          types.RoomID
	MaxCapacity int

	mu      sync.RWMutex
	members set.Set[types.ConnectionID]
}

func newRoom(id types.RoomID, maxCapacity int) *Room {
	if maxCapacity <= 0 {
		maxCapacity = DefaultRoomCapacity
	}
	return &Room{
		ID:          id,
		MaxCapacity: maxCapacity,
		members:     set.New[types.ConnectionID](),
	}
}

// Len returns the member count.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members.Len()
}

// Has reports membership of a single connection.
func (r *Room) Has(id types.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members.Has(id)
}

// Members returns a snapshot of the member ids.
func (r *Room) Members() []types.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members.UnsortedList()
}

// Full reports whether the room is at capacity.
func (r *Room) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members.Len() >= r.MaxCapacity
}

// add and remove are called by the Store with its own lock held; the Room
// lock still wraps the mutation so concurrent snapshot reads stay safe.
func (r *Room) add(id types.ConnectionID) {
	r.mu.Lock()
	r.members.Insert(id)
	r.mu.Unlock()
}

func (r *Room) remove(id types.ConnectionID) {
	r.mu.Lock()
	r.members.Delete(id)
	r.mu.Unlock()
}

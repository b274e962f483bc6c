package game

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/delta"
	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/portal"
	"github.com/altruist-engine/altruist/internal/v1/store"
	"github.com/altruist-engine/altruist/internal/v1/types"
	"github.com/altruist-engine/altruist/internal/v1/world"
)

// Tuning constants for the built-in gameplay loop.
const (
	playerRadius = 16.0
	maxSpeed     = 300.0 // world units per second
	healthRegen  = 2.0   // per regeneration pass
	energyRegen  = 5.0
)

// snapshotKey is where the autosave job files its state summary.
const snapshotKey = "altruist:autosave"

// EntitySyncer publishes an entity's delta to every watching client. The
// router's Synchronizator satisfies it.
type EntitySyncer interface {
	Send(ctx context.Context, entity delta.Entity, forceAll bool)
}

// Service owns the live players and the jobs that move them.
type Service struct {
	world  *world.Manager
	syncs  EntitySyncer
	deltas *delta.Engine
	store  *store.Store
	bus    types.Bus

	tickInterval time.Duration

	mu      sync.RWMutex
	players map[types.ConnectionID]*Player
	objects map[types.ConnectionID]*world.ObjectMetadata
}

// NewService builds the gameplay service. bus may be nil; the autosave job
// then skips its write.
func NewService(w *world.Manager, syncs EntitySyncer, deltas *delta.Engine, st *store.Store, bus types.Bus, tickInterval time.Duration) *Service {
	return &Service{
		world:        w,
		syncs:        syncs,
		deltas:       deltas,
		store:        st,
		bus:          bus,
		tickInterval: tickInterval,
		players:      make(map[types.ConnectionID]*Player),
		objects:      make(map[types.ConnectionID]*world.ObjectMetadata),
	}
}

// Register binds the gameplay gates onto a portal.
func (s *Service) Register(p *portal.Portal) error {
	return p.Gate(packet.TypeMoveIntent, s.HandleMoveIntent)
}

// Spawn places a player for a client that just joined a room. The avatar
// starts at the world center and is announced to the room with a full
// field snapshot.
func (s *Service) Spawn(ctx context.Context, clientID types.ConnectionID, roomID types.RoomID) *Player {
	x, y := s.world.Width()/2, s.world.Height()/2
	player := NewPlayer(clientID, "player-"+shortID(clientID), x, y)

	meta := world.NewObjectMetadata(EntityTypePlayer, string(clientID), roomID)
	meta.Radius = playerRadius
	meta.ReceiverClientIDs.Insert(clientID)
	meta.X, meta.Y = x, y

	s.mu.Lock()
	if _, exists := s.players[clientID]; exists {
		s.mu.Unlock()
		logging.Warn(ctx, "Spawn for already-spawned client ignored",
			zap.String("connection_id", string(clientID)))
		return nil
	}
	s.players[clientID] = player
	s.objects[clientID] = meta
	s.mu.Unlock()

	s.world.Place(meta)

	logging.Info(ctx, "Player spawned",
		zap.String("connection_id", string(clientID)),
		zap.String("room_id", string(roomID)))

	s.syncs.Send(ctx, player, true)
	return player
}

// Despawn removes a client's player from the world and clears its delta
// state so a reconnect starts fresh.
func (s *Service) Despawn(ctx context.Context, clientID types.ConnectionID, _ types.RoomID) {
	s.mu.Lock()
	_, exists := s.players[clientID]
	delete(s.players, clientID)
	delete(s.objects, clientID)
	s.mu.Unlock()
	if !exists {
		return
	}

	s.world.RemoveObject(EntityTypePlayer, string(clientID))
	s.deltas.ForgetEntity(EntityTypePlayer, clientID)

	logging.Info(ctx, "Player despawned", zap.String("connection_id", string(clientID)))
}

// ForgetViewer clears the per-viewer delta baselines of a disconnected
// client.
func (s *Service) ForgetViewer(_ context.Context, clientID types.ConnectionID) {
	s.deltas.ForgetViewer(clientID)
}

// Player returns the live player for a client.
func (s *Service) Player(clientID types.ConnectionID) (*Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[clientID]
	return p, ok
}

// PlayerCount returns the number of spawned players.
func (s *Service) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// HandleMoveIntent records the client's desired velocity. The vector is
// clamped to the speed limit; integration happens on the engine tick, never
// here.
func (s *Service) HandleMoveIntent(_ context.Context, pkt packet.Packet, clientID types.ConnectionID) error {
	intent, ok := pkt.(*packet.MoveIntentPacket)
	if !ok {
		return fmt.Errorf("move gate received %s", pkt.Type())
	}

	player, found := s.Player(clientID)
	if !found {
		return fmt.Errorf("client %s has no player", clientID)
	}

	vx, vy := clampSpeed(intent.VelocityX, intent.VelocityY, maxSpeed)
	player.SetVelocity(vx, vy)
	if vx != 0 || vy != 0 {
		player.SetRotation(math.Atan2(vy, vx))
	}
	return nil
}

// Integrate is the movement job, run every engine tick. It advances every
// player by its velocity, keeps positions inside the world, refiles moved
// players in the spatial index, and publishes deltas.
func (s *Service) Integrate(ctx context.Context) {
	dt := s.tickInterval.Seconds()

	for _, entry := range s.snapshotPlayers() {
		player, meta := entry.player, entry.meta

		vx, vy := player.Velocity()
		if vx != 0 || vy != 0 {
			x, y := player.Position()
			x = clamp(x+vx*dt, 0, s.world.Width())
			y = clamp(y+vy*dt, 0, s.world.Height())
			player.SetPosition(x, y)
			s.world.UpdateObjectPosition(meta, x, y)
		}

		// Even a stationary player scans: frequency-gated vitals emit on
		// their own beat.
		s.syncs.Send(ctx, player, false)
	}
}

// Regenerate is the slow vitals job.
func (s *Service) Regenerate(ctx context.Context) {
	for _, entry := range s.snapshotPlayers() {
		entry.player.regenerate(healthRegen, energyRegen)
	}
}

// snapshot is the autosave payload.
type snapshot struct {
	Timestamp   int64 `json:"timestamp"`
	Connections int   `json:"connections"`
	Rooms       int   `json:"rooms"`
	Players     int   `json:"players"`
}

// Snapshot is the autosave job: a coarse state summary written through the
// shared tier so operators can see fleet occupancy without scraping every
// process.
func (s *Service) Snapshot(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}

	data, err := json.Marshal(snapshot{
		Timestamp:   time.Now().Unix(),
		Connections: len(s.store.AllIDs()),
		Rooms:       len(s.store.AllRooms()),
		Players:     s.PlayerCount(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.bus.Set(ctx, snapshotKey, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

type playerEntry struct {
	player *Player
	meta   *world.ObjectMetadata
}

func (s *Service) snapshotPlayers() []playerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]playerEntry, 0, len(s.players))
	for id, p := range s.players {
		entries = append(entries, playerEntry{player: p, meta: s.objects[id]})
	}
	return entries
}

func clampSpeed(vx, vy, limit float64) (float64, float64) {
	speed := math.Hypot(vx, vy)
	if speed <= limit || speed == 0 {
		return vx, vy
	}
	scale := limit / speed
	return vx * scale, vy * scale
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func shortID(id types.ConnectionID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

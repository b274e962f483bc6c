package game

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altruist-engine/altruist/internal/v1/delta"
	"github.com/altruist-engine/altruist/internal/v1/packet"
	"github.com/altruist-engine/altruist/internal/v1/portal"
	"github.com/altruist-engine/altruist/internal/v1/store"
	"github.com/altruist-engine/altruist/internal/v1/types"
	"github.com/altruist-engine/altruist/internal/v1/world"
)

// recordingSyncer captures every entity scan the service requests.
type recordingSyncer struct {
	mu    sync.Mutex
	sends []syncCall
}

type syncCall struct {
	entity   delta.Entity
	forceAll bool
}

func (r *recordingSyncer) Send(_ context.Context, entity delta.Entity, forceAll bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, syncCall{entity: entity, forceAll: forceAll})
}

func (r *recordingSyncer) calls() []syncCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]syncCall, len(r.sends))
	copy(out, r.sends)
	return out
}

func newTestService(t *testing.T) (*Service, *recordingSyncer) {
	t.Helper()
	w, err := world.NewManager(0, 1000, 1000, 250, 50)
	require.NoError(t, err)

	syncer := &recordingSyncer{}
	st := store.New(10, nil, "test-process")
	svc := NewService(w, syncer, delta.NewEngine(), st, nil, 50*time.Millisecond)
	return svc, syncer
}

func TestPlayerSchema_Layout(t *testing.T) {
	schema, err := PlayerSchema(4)
	require.NoError(t, err)
	assert.Equal(t, EntityTypePlayer, schema.EntityType())
	assert.Equal(t, 6, schema.FieldCount())
	assert.Equal(t, 6, schema.BitSpan())
}

func TestSpawn_PlacesPlayerAtWorldCenter(t *testing.T) {
	svc, syncer := newTestService(t)

	player := svc.Spawn(context.Background(), "c1", "room-1")
	require.NotNil(t, player)

	x, y := player.Position()
	assert.Equal(t, 500.0, x)
	assert.Equal(t, 500.0, y)
	assert.Equal(t, 1, svc.PlayerCount())
	assert.Equal(t, 1, svc.world.ObjectCount())

	calls := syncer.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].forceAll, "a spawn announces the full field set")
}

func TestSpawn_SecondSpawnForSameClientIgnored(t *testing.T) {
	svc, _ := newTestService(t)

	require.NotNil(t, svc.Spawn(context.Background(), "c1", "room-1"))
	assert.Nil(t, svc.Spawn(context.Background(), "c1", "room-1"))
	assert.Equal(t, 1, svc.PlayerCount())
}

func TestDespawn_RemovesPlayerAndWorldObject(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Spawn(context.Background(), "c1", "room-1")

	svc.Despawn(context.Background(), "c1", "room-1")

	assert.Zero(t, svc.PlayerCount())
	assert.Zero(t, svc.world.ObjectCount())
}

func TestHandleMoveIntent_RecordsClampedVelocity(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Spawn(context.Background(), "c1", "room-1")

	err := svc.HandleMoveIntent(context.Background(),
		&packet.MoveIntentPacket{VelocityX: maxSpeed * 2, VelocityY: 0}, "c1")
	require.NoError(t, err)

	player, _ := svc.Player("c1")
	vx, vy := player.Velocity()
	assert.InDelta(t, maxSpeed, vx, 1e-9)
	assert.Zero(t, vy)
	assert.InDelta(t, 0, player.Rotation(), 1e-9)
}

func TestHandleMoveIntent_WithoutPlayerFails(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.HandleMoveIntent(context.Background(), &packet.MoveIntentPacket{VelocityX: 1}, "ghost")
	assert.Error(t, err)
}

func TestIntegrate_AdvancesPositionByVelocity(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Spawn(context.Background(), "c1", "room-1")
	player, _ := svc.Player("c1")
	player.SetVelocity(100, -40)

	svc.Integrate(context.Background())

	x, y := player.Position()
	assert.InDelta(t, 500+100*0.05, x, 1e-9)
	assert.InDelta(t, 500-40*0.05, y, 1e-9)

	// The spatial index follows the move.
	results := svc.world.Query(EntityTypePlayer, x, y, 1, "room-1")
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].InstanceID)
}

func TestIntegrate_ClampsToWorldBounds(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Spawn(context.Background(), "c1", "room-1")
	player, _ := svc.Player("c1")
	player.SetPosition(999, 1)
	player.SetVelocity(maxSpeed, -maxSpeed)

	for range 10 {
		svc.Integrate(context.Background())
	}

	x, y := player.Position()
	assert.Equal(t, 1000.0, x)
	assert.Equal(t, 0.0, y)
}

func TestIntegrate_ScansStationaryPlayers(t *testing.T) {
	svc, syncer := newTestService(t)
	svc.Spawn(context.Background(), "c1", "room-1")

	svc.Integrate(context.Background())

	// One scan from the spawn, one from the tick despite zero velocity.
	assert.Len(t, syncer.calls(), 2)
}

func TestRegenerate_RefillsVitalsToCap(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Spawn(context.Background(), "c1", "room-1")
	player, _ := svc.Player("c1")
	player.Damage(3)
	player.SpendEnergy(90)

	svc.Regenerate(context.Background())
	assert.InDelta(t, MaxHealth-1, player.Health(), 1e-9)
	assert.InDelta(t, MaxEnergy-85, player.Energy(), 1e-9)

	svc.Regenerate(context.Background())
	assert.Equal(t, MaxHealth, player.Health(), "health never overshoots the cap")
}

func TestSnapshot_NoBusIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	assert.NoError(t, svc.Snapshot(context.Background()))
}

// kvBus implements just enough of types.Bus to capture KV writes.
type kvBus struct {
	mu     sync.Mutex
	values map[string][]byte
}

func (b *kvBus) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = make(map[string][]byte)
	}
	b.values[key] = value
	return nil
}

func (b *kvBus) Get(context.Context, string) ([]byte, error)     { return nil, nil }
func (b *kvBus) Del(context.Context, string) error               { return nil }
func (b *kvBus) Keys(context.Context, string) ([]string, error)  { return nil, nil }
func (b *kvBus) SetAdd(context.Context, string, string) error    { return nil }
func (b *kvBus) SetRem(context.Context, string, string) error    { return nil }
func (b *kvBus) SetMembers(context.Context, string) ([]string, error) {
	return nil, nil
}
func (b *kvBus) ListLeftPush(context.Context, string, []byte) error { return nil }
func (b *kvBus) ListRightPop(context.Context, string) ([]byte, error) {
	return nil, nil
}
func (b *kvBus) Publish(context.Context, string, []byte) error { return nil }
func (b *kvBus) Subscribe(context.Context, string, *sync.WaitGroup, func([]byte)) {
}
func (b *kvBus) Ping(context.Context) error { return nil }
func (b *kvBus) Close() error               { return nil }

func TestSnapshot_WritesStateSummary(t *testing.T) {
	w, err := world.NewManager(0, 1000, 1000, 250, 50)
	require.NoError(t, err)

	bus := &kvBus{}
	st := store.New(10, nil, "test-process")
	svc := NewService(w, &recordingSyncer{}, delta.NewEngine(), st, bus, 50*time.Millisecond)
	svc.Spawn(context.Background(), "c1", "room-1")

	require.NoError(t, svc.Snapshot(context.Background()))

	bus.mu.Lock()
	data, ok := bus.values[snapshotKey]
	bus.mu.Unlock()
	require.True(t, ok)

	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 1, snap.Players)
	assert.NotZero(t, snap.Timestamp)
}

func TestClampSpeed(t *testing.T) {
	vx, vy := clampSpeed(3, 4, 10)
	assert.Equal(t, 3.0, vx)
	assert.Equal(t, 4.0, vy)

	vx, vy = clampSpeed(30, 40, 10)
	assert.InDelta(t, 10.0, math.Hypot(vx, vy), 1e-9)
	assert.InDelta(t, 6.0, vx, 1e-9)
	assert.InDelta(t, 8.0, vy, 1e-9)

	vx, vy = clampSpeed(0, 0, 10)
	assert.Zero(t, vx)
	assert.Zero(t, vy)
}

func TestRegister_BindsMoveGate(t *testing.T) {
	svc, _ := newTestService(t)
	p, err := portal.New("game", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Register(p))
	assert.Equal(t, []string{packet.TypeMoveIntent}, p.Events())
}

func TestSystemMonitor_Sample(t *testing.T) {
	NewSystemMonitor().Sample(context.Background())
	// Gauges are process-global; the assertion here is only that sampling
	// never panics with a live runtime.
}

var _ types.Bus = (*kvBus)(nil)

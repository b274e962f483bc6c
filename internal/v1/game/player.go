// Package game carries the built-in gameplay layer: the player entity and
// its sync schema, the movement-intent gate, and the cyclic jobs that
// integrate movement, regenerate vitals, snapshot state, and sample the
// host.
package game

import (
	"fmt"
	"sync"

	"github.com/altruist-engine/altruist/internal/v1/delta"
	"github.com/altruist-engine/altruist/internal/v1/types"
)

// EntityTypePlayer is the sync discriminator for player entities.
const EntityTypePlayer = "player"

// Default vitals for a fresh spawn.
const (
	MaxHealth = 100.0
	MaxEnergy = 100.0
)

// Player is the authoritative state of one connected client's avatar. All
// fields mutate under the lock; gates and tick jobs touch players
// concurrently.
type Player struct {
	id types.ConnectionID

	mu        sync.RWMutex
	name      string
	position  [2]float64
	rotation  float64
	level     int
	health    float64
	energy    float64
	velocityX float64
	velocityY float64
}

// NewPlayer spawns a player at the given position with full vitals.
func NewPlayer(id types.ConnectionID, name string, x, y float64) *Player {
	return &Player{
		id:       id,
		name:     name,
		position: [2]float64{x, y},
		level:    1,
		health:   MaxHealth,
		energy:   MaxEnergy,
	}
}

// ConnectionID names the owning client.
func (p *Player) ConnectionID() types.ConnectionID { return p.id }

// EntityType returns the sync discriminator.
func (p *Player) EntityType() string { return EntityTypePlayer }

// Position returns the current world coordinates.
func (p *Player) Position() (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position[0], p.position[1]
}

// SetPosition moves the player.
func (p *Player) SetPosition(x, y float64) {
	p.mu.Lock()
	p.position = [2]float64{x, y}
	p.mu.Unlock()
}

// Rotation returns the facing angle in radians.
func (p *Player) Rotation() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rotation
}

// SetRotation turns the player.
func (p *Player) SetRotation(r float64) {
	p.mu.Lock()
	p.rotation = r
	p.mu.Unlock()
}

// Level returns the player level.
func (p *Player) Level() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

// SetLevel sets the player level.
func (p *Player) SetLevel(l int) {
	p.mu.Lock()
	p.level = l
	p.mu.Unlock()
}

// Health returns the current health.
func (p *Player) Health() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// Energy returns the current energy.
func (p *Player) Energy() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.energy
}

// Damage reduces health, floored at zero.
func (p *Player) Damage(amount float64) {
	p.mu.Lock()
	p.health -= amount
	if p.health < 0 {
		p.health = 0
	}
	p.mu.Unlock()
}

// SpendEnergy consumes energy, floored at zero.
func (p *Player) SpendEnergy(amount float64) {
	p.mu.Lock()
	p.energy -= amount
	if p.energy < 0 {
		p.energy = 0
	}
	p.mu.Unlock()
}

// regenerate moves vitals toward their maxima.
func (p *Player) regenerate(health, energy float64) {
	p.mu.Lock()
	p.health = min(p.health+health, MaxHealth)
	p.energy = min(p.energy+energy, MaxEnergy)
	p.mu.Unlock()
}

// Name returns the display name.
func (p *Player) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// SetVelocity records the client's movement intent. The movement job
// integrates it on the next tick.
func (p *Player) SetVelocity(vx, vy float64) {
	p.mu.Lock()
	p.velocityX = vx
	p.velocityY = vy
	p.mu.Unlock()
}

// Velocity returns the pending movement intent.
func (p *Player) Velocity() (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.velocityX, p.velocityY
}

// playerField builds a getter that reads one field off a *Player.
func playerField(get func(p *Player) any) delta.Getter {
	return func(e delta.Entity) any {
		return get(e.(*Player))
	}
}

// PlayerSchema declares the player sync layout. Position and level emit on
// change; rotation piggybacks on every emission; health and energy are
// frequency-gated so vitals trickle instead of flooding; the name travels
// once per viewer.
func PlayerSchema(vitalsFrequency int64) (*delta.Schema, error) {
	return delta.NewSchema(EntityTypePlayer,
		delta.FieldSpec{Name: "Position", BitIndex: 0, Get: playerField(func(p *Player) any {
			p.mu.RLock()
			defer p.mu.RUnlock()
			return p.position
		})},
		delta.FieldSpec{Name: "Rotation", BitIndex: 1, SyncAlways: true, Get: playerField(func(p *Player) any {
			return p.Rotation()
		})},
		delta.FieldSpec{Name: "Level", BitIndex: 2, Get: playerField(func(p *Player) any {
			return p.Level()
		})},
		delta.FieldSpec{Name: "Health", BitIndex: 3, Frequency: vitalsFrequency, Get: playerField(func(p *Player) any {
			return p.Health()
		})},
		delta.FieldSpec{Name: "Energy", BitIndex: 4, Frequency: vitalsFrequency, Get: playerField(func(p *Player) any {
			return p.Energy()
		})},
		delta.FieldSpec{Name: "Name", BitIndex: 5, OneTime: true, Get: playerField(func(p *Player) any {
			return p.Name()
		})},
	)
}

// RegisterPlayerSchema builds and publishes the player schema. Called once
// at startup.
func RegisterPlayerSchema(vitalsFrequency int64) error {
	schema, err := PlayerSchema(vitalsFrequency)
	if err != nil {
		return fmt.Errorf("build player schema: %w", err)
	}
	return delta.RegisterSchema(schema)
}

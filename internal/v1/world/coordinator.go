package world

import (
	"fmt"
	"sync"
	"time"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

// maxStepSeconds caps a single physics delta so a stalled process does not
// replay a huge backlog of substeps when it resumes.
const maxStepSeconds = 0.1

// ContactHandler is invoked once per colliding pair per substep. Handlers
// run outside the coordinator's locks and may query the worlds.
type ContactHandler func(worldIndex types.WorldIndex, a, b *ObjectMetadata)

type worldState struct {
	manager     *Manager
	stepSeconds float64
	accumulator float64
}

// Coordinator steps every registered world on a fixed interval. Each world
// carries its own accumulator, so worlds with different step intervals stay
// deterministic regardless of how often Step is called.
type Coordinator struct {
	mu      sync.RWMutex
	worlds  map[types.WorldIndex]*worldState
	handler ContactHandler
}

func NewCoordinator() *Coordinator {
	return &Coordinator{worlds: make(map[types.WorldIndex]*worldState)}
}

// RegisterWorld adds a world to the coordinator. Indices are unique.
func (c *Coordinator) RegisterWorld(m *Manager, stepInterval time.Duration) error {
	if m == nil {
		return fmt.Errorf("cannot register nil world")
	}
	if stepInterval <= 0 {
		return fmt.Errorf("world %d: step interval must be positive", m.Index())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.worlds[m.Index()]; exists {
		return fmt.Errorf("world %d already registered", m.Index())
	}
	c.worlds[m.Index()] = &worldState{
		manager:     m,
		stepSeconds: stepInterval.Seconds(),
	}
	return nil
}

// World returns a registered world by index.
func (c *Coordinator) World(index types.WorldIndex) (*Manager, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ws, ok := c.worlds[index]
	if !ok {
		return nil, false
	}
	return ws.manager, true
}

// Worlds returns every registered world.
func (c *Coordinator) Worlds() []*Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Manager, 0, len(c.worlds))
	for _, ws := range c.worlds {
		out = append(out, ws.manager)
	}
	return out
}

// SetContactHandler installs the callback fired for each colliding pair.
func (c *Coordinator) SetContactHandler(fn ContactHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

type contact struct {
	world types.WorldIndex
	a, b  *ObjectMetadata
}

// Step advances every world by deltaSeconds, running as many fixed substeps
// as the accumulated time covers. Leftover time carries to the next call.
func (c *Coordinator) Step(deltaSeconds float64) {
	if deltaSeconds <= 0 {
		return
	}
	if deltaSeconds > maxStepSeconds {
		deltaSeconds = maxStepSeconds
	}

	var contacts []contact

	c.mu.Lock()
	handler := c.handler
	for _, ws := range c.worlds {
		ws.accumulator += deltaSeconds
		for ws.accumulator >= ws.stepSeconds {
			ws.accumulator -= ws.stepSeconds
			if handler != nil {
				contacts = collectContacts(ws.manager, contacts)
			}
		}
	}
	c.mu.Unlock()

	// Handlers run unlocked so they can query worlds or re-register state.
	if handler == nil {
		return
	}
	for _, ct := range contacts {
		handler(ct.world, ct.a, ct.b)
	}
}

// collectContacts runs the broadphase over every partition of one world:
// objects sharing a cell, plus a forward half of the neighboring cells so
// each cell pair is visited once. Exact circle tests prune the candidates.
// Cells must be at least as wide as the largest collider diameter or pairs
// further than one cell apart go undetected.
func collectContacts(m *Manager, out []contact) []contact {
	seen := make(map[[2]objectRef]struct{})
	for _, p := range m.partitions {
		p.Grid.eachCell(func(key cellKey, refs []objectRef) {
			// Pairs within the cell itself.
			for i := 0; i < len(refs); i++ {
				for j := i + 1; j < len(refs); j++ {
					out = appendContact(m, p, refs[i], refs[j], seen, out)
				}
			}
			// Forward neighbors only, so the reverse visit is skipped.
			for dx := 0; dx <= 1; dx++ {
				for dy := -1; dy <= 1; dy++ {
					if dx == 0 && dy <= 0 {
						continue
					}
					neighbor := p.Grid.cellRefs(cellKey{X: key.X + int64(dx), Y: key.Y + int64(dy)})
					for _, a := range refs {
						for _, b := range neighbor {
							out = appendContact(m, p, a, b, seen, out)
						}
					}
				}
			}
		})
	}
	return out
}

func appendContact(m *Manager, p *Partition, a, b objectRef, seen map[[2]objectRef]struct{}, out []contact) []contact {
	if a == b {
		return out
	}
	key := orderPair(a, b)
	if _, dup := seen[key]; dup {
		return out
	}
	seen[key] = struct{}{}

	metaA, okA := p.Grid.lookup(a)
	metaB, okB := p.Grid.lookup(b)
	if !okA || !okB {
		return out
	}
	if metaA.Radius == 0 && metaB.Radius == 0 {
		return out
	}
	if metaA.RoomID != metaB.RoomID {
		return out
	}

	dx := metaA.X - metaB.X
	dy := metaA.Y - metaB.Y
	reach := metaA.Radius + metaB.Radius
	if dx*dx+dy*dy > reach*reach {
		return out
	}
	return append(out, contact{world: m.Index(), a: metaA, b: metaB})
}

func orderPair(a, b objectRef) [2]objectRef {
	if a.Type > b.Type || (a.Type == b.Type && a.ID > b.ID) {
		a, b = b, a
	}
	return [2]objectRef{a, b}
}

// Package world maintains the spatial state of game objects: a cell-hashed
// index per partition, fixed-size partitions tiling each world, and a
// coordinator that steps every registered world's physics at its own cadence.
package world

import (
	"math"
	"sync"

	set "k8s.io/apimachinery/pkg/util/sets"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

// ObjectMetadata describes one object instance tracked by the spatial index.
// Position moves through Manager.UpdateObjectPosition so the index stays
// consistent; mutating X/Y directly leaves the object filed in stale cells.
type ObjectMetadata struct {
	Type              string
	InstanceID        string
	RoomID            types.RoomID
	ReceiverClientIDs set.Set[types.ConnectionID]
	X, Y              float64
	Rotation          float64
	Radius            float64
}

// NewObjectMetadata builds metadata for one object instance.
func NewObjectMetadata(objType, instanceID string, roomID types.RoomID) *ObjectMetadata {
	return &ObjectMetadata{
		Type:              objType,
		InstanceID:        instanceID,
		RoomID:            roomID,
		ReceiverClientIDs: set.New[types.ConnectionID](),
	}
}

// objectRef identifies an instance within the index. Instance ids only need
// to be unique within their type.
type objectRef struct {
	Type string
	ID   string
}

type cellKey struct {
	X, Y int64
}

// SpatialGridIndex hashes objects into fixed-size square cells so range
// queries touch only the cells a radius can reach. Add, Remove and re-Add
// are O(1); Query is proportional to the covered cells and their occupancy.
type SpatialGridIndex struct {
	mu        sync.RWMutex
	cellSize  float64
	cells     map[cellKey]set.Set[objectRef]
	instances map[objectRef]*ObjectMetadata
	byType    map[string]set.Set[string]
	filedCell map[objectRef]cellKey
}

// NewSpatialGridIndex creates an empty index with the given cell size.
func NewSpatialGridIndex(cellSize float64) *SpatialGridIndex {
	return &SpatialGridIndex{
		cellSize:  cellSize,
		cells:     make(map[cellKey]set.Set[objectRef]),
		instances: make(map[objectRef]*ObjectMetadata),
		byType:    make(map[string]set.Set[string]),
		filedCell: make(map[objectRef]cellKey),
	}
}

func (g *SpatialGridIndex) keyFor(x, y float64) cellKey {
	return cellKey{
		X: int64(math.Floor(x / g.cellSize)),
		Y: int64(math.Floor(y / g.cellSize)),
	}
}

// Add files an object under its current position. Re-adding a known object
// migrates it between cells, which is how movement updates the index.
func (g *SpatialGridIndex) Add(meta *ObjectMetadata) {
	ref := objectRef{Type: meta.Type, ID: meta.InstanceID}
	key := g.keyFor(meta.X, meta.Y)

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, known := g.filedCell[ref]; known {
		if old == key {
			g.instances[ref] = meta
			return
		}
		g.removeFromCellLocked(ref, old)
	}

	cell, ok := g.cells[key]
	if !ok {
		cell = set.New[objectRef]()
		g.cells[key] = cell
	}
	cell.Insert(ref)
	g.instances[ref] = meta
	g.filedCell[ref] = key

	ids, ok := g.byType[ref.Type]
	if !ok {
		ids = set.New[string]()
		g.byType[ref.Type] = ids
	}
	ids.Insert(ref.ID)
}

// Remove unfiles an object. Unknown objects are a no-op.
func (g *SpatialGridIndex) Remove(objType, instanceID string) {
	ref := objectRef{Type: objType, ID: instanceID}

	g.mu.Lock()
	defer g.mu.Unlock()

	key, known := g.filedCell[ref]
	if !known {
		return
	}
	g.removeFromCellLocked(ref, key)
	delete(g.instances, ref)
	delete(g.filedCell, ref)
	if ids, ok := g.byType[ref.Type]; ok {
		ids.Delete(ref.ID)
		if ids.Len() == 0 {
			delete(g.byType, ref.Type)
		}
	}
}

func (g *SpatialGridIndex) removeFromCellLocked(ref objectRef, key cellKey) {
	if cell, ok := g.cells[key]; ok {
		cell.Delete(ref)
		if cell.Len() == 0 {
			delete(g.cells, key)
		}
	}
}

// Get returns the filed metadata for one instance.
func (g *SpatialGridIndex) Get(objType, instanceID string) (*ObjectMetadata, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	meta, ok := g.instances[objectRef{Type: objType, ID: instanceID}]
	return meta, ok
}

// Count returns the number of filed objects.
func (g *SpatialGridIndex) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.instances)
}

// CountType returns the number of filed objects of one type.
func (g *SpatialGridIndex) CountType(objType string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if ids, ok := g.byType[objType]; ok {
		return ids.Len()
	}
	return 0
}

// Query returns every object of objType within radius of (x, y), optionally
// restricted to one room (empty roomID matches all). Phase one walks the
// cells the bounding box covers; phase two applies the exact distance, type
// and room filters.
func (g *SpatialGridIndex) Query(objType string, x, y, radius float64, roomID types.RoomID) []*ObjectMetadata {
	g.mu.RLock()
	defer g.mu.RUnlock()

	minKey := g.keyFor(x-radius, y-radius)
	maxKey := g.keyFor(x+radius, y+radius)
	r2 := radius * radius

	var out []*ObjectMetadata
	for cx := minKey.X; cx <= maxKey.X; cx++ {
		for cy := minKey.Y; cy <= maxKey.Y; cy++ {
			cell, ok := g.cells[cellKey{X: cx, Y: cy}]
			if !ok {
				continue
			}
			for _, ref := range cell.UnsortedList() {
				if ref.Type != objType {
					continue
				}
				meta := g.instances[ref]
				if meta == nil {
					continue
				}
				if roomID != "" && meta.RoomID != roomID {
					continue
				}
				dx := meta.X - x
				dy := meta.Y - y
				if dx*dx+dy*dy <= r2 {
					out = append(out, meta)
				}
			}
		}
	}
	return out
}

// each visits every filed object. Used by the collision broadphase.
func (g *SpatialGridIndex) eachCell(fn func(key cellKey, refs []objectRef)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for key, cell := range g.cells {
		fn(key, cell.UnsortedList())
	}
}

// neighbors returns the refs filed in one cell, for broadphase adjacency.
func (g *SpatialGridIndex) cellRefs(key cellKey) []objectRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if cell, ok := g.cells[key]; ok {
		return cell.UnsortedList()
	}
	return nil
}

func (g *SpatialGridIndex) lookup(ref objectRef) (*ObjectMetadata, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	meta, ok := g.instances[ref]
	return meta, ok
}

package world

import (
	"fmt"
	"math"
	"sync"

	set "k8s.io/apimachinery/pkg/util/sets"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

// Manager owns one world: a plane tiled by square partitions from the
// origin. Objects are filed into every partition their radius overlaps, so a
// query near a boundary never misses an object standing just across it.
type Manager struct {
	index         types.WorldIndex
	width, height float64
	partitionSize float64
	cols, rows    int
	partitions    map[PartitionIndex]*Partition

	mu       sync.RWMutex
	occupied map[objectRef]set.Set[PartitionIndex]
}

// NewManager tiles a world of width x height with partitions of the given
// size, each cell-hashed at cellSize.
func NewManager(index types.WorldIndex, width, height, partitionSize, cellSize float64) (*Manager, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("world %d: dimensions must be positive (got %gx%g)", index, width, height)
	}
	if partitionSize <= 0 || partitionSize > width || partitionSize > height {
		return nil, fmt.Errorf("world %d: partition size %g must be positive and fit the world", index, partitionSize)
	}
	if cellSize <= 0 || cellSize > partitionSize {
		return nil, fmt.Errorf("world %d: cell size %g must be positive and fit a partition", index, cellSize)
	}

	m := &Manager{
		index:         index,
		width:         width,
		height:        height,
		partitionSize: partitionSize,
		cols:          int(math.Ceil(width / partitionSize)),
		rows:          int(math.Ceil(height / partitionSize)),
		partitions:    make(map[PartitionIndex]*Partition),
		occupied:      make(map[objectRef]set.Set[PartitionIndex]),
	}
	for col := 0; col < m.cols; col++ {
		for row := 0; row < m.rows; row++ {
			idx := PartitionIndex{Col: col, Row: row}
			m.partitions[idx] = newPartition(idx, partitionSize, cellSize)
		}
	}
	return m, nil
}

// Index returns the world's registered index.
func (m *Manager) Index() types.WorldIndex { return m.index }

// Width returns the world's width.
func (m *Manager) Width() float64 { return m.width }

// Height returns the world's height.
func (m *Manager) Height() float64 { return m.height }

// PartitionCount returns the number of partitions tiling the world.
func (m *Manager) PartitionCount() int { return len(m.partitions) }

// FindPartitionForPosition resolves the partition owning a point in constant
// time. Out-of-bounds positions clamp to the border partition.
func (m *Manager) FindPartitionForPosition(x, y float64) *Partition {
	col := int(math.Floor(x / m.partitionSize))
	row := int(math.Floor(y / m.partitionSize))
	if col < 0 {
		col = 0
	}
	if col >= m.cols {
		col = m.cols - 1
	}
	if row < 0 {
		row = 0
	}
	if row >= m.rows {
		row = m.rows - 1
	}
	return m.partitions[PartitionIndex{Col: col, Row: row}]
}

// FindPartitionsForPosition returns every partition a circle overlaps.
func (m *Manager) FindPartitionsForPosition(x, y, radius float64) []*Partition {
	minCol := int(math.Floor((x - radius) / m.partitionSize))
	maxCol := int(math.Floor((x + radius) / m.partitionSize))
	minRow := int(math.Floor((y - radius) / m.partitionSize))
	maxRow := int(math.Floor((y + radius) / m.partitionSize))

	if minCol < 0 {
		minCol = 0
	}
	if maxCol >= m.cols {
		maxCol = m.cols - 1
	}
	if minRow < 0 {
		minRow = 0
	}
	if maxRow >= m.rows {
		maxRow = m.rows - 1
	}

	var out []*Partition
	for col := minCol; col <= maxCol; col++ {
		for row := minRow; row <= maxRow; row++ {
			p := m.partitions[PartitionIndex{Col: col, Row: row}]
			if p != nil && p.IntersectsCircle(x, y, radius) {
				out = append(out, p)
			}
		}
	}
	return out
}

// Place files an object at its current position. Equivalent to an update
// that does not move it.
func (m *Manager) Place(meta *ObjectMetadata) {
	m.UpdateObjectPosition(meta, meta.X, meta.Y)
}

// UpdateObjectPosition moves an object. It is removed from partitions it no
// longer overlaps and filed into the ones it now does; partitions it stays
// in migrate it between cells internally.
func (m *Manager) UpdateObjectPosition(meta *ObjectMetadata, x, y float64) {
	meta.X = x
	meta.Y = y

	targets := m.FindPartitionsForPosition(x, y, meta.Radius)
	targetSet := set.New[PartitionIndex]()
	for _, p := range targets {
		targetSet.Insert(p.Index)
	}

	ref := objectRef{Type: meta.Type, ID: meta.InstanceID}

	m.mu.Lock()
	previous := m.occupied[ref]
	m.occupied[ref] = targetSet
	m.mu.Unlock()

	if previous != nil {
		for _, idx := range previous.UnsortedList() {
			if !targetSet.Has(idx) {
				if p := m.partitions[idx]; p != nil {
					p.Grid.Remove(meta.Type, meta.InstanceID)
				}
			}
		}
	}
	for _, p := range targets {
		p.Grid.Add(meta)
	}
}

// RemoveObject unfiles an object from every partition it occupies.
func (m *Manager) RemoveObject(objType, instanceID string) {
	ref := objectRef{Type: objType, ID: instanceID}

	m.mu.Lock()
	previous := m.occupied[ref]
	delete(m.occupied, ref)
	m.mu.Unlock()

	if previous == nil {
		return
	}
	for _, idx := range previous.UnsortedList() {
		if p := m.partitions[idx]; p != nil {
			p.Grid.Remove(objType, instanceID)
		}
	}
}

// ObjectCount returns the number of distinct objects filed in the world.
func (m *Manager) ObjectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.occupied)
}

// Query returns every object of objType within radius of (x, y), optionally
// restricted to one room. Results are deduplicated across partitions.
func (m *Manager) Query(objType string, x, y, radius float64, roomID types.RoomID) []*ObjectMetadata {
	seen := make(map[objectRef]struct{})
	var out []*ObjectMetadata
	for _, p := range m.FindPartitionsForPosition(x, y, radius) {
		for _, meta := range p.Grid.Query(objType, x, y, radius, roomID) {
			ref := objectRef{Type: meta.Type, ID: meta.InstanceID}
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			out = append(out, meta)
		}
	}
	return out
}

package world

// PartitionIndex addresses a partition within its world's grid of partitions.
type PartitionIndex struct {
	Col, Row int
}

// Partition is one square tile of a world. Each partition owns a spatial
// index of the objects overlapping it; objects whose radius crosses a
// boundary are filed in every partition they touch.
type Partition struct {
	Index PartitionIndex
	X, Y  float64
	Size  float64
	Grid  *SpatialGridIndex
}

func newPartition(index PartitionIndex, size, cellSize float64) *Partition {
	return &Partition{
		Index: index,
		X:     float64(index.Col) * size,
		Y:     float64(index.Row) * size,
		Size:  size,
		Grid:  NewSpatialGridIndex(cellSize),
	}
}

// Epicenter returns the partition's center point.
func (p *Partition) Epicenter() (float64, float64) {
	return p.X + p.Size/2, p.Y + p.Size/2
}

// Contains reports whether a point falls inside the partition. The right and
// bottom edges are exclusive so adjacent partitions never both claim a point.
func (p *Partition) Contains(x, y float64) bool {
	return x >= p.X && x < p.X+p.Size && y >= p.Y && y < p.Y+p.Size
}

// IntersectsCircle reports whether a circle overlaps the partition's box,
// via the clamped-closest-point test.
func (p *Partition) IntersectsCircle(x, y, radius float64) bool {
	cx := clamp(x, p.X, p.X+p.Size)
	cy := clamp(y, p.Y, p.Y+p.Size)
	dx := x - cx
	dy := y - cy
	return dx*dx+dy*dy <= radius*radius
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

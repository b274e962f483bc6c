package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altruist-engine/altruist/internal/v1/types"
)

func placedObject(objType, id string, room types.RoomID, x, y, radius float64) *ObjectMetadata {
	meta := NewObjectMetadata(objType, id, room)
	meta.X = x
	meta.Y = y
	meta.Radius = radius
	return meta
}

func TestGridAddAndGet(t *testing.T) {
	g := NewSpatialGridIndex(10)
	g.Add(placedObject("player", "p1", "room-1", 5, 5, 1))

	meta, ok := g.Get("player", "p1")
	require.True(t, ok)
	assert.Equal(t, "p1", meta.InstanceID)
	assert.Equal(t, types.RoomID("room-1"), meta.RoomID)

	_, ok = g.Get("player", "missing")
	assert.False(t, ok)
	_, ok = g.Get("npc", "p1")
	assert.False(t, ok)
}

func TestGridCounts(t *testing.T) {
	g := NewSpatialGridIndex(10)
	g.Add(placedObject("player", "p1", "room-1", 5, 5, 1))
	g.Add(placedObject("player", "p2", "room-1", 15, 5, 1))
	g.Add(placedObject("npc", "n1", "room-1", 25, 5, 1))

	assert.Equal(t, 3, g.Count())
	assert.Equal(t, 2, g.CountType("player"))
	assert.Equal(t, 1, g.CountType("npc"))
	assert.Equal(t, 0, g.CountType("projectile"))
}

func TestGridReAddMigratesCells(t *testing.T) {
	g := NewSpatialGridIndex(10)
	meta := placedObject("player", "p1", "room-1", 5, 5, 1)
	g.Add(meta)

	meta.X = 95
	meta.Y = 95
	g.Add(meta)

	assert.Equal(t, 1, g.Count(), "re-adding must not duplicate the object")
	assert.Empty(t, g.Query("player", 5, 5, 3, ""))

	found := g.Query("player", 95, 95, 3, "")
	require.Len(t, found, 1)
	assert.Equal(t, "p1", found[0].InstanceID)
}

func TestGridRemove(t *testing.T) {
	g := NewSpatialGridIndex(10)
	g.Add(placedObject("player", "p1", "room-1", 5, 5, 1))

	g.Remove("player", "p1")

	assert.Equal(t, 0, g.Count())
	assert.Empty(t, g.Query("player", 5, 5, 5, ""))

	// Removing twice is a no-op.
	g.Remove("player", "p1")
	assert.Equal(t, 0, g.Count())
}

func TestGridQueryRadius(t *testing.T) {
	g := NewSpatialGridIndex(10)
	g.Add(placedObject("player", "near", "room-1", 10, 10, 1))
	g.Add(placedObject("player", "edge", "room-1", 10, 15, 1))
	g.Add(placedObject("player", "far", "room-1", 10, 40, 1))

	found := g.Query("player", 10, 10, 5, "")
	ids := make([]string, 0, len(found))
	for _, meta := range found {
		ids = append(ids, meta.InstanceID)
	}
	assert.ElementsMatch(t, []string{"near", "edge"}, ids, "radius is inclusive at the boundary")
}

func TestGridQueryFiltersByType(t *testing.T) {
	g := NewSpatialGridIndex(10)
	g.Add(placedObject("player", "p1", "room-1", 10, 10, 1))
	g.Add(placedObject("npc", "n1", "room-1", 11, 11, 1))

	found := g.Query("npc", 10, 10, 5, "")
	require.Len(t, found, 1)
	assert.Equal(t, "n1", found[0].InstanceID)
}

func TestGridQueryFiltersByRoom(t *testing.T) {
	g := NewSpatialGridIndex(10)
	g.Add(placedObject("player", "p1", "room-1", 10, 10, 1))
	g.Add(placedObject("player", "p2", "room-2", 11, 11, 1))

	found := g.Query("player", 10, 10, 5, "room-2")
	require.Len(t, found, 1)
	assert.Equal(t, "p2", found[0].InstanceID)

	// An empty room id matches every room.
	assert.Len(t, g.Query("player", 10, 10, 5, ""), 2)
}

func TestGridNegativeCoordinates(t *testing.T) {
	g := NewSpatialGridIndex(10)
	g.Add(placedObject("player", "p1", "room-1", -5, -5, 1))
	g.Add(placedObject("player", "p2", "room-1", -15, -15, 1))

	found := g.Query("player", -5, -5, 3, "")
	require.Len(t, found, 1)
	assert.Equal(t, "p1", found[0].InstanceID)

	// A radius spanning the origin reaches cells on both sides.
	assert.Len(t, g.Query("player", 0, 0, 25, ""), 2)
}

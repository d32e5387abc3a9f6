package tilecache

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/mesh"
	"github.com/udisondev/navtile/internal/world"
)

func input(pos mgl32.Vec3) mesh.Input {
	shape := geo.Box{HalfExtents: mgl32.Vec3{1, 1, 1}}
	tr := geo.At(pos)
	return mesh.Input{
		Tile:     geo.TileIndex{X: 1, Y: 2},
		Settings: geo.DefaultSettings(),
		Geometry: []world.Placement{{
			Kind:      world.PlacementObject,
			Object:    9,
			Shape:     shape,
			Transform: tr,
			Bounds:    shape.AABB(tr),
		}},
	}
}

func TestInputDigest(t *testing.T) {
	a := InputDigest(input(mgl32.Vec3{1, 2, 3}))
	assert.Equal(t, a, InputDigest(input(mgl32.Vec3{1, 2, 3})))
	assert.NotEqual(t, a, InputDigest(input(mgl32.Vec3{1, 2, 4})))

	moved := input(mgl32.Vec3{1, 2, 3})
	moved.Tile = geo.TileIndex{X: 1, Y: 3}
	assert.NotEqual(t, a, InputDigest(moved))

	other := input(mgl32.Vec3{1, 2, 3})
	other.Settings.TileSize++
	assert.NotEqual(t, a, InputDigest(other))
}

func TestMeshCache(t *testing.T) {
	mc, err := NewMeshCache(1 << 20)
	require.NoError(t, err)
	defer mc.Close()

	d := InputDigest(input(mgl32.Vec3{}))
	_, ok := mc.Get(d)
	assert.False(t, ok)

	tile := &mesh.Tile{Index: geo.TileIndex{X: 1, Y: 2}, Size: 2, Cells: make([]mesh.Cell, 4)}
	mc.Set(d, tile)

	got, ok := mc.Get(d)
	require.True(t, ok)
	assert.Same(t, tile, got)

	mc.Clear()
	_, ok = mc.Get(d)
	assert.False(t, ok)
}

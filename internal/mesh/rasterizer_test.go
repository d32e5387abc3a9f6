package mesh

import (
	"context"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/testutil"
	"github.com/udisondev/navtile/internal/world"
)

func terrain() world.Placement {
	return world.Placement{Kind: world.PlacementCell, Bounds: geo.CellAABB(16, mgl32.Vec3{8, 8, 0})}
}

func object(min, max mgl32.Vec3) world.Placement {
	return world.Placement{Kind: world.PlacementObject, Bounds: geo.AABB{Min: min, Max: max}}
}

func generate(t *testing.T, r *Rasterizer, geometry ...world.Placement) (*Tile, error) {
	t.Helper()
	return r.Generate(context.Background(), Input{Tile: geo.TileIndex{}, Settings: testutil.NavSettings(), Geometry: geometry})
}

func TestRasterizer_FlatTerrain(t *testing.T) {
	tile, err := generate(t, NewRasterizer(0), terrain())
	require.NoError(t, err)

	assert.Equal(t, 64, tile.Walkable)
	assert.Equal(t, 8, tile.Polys)
	assert.Equal(t, geo.NSWEAll, tile.CellAt(0, 0).NSWE)
	assert.Equal(t, geo.NSWEAll, tile.CellAt(4, 4).NSWE)
	assert.False(t, tile.Empty())
}

func TestRasterizer_WallSplitsRows(t *testing.T) {
	wall := object(mgl32.Vec3{2, 0, 0}, mgl32.Vec3{3, 8, 3})
	tile, err := generate(t, NewRasterizer(0), terrain(), wall)
	require.NoError(t, err)

	assert.Equal(t, 56, tile.Walkable)
	assert.False(t, tile.CellAt(2, 5).Walkable())
	assert.Zero(t, tile.CellAt(1, 5).NSWE&geo.NSWEEast)
	assert.Zero(t, tile.CellAt(3, 5).NSWE&geo.NSWEWest)
	assert.Equal(t, 16, tile.Polys)
}

func TestRasterizer_ClimbableStepRaisesGround(t *testing.T) {
	step := object(mgl32.Vec3{4, 0, 0}, mgl32.Vec3{8, 8, 0.5})
	tile, err := generate(t, NewRasterizer(0), terrain(), step)
	require.NoError(t, err)

	assert.Equal(t, 64, tile.Walkable)
	assert.InDelta(t, 0.5, tile.CellAt(5, 0).Height, 1e-6)
	assert.NotZero(t, tile.CellAt(3, 0).NSWE&geo.NSWEEast)
	assert.Equal(t, 16, tile.Polys)
}

func TestRasterizer_OverheadObjectIgnored(t *testing.T) {
	bridge := object(mgl32.Vec3{0, 0, 3}, mgl32.Vec3{8, 8, 4})
	tile, err := generate(t, NewRasterizer(0), terrain(), bridge)
	require.NoError(t, err)
	assert.Equal(t, 64, tile.Walkable)
	assert.InDelta(t, 0, tile.CellAt(1, 1).Height, 1e-6)
}

func TestRasterizer_NoGeometryIsEmpty(t *testing.T) {
	far := object(mgl32.Vec3{100, 100, 0}, mgl32.Vec3{101, 101, 1})
	tile, err := generate(t, NewRasterizer(0), far)
	require.NoError(t, err)
	assert.True(t, tile.Empty())
	assert.Zero(t, tile.Polys)
}

func TestRasterizer_Budget(t *testing.T) {
	wall := object(mgl32.Vec3{2, 0, 0}, mgl32.Vec3{3, 8, 3})
	_, err := generate(t, NewRasterizer(10), terrain(), wall)
	assert.ErrorIs(t, err, ErrTileBudget)
}

func TestRasterizer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRasterizer(0).Generate(ctx, Input{Settings: testutil.NavSettings(), Geometry: []world.Placement{terrain()}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTile_CellAtOutside(t *testing.T) {
	tile, err := generate(t, NewRasterizer(0), terrain())
	require.NoError(t, err)
	assert.Equal(t, Cell{}, tile.CellAt(-1, 0))
	assert.Equal(t, Cell{}, tile.CellAt(0, 8))
}

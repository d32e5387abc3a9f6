package geo

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ToNavSpace converts a world XY point into nav space.
func ToNavSpace(s Settings, world mgl32.Vec2) mgl32.Vec2 {
	return mgl32.Vec2{
		(world.X() - s.Origin.X()) * s.WorldScale,
		(world.Y() - s.Origin.Y()) * s.WorldScale,
	}
}

// ToWorldSpace converts a nav-space point back into world XY.
func ToWorldSpace(s Settings, nav mgl32.Vec2) mgl32.Vec2 {
	return mgl32.Vec2{
		nav.X()/s.WorldScale + s.Origin.X(),
		nav.Y()/s.WorldScale + s.Origin.Y(),
	}
}

// TileExtent returns the side of one tile in nav-space units.
func TileExtent(s Settings) float32 {
	return s.CellSize * float32(s.TileSize)
}

// TilePositionOf returns the tile containing a nav-space point.
// Floor division, so negative coordinates map to negative tiles. Points
// beyond the int32 tile grid saturate at its edge; use TilePositionChecked
// to detect them.
func TilePositionOf(s Settings, nav mgl32.Vec2) TileIndex {
	t, _ := TilePositionChecked(s, nav)
	return t
}

// TilePositionChecked is TilePositionOf that also reports whether the point
// lies on the int32 tile grid. ok is false for points outside it and for
// non-finite coordinates.
func TilePositionChecked(s Settings, nav mgl32.Vec2) (t TileIndex, ok bool) {
	extent := float64(TileExtent(s))
	x, okX := tileCoord(float64(nav.X()) / extent)
	y, okY := tileCoord(float64(nav.Y()) / extent)
	return TileIndex{X: x, Y: y}, okX && okY
}

func tileCoord(v float64) (int32, bool) {
	f := math.Floor(v)
	switch {
	case math.IsNaN(f):
		return 0, false
	case f < math.MinInt32:
		return math.MinInt32, false
	case f > math.MaxInt32:
		return math.MaxInt32, false
	}
	return int32(f), true
}

// TileAtWorld returns the tile covering a world XY point.
func TileAtWorld(s Settings, world mgl32.Vec2) TileIndex {
	return TilePositionOf(s, ToNavSpace(s, world))
}

// BorderSize returns the tile border in nav-space units.
func BorderSize(s Settings) float32 {
	return float32(s.BorderSize) * s.CellSize
}

// TileBounds returns the nav-space square covered by a tile, without border.
func TileBounds(s Settings, t TileIndex) Bounds {
	extent := TileExtent(s)
	return Bounds{
		Min: mgl32.Vec2{float32(t.X) * extent, float32(t.Y) * extent},
		Max: mgl32.Vec2{(float32(t.X) + 1) * extent, (float32(t.Y) + 1) * extent},
	}
}

// PaddedTileBounds returns the tile square grown by the border on every side.
// This is the area whose geometry contributes to the tile's mesh.
func PaddedTileBounds(s Settings, t TileIndex) Bounds {
	return TileBounds(s, t).Expand(BorderSize(s))
}

// Bounds is an axis-aligned rectangle in nav space.
type Bounds struct {
	Min mgl32.Vec2
	Max mgl32.Vec2
}

// Expand grows the rectangle by d on both min and max.
func (b Bounds) Expand(d float32) Bounds {
	return Bounds{
		Min: mgl32.Vec2{b.Min.X() - d, b.Min.Y() - d},
		Max: mgl32.Vec2{b.Max.X() + d, b.Max.Y() + d},
	}
}

// Overlaps reports whether two rectangles share any area or edge.
func (b Bounds) Overlaps(o Bounds) bool {
	return b.Min.X() <= o.Max.X() && o.Min.X() <= b.Max.X() &&
		b.Min.Y() <= o.Max.Y() && o.Min.Y() <= b.Max.Y()
}

// Contains reports whether p lies inside the rectangle (edges included).
func (b Bounds) Contains(p mgl32.Vec2) bool {
	return p.X() >= b.Min.X() && p.X() <= b.Max.X() &&
		p.Y() >= b.Min.Y() && p.Y() <= b.Max.Y()
}

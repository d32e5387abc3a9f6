package geo

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// RangeFromBounds returns the tiles covered by a world-space XY box.
//
// Both corners go to nav space, get padded by the border, and are tiled
// independently. Each axis is then ordered on its own: a mirrored transform
// may invert one axis but not the other. Corners beyond the int32 tile grid
// saturate at its edge; RangeFromAABB rejects them instead.
func RangeFromBounds(aabbMin, aabbMax mgl32.Vec2, s Settings) TilesPositionsRange {
	r, _ := rangeFromBounds(aabbMin, aabbMax, s)
	return r
}

func rangeFromBounds(aabbMin, aabbMax mgl32.Vec2, s Settings) (TilesPositionsRange, bool) {
	lo := ToNavSpace(s, aabbMin)
	hi := ToNavSpace(s, aabbMax)

	border := BorderSize(s)
	lo = lo.Sub(mgl32.Vec2{border, border})
	hi = hi.Add(mgl32.Vec2{border, border})

	minTile, okMin := TilePositionChecked(s, lo)
	maxTile, okMax := TilePositionChecked(s, hi)

	if minTile.X > maxTile.X {
		minTile.X, maxTile.X = maxTile.X, minTile.X
	}
	if minTile.Y > maxTile.Y {
		minTile.Y, maxTile.Y = maxTile.Y, minTile.Y
	}

	return TilesPositionsRange{Min: minTile, Max: maxTile}, okMin && okMax
}

// RangeFromAABB is RangeFromBounds over the XY part of a 3D box. A box that
// is not finite, or whose padded footprint leaves the int32 tile grid, is
// rejected with ErrInvalidGeometry.
func RangeFromAABB(box AABB, s Settings) (TilesPositionsRange, error) {
	if !box.Valid() {
		return TilesPositionsRange{}, fmt.Errorf("%w: box %v..%v", ErrInvalidGeometry, box.Min, box.Max)
	}
	r, ok := rangeFromBounds(box.Min2(), box.Max2(), s)
	if !ok {
		return TilesPositionsRange{}, fmt.Errorf("%w: box %v..%v is outside the tile grid", ErrInvalidGeometry, box.Min, box.Max)
	}
	return r, nil
}

// RangeFromShape returns the tiles covered by a shape under a transform.
func RangeFromShape(shape HasBoundingBox, tr Transform, s Settings) (TilesPositionsRange, error) {
	r, err := RangeFromAABB(shape.AABB(tr), s)
	if err != nil {
		return r, fmt.Errorf("shape range: %w", err)
	}
	return r, nil
}

// CellAABB returns the box of a square terrain cell of the given integer
// size shifted by shift. The half size uses integer division.
func CellAABB(cellSize int, shift mgl32.Vec3) AABB {
	half := float32(cellSize / 2)
	tr := At(shift)
	a := tr.Apply(mgl32.Vec3{-half, -half, 0})
	b := tr.Apply(mgl32.Vec3{half, half, 0})

	var box AABB
	for i := range 3 {
		box.Min[i] = min(a[i], b[i])
		box.Max[i] = max(a[i], b[i])
	}
	return box
}

// RangeFromCell returns the tiles covered by a square terrain cell.
func RangeFromCell(cellSize int, shift mgl32.Vec3, s Settings) (TilesPositionsRange, error) {
	if cellSize <= 0 {
		return TilesPositionsRange{}, fmt.Errorf("%w: cell size %d", ErrInvalidGeometry, cellSize)
	}
	return RangeFromAABB(CellAABB(cellSize, shift), s)
}

package world

import (
	"cmp"
	"slices"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/navtile/internal/geo"
)

// ObjectID identifies a collision object placed in the world.
type ObjectID uint32

// CellKey identifies a fixed-size terrain cell on the cell grid.
type CellKey struct {
	X, Y int32
}

// PlacementKind tells terrain cells from placed objects.
type PlacementKind byte

const (
	PlacementCell PlacementKind = iota + 1
	PlacementObject
)

// Placement is an immutable view of one piece of geometry handed to tile
// builders. Shapes are copied on insertion and never mutated afterwards, so a
// Placement may be shared across goroutines.
type Placement struct {
	Kind      PlacementKind
	Object    ObjectID
	Cell      CellKey
	Shape     geo.Shape
	Transform geo.Transform
	Bounds    geo.AABB
}

// CellInfo describes a loaded terrain cell.
type CellInfo struct {
	Key   CellKey
	Name  string
	Size  int
	Shift mgl32.Vec3
}

type object struct {
	id        ObjectID
	shape     geo.Shape
	transform geo.Transform
	bounds    geo.AABB
	tiles     geo.TilesPositionsRange
}

func (o *object) placement() Placement {
	return Placement{
		Kind:      PlacementObject,
		Object:    o.id,
		Shape:     o.shape,
		Transform: o.transform,
		Bounds:    o.bounds,
	}
}

type cell struct {
	info   CellInfo
	bounds geo.AABB
	tiles  geo.TilesPositionsRange
}

func (c *cell) placement() Placement {
	half := float32(c.info.Size / 2)
	return Placement{
		Kind:      PlacementCell,
		Cell:      c.info.Key,
		Shape:     geo.Box{HalfExtents: mgl32.Vec3{half, half, 0}},
		Transform: geo.At(c.info.Shift),
		Bounds:    c.bounds,
	}
}

// SortPlacements orders cells before objects, then by key / id, so snapshots
// of identical geometry compare and hash equal.
func SortPlacements(ps []Placement) {
	slices.SortFunc(ps, func(a, b Placement) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		if a.Kind == PlacementCell {
			if c := cmp.Compare(a.Cell.X, b.Cell.X); c != 0 {
				return c
			}
			return cmp.Compare(a.Cell.Y, b.Cell.Y)
		}
		return cmp.Compare(a.Object, b.Object)
	})
}

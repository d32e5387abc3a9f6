package geo

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrInvalidGeometry is returned when a shape under a transform yields a
// non-finite or inverted bounding box.
var ErrInvalidGeometry = errors.New("invalid geometry")

// ShapeKind identifies a concrete Shape implementation (persisted as a byte).
type ShapeKind byte

const (
	ShapeBox ShapeKind = iota + 1
	ShapeSphere
	ShapeCapsule
	ShapeTriangleMesh
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeBox:
		return "box"
	case ShapeSphere:
		return "sphere"
	case ShapeCapsule:
		return "capsule"
	case ShapeTriangleMesh:
		return "trimesh"
	}
	return fmt.Sprintf("shape(%d)", byte(k))
}

// Transform is a rigid placement: rotation then translation.
// The zero value is the identity.
type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
}

// At returns an unrotated transform at p.
func At(p mgl32.Vec3) Transform {
	return Transform{Position: p, Rotation: mgl32.QuatIdent()}
}

func (tr Transform) rotation() mgl32.Quat {
	if tr.Rotation == (mgl32.Quat{}) {
		return mgl32.QuatIdent()
	}
	return tr.Rotation.Normalize()
}

// Apply transforms a local point into world space.
func (tr Transform) Apply(v mgl32.Vec3) mgl32.Vec3 {
	return tr.rotation().Rotate(v).Add(tr.Position)
}

// AABB is a world-space axis-aligned box.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Valid reports whether every coordinate is finite and min <= max per axis.
func (b AABB) Valid() bool {
	for i := range 3 {
		if !finite(b.Min[i]) || !finite(b.Max[i]) || b.Min[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Min2 returns the XY part of Min.
func (b AABB) Min2() mgl32.Vec2 { return b.Min.Vec2() }

// Max2 returns the XY part of Max.
func (b AABB) Max2() mgl32.Vec2 { return b.Max.Vec2() }

// HasBoundingBox is the only capability the tile code needs from collision
// geometry: its world-space box under a rigid transform.
type HasBoundingBox interface {
	AABB(tr Transform) AABB
}

// Shape is collision geometry that can be persisted and rasterized.
type Shape interface {
	HasBoundingBox
	Kind() ShapeKind
}

// Box is an oriented box given by its half extents.
type Box struct {
	HalfExtents mgl32.Vec3
}

func (Box) Kind() ShapeKind { return ShapeBox }

func (b Box) AABB(tr Transform) AABB {
	q := tr.rotation()
	h := b.HalfExtents
	ext := abs3(q.Rotate(mgl32.Vec3{h.X(), 0, 0})).
		Add(abs3(q.Rotate(mgl32.Vec3{0, h.Y(), 0}))).
		Add(abs3(q.Rotate(mgl32.Vec3{0, 0, h.Z()})))
	return AABB{Min: tr.Position.Sub(ext), Max: tr.Position.Add(ext)}
}

// Sphere is rotation invariant.
type Sphere struct {
	Radius float32
}

func (Sphere) Kind() ShapeKind { return ShapeSphere }

func (s Sphere) AABB(tr Transform) AABB {
	r := mgl32.Vec3{s.Radius, s.Radius, s.Radius}
	return AABB{Min: tr.Position.Sub(r), Max: tr.Position.Add(r)}
}

// Capsule is a z-aligned segment of length 2*HalfHeight swept by Radius.
type Capsule struct {
	Radius     float32
	HalfHeight float32
}

func (Capsule) Kind() ShapeKind { return ShapeCapsule }

func (c Capsule) AABB(tr Transform) AABB {
	axis := abs3(tr.rotation().Rotate(mgl32.Vec3{0, 0, c.HalfHeight}))
	ext := axis.Add(mgl32.Vec3{c.Radius, c.Radius, c.Radius})
	return AABB{Min: tr.Position.Sub(ext), Max: tr.Position.Add(ext)}
}

// TriangleMesh is a static triangle soup; Indices holds vertex triples.
type TriangleMesh struct {
	Vertices []mgl32.Vec3
	Indices  []int32
}

func (TriangleMesh) Kind() ShapeKind { return ShapeTriangleMesh }

func (m TriangleMesh) AABB(tr Transform) AABB {
	if len(m.Vertices) == 0 {
		return AABB{Min: tr.Position, Max: tr.Position}
	}
	first := tr.Apply(m.Vertices[0])
	box := AABB{Min: first, Max: first}
	for _, v := range m.Vertices[1:] {
		w := tr.Apply(v)
		for i := range 3 {
			box.Min[i] = min(box.Min[i], w[i])
			box.Max[i] = max(box.Max[i], w[i])
		}
	}
	return box
}

// Clone returns a deep copy so snapshots never alias caller memory.
func (m TriangleMesh) Clone() TriangleMesh {
	return TriangleMesh{
		Vertices: append([]mgl32.Vec3(nil), m.Vertices...),
		Indices:  append([]int32(nil), m.Indices...),
	}
}

// CloneShape returns a copy of s that shares no mutable memory with it.
func CloneShape(s Shape) Shape {
	if m, ok := s.(TriangleMesh); ok {
		return m.Clone()
	}
	if m, ok := s.(*TriangleMesh); ok {
		return m.Clone()
	}
	return s
}

func abs3(v mgl32.Vec3) mgl32.Vec3 {
	for i := range 3 {
		if v[i] < 0 {
			v[i] = -v[i]
		}
	}
	return v
}

package tilecache

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/mesh"
)

// Digest identifies the full input of a tile build.
type Digest [blake2b.Size256]byte

// InputDigest hashes the tile index, settings and geometry snapshot.
// Identical inputs always produce identical generated tiles.
func InputDigest(in mesh.Input) Digest {
	buf := make([]byte, 0, 64+len(in.Geometry)*64)
	buf = appendInt32(buf, in.Tile.X, in.Tile.Y)

	s := in.Settings
	buf = appendFloat32(buf, s.CellSize, s.CellHeight, s.AgentRadius, s.AgentHeight,
		s.AgentMaxClimb, s.WorldScale, s.Origin.X(), s.Origin.Y())
	buf = appendInt32(buf, s.TileSize, s.BorderSize)

	for _, p := range in.Geometry {
		buf = append(buf, byte(p.Kind))
		buf = appendInt32(buf, p.Cell.X, p.Cell.Y, int32(p.Object))
		buf = appendFloat32(buf, p.Bounds.Min[:]...)
		buf = appendFloat32(buf, p.Bounds.Max[:]...)
		buf = appendShape(buf, p.Shape)
	}
	return blake2b.Sum256(buf)
}

func appendShape(buf []byte, shape geo.Shape) []byte {
	switch sh := shape.(type) {
	case geo.Box:
		buf = append(buf, byte(geo.ShapeBox))
		return appendFloat32(buf, sh.HalfExtents[:]...)
	case geo.Sphere:
		buf = append(buf, byte(geo.ShapeSphere))
		return appendFloat32(buf, sh.Radius)
	case geo.Capsule:
		buf = append(buf, byte(geo.ShapeCapsule))
		return appendFloat32(buf, sh.Radius, sh.HalfHeight)
	case geo.TriangleMesh:
		buf = append(buf, byte(geo.ShapeTriangleMesh))
		for _, v := range sh.Vertices {
			buf = appendFloat32(buf, v[:]...)
		}
		return appendInt32(buf, sh.Indices...)
	case nil:
		return append(buf, 0)
	}
	return append(buf, byte(shape.Kind()))
}

func appendFloat32(buf []byte, vs ...float32) []byte {
	for _, v := range vs {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

func appendInt32(buf []byte, vs ...int32) []byte {
	for _, v := range vs {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	}
	return buf
}

// MeshCache keeps recently generated tiles by input digest so that a tile
// dirtied back into a previously seen state is not regenerated. Admission is
// probabilistic: a miss only costs a rebuild.
type MeshCache struct {
	cache *ristretto.Cache[string, *mesh.Tile]
}

// NewMeshCache creates a cache bounded by the estimated size of its tiles.
func NewMeshCache(maxBytes int64) (*MeshCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *mesh.Tile]{
		NumCounters: max(maxBytes/256, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
		Cost: func(t *mesh.Tile) int64 {
			return t.EstimatedSize()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating mesh cache: %w", err)
	}
	return &MeshCache{cache: cache}, nil
}

// Get returns a previously generated tile for the digest.
func (m *MeshCache) Get(d Digest) (*mesh.Tile, bool) {
	return m.cache.Get(string(d[:]))
}

// Set remembers a generated tile. Wait makes it visible to the next Get.
func (m *MeshCache) Set(d Digest, t *mesh.Tile) {
	m.cache.Set(string(d[:]), t, 0)
	m.cache.Wait()
}

// Clear drops every remembered tile.
func (m *MeshCache) Clear() {
	m.cache.Clear()
}

// Close releases the cache's background goroutines.
func (m *MeshCache) Close() {
	m.cache.Close()
}

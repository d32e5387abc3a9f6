package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/world"
)

type shapeSpec struct {
	Kind        string       `json:"kind" binding:"required,oneof=box sphere capsule trimesh"`
	HalfExtents *mgl32.Vec3  `json:"half_extents"`
	Radius      float32      `json:"radius"`
	HalfHeight  float32      `json:"half_height"`
	Vertices    []mgl32.Vec3 `json:"vertices"`
	Indices     []int32      `json:"indices"`
}

func (s shapeSpec) shape() (geo.Shape, error) {
	switch s.Kind {
	case "box":
		if s.HalfExtents == nil {
			return nil, errors.New("box needs half_extents")
		}
		return geo.Box{HalfExtents: *s.HalfExtents}, nil
	case "sphere":
		return geo.Sphere{Radius: s.Radius}, nil
	case "capsule":
		return geo.Capsule{Radius: s.Radius, HalfHeight: s.HalfHeight}, nil
	case "trimesh":
		if len(s.Vertices) == 0 || len(s.Indices)%3 != 0 {
			return nil, errors.New("trimesh needs vertices and index triples")
		}
		for _, i := range s.Indices {
			if i < 0 || int(i) >= len(s.Vertices) {
				return nil, fmt.Errorf("trimesh index %d out of range", i)
			}
		}
		return geo.TriangleMesh{Vertices: s.Vertices, Indices: s.Indices}, nil
	}
	return nil, fmt.Errorf("unknown shape kind %q", s.Kind)
}

// placementSpec is a world transform. Rotation is a quaternion as
// [w, x, y, z]; omitted means unrotated.
type placementSpec struct {
	Position *mgl32.Vec3 `json:"position" binding:"required"`
	Rotation *[4]float32 `json:"rotation"`
}

func (p placementSpec) transform() geo.Transform {
	tr := geo.At(*p.Position)
	if r := p.Rotation; r != nil {
		tr.Rotation = mgl32.Quat{W: r[0], V: mgl32.Vec3{r[1], r[2], r[3]}}
	}
	return tr
}

type addObjectRequest struct {
	ID    *uint32   `json:"id" binding:"required"`
	Shape shapeSpec `json:"shape"`
	placementSpec
}

type addCellRequest struct {
	X     *int32     `json:"x" binding:"required"`
	Y     *int32     `json:"y" binding:"required"`
	Name  string     `json:"name"`
	Size  int        `json:"size" binding:"required,gt=0"`
	Shift mgl32.Vec3 `json:"shift"`
}

// geometryStatus maps registry errors onto HTTP statuses.
func geometryStatus(err error) int {
	switch {
	case errors.Is(err, world.ErrObjectExists), errors.Is(err, world.ErrCellExists):
		return http.StatusConflict
	case errors.Is(err, world.ErrObjectNotFound), errors.Is(err, world.ErrCellNotFound):
		return http.StatusNotFound
	case errors.Is(err, geo.ErrInvalidGeometry):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func pathObjectID(c *gin.Context) (world.ObjectID, error) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, errors.New("object id must be a uint32")
	}
	return world.ObjectID(v), nil
}

// POST /objects {"id": .., "shape": {..}, "position": [..], "rotation": [..]}
func (s *Server) addObject(c *gin.Context) {
	var req addObjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	shape, err := req.Shape.shape()
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	id := world.ObjectID(*req.ID)
	if err := s.nav.AddObject(id, shape, req.transform()); err != nil {
		abort(c, geometryStatus(err), err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// PUT /objects/:id {"position": [..], "rotation": [..]}
func (s *Server) updateObject(c *gin.Context) {
	id, err := pathObjectID(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	var req placementSpec
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.nav.UpdateObject(id, req.transform()); err != nil {
		abort(c, geometryStatus(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DELETE /objects/:id
func (s *Server) removeObject(c *gin.Context) {
	id, err := pathObjectID(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	if err := s.nav.RemoveObject(id); err != nil {
		abort(c, geometryStatus(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /cells {"x": .., "y": .., "name": .., "size": .., "shift": [..]}
func (s *Server) addCell(c *gin.Context) {
	var req addCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	key := world.CellKey{X: *req.X, Y: *req.Y}
	if err := s.nav.AddCell(key, req.Name, req.Size, req.Shift); err != nil {
		abort(c, geometryStatus(err), err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cell": key})
}

// DELETE /cells/:x/:y[?wait=true]
//
// With wait the request returns once every tile the cell covered is rebuilt
// or dropped, bounded by the flush timeout.
func (s *Server) removeCell(c *gin.Context) {
	t, err := pathTile(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	key := world.CellKey{X: t.X, Y: t.Y}

	if c.Query("wait") != "true" {
		if err := s.nav.RemoveCell(key); err != nil {
			abort(c, geometryStatus(err), err)
			return
		}
		c.Status(http.StatusAccepted)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.flushTimeout)
	defer cancel()
	if err := s.nav.UnloadCell(ctx, key); err != nil {
		abort(c, geometryStatus(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

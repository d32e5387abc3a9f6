package api

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/navigator"
	"github.com/udisondev/navtile/internal/tilecache"
)

type cellResponse struct {
	Height    float32 `json:"height"`
	NSWE      byte    `json:"nswe"`
	Standable bool    `json:"standable"`
}

type tileResponse struct {
	Index      geo.TileIndex  `json:"index"`
	Generation uint64         `json:"generation"`
	Version    uint64         `json:"version"`
	Size       int32          `json:"size"`
	Walkable   int            `json:"walkable"`
	Polys      int            `json:"polys"`
	Digest     string         `json:"digest"`
	BuiltAt    time.Time      `json:"built_at"`
	Cells      []cellResponse `json:"cells,omitempty"`
}

func newTileResponse(rec *tilecache.Record, withCells bool) tileResponse {
	resp := tileResponse{
		Index:      rec.Index,
		Generation: rec.Generation,
		Version:    rec.Version,
		Size:       rec.Tile.Size,
		Walkable:   rec.Tile.Walkable,
		Polys:      rec.Tile.Polys,
		Digest:     hex.EncodeToString(rec.Digest[:]),
		BuiltAt:    rec.BuiltAt,
	}
	if withCells {
		resp.Cells = make([]cellResponse, len(rec.Tile.Cells))
		for i, c := range rec.Tile.Cells {
			resp.Cells[i] = cellResponse{Height: c.Height, NSWE: c.NSWE, Standable: c.Standable}
		}
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error()})
}

func parseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	return int32(v), err
}

func pathTile(c *gin.Context) (geo.TileIndex, error) {
	x, err := parseInt32(c.Param("x"))
	if err != nil {
		return geo.TileIndex{}, errors.New("tile x must be an int32")
	}
	y, err := parseInt32(c.Param("y"))
	if err != nil {
		return geo.TileIndex{}, errors.New("tile y must be an int32")
	}
	return geo.TileIndex{X: x, Y: y}, nil
}

// GET /tiles/:x/:y[?cells=true]
func (s *Server) tile(c *gin.Context) {
	t, err := pathTile(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	rec, ok := s.nav.Tile(t)
	if !ok {
		abort(c, http.StatusNotFound, errors.New("tile "+t.String()+" has no navigation data"))
		return
	}
	c.JSON(http.StatusOK, newTileResponse(rec, c.Query("cells") == "true"))
}

type pointQuery struct {
	X *float32 `form:"x" binding:"required"`
	Y *float32 `form:"y" binding:"required"`
}

type tileAtResponse struct {
	Index geo.TileIndex `json:"index"`
	Tile  *tileResponse `json:"tile"`
}

// GET /tiles/at?x=&y=
func (s *Server) tileAt(c *gin.Context) {
	var q pointQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	idx, rec, ok := s.nav.TileAt(mgl32.Vec2{*q.X, *q.Y})
	resp := tileAtResponse{Index: idx}
	if ok {
		tr := newTileResponse(rec, false)
		resp.Tile = &tr
	}
	c.JSON(http.StatusOK, resp)
}

type rangeQuery struct {
	MinX *int32 `form:"min_x" binding:"required"`
	MinY *int32 `form:"min_y" binding:"required"`
	MaxX *int32 `form:"max_x" binding:"required"`
	MaxY *int32 `form:"max_y" binding:"required"`
}

// GET /tiles?min_x=&min_y=&max_x=&max_y=
func (s *Server) queryRange(c *gin.Context) {
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	r := geo.TilesPositionsRange{
		Min: geo.TileIndex{X: *q.MinX, Y: *q.MinY},
		Max: geo.TileIndex{X: *q.MaxX, Y: *q.MaxY},
	}
	st, err := s.nav.QueryRange(r)
	switch {
	case errors.Is(err, navigator.ErrInvalidRange):
		abort(c, http.StatusBadRequest, err)
		return
	case errors.Is(err, navigator.ErrRangeTooLarge):
		abort(c, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// DELETE /tiles/:x/:y
func (s *Server) invalidate(c *gin.Context) {
	t, err := pathTile(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	s.nav.Invalidate(t)
	c.Status(http.StatusNoContent)
}

// GET /stats
func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.nav.Stats())
}

// POST /flush
func (s *Server) flush(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.flushTimeout)
	defer cancel()

	if err := s.nav.Flush(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			abort(c, http.StatusGatewayTimeout, err)
			return
		}
		abort(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, s.nav.Stats())
}

type focusRequest struct {
	X *float32 `json:"x" binding:"required"`
	Y *float32 `json:"y" binding:"required"`
}

// PUT /focus {"x": .., "y": ..}
func (s *Server) setFocus(c *gin.Context) {
	var req focusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	t := s.nav.SetFocus(mgl32.Vec2{*req.X, *req.Y})
	c.JSON(http.StatusOK, gin.H{"focus": t})
}

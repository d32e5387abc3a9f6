// Package api serves the admin and query HTTP endpoints of navtiled.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/navigator"
	"github.com/udisondev/navtile/internal/tilecache"
	"github.com/udisondev/navtile/internal/world"
)

// Navigator is the part of navigator.Navigator the API uses.
type Navigator interface {
	Tile(t geo.TileIndex) (*tilecache.Record, bool)
	TileAt(p mgl32.Vec2) (geo.TileIndex, *tilecache.Record, bool)
	QueryRange(r geo.TilesPositionsRange) (navigator.RangeStatus, error)
	SetFocus(p mgl32.Vec2) geo.TileIndex
	Invalidate(t geo.TileIndex)
	Flush(ctx context.Context) error
	Stats() navigator.Stats

	AddObject(id world.ObjectID, shape geo.Shape, tr geo.Transform) error
	UpdateObject(id world.ObjectID, tr geo.Transform) error
	RemoveObject(id world.ObjectID) error
	AddCell(key world.CellKey, name string, size int, shift mgl32.Vec3) error
	RemoveCell(key world.CellKey) error
	UnloadCell(ctx context.Context, key world.CellKey) error
}

var _ Navigator = (*navigator.Navigator)(nil)

// Server is the HTTP front of a navigator.
type Server struct {
	nav          Navigator
	engine       *gin.Engine
	flushTimeout time.Duration
}

// NewServer creates a server with all routes registered.
func NewServer(nav Navigator) *Server {
	s := &Server{
		nav:          nav,
		engine:       gin.New(),
		flushTimeout: 30 * time.Second,
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes(s.engine.Group("/"))
	return s
}

// SetFlushTimeout bounds how long POST /flush and a waiting cell unload may
// block.
func (s *Server) SetFlushTimeout(d time.Duration) {
	s.flushTimeout = d
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes(e *gin.RouterGroup) {
	tiles := e.Group("/tiles")
	tiles.GET("", s.queryRange)
	tiles.GET("/at", s.tileAt)
	tiles.GET("/:x/:y", s.tile)
	tiles.DELETE("/:x/:y", s.invalidate)

	objects := e.Group("/objects")
	objects.POST("", s.addObject)
	objects.PUT("/:id", s.updateObject)
	objects.DELETE("/:id", s.removeObject)

	cells := e.Group("/cells")
	cells.POST("", s.addCell)
	cells.DELETE("/:x/:y", s.removeCell)

	e.GET("/stats", s.stats)
	e.POST("/flush", s.flush)
	e.PUT("/focus", s.setFocus)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin API listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving admin API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down admin API: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving admin API: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

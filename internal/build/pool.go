package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/mesh"
	"github.com/udisondev/navtile/internal/tilecache"
	"github.com/udisondev/navtile/internal/world"
)

// Source supplies the geometry a build runs against.
type Source interface {
	Settings() geo.Settings
	Snapshot(tile geo.TileIndex) []world.Placement
}

// Job is one tile build: the tile, the generation it was started against,
// and a private copy of the geometry touching it.
type Job struct {
	Index      geo.TileIndex
	Generation uint64
	Input      mesh.Input
	Digest     tilecache.Digest
}

// Pool runs build workers that take jobs from a Queue, generate meshes and
// commit them to the tile cache.
type Pool struct {
	queue  *Queue
	cache  *tilecache.Cache
	meshes *tilecache.MeshCache // optional
	source Source
	gen    mesh.Generator

	numWorkers int
	onCommit   func(geo.TileIndex)
}

// NewPool creates a pool. meshes may be nil.
func NewPool(queue *Queue, cache *tilecache.Cache, meshes *tilecache.MeshCache, source Source, gen mesh.Generator) *Pool {
	return &Pool{
		queue:      queue,
		cache:      cache,
		meshes:     meshes,
		source:     source,
		gen:        gen,
		numWorkers: runtime.NumCPU(),
	}
}

// SetNumWorkers sets the number of build workers. Takes effect on the next Run.
func (p *Pool) SetNumWorkers(n int) {
	if n < 1 {
		n = 1
	}
	p.numWorkers = n
}

// OnCommit registers a callback invoked after a result is accepted.
func (p *Pool) OnCommit(fn func(geo.TileIndex)) {
	p.onCommit = fn
}

// Run starts the workers and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("tile build pool started", "workers", p.numWorkers)

	g, gctx := errgroup.WithContext(ctx)
	for i := range p.numWorkers {
		g.Go(func() error {
			return p.worker(gctx, i)
		})
	}
	err := g.Wait()
	slog.Info("tile build pool stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) worker(ctx context.Context, id int) error {
	slog.Debug("build worker started", "worker", id)
	for {
		t, err := p.queue.Next(ctx)
		if err != nil {
			return err
		}
		p.queue.Done(t, p.Build(ctx, t))
	}
}

// Prepare snapshots everything a build of t needs. The generation is read
// before the geometry, so a change that lands in between bumps the
// generation past the snapshot and the result is discarded.
func (p *Pool) Prepare(t geo.TileIndex) Job {
	gen := p.cache.Generation(t)
	in := mesh.Input{
		Tile:     t,
		Settings: p.source.Settings(),
		Geometry: p.source.Snapshot(t),
	}
	return Job{
		Index:      t,
		Generation: gen,
		Input:      in,
		Digest:     tilecache.InputDigest(in),
	}
}

// Build builds one tile and commits the result. A stale result is dropped
// without error; generation failures are returned for the queue to retry.
func (p *Pool) Build(ctx context.Context, t geo.TileIndex) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("building tile %s: panic: %v", t, r)
		}
	}()

	job := p.Prepare(t)
	start := time.Now()

	if len(job.Input.Geometry) == 0 {
		p.cache.Remove(t, job.Generation)
		return nil
	}

	tile, cached := p.lookup(job.Digest)
	if !cached {
		tile, err = p.gen.Generate(ctx, job.Input)
		if err != nil {
			return fmt.Errorf("building tile %s: %w", t, err)
		}
		if p.meshes != nil {
			p.meshes.Set(job.Digest, tile)
		}
	}

	if !p.cache.Commit(t, job.Generation, tile, job.Digest) {
		slog.Debug("stale tile build discarded", "tile", t, "generation", job.Generation)
		return nil
	}
	slog.Debug("tile built",
		"tile", t,
		"generation", job.Generation,
		"polys", tile.Polys,
		"reused", cached,
		"duration", time.Since(start))
	if p.onCommit != nil {
		p.onCommit(t)
	}
	return nil
}

func (p *Pool) lookup(d tilecache.Digest) (*mesh.Tile, bool) {
	if p.meshes == nil {
		return nil, false
	}
	return p.meshes.Get(d)
}

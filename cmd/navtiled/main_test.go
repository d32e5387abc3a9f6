package main

import (
	"context"
	"log/slog"
	"runtime"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/navtile/internal/config"
	"github.com/udisondev/navtile/internal/db"
	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/navigator"
	"github.com/udisondev/navtile/internal/testutil"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestNavigatorOptions(t *testing.T) {
	cfg := config.DefaultNavtiled()
	cfg.Build.Workers = 0
	cfg.Build.QueueCapacity = 12
	cfg.Cache.MeshCacheBytes = 0

	opts := navigatorOptions(cfg)
	assert.Equal(t, runtime.NumCPU(), opts.Workers)
	assert.Equal(t, 12, opts.Queue.Capacity)
	assert.Equal(t, cfg.Build.RetryMax, opts.Queue.RetryMax)
	assert.Equal(t, cfg.Cache.MaxRecords, opts.MaxRecords)
	assert.Zero(t, opts.MeshCacheBytes)
	assert.Equal(t, cfg.Build.MaxFootprintTiles, opts.MaxFootprintTiles)

	cfg.Build.Workers = 3
	assert.Equal(t, 3, navigatorOptions(cfg).Workers)
}

// memStore keeps states in memory.
type memStore map[string][]byte

func (m memStore) Save(_ context.Context, name string, data []byte) error {
	m[name] = append([]byte(nil), data...)
	return nil
}

func (m memStore) Load(_ context.Context, name string) ([]byte, error) {
	data, ok := m[name]
	if !ok {
		return nil, db.ErrStateNotFound
	}
	return data, nil
}

func newNavigator(t *testing.T) *navigator.Navigator {
	t.Helper()
	opts := navigator.DefaultOptions()
	opts.MeshCacheBytes = 0
	n, err := navigator.New(testutil.NavSettings(), opts)
	require.NoError(t, err)
	t.Cleanup(n.Close)
	return n
}

func TestSaveAndRestoreState(t *testing.T) {
	ctx := context.Background()
	store := memStore{}

	src := newNavigator(t)
	require.NoError(t, src.AddObject(3, geo.Sphere{Radius: 1}, geo.At(mgl32.Vec3{4, 4, 0})))
	require.NoError(t, saveState(ctx, src, store, "default"))

	dst := newNavigator(t)
	require.NoError(t, restoreState(ctx, dst, store, "default"))
	assert.Equal(t, 1, dst.Stats().Objects)

	empty := newNavigator(t)
	require.NoError(t, restoreState(ctx, empty, store, "other"))
	assert.Zero(t, empty.Stats().Objects)
}

func TestRestoreState_CorruptStateStopsStartup(t *testing.T) {
	store := memStore{"default": []byte("garbage")}

	err := restoreState(context.Background(), newNavigator(t), store, "default")
	assert.ErrorIs(t, err, navigator.ErrCorruptState)
}

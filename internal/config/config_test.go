package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/navtile/internal/geo"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "navtiled.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadNavtiled_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadNavtiled(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultNavtiled(), cfg)
}

func TestDefaultNavtiled_IsValid(t *testing.T) {
	assert.NoError(t, DefaultNavtiled().Validate())
}

func TestLoadNavtiled_Overrides(t *testing.T) {
	path := writeConfig(t, `
http_address: ":9000"
log_level: debug
save_interval: 15s
database:
  enabled: false
navigation:
  cell_size: 0.5
  tile_size: 32
  border_size: 4
  origin_x: 100
build:
  workers: 3
  retry_base: 1s
  retry_max: 1m
cache:
  max_records: 0
`)
	cfg, err := LoadNavtiled(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddress)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.SaveInterval)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 3, cfg.Build.Workers)
	assert.Equal(t, time.Second, cfg.Build.RetryBase)
	assert.Equal(t, time.Minute, cfg.Build.RetryMax)
	assert.Zero(t, cfg.Cache.MaxRecords)

	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultNavtiled().Build.QueueCapacity, cfg.Build.QueueCapacity)
	assert.Equal(t, float32(geo.DefaultAgentRadius), cfg.Navigation.AgentRadius)

	s := cfg.Navigation.Settings()
	assert.Equal(t, float32(0.5), s.CellSize)
	assert.Equal(t, int32(32), s.TileSize)
	assert.Equal(t, int32(4), s.BorderSize)
	assert.Equal(t, mgl32.Vec2{100, 0}, s.Origin)
}

func TestLoadNavtiled_ParseError(t *testing.T) {
	path := writeConfig(t, "navigation: [not, a, map")
	_, err := LoadNavtiled(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestLoadNavtiled_InvalidNavigationIsFatal(t *testing.T) {
	path := writeConfig(t, "navigation:\n  cell_size: 0\n")
	_, err := LoadNavtiled(path)
	assert.ErrorIs(t, err, geo.ErrInvalidSettings)
}

func TestNavigation_DerivedBorder(t *testing.T) {
	n := DefaultNavigation()
	require.Negative(t, n.BorderSize)

	s := n.Settings()
	assert.Equal(t, geo.DeriveBorderSize(n.AgentRadius, n.CellSize, n.BorderMargin), s.BorderSize)
	assert.Equal(t, int32(5), s.BorderSize)
	assert.NoError(t, s.Validate())
}

func TestNavtiled_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Navtiled)
	}{
		{"negative workers", func(c *Navtiled) { c.Build.Workers = -1 }},
		{"negative capacity", func(c *Navtiled) { c.Build.QueueCapacity = -5 }},
		{"negative aging", func(c *Navtiled) { c.Build.AgingStep = -0.1 }},
		{"zero aging", func(c *Navtiled) { c.Build.AgingStep = 0 }},
		{"zero retry base", func(c *Navtiled) { c.Build.RetryBase = 0 }},
		{"retry max below base", func(c *Navtiled) { c.Build.RetryMax = time.Millisecond }},
		{"eviction without interval", func(c *Navtiled) { c.Cache.EvictInterval = 0 }},
		{"negative mesh cache", func(c *Navtiled) { c.Cache.MeshCacheBytes = -1 }},
		{"negative save interval", func(c *Navtiled) { c.SaveInterval = -time.Second }},
		{"empty state name", func(c *Navtiled) { c.StateName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultNavtiled()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 6432, DBName: "nav", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:6432/nav?sslmode=require", d.DSN())
}

func TestLoadNavtiled_SampleConfig(t *testing.T) {
	cfg, err := LoadNavtiled(filepath.Join("..", "..", "config", "navtiled.yaml"))
	require.NoError(t, err)

	assert.Equal(t, int32(8), cfg.Database.MaxConns)
	assert.Equal(t, DefaultNavtiled().Navigation, cfg.Navigation)
	assert.Equal(t, int32(5), cfg.Navigation.Settings().BorderSize)
	assert.Equal(t, DefaultNavtiled().Build, cfg.Build)
}

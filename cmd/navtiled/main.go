package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/navtile/internal/api"
	"github.com/udisondev/navtile/internal/build"
	"github.com/udisondev/navtile/internal/config"
	"github.com/udisondev/navtile/internal/db"
	"github.com/udisondev/navtile/internal/navigator"
)

const ConfigPath = "config/navtiled.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfgPath := ConfigPath
	if p := os.Getenv("NAVTILE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadNavtiled(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("navtiled starting", "config", cfgPath, "log_level", cfg.LogLevel)

	settings := cfg.Navigation.Settings()
	nav, err := navigator.New(settings, navigatorOptions(cfg))
	if err != nil {
		return fmt.Errorf("creating navigator: %w", err)
	}
	defer nav.Close()
	slog.Info("navigator created",
		"tile_size", settings.TileSize,
		"cell_size", settings.CellSize,
		"border_size", settings.BorderSize)

	var store stateStore
	if cfg.Database.Enabled {
		database, err := db.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		slog.Info("database connected")

		version, err := db.RunMigrations(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied", "version", version)

		store = db.NewNavStateRepository(database.Pool())
		if err := restoreState(ctx, nav, store, cfg.StateName); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting tile builders", "workers", cfg.Build.Workers)
		if err := nav.Run(gctx); err != nil {
			return fmt.Errorf("navigator: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return api.NewServer(nav).ListenAndServe(gctx, cfg.HTTPAddress)
	})

	if store != nil && cfg.SaveInterval > 0 {
		g.Go(func() error {
			slog.Info("starting state save loop", "interval", cfg.SaveInterval)
			runSaveLoop(gctx, nav, store, cfg.StateName, cfg.SaveInterval)
			return nil
		})
	}

	runErr := g.Wait()

	if store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := saveState(saveCtx, nav, store, cfg.StateName); err != nil {
			slog.Error("saving state at shutdown", "err", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("server error: %w", runErr)
	}
	return nil
}

// navigatorOptions maps service config onto navigator options.
func navigatorOptions(cfg config.Navtiled) navigator.Options {
	opts := navigator.DefaultOptions()
	if cfg.Build.Workers > 0 {
		opts.Workers = cfg.Build.Workers
	}
	opts.Queue = build.QueueConfig{
		Capacity:  cfg.Build.QueueCapacity,
		AgingStep: cfg.Build.AgingStep,
		RetryBase: cfg.Build.RetryBase,
		RetryMax:  cfg.Build.RetryMax,
	}
	opts.MaxPolys = cfg.Build.MaxPolys
	opts.MaxFootprintTiles = cfg.Build.MaxFootprintTiles
	opts.MaxRecords = cfg.Cache.MaxRecords
	opts.IdleEviction = cfg.Cache.IdleEviction
	opts.EvictInterval = cfg.Cache.EvictInterval
	opts.MeshCacheBytes = cfg.Cache.MeshCacheBytes
	return opts
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

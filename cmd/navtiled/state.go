package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/navtile/internal/db"
	"github.com/udisondev/navtile/internal/navigator"
)

type stateStore interface {
	Save(ctx context.Context, name string, data []byte) error
	Load(ctx context.Context, name string) ([]byte, error)
}

// restoreState loads the saved geometry into nav. A missing state is not an
// error; nor are rejected entries, which are logged and skipped. A state
// that cannot be decoded at all stops startup so it is not overwritten by
// the next save.
func restoreState(ctx context.Context, nav *navigator.Navigator, store stateStore, name string) error {
	data, err := store.Load(ctx, name)
	if errors.Is(err, db.ErrStateNotFound) {
		slog.Info("no saved navigator state", "name", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading navigator state: %w", err)
	}

	if err := nav.UnmarshalState(data); err != nil {
		if errors.Is(err, navigator.ErrCorruptState) {
			return fmt.Errorf("restoring navigator state %q: %w", name, err)
		}
		slog.Warn("navigator state restored with rejected entries", "name", name, "err", err)
	}
	return nil
}

func saveState(ctx context.Context, nav *navigator.Navigator, store stateStore, name string) error {
	data, err := nav.MarshalState()
	if err != nil {
		return fmt.Errorf("encoding navigator state: %w", err)
	}
	if err := store.Save(ctx, name, data); err != nil {
		return err
	}
	slog.Debug("navigator state saved", "name", name, "bytes", len(data))
	return nil
}

func runSaveLoop(ctx context.Context, nav *navigator.Navigator, store stateStore, name string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveState(ctx, nav, store, name); err != nil {
				slog.Error("periodic state save failed", "err", err)
			}
		}
	}
}

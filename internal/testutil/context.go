package testutil

import (
	"context"
	"testing"
	"time"
)

// ContextWithTimeout returns a context that times out after duration and is
// canceled when the test finishes.
func ContextWithTimeout(t testing.TB, duration time.Duration) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	t.Cleanup(cancel)

	return ctx
}

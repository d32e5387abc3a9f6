package build

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/navtile/internal/geo"
)

func tile(x, y int32) geo.TileIndex {
	return geo.TileIndex{X: x, Y: y}
}

func next(t *testing.T, q *Queue) geo.TileIndex {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	idx, err := q.Next(ctx)
	require.NoError(t, err)
	return idx
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestQueue_MarkIsIdempotent(t *testing.T) {
	q := NewQueue(QueueConfig{})

	assert.Equal(t, 1, q.Mark(tile(3, 4), tile(3, 4)))
	assert.Equal(t, 0, q.Mark(tile(3, 4)))

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, StatePending, q.State(tile(3, 4)))
	stats := q.Stats()
	assert.Equal(t, uint64(3), stats.Marked)
	assert.Equal(t, uint64(2), stats.Coalesced)
}

func TestQueue_NearestFirst(t *testing.T) {
	q := NewQueue(QueueConfig{AgingStep: 0.01})
	q.Mark(tile(20, 0), tile(5, 5), tile(1, 0))

	assert.Equal(t, tile(1, 0), next(t, q))
	assert.Equal(t, tile(5, 5), next(t, q))
	assert.Equal(t, tile(20, 0), next(t, q))
	assert.Equal(t, 3, q.Stats().InFlight)
}

func TestQueue_SetFocusReranks(t *testing.T) {
	q := NewQueue(QueueConfig{AgingStep: 0.01})
	q.Mark(tile(10, 0), tile(-10, 0))

	q.SetFocus(tile(-9, 0))
	assert.Equal(t, tile(-9, 0), q.Focus())
	assert.Equal(t, tile(-10, 0), next(t, q))
}

func TestQueue_MarkWhileInProgressRequeues(t *testing.T) {
	q := NewQueue(QueueConfig{})
	q.Mark(tile(0, 0))
	require.Equal(t, tile(0, 0), next(t, q))

	q.Mark(tile(0, 0))
	assert.Equal(t, StateInProgress, q.State(tile(0, 0)))
	assert.Zero(t, q.Len())

	q.Done(tile(0, 0), nil)
	assert.Equal(t, StatePending, q.State(tile(0, 0)))
	assert.Equal(t, 1, q.Len())

	require.Equal(t, tile(0, 0), next(t, q))
	q.Done(tile(0, 0), nil)
	assert.Equal(t, StateClean, q.State(tile(0, 0)))
	assert.Equal(t, uint64(2), q.Stats().Completed)
}

// Capacity 2, three equally far tiles: the newest has the largest aged key
// and is deferred. It stays dirty and is readmitted once a job completes.
func TestQueue_CapacityDefersLargestKey(t *testing.T) {
	q := NewQueue(QueueConfig{Capacity: 2, AgingStep: 0.01})
	a, b, c := tile(10, 0), tile(0, 10), tile(-10, 0)
	q.Mark(a, b, c)

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, StatePending, q.State(a))
	assert.Equal(t, StatePending, q.State(b))
	assert.Equal(t, StateDeferred, q.State(c))
	stats := q.Stats()
	assert.Equal(t, 1, stats.Deferred)
	assert.Equal(t, uint64(1), stats.Overflows)

	// Marking a deferred tile does not grow the queue.
	q.Mark(c)
	assert.Equal(t, 2, q.Len())

	require.Equal(t, a, next(t, q))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, StateDeferred, q.State(c))

	q.Done(a, nil)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, StatePending, q.State(c))
	assert.Zero(t, q.Stats().Deferred)

	assert.Equal(t, b, next(t, q))
	assert.Equal(t, c, next(t, q))
}

// A far tile must not be shed forever by a stream of near tiles: once it is
// old enough its aged key beats theirs and they become the victims.
func TestQueue_FarTileNotStarvedAtCapacity(t *testing.T) {
	q := NewQueue(QueueConfig{Capacity: 2, AgingStep: 0.05})
	far := tile(100, 0)
	q.Mark(far)

	near := []geo.TileIndex{tile(1, 0), tile(0, 1), tile(-1, 0)}
	served := -1
	for i := range 5000 {
		q.Mark(near...)
		got := next(t, q)
		q.Done(got, nil)
		if got == far {
			served = i
			break
		}
	}
	require.NotEqual(t, -1, served, "far tile never built, state %s", q.State(far))
	// The far key is 100.05; near keys pass it after about 1980 enqueues.
	assert.Less(t, served, 2100)
	assert.Positive(t, q.Stats().Overflows)
}

func TestQueue_ZeroAgingStepUsesDefault(t *testing.T) {
	q := NewQueue(QueueConfig{})
	far := tile(100, 0)
	q.Mark(far)

	served := false
	for range 5000 {
		q.Mark(tile(1, 0))
		got := next(t, q)
		q.Done(got, nil)
		if got == far {
			served = true
			break
		}
	}
	assert.True(t, served, "far tile never built")
}

func TestQueue_CapacityNotExceeded(t *testing.T) {
	q := NewQueue(QueueConfig{Capacity: 3})
	q.Mark(tile(10, 0), tile(0, 10), tile(-10, 0))

	assert.Equal(t, 3, q.Len())
	assert.Zero(t, q.Stats().Deferred)
}

func TestQueue_FarTileNotStarved(t *testing.T) {
	q := NewQueue(QueueConfig{AgingStep: 1})
	far := tile(100, 0)
	q.Mark(far)

	near := []geo.TileIndex{tile(1, 0), tile(0, 1), tile(-1, 0), tile(0, -1)}
	served := -1
	for i := range 200 {
		q.Mark(near[i%len(near)])
		got := next(t, q)
		q.Done(got, nil)
		if got == far {
			served = i
			break
		}
	}
	require.NotEqual(t, -1, served, "far tile never built")
	assert.LessOrEqual(t, served, 110)
}

func TestQueue_CancelPending(t *testing.T) {
	q := NewQueue(QueueConfig{})
	q.Mark(tile(0, 0), tile(1, 0))

	assert.Equal(t, 1, q.Cancel(tile(0, 0), tile(5, 5)))
	assert.Equal(t, StateClean, q.State(tile(0, 0)))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, tile(1, 0), next(t, q))
}

func TestQueue_CancelInProgress(t *testing.T) {
	q := NewQueue(QueueConfig{})
	q.Mark(tile(0, 0))
	require.Equal(t, tile(0, 0), next(t, q))
	q.Mark(tile(0, 0))

	assert.Equal(t, 1, q.Cancel(tile(0, 0)))
	assert.Equal(t, StateInProgress, q.State(tile(0, 0)))

	q.Done(tile(0, 0), nil)
	assert.Equal(t, StateClean, q.State(tile(0, 0)))
	assert.Zero(t, q.Len())
}

func TestQueue_CancelMatching(t *testing.T) {
	q := NewQueue(QueueConfig{})
	q.Mark(tile(0, 0), tile(1, 0), tile(5, 5))

	n := q.CancelMatching(func(t geo.TileIndex) bool { return t.X < 2 })
	assert.Equal(t, 2, n)
	assert.Equal(t, StatePending, q.State(tile(5, 5)))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, uint64(2), q.Stats().Cancelled)
}

func TestQueue_FailureRetriesAfterBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	q := NewQueue(QueueConfig{RetryBase: time.Second, RetryMax: 4 * time.Second})
	q.SetClock(clock.Now)

	q.Mark(tile(2, 2))
	require.Equal(t, tile(2, 2), next(t, q))
	q.Done(tile(2, 2), errors.New("boom"))

	assert.Equal(t, StateRetrying, q.State(tile(2, 2)))
	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, 1, stats.Retrying)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	clock.Advance(time.Second)
	assert.Equal(t, tile(2, 2), next(t, q))
}

func TestQueue_MarkSkipsBackoff(t *testing.T) {
	q := NewQueue(QueueConfig{RetryBase: time.Hour})
	q.Mark(tile(0, 0))
	require.Equal(t, tile(0, 0), next(t, q))
	q.Done(tile(0, 0), errors.New("boom"))
	require.Equal(t, StateRetrying, q.State(tile(0, 0)))

	q.Mark(tile(0, 0))
	assert.Equal(t, StatePending, q.State(tile(0, 0)))
	assert.Equal(t, tile(0, 0), next(t, q))
}

func TestQueue_CanceledBuildRequeued(t *testing.T) {
	q := NewQueue(QueueConfig{})
	q.Mark(tile(0, 0))
	require.Equal(t, tile(0, 0), next(t, q))

	q.Done(tile(0, 0), context.Canceled)
	assert.Equal(t, StatePending, q.State(tile(0, 0)))
	assert.Zero(t, q.Stats().Failed)
}

func TestQueue_Backoff(t *testing.T) {
	q := NewQueue(QueueConfig{RetryBase: 100 * time.Millisecond, RetryMax: time.Second})

	assert.Equal(t, 100*time.Millisecond, q.backoff(1))
	assert.Equal(t, 200*time.Millisecond, q.backoff(2))
	assert.Equal(t, 800*time.Millisecond, q.backoff(4))
	assert.Equal(t, time.Second, q.backoff(5))
	assert.Equal(t, time.Second, q.backoff(50))
}

func TestQueue_Wait(t *testing.T) {
	q := NewQueue(QueueConfig{})
	q.Mark(tile(0, 0), tile(7, 7))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Wait(ctx, nil), context.DeadlineExceeded)

	go func() {
		for range 2 {
			idx, err := q.Next(context.Background())
			if err != nil {
				return
			}
			q.Done(idx, nil)
		}
	}()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, q.Wait(ctx2, nil))
	assert.False(t, q.Busy(nil))
}

func TestQueue_WaitMatchingIgnoresOthers(t *testing.T) {
	q := NewQueue(QueueConfig{})
	q.Mark(tile(9, 9))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := q.Wait(ctx, func(t geo.TileIndex) bool { return t == tile(0, 0) })
	assert.NoError(t, err)
}

func TestQueue_NextHonoursContext(t *testing.T) {
	q := NewQueue(QueueConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "in_progress", StateInProgress.String())
	assert.Equal(t, "unknown", State(42).String())
}

package build

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/udisondev/navtile/internal/geo"
)

// State is the build state of one tile.
type State int

const (
	StateClean      State = iota // no outstanding change
	StatePending                 // queued for a build
	StateInProgress              // a worker holds it
	StateDeferred                // dirty, pushed out of the queue by the capacity limit
	StateRetrying                // last build failed, waiting for back-off
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateDeferred:
		return "deferred"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// QueueConfig tunes the build queue.
type QueueConfig struct {
	// Capacity bounds the number of pending jobs; 0 means unbounded.
	Capacity int
	// AgingStep is added to the priority key per enqueued job, so a job
	// queued earlier eventually outranks any closer job queued later.
	// Values <= 0 use the default.
	AgingStep float64
	// RetryBase and RetryMax bound the exponential back-off after a failed build.
	RetryBase time.Duration
	RetryMax  time.Duration
}

// DefaultQueueConfig returns the defaults used by the service.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Capacity:  4096,
		AgingStep: 0.05,
		RetryBase: 500 * time.Millisecond,
		RetryMax:  30 * time.Second,
	}
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending   int    `json:"pending"`
	InFlight  int    `json:"in_flight"`
	Deferred  int    `json:"deferred"`
	Retrying  int    `json:"retrying"`
	Marked    uint64 `json:"marked"`
	Coalesced uint64 `json:"coalesced"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Overflows uint64 `json:"overflows"`
	Cancelled uint64 `json:"cancelled"`
}

type tileState struct {
	index     geo.TileIndex
	state     State
	redo      bool // marked again while in progress
	cancelled bool // cancelled while in progress
	seq       uint64
	dist      float64 // distance to focus in tiles
	key       float64
	heapIdx   int
	failures  int
	retryAt   time.Time
}

// Queue holds the set of dirty tiles and hands them to build workers,
// closest to the focus first.
//
// A tile is in at most one of the pending, in-progress, deferred or
// retrying states, so marking an already pending tile is a no-op and a
// tile is never built by two workers at once. A mark that arrives while the
// tile is being built sets a redo flag and the tile goes back to pending
// when the build finishes.
type Queue struct {
	mu    sync.Mutex
	cfg   QueueConfig
	now   func() time.Time
	focus geo.TileIndex
	seq   uint64

	tiles    map[geo.TileIndex]*tileState // every non-clean tile
	pending  jobHeap
	deferred map[geo.TileIndex]*tileState
	retrying map[geo.TileIndex]*tileState
	inFlight int

	notify  chan struct{} // wakes one waiting Next
	changed chan struct{} // closed on every state change, then replaced

	stats Stats
}

// NewQueue creates an empty queue.
func NewQueue(cfg QueueConfig) *Queue {
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}
	if cfg.AgingStep <= 0 {
		cfg.AgingStep = DefaultQueueConfig().AgingStep
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultQueueConfig().RetryBase
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = cfg.RetryBase
	}
	return &Queue{
		cfg:      cfg,
		now:      time.Now,
		tiles:    make(map[geo.TileIndex]*tileState),
		deferred: make(map[geo.TileIndex]*tileState),
		retrying: make(map[geo.TileIndex]*tileState),
		notify:   make(chan struct{}, 1),
		changed:  make(chan struct{}),
	}
}

// SetClock replaces the time source (tests).
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// Mark records that tiles need rebuilding. It returns the number of tiles
// that became pending.
func (q *Queue) Mark(tiles ...geo.TileIndex) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := 0
	for _, t := range tiles {
		q.stats.Marked++
		st, ok := q.tiles[t]
		if !ok {
			st = &tileState{index: t, heapIdx: -1}
			q.tiles[t] = st
			q.pushLocked(st)
			added++
			continue
		}
		switch st.state {
		case StatePending, StateDeferred:
			q.stats.Coalesced++
		case StateInProgress:
			st.redo = true
			st.cancelled = false
		case StateRetrying:
			// New geometry may fix the failure, so skip the rest of the back-off.
			delete(q.retrying, t)
			st.retryAt = time.Time{}
			q.pushLocked(st)
			added++
		}
	}
	if added > 0 {
		q.enforceCapacityLocked()
		q.signalLocked()
	}
	q.broadcastLocked()
	return added
}

// Next blocks until a tile is ready to build and moves it to in progress.
// It returns ctx.Err() when ctx is done first.
func (q *Queue) Next(ctx context.Context) (geo.TileIndex, error) {
	for {
		q.mu.Lock()
		q.promoteRetriesLocked()
		q.readmitLocked()
		if q.pending.Len() > 0 {
			st := heap.Pop(&q.pending).(*tileState)
			st.state = StateInProgress
			q.inFlight++
			if q.pending.Len() > 0 {
				q.signalLocked()
			}
			q.broadcastLocked()
			q.mu.Unlock()
			return st.index, nil
		}
		wait := q.nextRetryLocked()
		q.mu.Unlock()

		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if wait > 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return geo.TileIndex{}, ctx.Err()
		case <-q.notify:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Done reports the outcome of a build started by Next. A failed build is
// retried after a back-off; a canceled context puts the tile straight back.
func (q *Queue) Done(t geo.TileIndex, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, ok := q.tiles[t]
	if !ok || st.state != StateInProgress {
		return
	}
	q.inFlight--

	switch {
	case st.cancelled:
		delete(q.tiles, t)
	case err != nil && errors.Is(err, context.Canceled):
		q.pushLocked(st)
	case err != nil:
		q.stats.Failed++
		st.failures++
		if st.redo {
			st.redo = false
			q.pushLocked(st)
			break
		}
		st.state = StateRetrying
		st.retryAt = q.now().Add(q.backoff(st.failures))
		q.retrying[t] = st
		slog.Warn("tile build failed, retrying",
			"tile", t, "failures", st.failures, "retry_at", st.retryAt, "error", err)
	default:
		q.stats.Completed++
		st.failures = 0
		if st.redo {
			st.redo = false
			q.pushLocked(st)
			break
		}
		delete(q.tiles, t)
	}

	q.readmitLocked()
	q.enforceCapacityLocked()
	if q.pending.Len() > 0 {
		q.signalLocked()
	}
	q.broadcastLocked()
}

// Cancel drops outstanding work for tiles. Queued jobs are removed; a build
// already in progress finishes, but the tile ends up clean unless it is
// marked again. It returns the number of tiles affected.
func (q *Queue) Cancel(tiles ...geo.TileIndex) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range tiles {
		if q.cancelLocked(t) {
			n++
		}
	}
	if n > 0 {
		q.broadcastLocked()
	}
	return n
}

// CancelMatching cancels every non-clean tile for which match returns true.
func (q *Queue) CancelMatching(match func(geo.TileIndex) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for t := range q.tiles {
		if match(t) && q.cancelLocked(t) {
			n++
		}
	}
	if n > 0 {
		q.broadcastLocked()
	}
	return n
}

func (q *Queue) cancelLocked(t geo.TileIndex) bool {
	st, ok := q.tiles[t]
	if !ok {
		return false
	}
	switch st.state {
	case StatePending:
		heap.Remove(&q.pending, st.heapIdx)
		delete(q.tiles, t)
	case StateDeferred:
		delete(q.deferred, t)
		delete(q.tiles, t)
	case StateRetrying:
		delete(q.retrying, t)
		delete(q.tiles, t)
	case StateInProgress:
		if st.cancelled {
			return false
		}
		st.cancelled = true
		st.redo = false
	}
	q.stats.Cancelled++
	return true
}

// SetFocus moves the point builds are ordered around and re-ranks queued jobs.
func (q *Queue) SetFocus(t geo.TileIndex) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.focus == t {
		return
	}
	q.focus = t
	for _, st := range q.pending {
		q.rankLocked(st)
	}
	heap.Init(&q.pending)
	for _, st := range q.deferred {
		q.rankLocked(st)
	}
}

// Focus returns the current focus tile.
func (q *Queue) Focus() geo.TileIndex {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.focus
}

// State returns the build state of a tile.
func (q *Queue) State(t geo.TileIndex) State {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.tiles[t]; ok {
		return st.state
	}
	return StateClean
}

// Busy reports whether any tile matching match is not clean.
func (q *Queue) Busy(match func(geo.TileIndex) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busyLocked(match)
}

func (q *Queue) busyLocked(match func(geo.TileIndex) bool) bool {
	for t := range q.tiles {
		if match == nil || match(t) {
			return true
		}
	}
	return false
}

// Wait blocks until every tile matching match is clean, or ctx is done.
// A nil match waits for the whole queue to drain.
func (q *Queue) Wait(ctx context.Context, match func(geo.TileIndex) bool) error {
	for {
		q.mu.Lock()
		busy := q.busyLocked(match)
		ch := q.changed
		q.mu.Unlock()
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = q.pending.Len()
	s.InFlight = q.inFlight
	s.Deferred = len(q.deferred)
	s.Retrying = len(q.retrying)
	return s
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

func (q *Queue) pushLocked(st *tileState) {
	q.seq++
	st.seq = q.seq
	st.state = StatePending
	q.rankLocked(st)
	heap.Push(&q.pending, st)
}

// rankLocked computes the priority key: distance to the focus plus an
// aging term that grows with every enqueue.
func (q *Queue) rankLocked(st *tileState) {
	dx := float64(st.index.X) - float64(q.focus.X)
	dy := float64(st.index.Y) - float64(q.focus.Y)
	st.dist = math.Hypot(dx, dy)
	st.key = st.dist + q.cfg.AgingStep*float64(st.seq)
}

// enforceCapacityLocked moves pending jobs to the deferred set until the
// queue fits, largest aged key first (see jobHeap.worst). The tiles stay
// dirty and are readmitted as room frees up.
func (q *Queue) enforceCapacityLocked() {
	if q.cfg.Capacity == 0 {
		return
	}
	for q.pending.Len() > q.cfg.Capacity {
		victim := q.pending.worst()
		heap.Remove(&q.pending, victim.heapIdx)
		victim.state = StateDeferred
		q.deferred[victim.index] = victim
		q.stats.Overflows++
		slog.Warn("build queue full, deferring tile",
			"tile", victim.index, "capacity", q.cfg.Capacity, "deferred", len(q.deferred))
	}
}

// readmitLocked moves deferred tiles back while there is room, best first.
func (q *Queue) readmitLocked() {
	for len(q.deferred) > 0 && (q.cfg.Capacity == 0 || q.pending.Len() < q.cfg.Capacity) {
		var best *tileState
		for _, st := range q.deferred {
			if best == nil || better(st, best) {
				best = st
			}
		}
		delete(q.deferred, best.index)
		best.state = StatePending
		heap.Push(&q.pending, best)
	}
}

func (q *Queue) promoteRetriesLocked() {
	if len(q.retrying) == 0 {
		return
	}
	now := q.now()
	for t, st := range q.retrying {
		if now.Before(st.retryAt) {
			continue
		}
		delete(q.retrying, t)
		st.retryAt = time.Time{}
		q.pushLocked(st)
	}
	q.enforceCapacityLocked()
}

// nextRetryLocked returns how long until the earliest retry is due, or 0
// when nothing is waiting.
func (q *Queue) nextRetryLocked() time.Duration {
	var earliest time.Time
	for _, st := range q.retrying {
		if earliest.IsZero() || st.retryAt.Before(earliest) {
			earliest = st.retryAt
		}
	}
	if earliest.IsZero() {
		return 0
	}
	d := earliest.Sub(q.now())
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

func (q *Queue) backoff(failures int) time.Duration {
	d := q.cfg.RetryBase
	for i := 1; i < failures && d < q.cfg.RetryMax; i++ {
		d *= 2
	}
	return min(d, q.cfg.RetryMax)
}

func (q *Queue) signalLocked() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

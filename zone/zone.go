package zone

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sghaida/zoned/async"
	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/sghaida/zoned/metrics"
)

// ID identifies a zone.
type ID uint64

// Root is the default zone. It always exists.
const Root ID = 0

// String implements fmt.Stringer.
func (z ID) String() string { return strconv.FormatUint(uint64(z), 10) }

// ErrNotInitialized is returned by isolation APIs used before a tracker was
// installed.
var ErrNotInitialized = errors.New("zone: tracker is not initialized; call zone.Init before isolating")

// Stats is a point-in-time view of a Tracker.
type Stats struct {
	// Zones is the number of non-root zones with live units.
	Zones int
	// Units is the number of tracked units not yet destroyed.
	Units int
	// Running is the number of unit bodies currently executing.
	Running int
}

// Tracker maps async units to zones.
//
// A new unit inherits the zone of the unit that created it. EnsureZone
// re-anchors a unit to a zone of its own; everything it creates afterwards
// belongs to that zone. Destroyed units are forgotten.
type Tracker struct {
	sched   *async.Scheduler
	logger  *slog.Logger
	metrics *metrics.Metrics
	disable func()

	mu      sync.Mutex
	index   map[async.ID]ID
	live    map[ID]int
	running map[async.ID]int
}

// NewTracker creates a tracker and enables it on sched.
func NewTracker(sched *async.Scheduler, opts ...Option) *Tracker {
	cfg := newConfig(opts)
	if sched == nil {
		sched = async.Default()
	}
	t := &Tracker{
		sched:   sched,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		index:   make(map[async.ID]ID),
		live:    make(map[ID]int),
		running: make(map[async.ID]int),
	}
	t.disable = sched.Enable(t)
	return t
}

// Scheduler returns the scheduler the tracker listens on.
func (t *Tracker) Scheduler() *async.Scheduler { return t.sched }

// Close stops listening on the scheduler. Zone lookups keep working on the
// state recorded so far.
func (t *Tracker) Close() { t.disable() }

// Init implements async.Hooks.
func (t *Tracker) Init(id, trigger async.ID, _ string) {
	t.mu.Lock()
	z, ok := t.index[trigger]
	if !ok {
		z = Root
	}
	t.index[id] = z
	t.live[z]++
	t.mu.Unlock()

	t.metrics.UnitCreated()
}

// Before implements async.Hooks.
func (t *Tracker) Before(id async.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running[id]++
}

// After implements async.Hooks.
func (t *Tracker) After(id async.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running[id] > 1 {
		t.running[id]--
		return
	}
	delete(t.running, id)
}

// Destroy implements async.Hooks.
func (t *Tracker) Destroy(id async.ID) {
	t.mu.Lock()
	z, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.index, id)
	closed := t.release(z)
	t.mu.Unlock()

	t.metrics.UnitDestroyed()
	if closed {
		t.metrics.ZoneClosed()
	}
}

// release drops one live unit from z and reports whether a non-root zone lost
// its last unit. Callers hold t.mu.
func (t *Tracker) release(z ID) bool {
	t.live[z]--
	if t.live[z] > 0 {
		return false
	}
	delete(t.live, z)
	return z != Root
}

// ZoneOf returns the zone of unit id; unknown units belong to Root.
func (t *Tracker) ZoneOf(id async.ID) ID {
	if id == 0 {
		return Root
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if z, ok := t.index[id]; ok {
		return z
	}
	return Root
}

// ZoneID returns the zone of the unit executing under ctx. When that unit
// is no longer tracked, the zone stamped on ctx by the isolation it ran in
// is used, so a ctx kept past its isolation never resolves to Root.
func (t *Tracker) ZoneID(ctx context.Context) ID {
	if id := async.ExecutionID(ctx); id != 0 {
		t.mu.Lock()
		z, ok := t.index[id]
		t.mu.Unlock()
		if ok {
			return z
		}
	}
	if f, ok := ctx.Value(zoneKey{}).(zoneFrame); ok && f.tracker == t {
		return f.zone
	}
	return Root
}

type zoneKey struct{}

type zoneFrame struct {
	tracker *Tracker
	zone    ID
}

// withZone stamps z on ctx for lookups that outlive the unit.
func (t *Tracker) withZone(ctx context.Context, z ID) context.Context {
	return context.WithValue(ctx, zoneKey{}, zoneFrame{tracker: t, zone: z})
}

// EnsureZone anchors the unit executing under ctx, or the unit given as
// override, to a zone of its own and returns that zone. Outside any unit it
// returns Root unchanged.
func (t *Tracker) EnsureZone(ctx context.Context, override ...async.ID) ID {
	id := pick(ctx, override)
	if id == 0 {
		ctxlog.FromContextOr(ctx, t.logger).DebugContext(ctx, "ensure zone outside of an async unit; staying in root zone")
		return Root
	}

	z := ID(id)
	t.mu.Lock()
	prev, known := t.index[id]
	if known && prev == z {
		t.mu.Unlock()
		return z
	}
	t.index[id] = z
	t.live[z]++
	closed := known && t.release(prev)
	t.mu.Unlock()

	if !known {
		t.metrics.UnitCreated()
	}
	t.metrics.ZoneOpened()
	if closed {
		t.metrics.ZoneClosed()
	}
	return z
}

// CreateCheckDestroy captures the zone of ctx (or of override) and returns a
// check to run once that zone's owner was torn down. The check logs a warning
// when units tagged with the zone are still live.
func (t *Tracker) CreateCheckDestroy(ctx context.Context, override ...async.ID) func(ctx context.Context) {
	keep := t.ZoneOf(pick(ctx, override))
	return func(ctx context.Context) {
		n := t.Pending(keep)
		if n == 0 {
			return
		}
		t.metrics.Leak()
		ctxlog.FromContextOr(ctx, t.logger).WarnContext(ctx,
			"isolation destroyed but zone has not fulfilled async resources",
			"isolated_zone", uint64(keep), "pending", n)
	}
}

// Pending returns the number of live units tagged with z.
func (t *Tracker) Pending(z ID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live[z]
}

// Stats returns a snapshot of the tracker.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{Units: len(t.index)}
	for z := range t.live {
		if z != Root {
			s.Zones++
		}
	}
	for _, n := range t.running {
		s.Running += n
	}
	return s
}

func pick(ctx context.Context, override []async.ID) async.ID {
	if len(override) > 0 && override[0] != 0 {
		return override[0]
	}
	return async.ExecutionID(ctx)
}

// -------------------------
// Process-wide tracker
// -------------------------

var (
	defaultMu      sync.Mutex
	defaultTracker atomic.Pointer[Tracker]
)

// Init installs the process-wide tracker on async.Default(), or on the
// scheduler given with WithScheduler. Calling Init again only logs a warning
// and returns the installed tracker.
func Init(ctx context.Context, opts ...Option) *Tracker {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if t := defaultTracker.Load(); t != nil {
		ctxlog.FromContextOr(ctx, t.logger).WarnContext(ctx, "attempt to reinit zone tracker for current process")
		return t
	}
	cfg := newConfig(opts)
	t := NewTracker(cfg.scheduler, opts...)
	defaultTracker.Store(t)
	return t
}

// Default returns the process-wide tracker, or nil before Init.
func Default() *Tracker { return defaultTracker.Load() }

// Current returns the zone of ctx according to the process-wide tracker, or
// Root when no tracker was installed.
func Current(ctx context.Context) ID {
	if t := Default(); t != nil {
		return t.ZoneID(ctx)
	}
	return Root
}

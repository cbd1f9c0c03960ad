package service

import (
	"context"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/sghaida/zoned/lifecycle"
	"github.com/sghaida/zoned/unsub"
	"github.com/sghaida/zoned/zone"
)

// Handle is the type-erased view of a Service used by the directory and by
// the package-level helpers. Only *Service[T] implements it.
type Handle interface {
	Name() string
	Instantiate(ctx context.Context)
	Instantiated(ctx context.Context) bool
	Destroy(ctx context.Context)

	destroyZone(ctx context.Context, z zone.ID)
	forget(z zone.ID)
}

// Initer is implemented by instances that need an init step after
// construction and configuration. Instances embedding lifecycle.Initable are
// initialized through lifecycle.RunInit instead.
type Initer interface {
	Init(ctx context.Context)
}

// Service lazily builds one instance of T per zone.
//
// The first Get in a zone constructs the instance, registers it in the
// directory, runs the configure callbacks and then its init step. Cleanups
// registered during init (see package unsub) run when the instance is
// destroyed, either explicitly or by the teardown of its isolation.
type Service[T any] struct {
	name string
	dir  *Directory

	mu    sync.Mutex
	zones map[zone.ID]*zoneState[T]
}

// zoneState is a service's setup and instance for one zone.
type zoneState[T any] struct {
	ctor       func(ctx context.Context) T
	configures []func(ctx context.Context, v T)
	inst       *instance[T]
}

type instance[T any] struct {
	val T
	// built is set once the constructor returned.
	built bool
	// done is set once configure and init completed.
	done bool
	// ready is closed when the build finished or was rolled back.
	ready     chan struct{}
	unsubs    *unsub.Registry
	destroyed atomic.Bool
}

// New declares a service built by ctor.
//
// Example:
//
//	var Clock = service.New(func(context.Context) *Clock { return &Clock{} })
//
//	func handler(ctx context.Context) {
//		now := Clock.Get(ctx).Now()
//	}
func New[T any](ctor func(ctx context.Context) T, opts ...Option) *Service[T] {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.name == "" {
		o.name = reflect.TypeFor[T]().String()
	}
	if o.dir == nil {
		o.dir = DefaultDirectory()
	}
	return &Service[T]{
		name: o.name,
		dir:  o.dir,
		zones: map[zone.ID]*zoneState[T]{
			zone.Root: {ctor: ctor},
		},
	}
}

// Name returns the service name.
func (s *Service[T]) Name() string { return s.name }

// state returns the state of z, creating it from a snapshot of the root
// setup on first use. fresh reports whether it was created. Callers hold s.mu.
func (s *Service[T]) state(z zone.ID) (st *zoneState[T], fresh bool) {
	if st, ok := s.zones[z]; ok {
		return st, false
	}
	root := s.zones[zone.Root]
	st = &zoneState[T]{
		ctor:       root.ctor,
		configures: slices.Clone(root.configures),
	}
	s.zones[z] = st
	return st, true
}

// mutate runs fn on the state of z and records a fresh state in the
// directory.
func (s *Service[T]) mutate(z zone.ID, fn func(st *zoneState[T]) error) error {
	s.mu.Lock()
	st, fresh := s.state(z)
	err := fn(st)
	s.mu.Unlock()

	if fresh {
		s.dir.touch(z, s)
	}
	return err
}

// -------------------------
// Access
// -------------------------

type buildKey struct{}

type buildFrame struct {
	inst   any
	parent *buildFrame
}

func building(ctx context.Context, inst any) bool {
	f, _ := ctx.Value(buildKey{}).(*buildFrame)
	for ; f != nil; f = f.parent {
		if f.inst == inst {
			return true
		}
	}
	return false
}

// Get returns the instance of the zone of ctx, building it first when the
// zone has none.
//
// A Get made by the instance's own configure callbacks or init step returns
// the instance being built. A Get made by its constructor panics with
// *CycleError. Concurrent callers wait for the build in progress.
func (s *Service[T]) Get(ctx context.Context) T {
	z := s.dir.Zone(ctx)
	for {
		s.mu.Lock()
		st, fresh := s.state(z)
		inst := st.inst
		if inst == nil {
			inst = &instance[T]{ready: make(chan struct{}), unsubs: unsub.New()}
			st.inst = inst
			ctor, configures := st.ctor, slices.Clone(st.configures)
			s.mu.Unlock()

			if fresh {
				s.dir.touch(z, s)
			}
			return s.build(ctx, z, inst, ctor, configures)
		}
		if inst.done {
			v := inst.val
			s.mu.Unlock()
			return v
		}
		built, v := inst.built, inst.val
		s.mu.Unlock()

		if building(ctx, inst) {
			if !built {
				panic(&CycleError{Service: s.name})
			}
			return v
		}
		<-inst.ready
	}
}

func (s *Service[T]) build(ctx context.Context, z zone.ID, inst *instance[T], ctor func(context.Context) T, configures []func(context.Context, T)) T {
	parent, _ := ctx.Value(buildKey{}).(*buildFrame)
	ctx = context.WithValue(ctx, buildKey{}, &buildFrame{inst: inst, parent: parent})

	ok := false
	defer func() {
		if !ok {
			s.rollback(ctx, z, inst)
		}
		close(inst.ready)
	}()

	v := ctor(ctx)
	s.mu.Lock()
	inst.val, inst.built = v, true
	s.mu.Unlock()

	s.register(ctx, z, inst)
	unsub.Collect(ctx, inst.unsubs, func(ctx context.Context) {
		for _, fn := range configures {
			fn(ctx, v)
		}
		initInstance(ctx, v)
	})

	s.mu.Lock()
	inst.done = true
	s.mu.Unlock()
	ok = true

	s.dir.cfg.metrics.Instantiated(s.name)
	ctxlog.FromContextOr(ctx, s.dir.cfg.logger).DebugContext(ctx, "service instantiated",
		"service", s.name, "zone", uint64(z))
	return v
}

func initInstance[T any](ctx context.Context, v T) {
	switch x := any(v).(type) {
	case lifecycle.Lifecycle:
		lifecycle.RunInit(ctx, x)
		unsub.Un(ctx, func() { x.Destroy(ctx) })
	case Initer:
		x.Init(ctx)
	}
}

// register adds s to the directory for z and attaches the callback that
// undoes it to the instance's registry.
func (s *Service[T]) register(ctx context.Context, z zone.ID, inst *instance[T]) {
	s.dir.add(z, s)
	unsub.Attach(ctx, inst.unsubs, func() { s.clear(z, inst) })
}

// clear removes s from the directory and drops the instance. Constructor
// and configure callbacks stay, so the next Get rebuilds the same setup.
func (s *Service[T]) clear(z zone.ID, inst *instance[T]) {
	s.dir.remove(z, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.zones[z]; ok && st.inst == inst {
		st.inst = nil
	}
}

// rollback undoes a build that panicked, releasing whatever it registered.
func (s *Service[T]) rollback(ctx context.Context, z zone.ID, inst *instance[T]) {
	inst.destroyed.Store(true)
	inst.unsubs.Run(ctx)
	s.clear(z, inst)
	ctxlog.FromContextOr(ctx, s.dir.cfg.logger).ErrorContext(ctx, "service construction failed",
		"service", s.name, "zone", uint64(z))
}

// Instance returns the instance of the zone of ctx without building it.
func (s *Service[T]) Instance(ctx context.Context) (T, bool) {
	z := s.dir.Zone(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.zones[z]; ok && st.inst != nil && st.inst.done {
		return st.inst.val, true
	}
	var zero T
	return zero, false
}

// Instantiated reports whether the zone of ctx has an instance.
func (s *Service[T]) Instantiated(ctx context.Context) bool {
	_, ok := s.Instance(ctx)
	return ok
}

// Instantiate builds the instance of the zone of ctx unless it exists.
func (s *Service[T]) Instantiate(ctx context.Context) { s.Get(ctx) }

// -------------------------
// Setup
// -------------------------

// Override replaces the constructor used for future instances in the zone
// of ctx. It fails with *OrderError once the zone has an instance.
//
// Zones first used after a root-zone Override start from the new
// constructor; zones used before keep the one they started with.
func (s *Service[T]) Override(ctx context.Context, ctor func(ctx context.Context) T) error {
	return s.mutate(s.dir.Zone(ctx), func(st *zoneState[T]) error {
		if st.inst != nil {
			return &OrderError{Service: s.name, Op: "override"}
		}
		st.ctor = ctor
		return nil
	})
}

// Configure appends fn to the callbacks run on every new instance in the
// zone of ctx, after construction and before init.
func (s *Service[T]) Configure(ctx context.Context, fn func(ctx context.Context, v T)) {
	_ = s.mutate(s.dir.Zone(ctx), func(st *zoneState[T]) error {
		st.configures = append(st.configures, fn)
		return nil
	})
}

// Mock installs impl as the instance of the zone of ctx. impl skips
// construction, configure and init. An existing instance is destroyed first.
func (s *Service[T]) Mock(ctx context.Context, impl T) {
	z := s.dir.Zone(ctx)
	s.destroyZone(ctx, z)

	ready := make(chan struct{})
	close(ready)
	inst := &instance[T]{val: impl, built: true, done: true, ready: ready, unsubs: unsub.New()}
	_ = s.mutate(z, func(st *zoneState[T]) error {
		st.inst = inst
		return nil
	})
	s.register(ctx, z, inst)
}

// -------------------------
// Teardown
// -------------------------

// Destroy runs the cleanup registry of the instance of the zone of ctx, if
// there is one.
func (s *Service[T]) Destroy(ctx context.Context) {
	s.destroyZone(ctx, s.dir.Zone(ctx))
}

func (s *Service[T]) destroyZone(ctx context.Context, z zone.ID) {
	s.mu.Lock()
	var inst *instance[T]
	if st, ok := s.zones[z]; ok && st.inst != nil && st.inst.done {
		inst = st.inst
	}
	s.mu.Unlock()

	if inst == nil || !inst.destroyed.CompareAndSwap(false, true) {
		return
	}
	failed := inst.unsubs.Run(ctx)

	m := s.dir.cfg.metrics
	m.Destroyed(s.name)
	m.CleanupFailures(failed)
	ctxlog.FromContextOr(ctx, s.dir.cfg.logger).DebugContext(ctx, "service destroyed",
		"service", s.name, "zone", uint64(z), "failed_cleanups", failed)
}

// forget drops the per-zone state kept for z.
func (s *Service[T]) forget(z zone.ID) {
	if z == zone.Root {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.zones, z)
}

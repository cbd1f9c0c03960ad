// Package lifecycle provides embeddable helpers for instances that own
// resources: Destroyable collects cleanup callbacks and releases them once,
// Initable adds an init step whose side effects are collected the same way.
//
// Services whose instance embeds Initable are initialized with RunInit and
// destroyed together with their zone:
//
//	type Poller struct {
//		lifecycle.Initable
//		ticks *signal.Signal[int]
//	}
//
//	func (p *Poller) Init(ctx context.Context) {
//		p.Initable.Init(ctx)
//		t := scheduler.Every(ctx, time.Second, p.poll)
//		unsub.Un(ctx, t.Stop) // released by Destroy
//	}
package lifecycle

import (
	"context"
	"sync"

	"github.com/sghaida/zoned/internal/ctxlog"
	"github.com/sghaida/zoned/signal"
	"github.com/sghaida/zoned/unsub"
)

// Phase is the lifecycle state of a Destroyable.
type Phase int

const (
	// PhaseNew is the state before the first Init.
	PhaseNew Phase = iota
	// PhaseActive is the state between Init and Destroy.
	PhaseActive
	// PhaseDestroyed is the state after Destroy.
	PhaseDestroyed
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseActive:
		return "active"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// -------------------------
// Destroyable
// -------------------------

// Destroyable owns a cleanup registry that is run once by Destroy.
//
// The zero value is ready to use. Destroyable must not be copied after first
// use.
type Destroyable struct {
	mu    sync.Mutex
	reg   *unsub.Registry
	phase signal.Signal[Phase]
}

func (d *Destroyable) registry() *unsub.Registry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reg == nil {
		d.reg = unsub.New()
	}
	return d.reg
}

// RunInDestroyScope runs fn with d's registry as the ambient cleanup
// registry, so everything fn registers with unsub.Un is released by Destroy.
func (d *Destroyable) RunInDestroyScope(ctx context.Context, fn func(ctx context.Context)) {
	unsub.Collect(ctx, d.registry(), fn)
}

// OnDestroy registers fn to run on Destroy and returns a func that removes
// it again.
func (d *Destroyable) OnDestroy(fn func()) (remove func()) {
	return d.registry().Add(fn)
}

// OnPhase calls fn on every phase change until dispose is called.
func (d *Destroyable) OnPhase(ctx context.Context, fn func(Phase)) (dispose func()) {
	return d.phase.Subscribe(ctx, fn)
}

// Destroy marks d destroyed and runs its registry. Only the first call after
// each Init has an effect; failing callbacks are logged and skipped.
func (d *Destroyable) Destroy(ctx context.Context) {
	var changed bool
	d.phase.Update(func(p Phase) Phase {
		changed = p != PhaseDestroyed
		return PhaseDestroyed
	})
	if !changed {
		return
	}

	d.mu.Lock()
	reg := d.reg
	d.mu.Unlock()
	if n := reg.Run(ctx); n > 0 {
		ctxlog.FromContext(ctx).ErrorContext(ctx, "destroyable: cleanup callbacks failed", "failed", n)
	}
}

// Phase returns the current phase.
func (d *Destroyable) Phase() Phase { return d.phase.Get() }

// Destroyed reports whether Destroy was called since the last Init.
func (d *Destroyable) Destroyed() bool { return d.Phase() == PhaseDestroyed }

// Active reports whether d is not destroyed.
func (d *Destroyable) Active() bool { return !d.Destroyed() }

// -------------------------
// Initable
// -------------------------

// Initable is a Destroyable with an init step. Types embed it and call
// Initable.Init from their own Init:
//
//	func (c *Cache) Init(ctx context.Context) {
//		c.Initable.Init(ctx)
//		...
//	}
type Initable struct {
	Destroyable
}

// Init moves the instance to PhaseActive. Reinitializing a destroyed
// instance logs a warning; initializing an active one logs an error.
func (i *Initable) Init(ctx context.Context) {
	switch i.Phase() {
	case PhaseDestroyed:
		ctxlog.FromContext(ctx).WarnContext(ctx, "initable: reinitializing after destroy")
	case PhaseActive:
		ctxlog.FromContext(ctx).ErrorContext(ctx, "initable: cannot be reinitialized before destroy")
	}
	i.phase.Set(PhaseActive)
}

// Initialized reports whether the instance is between Init and Destroy.
func (i *Initable) Initialized() bool { return i.Phase() == PhaseActive }

func (i *Initable) initable() *Initable { return i }

// Lifecycle is implemented by every type that embeds Initable.
type Lifecycle interface {
	Init(ctx context.Context)
	Destroy(ctx context.Context)
	Initialized() bool
	Destroyed() bool
	RunInDestroyScope(ctx context.Context, fn func(ctx context.Context))
	initable() *Initable
}

// RunInit runs l.Init inside l's destroy scope.
func RunInit(ctx context.Context, l Lifecycle) {
	l.RunInDestroyScope(ctx, l.Init)
}

// EnsureInit initializes l unless it is already initialized.
func EnsureInit(ctx context.Context, l Lifecycle) {
	if l.Initialized() {
		return
	}
	log := ctxlog.FromContext(ctx)
	if l.Destroyed() {
		log.WarnContext(ctx, "initable: are you sure you want to reinit a destroyed instance")
	}
	RunInit(ctx, l)
	if !l.Initialized() {
		log.ErrorContext(ctx, "initable: Init override probably does not call Initable.Init")
	}
}

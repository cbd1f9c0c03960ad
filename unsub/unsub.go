// Package unsub implements cleanup registries: ordered collections of
// zero-argument teardown callbacks that run exactly once and tolerate
// failing callbacks.
//
// A registry can be installed as the ambient registry of a context with
// Collect. Code running under that context (constructors, init hooks,
// subscriptions) registers its cleanup with Un or Attach without being handed
// the registry explicitly:
//
//	reg := unsub.New()
//	unsub.Collect(ctx, reg, func(ctx context.Context) {
//		stop := startWatcher()
//		unsub.Un(ctx, stop)
//	})
//	...
//	unsub.Run(ctx, reg) // runs stop once
package unsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sghaida/zoned/internal/ctxlog"
)

// Registry is an ordered collection of cleanup callbacks.
//
// The zero value is ready to use. A Registry is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
}

type entry struct {
	fn func()
	// done is set once the entry was detached or handed to Run.
	done bool
}

// New returns an empty registry.
func New() *Registry { return &Registry{} }

// Add registers fn and returns a detach func that removes it again.
// Detaching twice, or after the registry ran, is a no-op.
//
// Every call adds its own entry: adding the same func twice runs it twice.
// Keep the detach func to undo a registration.
func (r *Registry) Add(fn func()) (detach func()) {
	e := &entry{fn: fn}
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	return func() { r.detach(e) }
}

// Len reports the number of pending callbacks.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) detach(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	for i, cur := range r.entries {
		if cur == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// take marks e as consumed and reports whether it was still pending.
func (r *Registry) take(e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.done {
		return false
	}
	e.done = true
	return true
}

// Run invokes every pending callback in registration order and leaves the
// registry empty. Callbacks registered while Run is in progress are drained
// by the same call.
//
// A panicking callback is recovered and logged; the remaining callbacks still
// run. Run returns the number of callbacks that failed.
func (r *Registry) Run(ctx context.Context) (failed int) {
	if r == nil {
		return 0
	}
	for {
		r.mu.Lock()
		batch := r.entries
		r.entries = nil
		r.mu.Unlock()

		if len(batch) == 0 {
			return failed
		}
		for _, e := range batch {
			if !r.take(e) {
				continue
			}
			switch err := invoke(e.fn); {
			case err == nil:
			case errors.Is(err, ErrNilCallback):
				ctxlog.FromContext(ctx).WarnContext(ctx, err.Error())
			default:
				failed++
				ctxlog.FromContext(ctx).ErrorContext(ctx, "cleanup callback failed", "error", err)
			}
		}
	}
}

var (
	// ErrNilCallback is logged when a nil callback was registered.
	ErrNilCallback = errors.New("unsub: unexpected nil cleanup callback")

	// ErrCallbackPanic wraps the value recovered from a panicking callback.
	ErrCallbackPanic = errors.New("unsub: panic during cleanup")
)

func invoke(fn func()) (err error) {
	if fn == nil {
		return ErrNilCallback
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, rec)
		}
	}()
	fn()
	return nil
}

// -------------------------
// Ambient registry
// -------------------------

type frameKey struct{}

type frame struct {
	reg    *Registry
	parent *frame
	active atomic.Bool
}

// Collect runs fn with reg installed as the ambient registry of the ctx passed
// to fn. Nested Collect calls form a stack: when the inner call returns, the
// outer registry is ambient again for the outer ctx.
//
// The installation ends when Collect returns. A ctx retained beyond that
// point resolves to the nearest enclosing Collect that is still running.
func Collect(ctx context.Context, reg *Registry, fn func(ctx context.Context)) {
	CollectValue(ctx, reg, func(ctx context.Context) struct{} {
		fn(ctx)
		return struct{}{}
	})
}

// CollectValue is Collect for functions that return a value.
func CollectValue[R any](ctx context.Context, reg *Registry, fn func(ctx context.Context) R) R {
	f := &frame{reg: reg, parent: current(ctx)}
	f.active.Store(true)
	defer f.active.Store(false)

	return fn(context.WithValue(ctx, frameKey{}, f))
}

func current(ctx context.Context) *frame {
	f, _ := ctx.Value(frameKey{}).(*frame)
	return f
}

// Scope returns the ambient registry of ctx, or nil when there is none.
func Scope(ctx context.Context) *Registry {
	for f := current(ctx); f != nil; f = f.parent {
		if f.active.Load() {
			return f.reg
		}
	}
	return nil
}

// Attach registers fn in reg. When reg is nil the ambient registry of ctx is
// used; without an ambient registry nothing is registered.
//
// The returned func detaches fn again and is always safe to call.
func Attach(ctx context.Context, reg *Registry, fn func()) (detach func()) {
	if reg == nil {
		reg = Scope(ctx)
	}
	if reg == nil {
		return func() {}
	}
	return reg.Add(fn)
}

// Un registers fn in the ambient registry and returns fn itself, so the call
// site can keep a direct reference to the callback it registered.
func Un(ctx context.Context, fn func()) func() {
	Attach(ctx, nil, fn)
	return fn
}

// Run runs reg. See (*Registry).Run.
func Run(ctx context.Context, reg *Registry) int {
	return reg.Run(ctx)
}

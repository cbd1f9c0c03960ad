// Package async is the execution substrate zones are tracked on.
//
// Every deferred unit of work (a task, a timer, a ticker, a manually managed
// resource) gets an ID. The Scheduler reports each unit's lifecycle to the
// registered Hooks:
//
//   - Init when the unit is created, with the ID of the unit that created it
//   - Before / After around every execution of the unit's body
//   - Destroy exactly once, when the unit can never run again
//
// The ID of the currently executing unit, and of its trigger, travel in the
// context.Context handed to the unit's body, so they can be read
// synchronously with ExecutionID and TriggerID anywhere down the call chain.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// ID identifies one unit of asynchronous work. Zero means "not inside a
// tracked unit".
type ID uint64

// String implements fmt.Stringer.
func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Hooks receive lifecycle notifications for every unit of a Scheduler.
//
// Hook methods are called synchronously on the goroutine driving the unit
// and must not block.
type Hooks interface {
	Init(id, trigger ID, kind string)
	Before(id ID)
	After(id ID)
	Destroy(id ID)
}

// Scheduler creates units of work and reports their lifecycle to hooks.
type Scheduler struct {
	clock  clockwork.Clock
	nextID atomic.Uint64

	mu    sync.RWMutex
	hooks []*hookSlot
}

type hookSlot struct{ h Hooks }

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used by timers and tickers. Defaults to the real
// clock.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// New returns a Scheduler with no hooks enabled.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultScheduler = New()

// Default returns the process-wide scheduler.
func Default() *Scheduler { return defaultScheduler }

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

// Enable registers h. The returned func unregisters it again and is
// idempotent.
func (s *Scheduler) Enable(h Hooks) (disable func()) {
	slot := &hookSlot{h: h}
	s.mu.Lock()
	s.hooks = append(s.hooks[:len(s.hooks):len(s.hooks)], slot)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			kept := make([]*hookSlot, 0, len(s.hooks))
			for _, cur := range s.hooks {
				if cur != slot {
					kept = append(kept, cur)
				}
			}
			s.hooks = kept
		})
	}
}

func (s *Scheduler) snapshot() []*hookSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hooks
}

func (s *Scheduler) emitInit(id, trigger ID, kind string) {
	for _, slot := range s.snapshot() {
		slot.h.Init(id, trigger, kind)
	}
}

func (s *Scheduler) emitBefore(id ID) {
	for _, slot := range s.snapshot() {
		slot.h.Before(id)
	}
}

func (s *Scheduler) emitAfter(id ID) {
	for _, slot := range s.snapshot() {
		slot.h.After(id)
	}
}

func (s *Scheduler) emitDestroy(id ID) {
	for _, slot := range s.snapshot() {
		slot.h.Destroy(id)
	}
}

// -------------------------
// Execution identity
// -------------------------

type execKey struct{}

type execFrame struct {
	id      ID
	trigger ID
}

// ExecutionID returns the ID of the unit executing under ctx, or zero.
func ExecutionID(ctx context.Context) ID {
	if f, ok := ctx.Value(execKey{}).(execFrame); ok {
		return f.id
	}
	return 0
}

// TriggerID returns the ID of the unit that created the unit executing under
// ctx, or zero.
func TriggerID(ctx context.Context) ID {
	if f, ok := ctx.Value(execKey{}).(execFrame); ok {
		return f.trigger
	}
	return 0
}

// -------------------------
// Resource
// -------------------------

// Resource is a manually managed unit of work. Its body may be run any number
// of times until Destroy is called.
type Resource struct {
	s       *Scheduler
	id      ID
	trigger ID
	kind    string

	destroyOnce sync.Once
	destroyed   atomic.Bool
}

// NewResource creates a unit triggered by the unit executing under ctx.
func (s *Scheduler) NewResource(ctx context.Context, kind string) *Resource {
	r := &Resource{
		s:       s,
		id:      ID(s.nextID.Add(1)),
		trigger: ExecutionID(ctx),
		kind:    kind,
	}
	s.emitInit(r.id, r.trigger, kind)
	return r
}

// ID returns the unit's ID.
func (r *Resource) ID() ID { return r.id }

// TriggerID returns the ID of the unit that created r.
func (r *Resource) TriggerID() ID { return r.trigger }

// Kind returns the kind the unit was created with.
func (r *Resource) Kind() string { return r.kind }

// Destroyed reports whether Destroy was called.
func (r *Resource) Destroyed() bool { return r.destroyed.Load() }

// Run executes fn as the body of r. The ctx passed to fn keeps every value of
// ctx but reports r as the executing unit.
func (r *Resource) Run(ctx context.Context, fn func(ctx context.Context)) {
	r.s.emitBefore(r.id)
	defer r.s.emitAfter(r.id)

	fn(context.WithValue(ctx, execKey{}, execFrame{id: r.id, trigger: r.trigger}))
}

// Destroy reports the unit as finished. Only the first call has an effect.
func (r *Resource) Destroy() {
	r.destroyOnce.Do(func() {
		r.destroyed.Store(true)
		r.s.emitDestroy(r.id)
	})
}

// -------------------------
// Task
// -------------------------

// PanicError carries a panic recovered from a task body.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("async: task panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Task is a unit that runs once in its own goroutine.
type Task struct {
	res  *Resource
	done chan struct{}
	err  error
	pe   *PanicError
}

// Go runs fn in a new goroutine as a fresh unit triggered by ctx's unit.
func (s *Scheduler) Go(ctx context.Context, fn func(ctx context.Context) error) *Task {
	t := &Task{
		res:  s.NewResource(ctx, "task"),
		done: make(chan struct{}),
	}
	go t.run(ctx, fn)
	return t
}

func (t *Task) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer close(t.done)
	defer t.res.Destroy()
	defer func() {
		if rec := recover(); rec != nil {
			t.pe = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()

	t.res.Run(ctx, func(ctx context.Context) {
		t.err = fn(ctx)
	})
}

// ID returns the task's unit ID.
func (t *Task) ID() ID { return t.res.id }

// Done is closed once the task finished and its unit was destroyed.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finished and returns its error. A panic in the
// task body is re-raised here as *PanicError.
func (t *Task) Wait() error {
	<-t.done
	if t.pe != nil {
		panic(t.pe)
	}
	return t.err
}

// -------------------------
// Timer / Ticker
// -------------------------

// Timer is a one-shot deferred unit.
type Timer struct {
	res   *Resource
	timer clockwork.Timer
}

// AfterFunc runs fn once after d, in a unit triggered by ctx's unit.
func (s *Scheduler) AfterFunc(ctx context.Context, d time.Duration, fn func(ctx context.Context)) *Timer {
	r := s.NewResource(ctx, "timer")
	t := &Timer{res: r}
	t.timer = s.clock.AfterFunc(d, func() {
		defer r.Destroy()
		r.Run(ctx, fn)
	})
	return t
}

// ID returns the timer's unit ID.
func (t *Timer) ID() ID { return t.res.id }

// Stop cancels the timer. It reports whether the call stopped the timer
// before it fired; in that case the unit is destroyed.
func (t *Timer) Stop() bool {
	if t.timer.Stop() {
		t.res.Destroy()
		return true
	}
	return false
}

// Ticker is a periodic unit.
type Ticker struct {
	res      *Resource
	stop     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

// Every runs fn every d in a unit triggered by ctx's unit, until Stop.
func (s *Scheduler) Every(ctx context.Context, d time.Duration, fn func(ctx context.Context)) *Ticker {
	t := &Ticker{
		res:    s.NewResource(ctx, "ticker"),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	ticker := s.clock.NewTicker(d)
	go func() {
		defer close(t.exited)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.Chan():
				select {
				case <-t.stop:
					return
				default:
				}
				t.res.Run(ctx, fn)
			}
		}
	}()
	return t
}

// ID returns the ticker's unit ID.
func (t *Ticker) ID() ID { return t.res.id }

// Stop ends the ticker and destroys its unit. It may be called from inside
// the ticker's own body. Stop is idempotent.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.res.Destroy()
	})
}

// Exited is closed once the ticker goroutine returned.
func (t *Ticker) Exited() <-chan struct{} { return t.exited }

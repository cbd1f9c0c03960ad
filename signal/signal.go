// Package signal provides small reactive primitives: a value holder that
// notifies subscribers on change, and a fire-and-forget event.
//
// Subscriptions register their dispose func in the ambient cleanup registry
// of the ctx they were made with (see package unsub). A subscription made
// while a service initializes therefore ends when the service is destroyed:
//
//	func (c *Counter) Init(ctx context.Context) {
//		c.Initable.Init(ctx)
//		c.value.Subscribe(ctx, func(v int) { c.log(v) })
//	}
package signal

import (
	"context"
	"sync"

	"github.com/sghaida/zoned/unsub"
)

// listeners is an ordered set of callbacks that can be notified outside its
// lock.
type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	subs []listener[T]
}

type listener[T any] struct {
	id uint64
	fn func(T)
}

func (l *listeners[T]) add(ctx context.Context, fn func(T)) (dispose func()) {
	l.mu.Lock()
	l.next++
	id := l.next
	l.subs = append(l.subs, listener[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	dispose = func() { once.Do(func() { l.remove(id) }) }
	return unsub.Un(ctx, dispose)
}

func (l *listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return
		}
	}
}

func (l *listeners[T]) notify(v T) {
	l.mu.Lock()
	snapshot := make([]listener[T], len(l.subs))
	copy(snapshot, l.subs)
	l.mu.Unlock()

	for _, s := range snapshot {
		s.fn(v)
	}
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// -------------------------
// Signal
// -------------------------

// Signal holds a value and notifies subscribers whenever it changes.
//
// The zero value holds the zero T and is ready to use. A Signal is safe for
// concurrent use; subscribers run in the goroutine that changed the value.
type Signal[T comparable] struct {
	mu    sync.Mutex
	value T
	subs  listeners[T]
}

// New returns a signal holding v.
func New[T comparable](v T) *Signal[T] {
	return &Signal[T]{value: v}
}

// Get returns the current value.
func (s *Signal[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set stores v. Subscribers are notified only when v differs from the
// current value.
func (s *Signal[T]) Set(v T) {
	s.mu.Lock()
	if s.value == v {
		s.mu.Unlock()
		return
	}
	s.value = v
	s.mu.Unlock()

	s.subs.notify(v)
}

// Update stores fn applied to the current value. The read and the write are
// atomic with respect to other Set and Update calls.
func (s *Signal[T]) Update(fn func(T) T) {
	s.mu.Lock()
	v := fn(s.value)
	if s.value == v {
		s.mu.Unlock()
		return
	}
	s.value = v
	s.mu.Unlock()

	s.subs.notify(v)
}

// Subscribe calls fn with every new value until dispose is called. dispose
// is also registered in the ambient cleanup registry of ctx, when there is
// one.
func (s *Signal[T]) Subscribe(ctx context.Context, fn func(T)) (dispose func()) {
	return s.subs.add(ctx, fn)
}

// Subscribers returns the number of active subscriptions.
func (s *Signal[T]) Subscribers() int { return s.subs.len() }

// -------------------------
// Event
// -------------------------

// Event delivers emitted values to its subscribers. It keeps no state.
type Event[T any] struct {
	subs listeners[T]
}

// NewEvent returns an event without subscribers.
func NewEvent[T any]() *Event[T] { return &Event[T]{} }

// Emit delivers v to every subscriber, in subscription order.
func (e *Event[T]) Emit(v T) { e.subs.notify(v) }

// Subscribe works like (*Signal).Subscribe.
func (e *Event[T]) Subscribe(ctx context.Context, fn func(T)) (dispose func()) {
	return e.subs.add(ctx, fn)
}

// Subscribers returns the number of active subscriptions.
func (e *Event[T]) Subscribers() int { return e.subs.len() }

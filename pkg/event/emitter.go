// Package event contains a typed publish/subscribe registry.
//
// Handlers are registered explicitly and delivered exactly once per
// emit: re-subscribing the same function is collapsed into the first
// registration instead of growing the handler list.
package event

import (
	"reflect"
	"sync"
)

// Handle unregisters its subscription when closed.
// Closing more than once is a no-op.
type Handle struct {
	once  sync.Once
	close func()
}

func (h *Handle) Close() {
	if h == nil || h.close == nil {
		return
	}
	h.once.Do(h.close)
}

type subscriber[T any] struct {
	ptr uintptr
	fn  func(T)
}

// Emitter delivers values of T to subscribed handlers in
// registration order.
type Emitter[T any] struct {
	mu   sync.Mutex
	subs []subscriber[T]
}

// Subscribe registers fn and returns its unsubscribe handle.
// The same function value subscribed twice keeps a single registration.
func (e *Emitter[T]) Subscribe(fn func(T)) *Handle {
	if fn == nil {
		return &Handle{}
	}
	ptr := reflect.ValueOf(fn).Pointer()
	e.mu.Lock()
	dup := false
	for _, s := range e.subs {
		if s.ptr == ptr {
			dup = true
			break
		}
	}
	if !dup {
		e.subs = append(e.subs, subscriber[T]{ptr: ptr, fn: fn})
	}
	e.mu.Unlock()
	return &Handle{close: func() { e.unsubscribe(ptr) }}
}

func (e *Emitter[T]) unsubscribe(ptr uintptr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.ptr == ptr {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every subscribed handler with v.
// Handlers run outside the registry lock, so they may subscribe or
// unsubscribe without deadlocking.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	subs := make([]subscriber[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()
	for _, s := range subs {
		s.fn(v)
	}
}

func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Package events provides a small typed publish/subscribe primitive used by
// the per-context probers, informers and the differ to talk to their owners.
package events

import "sync"

// Emitter fans a value of type T out to its subscribers.
//
// Handlers run synchronously on the emitting goroutine, in subscription order.
// The handler list is snapshotted before delivery, so a handler may subscribe
// or unsubscribe without deadlocking. The zero value is ready to use.
type Emitter[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []subscription[T]
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// On registers fn and returns a function that removes it again.
// The returned function is safe to call more than once.
func (e *Emitter[T]) On(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, subscription[T]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.off(id) })
	}
}

func (e *Emitter[T]) off(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every handler registered at the time of the call.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	if len(e.handlers) == 0 {
		e.mu.RUnlock()
		return
	}
	snapshot := make([]subscription[T], len(e.handlers))
	copy(snapshot, e.handlers)
	e.mu.RUnlock()

	for _, h := range snapshot {
		h.fn(v)
	}
}

// Len returns the number of registered handlers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Clear drops every handler.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	e.handlers = nil
	e.mu.Unlock()
}

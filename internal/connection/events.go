package connection

import "sync"

// emitter is a minimal publish/subscribe point. Handlers run synchronously
// on the emitting goroutine; there is no buffering, so late subscribers miss
// past events.
type emitter[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(T)
}

// subscribe registers a handler and returns a function that removes it.
func (e *emitter[T]) subscribe(fn func(T)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[int]func(T))
	}
	id := e.nextID
	e.nextID++
	e.handlers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, id)
	}
}

// emit invokes every registered handler with v.
func (e *emitter[T]) emit(v T) {
	e.mu.Lock()
	handlers := make([]func(T), 0, len(e.handlers))
	for _, fn := range e.handlers {
		handlers = append(handlers, fn)
	}
	e.mu.Unlock()

	for _, fn := range handlers {
		fn(v)
	}
}

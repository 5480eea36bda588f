package router

import (
	"sync"

	"livesync/pkg/types"
)

// Handler processes one inbound envelope.
type Handler func(env types.Envelope)

// Router dispatches inbound envelopes by type. Each type has exactly one
// handler slot; registering again overwrites the previous handler.
//
// Dispatch runs the handler synchronously on the caller's goroutine. The
// connection manager calls it from a single event loop, so handlers never
// overlap and see envelopes in arrival order.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates an empty router.
func New() *Router {
	return &Router{
		handlers: make(map[string]Handler),
	}
}

// On registers h for msgType, replacing any existing handler.
// A nil handler is the same as Off.
func (r *Router) On(msgType string, h Handler) {
	if h == nil {
		r.Off(msgType)
		return
	}
	r.mu.Lock()
	r.handlers[msgType] = h
	r.mu.Unlock()
}

// Off removes the handler for msgType.
func (r *Router) Off(msgType string) {
	r.mu.Lock()
	delete(r.handlers, msgType)
	r.mu.Unlock()
}

// Clear removes every handler.
func (r *Router) Clear() {
	r.mu.Lock()
	r.handlers = make(map[string]Handler)
	r.mu.Unlock()
}

// Dispatch invokes the handler registered for env.Type and reports whether
// one was found. Unmatched types are ignored.
func (r *Router) Dispatch(env types.Envelope) bool {
	// Lookup and call are split so a handler may re-register itself or others.
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	h(env)
	return true
}

// Has reports whether a handler is registered for msgType.
func (r *Router) Has(msgType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[msgType]
	return ok
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

package dispatch

import (
	"context"
	"sync"

	"goldlink/internal/model"
)

// Handler consumes one delivered message. Delivery is at-least-once:
// handlers may see the same message twice and must tolerate it. A handler
// must not block the flush loop; long work is handed off asynchronously.
type Handler func(ctx context.Context, msg model.Message) error

// Registry maps message types to process-local handlers. Subscriptions
// never outlive the process; whatever is registered at flush time receives
// the batch. No ordering guarantee between handlers of one type.
type Registry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[model.MessageType]map[uint64]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[model.MessageType]map[uint64]Handler),
	}
}

// Subscribe registers a handler and returns its unsubscribe func. Multiple
// handlers per type are allowed; all are invoked.
func (r *Registry) Subscribe(messageType model.MessageType, handler Handler) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[messageType] == nil {
		r.subs[messageType] = make(map[uint64]Handler)
	}

	id := r.nextID
	r.nextID++
	r.subs[messageType][id] = handler

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		delete(r.subs[messageType], id)
	}
}

// Handlers snapshots the current subscriber set for one type.
func (r *Registry) Handlers(messageType model.MessageType) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := make([]Handler, 0, len(r.subs[messageType]))
	for _, h := range r.subs[messageType] {
		handlers = append(handlers, h)
	}

	return handlers
}

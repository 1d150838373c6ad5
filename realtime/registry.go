package realtime

import (
	"encoding/json"
	"reflect"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler receives the raw payload of an inbound event.
type Handler func(payload json.RawMessage)

// registry is the local fan-out table: ordered handler lists keyed by
// event type. It is independent of server-side topic subscriptions.
type registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string][]Handler)}
}

func (r *registry) add(eventType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], handler)
}

// remove deletes the first registration of handler for eventType, matched
// by function identity. It reports whether any handlers remain for that
// event type.
func (r *registry) remove(eventType string, handler Handler) (remaining bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := reflect.ValueOf(handler).Pointer()
	list := r.handlers[eventType]
	for i, h := range list {
		if reflect.ValueOf(h).Pointer() == target {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.handlers, eventType)
		return false
	}
	r.handlers[eventType] = list
	return true
}

// dispatch invokes every handler registered for the event type, in
// registration order. A panicking handler is logged and must not prevent
// delivery to the remaining handlers.
func (r *registry) dispatch(eventType string, payload json.RawMessage) {
	r.mu.RLock()
	list := make([]Handler, len(r.handlers[eventType]))
	copy(list, r.handlers[eventType])
	r.mu.RUnlock()

	for _, handler := range list {
		invoke(eventType, handler, payload)
	}
}

func invoke(eventType string, handler Handler, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("event", eventType).Msg("event handler panicked")
		}
	}()
	handler(payload)
}

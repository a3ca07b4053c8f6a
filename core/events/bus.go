// Package events provides a simple event bus for publish/subscribe patterns.
// The registry publishes mutation events here; the invocation cache and the
// metrics collector subscribe to them.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Well-known event names published by the framework.
const (
	InterfaceDeclared     = "interface.declared"
	ComponentRegistered   = "component.registered"
	ComponentUnregistered = "component.unregistered"
	BundleLoaded          = "bundle.loaded"
	BundleUnloaded        = "bundle.unloaded"
)

// Event represents a published event.
type Event struct {
	// Name is the event name (e.g., "component.registered").
	Name string

	// Namespace is the registry namespace the event concerns.
	Namespace string

	// Interfaces lists the affected interface keys ("namespace/name").
	// Cache invalidation is keyed on these.
	Interfaces []string

	// Bundle is the originating bundle name, if any.
	Bundle string

	// Data contains additional event payload.
	Data map[string]any
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event.
// Supports wildcard subscriptions:
//   - "component.registered" - exact match
//   - "component.*" - all component events
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Publish emits an event to all matching handlers.
// Handlers are called synchronously in registration order. If a handler
// returns an error, publishing continues and the error is logged.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.logger.Debug().
		Str("event", event.Name).
		Str("namespace", event.Namespace).
		Strs("interfaces", event.Interfaces).
		Msg("event emitted")

	var matched []Handler

	// Exact match
	if handlers, ok := b.handlers[event.Name]; ok {
		matched = append(matched, handlers...)
	}

	// Prefix wildcard ("component.*")
	for pattern, handlers := range b.handlers {
		if strings.HasSuffix(pattern, ".*") {
			prefix := strings.TrimSuffix(pattern, "*")
			if strings.HasPrefix(event.Name, prefix) {
				matched = append(matched, handlers...)
			}
		}
	}

	// Global wildcard
	if handlers, ok := b.handlers["*"]; ok {
		matched = append(matched, handlers...)
	}

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Msg("event handler failed")
		}
	}
}

// HandlerCount returns the number of handlers subscribed to an event pattern.
func (b *Bus) HandlerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}

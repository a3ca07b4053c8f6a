// Package invocation memoizes repeated interface-call results to amortize
// lookup cost under high call volume.
//
// Entries are keyed by call site under the interface they depend on. Any
// registry mutation touching an interface invalidates every entry keyed on
// it, so cache entries never outlive the registry state they were derived
// from. Invalidation is wired through the event bus.
package invocation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/artpar/plugkit/core/events"
)

// ComputeFunc produces the value to cache on a miss.
type ComputeFunc func(ctx context.Context) (any, error)

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

// Cache memoizes values per (interface key, call-site key).
type Cache struct {
	mu      sync.RWMutex
	entries map[string]map[string]any // interface key -> call-site key -> value
	gens    map[string]uint64         // interface key -> invalidation generation
	logger  zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache. When a bus is provided, the cache subscribes to
// registry mutation events and invalidates the affected interfaces.
func New(logger zerolog.Logger, bus *events.Bus) *Cache {
	c := &Cache{
		entries: make(map[string]map[string]any),
		gens:    make(map[string]uint64),
		logger:  logger,
	}
	if bus != nil {
		invalidate := func(ctx context.Context, e events.Event) error {
			for _, key := range e.Interfaces {
				c.InvalidateInterface(key)
			}
			return nil
		}
		bus.Subscribe(events.InterfaceDeclared, invalidate)
		bus.Subscribe(events.ComponentRegistered, invalidate)
		bus.Subscribe(events.ComponentUnregistered, invalidate)
	}
	return c
}

// GetOrCompute returns the cached value for the call site if present and not
// invalidated; otherwise it invokes compute, stores the result, and returns
// it. Errors from compute are returned without being cached.
//
// Compute runs without holding the lock. The interface generation is
// snapshotted before computing and checked before storing, so a value derived
// from registry state that was invalidated mid-compute is returned to the
// caller but never cached.
func (c *Cache) GetOrCompute(ctx context.Context, ifaceKey, callKey string, compute ComputeFunc) (any, error) {
	c.mu.RLock()
	if byCall, ok := c.entries[ifaceKey]; ok {
		if value, ok := byCall[callKey]; ok {
			c.mu.RUnlock()
			c.hits.Add(1)
			return value, nil
		}
	}
	gen := c.gens[ifaceKey]
	c.mu.RUnlock()

	c.misses.Add(1)
	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gens[ifaceKey] == gen {
		byCall, ok := c.entries[ifaceKey]
		if !ok {
			byCall = make(map[string]any)
			c.entries[ifaceKey] = byCall
		}
		byCall[callKey] = value
	}
	c.mu.Unlock()

	return value, nil
}

// Get returns a cached value without computing.
func (c *Cache) Get(ifaceKey, callKey string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byCall, ok := c.entries[ifaceKey]
	if !ok {
		return nil, false
	}
	value, ok := byCall[callKey]
	return value, ok
}

// InvalidateInterface drops every entry keyed on an interface and bumps its
// generation so in-flight computes do not store results derived from the old
// state.
func (c *Cache) InvalidateInterface(ifaceKey string) {
	c.mu.Lock()
	dropped := len(c.entries[ifaceKey])
	delete(c.entries, ifaceKey)
	c.gens[ifaceKey]++
	c.mu.Unlock()

	if dropped > 0 {
		c.logger.Debug().
			Str("interface", ifaceKey).
			Int("entries", dropped).
			Msg("cache invalidated")
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	for ifaceKey := range c.entries {
		c.gens[ifaceKey]++
	}
	c.entries = make(map[string]map[string]any)
	c.mu.Unlock()
}

// Stats returns hit/miss counters and the current entry count.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := 0
	for _, byCall := range c.entries {
		entries += len(byCall)
	}
	c.mu.RUnlock()

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}
}

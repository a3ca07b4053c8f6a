// Package factory creates, caches, and retrieves component instances,
// honoring singleton vs multi-instance semantics.
//
// Singleton construction is at-most-once per namespace: a sync.Once guards
// each entry, and a constructor failure is cached so repeated requests
// surface the same error without retrying.
package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artpar/plugkit/core/component"
	"github.com/artpar/plugkit/core/events"
	"github.com/artpar/plugkit/core/registry"
)

// InstanceInfo describes a live singleton instance for introspection.
type InstanceInfo struct {
	ID        string    `json:"id"`
	Component string    `json:"component"`
	Namespace string    `json:"namespace"`
	CreatedAt time.Time `json:"created_at"`
}

type singletonEntry struct {
	once     sync.Once
	instance any
	err      error
	info     InstanceInfo
}

// Factory resolves component descriptors into live instances.
type Factory struct {
	mu         sync.Mutex
	registry   *registry.Registry
	singletons map[string]*singletonEntry // component key -> entry
	logger     zerolog.Logger

	// counters, guarded by mu
	created uint64
}

// New creates a factory backed by a registry. When a bus is provided, the
// factory evicts cached singletons as their components are unregistered, so
// no instance outlives its registration.
func New(reg *registry.Registry, logger zerolog.Logger, bus *events.Bus) *Factory {
	f := &Factory{
		registry:   reg,
		singletons: make(map[string]*singletonEntry),
		logger:     logger,
	}
	if bus != nil {
		bus.Subscribe(events.ComponentUnregistered, func(ctx context.Context, e events.Event) error {
			if key, ok := e.Data["component"].(string); ok {
				f.evict(key)
			}
			return nil
		})
	}
	return f
}

// Instance returns an instance of the named component. Singleton components
// are constructed at most once per namespace and then shared; multi-instance
// components are constructed fresh on every call.
func (f *Factory) Instance(ctx context.Context, ns, name string) (any, error) {
	comp, err := f.registry.Component(ns, name)
	if err != nil {
		return nil, err
	}
	return f.InstanceOf(ctx, comp)
}

// InstanceOf returns an instance for a component descriptor.
func (f *Factory) InstanceOf(ctx context.Context, comp component.Component) (any, error) {
	if comp.Scope == component.Singleton {
		return f.singleton(ctx, comp)
	}
	return f.construct(ctx, comp)
}

func (f *Factory) singleton(ctx context.Context, comp component.Component) (any, error) {
	key := comp.Key()

	f.mu.Lock()
	entry, ok := f.singletons[key]
	if !ok {
		entry = &singletonEntry{}
		f.singletons[key] = entry
	}
	f.mu.Unlock()

	entry.once.Do(func() {
		entry.instance, entry.err = f.construct(ctx, comp)
		if entry.err == nil {
			info := InstanceInfo{
				ID:        uuid.NewString(),
				Component: comp.Name,
				Namespace: comp.Namespace,
				CreatedAt: time.Now().UTC(),
			}
			f.mu.Lock()
			entry.info = info
			f.mu.Unlock()
			f.logger.Debug().
				Str("component", key).
				Str("instance", info.ID).
				Msg("singleton constructed")
		}
	})
	return entry.instance, entry.err
}

func (f *Factory) construct(ctx context.Context, comp component.Component) (any, error) {
	instance, err := comp.Construct(ctx)
	if err != nil {
		return nil, &component.InstantiationError{
			Component: comp.Name,
			Namespace: comp.Namespace,
			Cause:     err,
		}
	}
	if instance == nil {
		return nil, &component.InstantiationError{
			Component: comp.Name,
			Namespace: comp.Namespace,
			Cause:     fmt.Errorf("constructor returned nil instance"),
		}
	}

	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	return instance, nil
}

// ResolveOne resolves an interface to its first registered component
// (insertion order, with default-namespace fallback) and instantiates it.
func (f *Factory) ResolveOne(ctx context.Context, ns, iface string) (any, error) {
	comps, err := f.registry.Resolve(ns, iface)
	if err != nil {
		return nil, err
	}
	return f.InstanceOf(ctx, comps[0])
}

// ResolveAll instantiates every component implementing an interface, in
// registration order.
func (f *Factory) ResolveAll(ctx context.Context, ns, iface string) ([]any, error) {
	comps, err := f.registry.Resolve(ns, iface)
	if err != nil {
		return nil, err
	}
	instances := make([]any, 0, len(comps))
	for _, comp := range comps {
		instance, err := f.InstanceOf(ctx, comp)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// evict drops the cached singleton for a component key.
func (f *Factory) evict(key string) {
	f.mu.Lock()
	_, ok := f.singletons[key]
	delete(f.singletons, key)
	f.mu.Unlock()

	if ok {
		f.logger.Debug().Str("component", key).Msg("singleton evicted")
	}
}

// LiveInstances lists constructed singleton instances, sorted by component.
func (f *Factory) LiveInstances() []InstanceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]InstanceInfo, 0, len(f.singletons))
	for _, entry := range f.singletons {
		if entry.info.ID != "" {
			result = append(result, entry.info)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Namespace+"/"+result[i].Component < result[j].Namespace+"/"+result[j].Component
	})
	return result
}

// Created returns the total number of instances constructed.
func (f *Factory) Created() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Package registry implements the process-wide interface registry.
// It maps (namespace, interface) pairs to the ordered set of components
// implementing them, preserving insertion order for deterministic
// resolution when multiple components satisfy one interface.
//
// Mutations take an exclusive lock and publish events on the bus;
// lookups take a shared lock. Thread-safe for concurrent access.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artpar/plugkit/core/component"
	"github.com/artpar/plugkit/core/events"
)

// namespace holds the declarations and registrations of one namespace.
type namespace struct {
	// interfaces by name
	interfaces map[string]component.Interface

	// components by name
	components map[string]*component.Component

	// byInterface maps interface name -> component names in insertion order
	byInterface map[string][]string
}

func newNamespace() *namespace {
	return &namespace{
		interfaces:  make(map[string]component.Interface),
		components:  make(map[string]*component.Component),
		byInterface: make(map[string][]string),
	}
}

// Registry manages declared interfaces and registered components.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	defaultNS  string
	logger     zerolog.Logger

	// bus receives mutation events; may be nil.
	bus *events.Bus
}

// New creates an empty registry. defaultNS is the fallback namespace for
// Resolve; empty means the global namespace. The bus may be nil if no
// subscribers (cache invalidation, metrics) are wired.
func New(defaultNS string, logger zerolog.Logger, bus *events.Bus) *Registry {
	if defaultNS == "" {
		defaultNS = component.DefaultNamespace
	}
	return &Registry{
		namespaces: make(map[string]*namespace),
		defaultNS:  defaultNS,
		logger:     logger,
		bus:        bus,
	}
}

// DefaultNamespace returns the configured fallback namespace.
func (r *Registry) DefaultNamespace() string {
	return r.defaultNS
}

func (r *Registry) ns(name string) *namespace {
	if n, ok := r.namespaces[name]; ok {
		return n
	}
	n := newNamespace()
	r.namespaces[name] = n
	return n
}

// Declare records an interface declaration. Declarations are immutable;
// declaring the same interface twice in one namespace fails with
// ErrDuplicateInterface.
func (r *Registry) Declare(ctx context.Context, iface component.Interface) error {
	if err := iface.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	n := r.ns(iface.Namespace)
	if _, exists := n.interfaces[iface.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", component.ErrDuplicateInterface, iface.Ref().Key())
	}
	n.interfaces[iface.Name] = iface
	r.mu.Unlock()

	r.logger.Debug().
		Str("interface", iface.Ref().Key()).
		Str("version", iface.Version).
		Msg("interface declared")

	r.publish(ctx, events.Event{
		Name:       events.InterfaceDeclared,
		Namespace:  iface.Namespace,
		Interfaces: []string{iface.Ref().Key()},
		Bundle:     iface.Bundle,
	})
	return nil
}

// Register adds a component under every interface it implements. Every
// implemented interface must already be declared in its namespace.
func (r *Registry) Register(ctx context.Context, comp component.Component) error {
	if err := comp.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := r.checkRegister(comp); err != nil {
		r.mu.Unlock()
		return err
	}
	r.applyRegister(comp)
	r.mu.Unlock()

	r.logger.Debug().
		Str("component", comp.Key()).
		Str("scope", string(comp.Scope)).
		Msg("component registered")

	r.publish(ctx, events.Event{
		Name:       events.ComponentRegistered,
		Namespace:  comp.Namespace,
		Interfaces: interfaceKeys(comp),
		Bundle:     comp.Bundle,
	})
	return nil
}

// checkRegister validates a registration against current state.
// Caller holds the exclusive lock.
func (r *Registry) checkRegister(comp component.Component) error {
	n := r.ns(comp.Namespace)
	if _, exists := n.components[comp.Name]; exists {
		return fmt.Errorf("%w: %s", component.ErrDuplicateComponent, comp.Key())
	}
	for _, ref := range comp.Implements {
		in, ok := r.namespaces[ref.Namespace]
		if !ok {
			return fmt.Errorf("%w: %s", component.ErrUnknownInterface, ref.Key())
		}
		if _, ok := in.interfaces[ref.Name]; !ok {
			return fmt.Errorf("%w: %s", component.ErrUnknownInterface, ref.Key())
		}
	}
	return nil
}

// applyRegister mutates the indexes. Caller holds the exclusive lock and has
// already validated the registration.
func (r *Registry) applyRegister(comp component.Component) {
	n := r.ns(comp.Namespace)
	c := comp
	n.components[comp.Name] = &c
	for _, ref := range comp.Implements {
		in := r.ns(ref.Namespace)
		in.byInterface[ref.Name] = append(in.byInterface[ref.Name], comp.Key())
	}
}

// Unregister removes a component from the registry.
func (r *Registry) Unregister(ctx context.Context, ns, name string) error {
	r.mu.Lock()
	n, ok := r.namespaces[ns]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", component.ErrUnknownComponent, ns, name)
	}
	comp, ok := n.components[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", component.ErrUnknownComponent, ns, name)
	}
	r.applyUnregister(comp)
	r.mu.Unlock()

	r.logger.Debug().Str("component", comp.Key()).Msg("component unregistered")

	r.publish(ctx, events.Event{
		Name:       events.ComponentUnregistered,
		Namespace:  comp.Namespace,
		Interfaces: interfaceKeys(*comp),
		Bundle:     comp.Bundle,
		Data:       map[string]any{"component": comp.Key()},
	})
	return nil
}

// applyUnregister removes a component from the indexes.
// Caller holds the exclusive lock.
func (r *Registry) applyUnregister(comp *component.Component) {
	n := r.ns(comp.Namespace)
	delete(n.components, comp.Name)
	for _, ref := range comp.Implements {
		in := r.ns(ref.Namespace)
		in.byInterface[ref.Name] = removeFromSlice(in.byInterface[ref.Name], comp.Key())
	}
}

// Lookup returns the components implementing an interface in a namespace, in
// registration order. Fails with ErrUnknownInterface if the interface was
// never declared there.
func (r *Registry) Lookup(ns, iface string) ([]component.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(ns, iface)
}

func (r *Registry) lookupLocked(ns, iface string) ([]component.Component, error) {
	n, ok := r.namespaces[ns]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", component.ErrUnknownInterface, ns, iface)
	}
	if _, ok := n.interfaces[iface]; !ok {
		return nil, fmt.Errorf("%w: %s/%s", component.ErrUnknownInterface, ns, iface)
	}

	keys := n.byInterface[iface]
	result := make([]component.Component, 0, len(keys))
	for _, key := range keys {
		if comp := r.componentByKey(key); comp != nil {
			result = append(result, *comp)
		}
	}
	return result, nil
}

// componentByKey resolves a "namespace/name" key. Caller holds a lock.
func (r *Registry) componentByKey(key string) *component.Component {
	ns, name, ok := strings.Cut(key, "/")
	if !ok {
		return nil
	}
	if n, exists := r.namespaces[ns]; exists {
		return n.components[name]
	}
	return nil
}

// Resolve is like Lookup but falls back to the default namespace when the
// requested namespace has no match (undeclared interface or no providers).
func (r *Registry) Resolve(ns, iface string) ([]component.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comps, err := r.lookupLocked(ns, iface)
	if err == nil && len(comps) > 0 {
		return comps, nil
	}
	if ns == r.defaultNS {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s/%s", component.ErrNoProvider, ns, iface)
	}

	fallback, ferr := r.lookupLocked(r.defaultNS, iface)
	if ferr == nil && len(fallback) > 0 {
		return fallback, nil
	}

	// Prefer reporting against the requested namespace.
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s/%s", component.ErrNoProvider, ns, iface)
}

// Interface returns a declared interface.
func (r *Registry) Interface(ns, name string) (component.Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.namespaces[ns]
	if !ok {
		return component.Interface{}, fmt.Errorf("%w: %s/%s", component.ErrUnknownInterface, ns, name)
	}
	iface, ok := n.interfaces[name]
	if !ok {
		return component.Interface{}, fmt.Errorf("%w: %s/%s", component.ErrUnknownInterface, ns, name)
	}
	return iface, nil
}

// Component returns a registered component.
func (r *Registry) Component(ns, name string) (component.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n, ok := r.namespaces[ns]; ok {
		if comp, ok := n.components[name]; ok {
			return *comp, nil
		}
	}
	return component.Component{}, fmt.Errorf("%w: %s/%s", component.ErrUnknownComponent, ns, name)
}

// Namespaces returns all namespace names, sorted.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Interfaces returns all interfaces declared in a namespace, sorted by name.
func (r *Registry) Interfaces(ns string) []component.Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.namespaces[ns]
	if !ok {
		return nil
	}
	result := make([]component.Interface, 0, len(n.interfaces))
	for _, iface := range n.interfaces {
		result = append(result, iface)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Components returns all components registered in a namespace, sorted by name.
func (r *Registry) Components(ns string) []component.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.namespaces[ns]
	if !ok {
		return nil
	}
	result := make([]component.Component, 0, len(n.components))
	for _, comp := range n.components {
		result = append(result, *comp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// ByBundle returns all components registered by a bundle, across namespaces.
func (r *Registry) ByBundle(bundle string) []component.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []component.Component
	for _, n := range r.namespaces {
		for _, comp := range n.components {
			if comp.Bundle == bundle {
				result = append(result, *comp)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key() < result[j].Key()
	})
	return result
}

func (r *Registry) publish(ctx context.Context, event events.Event) {
	if r.bus != nil {
		r.bus.Publish(ctx, event)
	}
}

func interfaceKeys(comp component.Component) []string {
	keys := make([]string, 0, len(comp.Implements))
	for _, ref := range comp.Implements {
		keys = append(keys, ref.Key())
	}
	return keys
}

// Helper to remove an element from a slice preserving order.
func removeFromSlice(slice []string, item string) []string {
	result := make([]string, 0, len(slice))
	for _, s := range slice {
		if s != item {
			result = append(result, s)
		}
	}
	return result
}

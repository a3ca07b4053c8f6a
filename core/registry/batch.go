package registry

import (
	"context"
	"fmt"

	"github.com/artpar/plugkit/core/component"
	"github.com/artpar/plugkit/core/events"
)

// Batch collects interface declarations and component registrations to be
// applied atomically. The bundle loader builds one batch per bundle so a
// failed load leaves the registry unchanged.
type Batch struct {
	// Bundle names the originating bundle, stamped onto every entry.
	Bundle string

	interfaces []component.Interface
	components []component.Component
}

// NewBatch creates an empty batch attributed to a bundle. An empty bundle
// name is allowed for programmatic batches.
func NewBatch(bundle string) *Batch {
	return &Batch{Bundle: bundle}
}

// Declare queues an interface declaration.
func (b *Batch) Declare(iface component.Interface) {
	iface.Bundle = b.Bundle
	b.interfaces = append(b.interfaces, iface)
}

// Register queues a component registration.
func (b *Batch) Register(comp component.Component) {
	comp.Bundle = b.Bundle
	b.components = append(b.components, comp)
}

// Interfaces returns the queued declarations.
func (b *Batch) Interfaces() []component.Interface {
	return b.interfaces
}

// Components returns the queued registrations.
func (b *Batch) Components() []component.Component {
	return b.components
}

// Empty reports whether the batch has no entries.
func (b *Batch) Empty() bool {
	return len(b.interfaces) == 0 && len(b.components) == 0
}

// Commit applies a batch under one exclusive lock: every entry is validated
// against current registry state plus the entries queued before it, and only
// if all checks pass are any mutations made. No partial application is
// observable, even by concurrent readers.
func (r *Registry) Commit(ctx context.Context, batch *Batch) error {
	if batch.Empty() {
		return nil
	}

	for _, iface := range batch.interfaces {
		if err := iface.Validate(); err != nil {
			return err
		}
	}
	for _, comp := range batch.components {
		if err := comp.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()

	// Validate declarations against current state and intra-batch duplicates.
	seen := make(map[string]bool)
	for _, iface := range batch.interfaces {
		key := iface.Ref().Key()
		if seen[key] {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", component.ErrDuplicateInterface, key)
		}
		if n, ok := r.namespaces[iface.Namespace]; ok {
			if _, exists := n.interfaces[iface.Name]; exists {
				r.mu.Unlock()
				return fmt.Errorf("%w: %s", component.ErrDuplicateInterface, key)
			}
		}
		seen[key] = true
	}

	// Validate registrations; implemented interfaces may come from current
	// state or from declarations earlier in this batch.
	compSeen := make(map[string]bool)
	for _, comp := range batch.components {
		if compSeen[comp.Key()] {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", component.ErrDuplicateComponent, comp.Key())
		}
		if n, ok := r.namespaces[comp.Namespace]; ok {
			if _, exists := n.components[comp.Name]; exists {
				r.mu.Unlock()
				return fmt.Errorf("%w: %s", component.ErrDuplicateComponent, comp.Key())
			}
		}
		compSeen[comp.Key()] = true

		for _, ref := range comp.Implements {
			if seen[ref.Key()] {
				continue
			}
			declared := false
			if n, ok := r.namespaces[ref.Namespace]; ok {
				_, declared = n.interfaces[ref.Name]
			}
			if !declared {
				r.mu.Unlock()
				return fmt.Errorf("%w: %s", component.ErrUnknownInterface, ref.Key())
			}
		}
	}

	// All checks passed; apply.
	for _, iface := range batch.interfaces {
		r.ns(iface.Namespace).interfaces[iface.Name] = iface
	}
	for _, comp := range batch.components {
		r.applyRegister(comp)
	}
	r.mu.Unlock()

	r.logger.Info().
		Str("bundle", batch.Bundle).
		Int("interfaces", len(batch.interfaces)).
		Int("components", len(batch.components)).
		Msg("batch committed")

	// Publish after releasing the lock so handlers may read the registry.
	for _, iface := range batch.interfaces {
		r.publish(ctx, events.Event{
			Name:       events.InterfaceDeclared,
			Namespace:  iface.Namespace,
			Interfaces: []string{iface.Ref().Key()},
			Bundle:     batch.Bundle,
		})
	}
	for _, comp := range batch.components {
		r.publish(ctx, events.Event{
			Name:       events.ComponentRegistered,
			Namespace:  comp.Namespace,
			Interfaces: interfaceKeys(comp),
			Bundle:     batch.Bundle,
		})
	}
	return nil
}

// RemoveBundle unregisters every component and interface a bundle installed.
// Interfaces declared by the bundle are removed only after their components;
// components from other bundles implementing those interfaces keep them
// declared (removal is then refused).
func (r *Registry) RemoveBundle(ctx context.Context, bundle string) error {
	if bundle == "" {
		return fmt.Errorf("bundle name is required")
	}

	r.mu.Lock()

	var removedComps []*component.Component
	for _, n := range r.namespaces {
		for _, comp := range n.components {
			if comp.Bundle == bundle {
				removedComps = append(removedComps, comp)
			}
		}
	}

	// Collect interfaces the bundle declared and check nothing outside the
	// bundle still implements them.
	type ifaceEntry struct {
		ns    *namespace
		iface component.Interface
	}
	var removedIfaces []ifaceEntry
	for _, n := range r.namespaces {
		for _, iface := range n.interfaces {
			if iface.Bundle != bundle {
				continue
			}
			for _, key := range n.byInterface[iface.Name] {
				comp := r.componentByKey(key)
				if comp != nil && comp.Bundle != bundle {
					r.mu.Unlock()
					return fmt.Errorf("interface %s still implemented by %s", iface.Ref().Key(), comp.Key())
				}
			}
			removedIfaces = append(removedIfaces, ifaceEntry{ns: n, iface: iface})
		}
	}

	for _, comp := range removedComps {
		r.applyUnregister(comp)
	}
	for _, e := range removedIfaces {
		delete(e.ns.interfaces, e.iface.Name)
		delete(e.ns.byInterface, e.iface.Name)
	}
	r.mu.Unlock()

	r.logger.Info().
		Str("bundle", bundle).
		Int("components", len(removedComps)).
		Int("interfaces", len(removedIfaces)).
		Msg("bundle removed from registry")

	for _, comp := range removedComps {
		r.publish(ctx, events.Event{
			Name:       events.ComponentUnregistered,
			Namespace:  comp.Namespace,
			Interfaces: interfaceKeys(*comp),
			Bundle:     bundle,
			Data:       map[string]any{"component": comp.Key()},
		})
	}
	return nil
}

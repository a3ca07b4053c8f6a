// Package component defines the data model for the component framework.
//
// An interface is a named contract declared once per namespace.
// A component is an instantiable unit implementing one or more interfaces.
// A namespace partitions declarations so identically-named interfaces and
// components from different libraries do not collide.
package component

import (
	"context"
	"fmt"
	"strings"
)

// DefaultNamespace is the global namespace used as the fallback when a
// namespaced resolution finds no match.
const DefaultNamespace = "global"

// Scope controls how many live instances a component type may have.
type Scope string

const (
	// Singleton restricts a component to at most one live instance per
	// namespace. Construction happens at most once; a construction failure
	// is cached and surfaced on every subsequent request.
	Singleton Scope = "singleton"

	// MultiInstance constructs a fresh instance on every request.
	MultiInstance Scope = "multi"
)

// IsValid returns true for a recognized scope value.
func (s Scope) IsValid() bool {
	return s == Singleton || s == MultiInstance
}

// ParseScope parses a string into a Scope. An empty string defaults to
// MultiInstance, matching the declaration-site default.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "multi", "multi-instance", "multiinstance":
		return MultiInstance, nil
	case "singleton":
		return Singleton, nil
	default:
		return "", fmt.Errorf("unrecognized component scope %q", s)
	}
}

// InterfaceRef identifies a declared interface within a namespace.
type InterfaceRef struct {
	Namespace string
	Name      string
}

// Key returns the registry key for the reference ("namespace/name").
func (r InterfaceRef) Key() string {
	return r.Namespace + "/" + r.Name
}

func (r InterfaceRef) String() string {
	return r.Key()
}

// Interface is a declared contract. Declarations are immutable: once an
// interface is declared in a namespace, redeclaring it fails.
type Interface struct {
	// Name is the interface name, unique within its namespace.
	Name string

	// Namespace partitions the declaration.
	Namespace string

	// Version is an optional version tag (e.g., "v1"). Purely informational;
	// the registry does not match on it.
	Version string

	// Bundle names the bundle that declared this interface, empty for
	// declarations made directly from code.
	Bundle string

	// Description is a human-readable summary.
	Description string
}

// Ref returns the reference identifying this interface.
func (i Interface) Ref() InterfaceRef {
	return InterfaceRef{Namespace: i.Namespace, Name: i.Name}
}

// Validate checks that the declaration is well-formed.
func (i Interface) Validate() error {
	var errs []string
	if i.Name == "" {
		errs = append(errs, "name is required")
	}
	if strings.Contains(i.Name, "/") {
		errs = append(errs, "name must not contain '/'")
	}
	if i.Namespace == "" {
		errs = append(errs, "namespace is required")
	}
	if strings.Contains(i.Namespace, "/") {
		errs = append(errs, "namespace must not contain '/'")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid interface declaration: %s", strings.Join(errs, ", "))
	}
	return nil
}

// Constructor builds a component instance. Constructors run on first
// resolution (singleton) or per request (multi-instance) and may fail; the
// failure is surfaced to the caller, never retried silently.
type Constructor func(ctx context.Context) (any, error)

// Component describes a registered component type.
type Component struct {
	// Name is the component name, unique within its namespace.
	Name string

	// Namespace the component is registered under.
	Namespace string

	// Implements lists the interfaces this component satisfies. Every
	// referenced interface must be declared before the component registers.
	Implements []InterfaceRef

	// Scope is singleton or multi-instance.
	Scope Scope

	// Construct builds an instance of the component.
	Construct Constructor

	// Bundle names the bundle that registered this component, empty for
	// components registered directly from code.
	Bundle string

	// Description is a human-readable summary.
	Description string

	// Config holds component-specific configuration passed to the kind
	// builder that produced the constructor.
	Config map[string]any
}

// Key returns the registry key for the component ("namespace/name").
func (c Component) Key() string {
	return c.Namespace + "/" + c.Name
}

// Validate checks that the component descriptor is well-formed.
func (c Component) Validate() error {
	var errs []string
	if c.Name == "" {
		errs = append(errs, "name is required")
	}
	if strings.Contains(c.Name, "/") {
		errs = append(errs, "name must not contain '/'")
	}
	if c.Namespace == "" {
		errs = append(errs, "namespace is required")
	}
	if strings.Contains(c.Namespace, "/") {
		errs = append(errs, "namespace must not contain '/'")
	}
	if len(c.Implements) == 0 {
		errs = append(errs, "at least one implemented interface is required")
	}
	if !c.Scope.IsValid() {
		errs = append(errs, fmt.Sprintf("scope %q is not valid", c.Scope))
	}
	if c.Construct == nil {
		errs = append(errs, "constructor is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid component %q: %s", c.Name, strings.Join(errs, ", "))
	}
	return nil
}

package component

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrDuplicateInterface is returned when an interface is declared twice
	// in the same namespace.
	ErrDuplicateInterface = errors.New("interface already declared in namespace")

	// ErrUnknownInterface is returned when looking up an interface that was
	// never declared.
	ErrUnknownInterface = errors.New("interface not declared")

	// ErrDuplicateComponent is returned when a component name is already
	// taken in its namespace.
	ErrDuplicateComponent = errors.New("component already registered in namespace")

	// ErrUnknownComponent is returned when resolving a component that is not
	// registered.
	ErrUnknownComponent = errors.New("component not registered")

	// ErrNoProvider is returned when an interface is declared but no
	// component implements it.
	ErrNoProvider = errors.New("no component implements interface")
)

// InstantiationError reports a constructor failure. The failure is surfaced
// to the caller; for singletons it is cached so repeated requests observe the
// same error without re-running the constructor.
type InstantiationError struct {
	Component string
	Namespace string
	Cause     error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("instantiate component %s/%s: %v", e.Namespace, e.Component, e.Cause)
}

func (e *InstantiationError) Unwrap() error {
	return e.Cause
}

// BundleLoadError reports a failed bundle load. Loads are all-or-nothing: a
// BundleLoadError guarantees the registry was left unchanged.
type BundleLoadError struct {
	Path  string
	Stage string // "open", "manifest", "checksum", "build", "hook", "commit"
	Cause error
}

func (e *BundleLoadError) Error() string {
	return fmt.Sprintf("load bundle %s: %s: %v", e.Path, e.Stage, e.Cause)
}

func (e *BundleLoadError) Unwrap() error {
	return e.Cause
}

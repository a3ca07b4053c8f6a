// Package bundle discovers and loads packaged component bundles at runtime.
//
// A bundle is a zip archive carrying a bundle.yaml manifest. The manifest
// declares interfaces and components; component implementations are supplied
// by kinds registered in-process, since Go loads no code at runtime. Loads
// are all-or-nothing: a failed load leaves the registry unchanged.
package bundle

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/plugkit/core/component"
)

// ManifestFilename is the required manifest entry inside a bundle archive.
const ManifestFilename = "bundle.yaml"

// Manifest describes the contents of a bundle archive.
type Manifest struct {
	// Name uniquely identifies the bundle.
	Name string `yaml:"name"`

	// Version is the bundle version string.
	Version string `yaml:"version"`

	// Namespace is the default namespace for entries that do not override it.
	// Defaults to the global namespace.
	Namespace string `yaml:"namespace"`

	// Description is a human-readable summary.
	Description string `yaml:"description"`

	// Interfaces to declare before registering components.
	Interfaces []ManifestInterface `yaml:"interfaces"`

	// Components to register.
	Components []ManifestComponent `yaml:"components"`

	// Hooks names registration hooks to run against the batch before commit.
	Hooks []string `yaml:"hooks"`

	// Assets lists packaged files with their expected digests.
	Assets []ManifestAsset `yaml:"assets"`
}

// ManifestInterface declares an interface.
type ManifestInterface struct {
	Name        string `yaml:"name"`
	Namespace   string `yaml:"namespace"` // defaults to the manifest namespace
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
}

// ManifestComponent registers a component backed by a registered kind.
type ManifestComponent struct {
	Name        string         `yaml:"name"`
	Namespace   string         `yaml:"namespace"` // defaults to the manifest namespace
	Kind        string         `yaml:"kind"`
	Implements  []string       `yaml:"implements"` // "iface" or "namespace/iface"
	Scope       string         `yaml:"scope"`      // "singleton" or "multi" (default)
	Description string         `yaml:"description"`
	Config      map[string]any `yaml:"config"`
}

// ManifestAsset is a packaged file with an expected SHA3-256 digest.
type ManifestAsset struct {
	Path string `yaml:"path"`
	SHA3 string `yaml:"sha3"`
}

// ParseManifest parses and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Namespace == "" {
		m.Namespace = component.DefaultNamespace
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest for structural problems.
func (m *Manifest) Validate() error {
	var errs []string

	if m.Name == "" {
		errs = append(errs, "name is required")
	}
	if strings.ContainsAny(m.Name, "/ ") {
		errs = append(errs, "name must not contain '/' or spaces")
	}
	if m.Version == "" {
		errs = append(errs, "version is required")
	}
	if len(m.Interfaces) == 0 && len(m.Components) == 0 && len(m.Hooks) == 0 {
		errs = append(errs, "bundle declares nothing")
	}

	for i, iface := range m.Interfaces {
		if iface.Name == "" {
			errs = append(errs, fmt.Sprintf("interfaces[%d]: name is required", i))
		}
	}
	for i, comp := range m.Components {
		if comp.Name == "" {
			errs = append(errs, fmt.Sprintf("components[%d]: name is required", i))
		}
		if comp.Kind == "" {
			errs = append(errs, fmt.Sprintf("components[%d]: kind is required", i))
		}
		if len(comp.Implements) == 0 {
			errs = append(errs, fmt.Sprintf("components[%d]: implements is required", i))
		}
		if _, err := component.ParseScope(comp.Scope); err != nil {
			errs = append(errs, fmt.Sprintf("components[%d]: %v", i, err))
		}
	}
	for i, asset := range m.Assets {
		if asset.Path == "" || asset.SHA3 == "" {
			errs = append(errs, fmt.Sprintf("assets[%d]: path and sha3 are required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid manifest: %s", strings.Join(errs, "; "))
	}
	return nil
}

// interfaceRef resolves an "implements" entry: "iface" binds to defaultNS,
// "namespace/iface" is fully qualified.
func interfaceRef(entry, defaultNS string) component.InterfaceRef {
	if ns, name, ok := strings.Cut(entry, "/"); ok {
		return component.InterfaceRef{Namespace: ns, Name: name}
	}
	return component.InterfaceRef{Namespace: defaultNS, Name: entry}
}

// namespaceFor returns the entry namespace or the manifest default.
func (m *Manifest) namespaceFor(ns string) string {
	if ns != "" {
		return ns
	}
	return m.Namespace
}

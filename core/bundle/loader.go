package bundle

import (
	"archive/zip"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"

	"github.com/artpar/plugkit/core/component"
	"github.com/artpar/plugkit/core/events"
	"github.com/artpar/plugkit/core/registry"
	"github.com/artpar/plugkit/pkg/timing"
)

// KindBuilder turns a manifest component config into a constructor. Kinds
// are the in-process implementations that manifests reference by name.
type KindBuilder func(config map[string]any) (component.Constructor, error)

// Hook is a registration hook run against the batch before commit. Hooks may
// add further declarations and registrations; a hook error aborts the load.
type Hook func(ctx context.Context, batch *registry.Batch) error

// Record describes a loaded bundle, persisted in the bundle store.
type Record struct {
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	Namespace  string    `json:"namespace"`
	Path       string    `json:"path"`
	Digest     string    `json:"digest"` // SHA3-256 of the manifest, hex
	Interfaces int       `json:"interfaces"`
	Components int       `json:"components"`
	LoadedAt   time.Time `json:"loaded_at"`
}

// Store persists loaded-bundle records.
type Store interface {
	Record(ctx context.Context, rec Record) error
	Delete(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (Record, error)
	List(ctx context.Context) ([]Record, error)
}

// Loader opens bundle archives and registers their contents atomically.
type Loader struct {
	registry *registry.Registry
	store    Store // may be nil
	logger   zerolog.Logger
	bus      *events.Bus // may be nil

	mu    sync.RWMutex
	kinds map[string]KindBuilder
	hooks map[string]Hook

	// loaded maps bundle name -> record, and paths maps archive path ->
	// bundle name for the directory watcher. Guarded by mu.
	loaded map[string]Record
	paths  map[string]string
}

// NewLoader creates a bundle loader. The store and bus may be nil.
func NewLoader(reg *registry.Registry, store Store, logger zerolog.Logger, bus *events.Bus) *Loader {
	return &Loader{
		registry: reg,
		store:    store,
		logger:   logger,
		bus:      bus,
		kinds:    make(map[string]KindBuilder),
		hooks:    make(map[string]Hook),
		loaded:   make(map[string]Record),
		paths:    make(map[string]string),
	}
}

// RegisterKind makes a component kind available to manifests.
func (l *Loader) RegisterKind(name string, builder KindBuilder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds[name] = builder
}

// RegisterHook makes a named registration hook available to manifests.
func (l *Loader) RegisterHook(name string, hook Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks[name] = hook
}

// Kinds returns the registered kind names.
func (l *Loader) Kinds() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.kinds))
	for name := range l.kinds {
		names = append(names, name)
	}
	return names
}

// Load opens the archive at path, verifies it, and commits its registrations
// atomically. On any failure it returns a *component.BundleLoadError and the
// registry is left unchanged.
func (l *Loader) Load(ctx context.Context, path string) (Record, error) {
	timer := timing.New(l.logger)
	timer.Tic("")
	stages := timing.NewHierarchical()

	rec, err := l.load(ctx, path, stages)
	if err != nil {
		l.logger.Error().Err(err).Str("path", path).Msg("bundle load failed")
		return Record{}, err
	}

	elapsed := timer.Toc("")
	l.logger.Info().
		Str("bundle", rec.Name).
		Str("version", rec.Version).
		Int("interfaces", rec.Interfaces).
		Int("components", rec.Components).
		Dur("elapsed", elapsed).
		Msg("bundle loaded")
	l.logger.Debug().
		Str("bundle", rec.Name).
		Str("stages", stages.Report()).
		Msg("bundle load stage breakdown")

	if l.bus != nil {
		l.bus.Publish(ctx, events.Event{
			Name:      events.BundleLoaded,
			Namespace: rec.Namespace,
			Bundle:    rec.Name,
			Data:      map[string]any{"version": rec.Version, "path": path},
		})
	}
	return rec, nil
}

func (l *Loader) load(ctx context.Context, path string, stages *timing.HierarchicalTimer) (Record, error) {
	fail := func(stage string, cause error) (Record, error) {
		stages.Stop(stage)
		return Record{}, &component.BundleLoadError{Path: path, Stage: stage, Cause: cause}
	}

	stages.Start("open")
	archive, err := zip.OpenReader(path)
	if err != nil {
		return fail("open", err)
	}
	defer archive.Close()
	stages.Stop("open")

	stages.Start("manifest")
	manifestData, err := readEntry(&archive.Reader, ManifestFilename)
	if err != nil {
		return fail("manifest", err)
	}
	manifest, err := ParseManifest(manifestData)
	if err != nil {
		return fail("manifest", err)
	}

	l.mu.RLock()
	_, alreadyLoaded := l.loaded[manifest.Name]
	l.mu.RUnlock()
	if alreadyLoaded {
		return fail("manifest", fmt.Errorf("bundle %q already loaded", manifest.Name))
	}
	stages.Stop("manifest")

	stages.Start("checksum")
	if err := verifyAssets(&archive.Reader, manifest.Assets); err != nil {
		return fail("checksum", err)
	}
	stages.Stop("checksum")

	stages.Start("build")
	batch, err := l.buildBatch(manifest)
	if err != nil {
		return fail("build", err)
	}
	stages.Stop("build")

	stages.Start("hook")
	for _, name := range manifest.Hooks {
		l.mu.RLock()
		hook, ok := l.hooks[name]
		l.mu.RUnlock()
		if !ok {
			return fail("hook", fmt.Errorf("hook %q not registered", name))
		}
		if err := hook(ctx, batch); err != nil {
			return fail("hook", fmt.Errorf("hook %q: %w", name, err))
		}
	}
	stages.Stop("hook")

	stages.Start("commit")
	if err := l.registry.Commit(ctx, batch); err != nil {
		return fail("commit", err)
	}

	digest := sha3.Sum256(manifestData)
	rec := Record{
		Name:       manifest.Name,
		Version:    manifest.Version,
		Namespace:  manifest.Namespace,
		Path:       path,
		Digest:     hex.EncodeToString(digest[:]),
		Interfaces: len(batch.Interfaces()),
		Components: len(batch.Components()),
		LoadedAt:   time.Now().UTC(),
	}

	if l.store != nil {
		if err := l.store.Record(ctx, rec); err != nil {
			// Keep the all-or-nothing contract: undo the commit.
			if rbErr := l.registry.RemoveBundle(ctx, manifest.Name); rbErr != nil {
				l.logger.Error().Err(rbErr).Str("bundle", manifest.Name).Msg("rollback after store failure failed")
			}
			return fail("commit", fmt.Errorf("record bundle: %w", err))
		}
	}
	stages.Stop("commit")

	l.mu.Lock()
	l.loaded[manifest.Name] = rec
	l.paths[path] = manifest.Name
	l.mu.Unlock()

	return rec, nil
}

// buildBatch turns a manifest into a registry batch using registered kinds.
func (l *Loader) buildBatch(m *Manifest) (*registry.Batch, error) {
	batch := registry.NewBatch(m.Name)

	for _, mi := range m.Interfaces {
		batch.Declare(component.Interface{
			Name:        mi.Name,
			Namespace:   m.namespaceFor(mi.Namespace),
			Version:     mi.Version,
			Description: mi.Description,
		})
	}

	for _, mc := range m.Components {
		l.mu.RLock()
		builder, ok := l.kinds[mc.Kind]
		l.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("component %q: kind %q not registered", mc.Name, mc.Kind)
		}

		ctor, err := builder(mc.Config)
		if err != nil {
			return nil, fmt.Errorf("component %q: kind %q: %w", mc.Name, mc.Kind, err)
		}

		scope, err := component.ParseScope(mc.Scope)
		if err != nil {
			return nil, fmt.Errorf("component %q: %w", mc.Name, err)
		}

		ns := m.namespaceFor(mc.Namespace)
		refs := make([]component.InterfaceRef, 0, len(mc.Implements))
		for _, entry := range mc.Implements {
			refs = append(refs, interfaceRef(entry, ns))
		}

		batch.Register(component.Component{
			Name:        mc.Name,
			Namespace:   ns,
			Implements:  refs,
			Scope:       scope,
			Construct:   ctor,
			Description: mc.Description,
			Config:      mc.Config,
		})
	}

	return batch, nil
}

// Unload removes everything a bundle registered and drops its store record.
func (l *Loader) Unload(ctx context.Context, name string) error {
	l.mu.RLock()
	rec, ok := l.loaded[name]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bundle %q not loaded", name)
	}

	if err := l.registry.RemoveBundle(ctx, name); err != nil {
		return fmt.Errorf("unload bundle %q: %w", name, err)
	}

	if l.store != nil {
		if err := l.store.Delete(ctx, name); err != nil {
			l.logger.Error().Err(err).Str("bundle", name).Msg("delete bundle record failed")
		}
	}

	l.mu.Lock()
	delete(l.loaded, name)
	delete(l.paths, rec.Path)
	l.mu.Unlock()

	l.logger.Info().Str("bundle", name).Msg("bundle unloaded")

	if l.bus != nil {
		l.bus.Publish(ctx, events.Event{
			Name:      events.BundleUnloaded,
			Namespace: rec.Namespace,
			Bundle:    name,
		})
	}
	return nil
}

// Loaded lists currently loaded bundles.
func (l *Loader) Loaded() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Record, 0, len(l.loaded))
	for _, rec := range l.loaded {
		result = append(result, rec)
	}
	return result
}

// bundleForPath returns the loaded bundle name for an archive path.
func (l *Loader) bundleForPath(path string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	name, ok := l.paths[path]
	return name, ok
}

// Inspect parses the manifest of an archive without registering anything.
func Inspect(path string) (*Manifest, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer archive.Close()

	data, err := readEntry(&archive.Reader, ManifestFilename)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// Verify checks every asset digest in an archive without registering anything.
func Verify(path string) error {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open bundle: %w", err)
	}
	defer archive.Close()

	data, err := readEntry(&archive.Reader, ManifestFilename)
	if err != nil {
		return err
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return err
	}
	return verifyAssets(&archive.Reader, manifest.Assets)
}

// readEntry reads a single file out of the archive.
func readEntry(archive *zip.Reader, name string) ([]byte, error) {
	for _, f := range archive.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("archive has no %s", name)
}

// verifyAssets checks each listed asset against its SHA3-256 digest.
func verifyAssets(archive *zip.Reader, assets []ManifestAsset) error {
	for _, asset := range assets {
		data, err := readEntry(archive, asset.Path)
		if err != nil {
			return err
		}
		sum := sha3.Sum256(data)
		if hex.EncodeToString(sum[:]) != asset.SHA3 {
			return fmt.Errorf("asset %s: digest mismatch", asset.Path)
		}
	}
	return nil
}

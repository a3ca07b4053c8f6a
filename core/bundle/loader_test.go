package bundle_test

import (
	"archive/zip"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"
	"gopkg.in/yaml.v3"

	"github.com/artpar/plugkit/core/bundle"
	"github.com/artpar/plugkit/core/component"
	"github.com/artpar/plugkit/core/events"
	"github.com/artpar/plugkit/core/registry"
)

// writeBundle builds a zip archive in dir from the given manifest and extra
// files, returning the archive path.
func writeBundle(t *testing.T, dir string, manifest map[string]any, files map[string][]byte) string {
	t.Helper()

	manifestData, err := yaml.Marshal(manifest)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%v.zip", manifest["name"]))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	entries := map[string][]byte{bundle.ManifestFilename: manifestData}
	for name, data := range files {
		entries[name] = data
	}
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}
	return path
}

func digestOf(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type fixture struct {
	reg    *registry.Registry
	loader *bundle.Loader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	bus := events.NewBus(logger)
	reg := registry.New("", logger, bus)
	loader := bundle.NewLoader(reg, nil, logger, bus)
	loader.RegisterKind("renderer", func(config map[string]any) (component.Constructor, error) {
		format, _ := config["format"].(string)
		return func(ctx context.Context) (any, error) {
			return "render:" + format, nil
		}, nil
	})
	return &fixture{reg: reg, loader: loader}
}

func rendererManifest() map[string]any {
	return map[string]any{
		"name":      "render-pack",
		"version":   "1.2.0",
		"namespace": "render",
		"interfaces": []map[string]any{
			{"name": "renderer", "version": "1"},
		},
		"components": []map[string]any{
			{
				"name":       "svg-renderer",
				"kind":       "renderer",
				"implements": []string{"renderer"},
				"scope":      "singleton",
				"config":     map[string]any{"format": "svg"},
			},
		},
	}
}

func TestLoader_Load(t *testing.T) {
	f := newFixture(t)
	path := writeBundle(t, t.TempDir(), rendererManifest(), nil)

	rec, err := f.loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.Name != "render-pack" || rec.Version != "1.2.0" {
		t.Errorf("Record = %+v, want name render-pack version 1.2.0", rec)
	}
	if rec.Interfaces != 1 || rec.Components != 1 {
		t.Errorf("Record counts = %d/%d, want 1/1", rec.Interfaces, rec.Components)
	}
	if rec.Digest == "" {
		t.Error("Record.Digest is empty")
	}

	comps, err := f.reg.Lookup("render", "renderer")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(comps) != 1 || comps[0].Name != "svg-renderer" {
		t.Errorf("Lookup() = %v, want [svg-renderer]", comps)
	}
	if comps[0].Bundle != "render-pack" {
		t.Errorf("component bundle = %q, want render-pack", comps[0].Bundle)
	}

	if got := len(f.loader.Loaded()); got != 1 {
		t.Errorf("Loaded() has %d records, want 1", got)
	}
}

func TestLoader_LoadTwiceRejected(t *testing.T) {
	f := newFixture(t)
	path := writeBundle(t, t.TempDir(), rendererManifest(), nil)
	ctx := context.Background()

	if _, err := f.loader.Load(ctx, path); err != nil {
		t.Fatalf("first Load() error = %v", err)
	}
	_, err := f.loader.Load(ctx, path)
	if err == nil {
		t.Fatal("second Load() succeeded, want error")
	}
	var loadErr *component.BundleLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("error = %T, want *BundleLoadError", err)
	}
}

func TestLoader_UnknownKindLeavesRegistryUnchanged(t *testing.T) {
	f := newFixture(t)
	manifest := rendererManifest()
	manifest["components"].([]map[string]any)[0]["kind"] = "missing-kind"
	path := writeBundle(t, t.TempDir(), manifest, nil)

	_, err := f.loader.Load(context.Background(), path)
	var loadErr *component.BundleLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Load() error = %v, want *BundleLoadError", err)
	}
	if loadErr.Stage != "build" {
		t.Errorf("Stage = %q, want build", loadErr.Stage)
	}

	// Nothing from the failed load is visible.
	if _, err := f.reg.Lookup("render", "renderer"); !errors.Is(err, component.ErrUnknownInterface) {
		t.Errorf("Lookup() after failed load error = %v, want ErrUnknownInterface", err)
	}
	if got := len(f.loader.Loaded()); got != 0 {
		t.Errorf("Loaded() has %d records, want 0", got)
	}
}

func TestLoader_FailingHookLeavesRegistryUnchanged(t *testing.T) {
	f := newFixture(t)
	f.loader.RegisterHook("reject", func(ctx context.Context, batch *registry.Batch) error {
		return errors.New("hook refused")
	})

	manifest := rendererManifest()
	manifest["hooks"] = []string{"reject"}
	path := writeBundle(t, t.TempDir(), manifest, nil)

	_, err := f.loader.Load(context.Background(), path)
	var loadErr *component.BundleLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Load() error = %v, want *BundleLoadError", err)
	}
	if loadErr.Stage != "hook" {
		t.Errorf("Stage = %q, want hook", loadErr.Stage)
	}
	if _, err := f.reg.Lookup("render", "renderer"); !errors.Is(err, component.ErrUnknownInterface) {
		t.Errorf("Lookup() after failed load error = %v, want ErrUnknownInterface", err)
	}
}

func TestLoader_ChecksumMismatch(t *testing.T) {
	f := newFixture(t)
	manifest := rendererManifest()
	manifest["assets"] = []map[string]any{
		{"path": "data/fonts.conf", "sha3": digestOf([]byte("expected content"))},
	}
	path := writeBundle(t, t.TempDir(), manifest, map[string][]byte{
		"data/fonts.conf": []byte("tampered content"),
	})

	_, err := f.loader.Load(context.Background(), path)
	var loadErr *component.BundleLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Load() error = %v, want *BundleLoadError", err)
	}
	if loadErr.Stage != "checksum" {
		t.Errorf("Stage = %q, want checksum", loadErr.Stage)
	}
}

func TestLoader_AssetDigestVerified(t *testing.T) {
	f := newFixture(t)
	content := []byte("glyph table v2")
	manifest := rendererManifest()
	manifest["assets"] = []map[string]any{
		{"path": "data/glyphs.bin", "sha3": digestOf(content)},
	}
	path := writeBundle(t, t.TempDir(), manifest, map[string][]byte{
		"data/glyphs.bin": content,
	})

	if _, err := f.loader.Load(context.Background(), path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoader_Unload(t *testing.T) {
	f := newFixture(t)
	path := writeBundle(t, t.TempDir(), rendererManifest(), nil)
	ctx := context.Background()

	if _, err := f.loader.Load(ctx, path); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := f.loader.Unload(ctx, "render-pack"); err != nil {
		t.Fatalf("Unload() error = %v", err)
	}

	if _, err := f.reg.Lookup("render", "renderer"); !errors.Is(err, component.ErrUnknownInterface) {
		t.Errorf("Lookup() after Unload error = %v, want ErrUnknownInterface", err)
	}
	if got := len(f.loader.Loaded()); got != 0 {
		t.Errorf("Loaded() has %d records, want 0", got)
	}

	// The same archive can be loaded again afterwards.
	if _, err := f.loader.Load(ctx, path); err != nil {
		t.Fatalf("Load() after Unload error = %v", err)
	}
}

func TestLoader_UnloadNotLoaded(t *testing.T) {
	f := newFixture(t)
	if err := f.loader.Unload(context.Background(), "ghost"); err == nil {
		t.Fatal("Unload() of unknown bundle succeeded, want error")
	}
}

func TestLoader_HookExtendsBatch(t *testing.T) {
	f := newFixture(t)
	f.loader.RegisterHook("extra", func(ctx context.Context, batch *registry.Batch) error {
		batch.Declare(component.Interface{Name: "exporter", Namespace: "render"})
		batch.Register(component.Component{
			Name:       "pdf-exporter",
			Namespace:  "render",
			Implements: []component.InterfaceRef{{Namespace: "render", Name: "exporter"}},
			Scope:      component.MultiInstance,
			Construct: func(ctx context.Context) (any, error) {
				return "pdf", nil
			},
		})
		return nil
	})

	manifest := rendererManifest()
	manifest["hooks"] = []string{"extra"}
	path := writeBundle(t, t.TempDir(), manifest, nil)

	rec, err := f.loader.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.Interfaces != 2 || rec.Components != 2 {
		t.Errorf("Record counts = %d/%d, want 2/2", rec.Interfaces, rec.Components)
	}

	comps, err := f.reg.Lookup("render", "exporter")
	if err != nil {
		t.Fatalf("Lookup(exporter) error = %v", err)
	}
	if len(comps) != 1 || comps[0].Name != "pdf-exporter" {
		t.Errorf("Lookup(exporter) = %v, want [pdf-exporter]", comps)
	}
}

func TestInspect(t *testing.T) {
	path := writeBundle(t, t.TempDir(), rendererManifest(), nil)

	m, err := bundle.Inspect(path)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if m.Name != "render-pack" || len(m.Components) != 1 {
		t.Errorf("Inspect() = %+v, want render-pack with 1 component", m)
	}
}

func TestVerify(t *testing.T) {
	content := []byte("asset bytes")
	good := rendererManifest()
	good["assets"] = []map[string]any{{"path": "a.txt", "sha3": digestOf(content)}}
	goodPath := writeBundle(t, t.TempDir(), good, map[string][]byte{"a.txt": content})

	if err := bundle.Verify(goodPath); err != nil {
		t.Errorf("Verify() error = %v", err)
	}

	bad := rendererManifest()
	bad["name"] = "bad-pack"
	bad["assets"] = []map[string]any{{"path": "a.txt", "sha3": digestOf([]byte("other"))}}
	badPath := writeBundle(t, t.TempDir(), bad, map[string][]byte{"a.txt": content})

	if err := bundle.Verify(badPath); err == nil {
		t.Error("Verify() of tampered bundle succeeded, want error")
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing name", "version: '1'\ncomponents:\n  - name: x\n    kind: k\n    implements: [y]\n"},
		{"missing version", "name: p\ncomponents:\n  - name: x\n    kind: k\n    implements: [y]\n"},
		{"empty bundle", "name: p\nversion: '1'\n"},
		{"component without kind", "name: p\nversion: '1'\ncomponents:\n  - name: x\n    implements: [y]\n"},
		{"bad scope", "name: p\nversion: '1'\ncomponents:\n  - name: x\n    kind: k\n    implements: [y]\n    scope: forever\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := bundle.ParseManifest([]byte(tt.data)); err == nil {
				t.Error("ParseManifest() succeeded, want error")
			}
		})
	}
}

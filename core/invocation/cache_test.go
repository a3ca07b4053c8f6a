package invocation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artpar/plugkit/core/component"
	"github.com/artpar/plugkit/core/events"
	"github.com/artpar/plugkit/core/invocation"
	"github.com/artpar/plugkit/core/registry"
)

func TestCache_GetOrCompute(t *testing.T) {
	cache := invocation.New(zerolog.Nop(), nil)
	ctx := context.Background()

	computes := 0
	compute := func(ctx context.Context) (any, error) {
		computes++
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		got, err := cache.GetOrCompute(ctx, "ui/renderer", "site-1", compute)
		if err != nil {
			t.Fatalf("GetOrCompute() error = %v", err)
		}
		if got != "value" {
			t.Errorf("GetOrCompute() = %v, want value", got)
		}
	}

	if computes != 1 {
		t.Errorf("compute ran %d times, want 1", computes)
	}

	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("Stats() = %+v, want 2 hits and 1 miss", stats)
	}
}

func TestCache_ComputeErrorNotCached(t *testing.T) {
	cache := invocation.New(zerolog.Nop(), nil)
	ctx := context.Background()

	boom := errors.New("boom")
	computes := 0

	_, err := cache.GetOrCompute(ctx, "ui/renderer", "site-1", func(ctx context.Context) (any, error) {
		computes++
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("GetOrCompute() error = %v, want boom", err)
	}

	// The failure must not be cached; the next call computes again.
	got, err := cache.GetOrCompute(ctx, "ui/renderer", "site-1", func(ctx context.Context) (any, error) {
		computes++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if got != "ok" || computes != 2 {
		t.Errorf("GetOrCompute() = %v after %d computes, want ok after 2", got, computes)
	}
}

func TestCache_InvalidateInterface(t *testing.T) {
	cache := invocation.New(zerolog.Nop(), nil)
	ctx := context.Background()

	seed := func(iface, key, value string) {
		cache.GetOrCompute(ctx, iface, key, func(ctx context.Context) (any, error) {
			return value, nil
		})
	}
	seed("ui/renderer", "site-1", "a")
	seed("ui/renderer", "site-2", "b")
	seed("pdf/writer", "site-1", "c")

	cache.InvalidateInterface("ui/renderer")

	if _, ok := cache.Get("ui/renderer", "site-1"); ok {
		t.Error("entry for invalidated interface still cached")
	}
	if _, ok := cache.Get("ui/renderer", "site-2"); ok {
		t.Error("entry for invalidated interface still cached")
	}
	if _, ok := cache.Get("pdf/writer", "site-1"); !ok {
		t.Error("entry for unrelated interface was dropped")
	}
}

// A value computed from pre-invalidation state must not be written back when
// the invalidation lands while the compute is still in flight.
func TestCache_InvalidationDuringComputeNotStored(t *testing.T) {
	cache := invocation.New(zerolog.Nop(), nil)
	ctx := context.Background()

	computing := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		cache.GetOrCompute(ctx, "ui/renderer", "site-1", func(ctx context.Context) (any, error) {
			close(computing)
			<-release
			return "stale", nil
		})
	}()

	<-computing
	cache.InvalidateInterface("ui/renderer")
	close(release)
	<-done

	if _, ok := cache.Get("ui/renderer", "site-1"); ok {
		t.Fatal("value computed before invalidation was stored")
	}

	got, err := cache.GetOrCompute(ctx, "ui/renderer", "site-1", func(ctx context.Context) (any, error) {
		return "fresh", nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if got != "fresh" {
		t.Errorf("GetOrCompute() = %v, want fresh (recomputed)", got)
	}
}

// Same race triggered from inside the compute itself: the caller still gets
// the computed value, but it must not be cached.
func TestCache_SelfInvalidatingComputeNotStored(t *testing.T) {
	cache := invocation.New(zerolog.Nop(), nil)
	ctx := context.Background()

	got, err := cache.GetOrCompute(ctx, "ui/renderer", "site-1", func(ctx context.Context) (any, error) {
		cache.InvalidateInterface("ui/renderer")
		return "stale", nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if got != "stale" {
		t.Errorf("GetOrCompute() = %v, want the computed value returned to the caller", got)
	}
	if _, ok := cache.Get("ui/renderer", "site-1"); ok {
		t.Error("value computed before invalidation was stored")
	}
}

// A registry mutation must cause the next cache read for the affected
// interface to recompute rather than return stale data.
func TestCache_RecomputesAfterRegistryMutation(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	reg := registry.New("", zerolog.Nop(), bus)
	cache := invocation.New(zerolog.Nop(), bus)
	ctx := context.Background()

	ref := component.InterfaceRef{Namespace: "ui", Name: "renderer"}
	if err := reg.Declare(ctx, component.Interface{Name: "renderer", Namespace: "ui"}); err != nil {
		t.Fatalf("Declare() error = %v", err)
	}

	register := func(name string) {
		err := reg.Register(ctx, component.Component{
			Name:       name,
			Namespace:  "ui",
			Implements: []component.InterfaceRef{ref},
			Scope:      component.MultiInstance,
			Construct:  func(ctx context.Context) (any, error) { return name, nil },
		})
		if err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	register("svg")

	// Memoize the current first provider.
	resolveFirst := func(ctx context.Context) (any, error) {
		comps, err := reg.Resolve("ui", "renderer")
		if err != nil {
			return nil, err
		}
		return comps[0].Name, nil
	}

	got, err := cache.GetOrCompute(ctx, ref.Key(), "dispatch", resolveFirst)
	if err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if got != "svg" {
		t.Fatalf("GetOrCompute() = %v, want svg", got)
	}

	// Mutate the registry: unregister svg, register png.
	if err := reg.Unregister(ctx, "ui", "svg"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	register("png")

	got, err = cache.GetOrCompute(ctx, ref.Key(), "dispatch", resolveFirst)
	if err != nil {
		t.Fatalf("GetOrCompute() after mutation error = %v", err)
	}
	if got != "png" {
		t.Errorf("GetOrCompute() after mutation = %v, want png (recomputed)", got)
	}
}

// Package metrics provides Prometheus metrics for the component framework.
// Event-driven counters are fed by the event bus; state gauges are sampled
// from the registry, factory, and invocation cache at scrape time.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/artpar/plugkit/core/events"
	"github.com/artpar/plugkit/core/factory"
	"github.com/artpar/plugkit/core/invocation"
	"github.com/artpar/plugkit/core/registry"
)

// Collector holds all Prometheus metrics for the framework.
type Collector struct {
	// Registry mutation counters
	InterfacesDeclared     *prometheus.CounterVec
	ComponentsRegistered   *prometheus.CounterVec
	ComponentsUnregistered *prometheus.CounterVec

	// Bundle counters
	BundleLoads   prometheus.Counter
	BundleUnloads prometheus.Counter

	// HTTP metrics for the introspection API
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a collector with all event-driven metrics registered.
func New() *Collector {
	return &Collector{
		InterfacesDeclared: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plugkit",
				Name:      "interfaces_declared_total",
				Help:      "Total number of interface declarations",
			},
			[]string{"namespace"},
		),
		ComponentsRegistered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plugkit",
				Name:      "components_registered_total",
				Help:      "Total number of component registrations",
			},
			[]string{"namespace"},
		),
		ComponentsUnregistered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plugkit",
				Name:      "components_unregistered_total",
				Help:      "Total number of component unregistrations",
			},
			[]string{"namespace"},
		),
		BundleLoads: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "plugkit",
				Name:      "bundle_loads_total",
				Help:      "Total number of successful bundle loads",
			},
		),
		BundleUnloads: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "plugkit",
				Name:      "bundle_unloads_total",
				Help:      "Total number of bundle unloads",
			},
		),
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plugkit",
				Name:      "http_requests_total",
				Help:      "Total number of introspection API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "plugkit",
				Name:      "http_request_duration_seconds",
				Help:      "Introspection API request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}
}

// Subscribe wires the event-driven counters to the bus.
func (c *Collector) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.InterfaceDeclared, func(ctx context.Context, e events.Event) error {
		c.InterfacesDeclared.WithLabelValues(e.Namespace).Inc()
		return nil
	})
	bus.Subscribe(events.ComponentRegistered, func(ctx context.Context, e events.Event) error {
		c.ComponentsRegistered.WithLabelValues(e.Namespace).Inc()
		return nil
	})
	bus.Subscribe(events.ComponentUnregistered, func(ctx context.Context, e events.Event) error {
		c.ComponentsUnregistered.WithLabelValues(e.Namespace).Inc()
		return nil
	})
	bus.Subscribe(events.BundleLoaded, func(ctx context.Context, e events.Event) error {
		c.BundleLoads.Inc()
		return nil
	})
	bus.Subscribe(events.BundleUnloaded, func(ctx context.Context, e events.Event) error {
		c.BundleUnloads.Inc()
		return nil
	})
}

// ObserveState registers scrape-time gauges over live framework state.
func (c *Collector) ObserveState(reg *registry.Registry, f *factory.Factory, cache *invocation.Cache) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "plugkit",
			Name:      "namespaces",
			Help:      "Number of registry namespaces",
		},
		func() float64 { return float64(len(reg.Namespaces())) },
	)
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "plugkit",
			Name:      "live_singletons",
			Help:      "Number of live singleton instances",
		},
		func() float64 { return float64(len(f.LiveInstances())) },
	)
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "plugkit",
			Name:      "instances_created_total",
			Help:      "Total number of component instances constructed",
		},
		func() float64 { return float64(f.Created()) },
	)
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "plugkit",
			Name:      "invocation_cache_entries",
			Help:      "Current number of invocation cache entries",
		},
		func() float64 { return float64(cache.Stats().Entries) },
	)
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "plugkit",
			Name:      "invocation_cache_hits_total",
			Help:      "Total invocation cache hits",
		},
		func() float64 { return float64(cache.Stats().Hits) },
	)
	promauto.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "plugkit",
			Name:      "invocation_cache_misses_total",
			Help:      "Total invocation cache misses",
		},
		func() float64 { return float64(cache.Stats().Misses) },
	)
}

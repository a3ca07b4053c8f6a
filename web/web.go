// Package web provides the JSON introspection API over the framework:
// namespaces, interfaces, components, live instances, cache statistics,
// and bundle load/unload.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/plugkit/adapters/metrics"
	"github.com/artpar/plugkit/core/bundle"
	"github.com/artpar/plugkit/core/factory"
	"github.com/artpar/plugkit/core/invocation"
	"github.com/artpar/plugkit/core/registry"
)

// Handler serves the introspection API.
type Handler struct {
	registry  *registry.Registry
	factory   *factory.Factory
	cache     *invocation.Cache
	loader    *bundle.Loader
	store     bundle.Store // may be nil
	collector *metrics.Collector
	logger    zerolog.Logger
	startTime time.Time
}

// Deps contains dependencies for the web handler.
type Deps struct {
	Registry  *registry.Registry
	Factory   *factory.Factory
	Cache     *invocation.Cache
	Loader    *bundle.Loader
	Store     bundle.Store
	Collector *metrics.Collector
	Logger    zerolog.Logger
}

// NewHandler creates the introspection API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		registry:  deps.Registry,
		factory:   deps.Factory,
		cache:     deps.Cache,
		loader:    deps.Loader,
		store:     deps.Store,
		collector: deps.Collector,
		logger:    deps.Logger,
		startTime: time.Now(),
	}
}

// Router builds the chi router. metricsPath is empty when metrics are
// disabled.
func (h *Handler) Router(metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if h.collector != nil {
		r.Use(h.metricsMiddleware)
	}

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/namespaces", h.handleNamespaces)
		r.Get("/namespaces/{namespace}/interfaces", h.handleInterfaces)
		r.Get("/namespaces/{namespace}/components", h.handleComponents)
		r.Get("/namespaces/{namespace}/interfaces/{interface}/providers", h.handleProviders)

		r.Get("/instances", h.handleInstances)
		r.Get("/cache", h.handleCacheStats)

		r.Get("/bundles", h.handleListBundles)
		r.Post("/bundles", h.handleLoadBundle)
		r.Delete("/bundles/{name}", h.handleUnloadBundle)
	})

	if metricsPath != "" {
		r.Handle(metricsPath, promhttp.Handler())
	}

	return r
}

// metricsMiddleware records request counts and durations per route pattern.
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		h.collector.RequestsTotal.WithLabelValues(
			r.Method, pattern, strconv.Itoa(ww.Status()),
		).Inc()
		h.collector.RequestDuration.WithLabelValues(
			r.Method, pattern,
		).Observe(time.Since(start).Seconds())
	})
}

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/plugkit/core/component"
)

// ifaceView is the JSON shape for a declared interface.
type ifaceView struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	Version     string `json:"version,omitempty"`
	Bundle      string `json:"bundle,omitempty"`
	Description string `json:"description,omitempty"`
}

// componentView is the JSON shape for a registered component.
type componentView struct {
	Name        string   `json:"name"`
	Namespace   string   `json:"namespace"`
	Implements  []string `json:"implements"`
	Scope       string   `json:"scope"`
	Bundle      string   `json:"bundle,omitempty"`
	Description string   `json:"description,omitempty"`
}

func toIfaceView(i component.Interface) ifaceView {
	return ifaceView{
		Name:        i.Name,
		Namespace:   i.Namespace,
		Version:     i.Version,
		Bundle:      i.Bundle,
		Description: i.Description,
	}
}

func toComponentView(c component.Component) componentView {
	implements := make([]string, 0, len(c.Implements))
	for _, ref := range c.Implements {
		implements = append(implements, ref.Key())
	}
	return componentView{
		Name:        c.Name,
		Namespace:   c.Namespace,
		Implements:  implements,
		Scope:       string(c.Scope),
		Bundle:      c.Bundle,
		Description: c.Description,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

func (h *Handler) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Namespaces())
}

func (h *Handler) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	ifaces := h.registry.Interfaces(ns)
	views := make([]ifaceView, 0, len(ifaces))
	for _, iface := range ifaces {
		views = append(views, toIfaceView(iface))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleComponents(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	comps := h.registry.Components(ns)
	views := make([]componentView, 0, len(comps))
	for _, comp := range comps {
		views = append(views, toComponentView(comp))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleProviders(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "namespace")
	iface := chi.URLParam(r, "interface")

	comps, err := h.registry.Resolve(ns, iface)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]componentView, 0, len(comps))
	for _, comp := range comps {
		views = append(views, toComponentView(comp))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleInstances(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.factory.LiveInstances())
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handler) handleListBundles(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		records, err := h.store.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}
	writeJSON(w, http.StatusOK, h.loader.Loaded())
}

type loadBundleRequest struct {
	Path string `json:"path"`
}

func (h *Handler) handleLoadBundle(w http.ResponseWriter, r *http.Request) {
	var req loadBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path is required"})
		return
	}

	rec, err := h.loader.Load(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleUnloadBundle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.loader.Unload(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps framework errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var loadErr *component.BundleLoadError
	switch {
	case errors.Is(err, component.ErrUnknownInterface),
		errors.Is(err, component.ErrUnknownComponent),
		errors.Is(err, component.ErrNoProvider):
		status = http.StatusNotFound
	case errors.Is(err, component.ErrDuplicateInterface),
		errors.Is(err, component.ErrDuplicateComponent):
		status = http.StatusConflict
	case errors.As(err, &loadErr):
		status = http.StatusUnprocessableEntity
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

package api

import (
	"fmt"
	"net/http"
	"os"

	"clipfetch/internal/infocache"
	"clipfetch/internal/media"
	"clipfetch/internal/storage"
)

// Handler exposes the HTTP API over the orchestrator and the download
// history store.
type Handler struct {
	Orchestrator *media.Orchestrator
	Store        storage.Repository
	Cache        *infocache.Cache
	OutputDir    string
}

func NewHandler(orchestrator *media.Orchestrator, store storage.Repository, cache *infocache.Cache, outputDir string) *Handler {
	return &Handler{
		Orchestrator: orchestrator,
		Store:        store,
		Cache:        cache,
		OutputDir:    outputDir,
	}
}

type componentHealth struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Health reports component-level readiness: the history datastore, the info
// cache backend, and writability of the output directory.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks := []componentHealth{
		h.checkStore(r),
		h.checkCache(r),
		h.checkOutputDir(),
	}
	status := "ok"
	for _, check := range checks {
		if check.Status != "ok" && check.Status != "disabled" {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"services": checks,
	})
}

func (h *Handler) checkStore(r *http.Request) componentHealth {
	check := componentHealth{Component: "datastore", Status: "ok"}
	if h.Store == nil {
		check.Status = "disabled"
		return check
	}
	if err := h.Store.Ping(r.Context()); err != nil {
		check.Status = "error"
		check.Error = err.Error()
	}
	return check
}

func (h *Handler) checkCache(r *http.Request) componentHealth {
	check := componentHealth{Component: "cache", Status: "ok"}
	if h.Cache == nil {
		check.Status = "disabled"
		return check
	}
	if err := h.Cache.Ping(r.Context()); err != nil {
		check.Status = "error"
		check.Error = err.Error()
	}
	return check
}

func (h *Handler) checkOutputDir() componentHealth {
	check := componentHealth{Component: "output_dir", Status: "ok"}
	if h.OutputDir == "" {
		check.Status = "disabled"
		return check
	}
	probe, err := os.CreateTemp(h.OutputDir, ".health-*")
	if err != nil {
		check.Status = "error"
		check.Error = fmt.Sprintf("output dir not writable: %v", err)
		return check
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return check
}

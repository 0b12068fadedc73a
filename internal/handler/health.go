package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/registry"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg      *config.Config
	registry *registry.Registry
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, reg *registry.Registry, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, registry: reg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the build version, the number of configured applications
// and which cache backend is in use. It never exposes keys.
func (h *HealthHandler) Status(c echo.Context) error {
	cacheBackend := "disabled"
	if h.cfg.Cache.Enabled() {
		cacheBackend = "redis"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      string(h.version),
		"applications": h.registry.Len(),
		"cache":        cacheBackend,
	})
}

package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"tired-proxy/internal/config"
	"tired-proxy/internal/idle"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints. Neither counts as
// activity for the idle watchdog.
type HealthHandler struct {
	cfg      *config.Config
	version  Version
	clock    *idle.Clock
	watchdog *idle.Watchdog
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, clock *idle.Clock, w *idle.Watchdog) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, clock: clock, watchdog: w}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status             string  `json:"status"`
	Version            string  `json:"version"`
	UpstreamURL        string  `json:"upstream_url"`
	LastActivity       string  `json:"last_activity"`
	IdleSeconds        float64 `json:"idle_seconds"`
	IdleTimeoutSeconds float64 `json:"idle_timeout_seconds"`
	RemainingSeconds   float64 `json:"remaining_seconds"`
}

// Status returns proxy status information, including how long until the
// idle watchdog would stop the process.
func (h *HealthHandler) Status(c echo.Context) error {
	status := "ok"
	if h.watchdog.Terminating() {
		status = "terminating"
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:             status,
		Version:            string(h.version),
		UpstreamURL:        h.cfg.Upstream.BaseURL,
		LastActivity:       h.clock.LastActivity().UTC().Format(time.RFC3339),
		IdleSeconds:        h.clock.Elapsed().Seconds(),
		IdleTimeoutSeconds: h.watchdog.Timeout().Seconds(),
		RemainingSeconds:   h.watchdog.Remaining().Seconds(),
	})
}

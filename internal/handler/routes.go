package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tired-proxy/internal/config"
	"tired-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Optional
// admin routes take their paths first; every other path and method is
// proxied.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	if cfg.Health.Enabled {
		e.GET(cfg.Health.Path, health.Healthz)
		e.GET(cfg.Health.StatusPath, health.Status)
	}
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
	e.RouteNotFound("/*", proxy.Handle)
}

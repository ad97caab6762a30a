// Package server builds the inbound HTTP server and its middleware chain.
package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"tired-proxy/internal/config"
	"tired-proxy/internal/metrics"
	"tired-proxy/internal/middleware"
)

// NewEcho creates the Echo instance with inbound timeouts and the
// middleware chain. m may be nil when metrics are disabled.
func NewEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout stays 0 so long streamed responses are not cut off; the
	// per-request timeout bounds the upstream round-trip instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	// Recover sits inside the logger so a panicking request is still logged.
	e.Use(middleware.RequestLogger(logger.With("component", "http")))
	e.Use(echomw.Recover())
	if m != nil {
		e.Use(middleware.MetricsMiddleware(m))
	}

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}
	if cfg.Server.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	}
	if cfg.Server.StripHopByHop {
		e.Use(middleware.StripHopByHop())
	}

	e.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout.Duration))

	return e
}

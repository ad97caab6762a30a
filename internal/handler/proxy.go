package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"tired-proxy/internal/idle"
	"tired-proxy/internal/model"
	"tired-proxy/internal/service"
)

// ProxyHandler forwards every request it receives to the upstream.
type ProxyHandler struct {
	service *service.ProxyService
	clock   *idle.Clock
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, clock *idle.Clock, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		clock:   clock,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle records the request as activity, proxies it to the upstream and
// streams the response back unchanged.
func (h *ProxyHandler) Handle(c echo.Context) error {
	h.clock.Touch()

	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		ForceQuery:    req.URL.ForceQuery,
		Host:          req.Host,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	if len(resp.Trailer) > 0 {
		keys := make([]string, 0, len(resp.Trailer))
		for key := range resp.Trailer {
			keys = append(keys, key)
		}
		header.Add("Trailer", strings.Join(keys, ", "))
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Once the status is sent, a copy failure (client disconnect, upstream
	// reset, deadline) can only truncate the response, so it is logged.
	flush := resp.Header.Get("Content-Length") == "" ||
		strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
	if err := copyBody(c.Response(), resp.Body, flush); err != nil {
		h.logger.Warn("streaming response body",
			"err", err,
			"method", req.Method,
			"path", req.URL.Path,
		)
		return nil
	}

	for key, vals := range resp.Trailer {
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	return nil
}

// copyBody streams src to the client, flushing after every chunk when the
// response has no declared length.
func copyBody(dst *echo.Response, src io.Reader, flush bool) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if flush {
				dst.Flush()
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// mapError converts a forwarding failure into an HTTP error. The cause stays
// attached so outer middleware can still match it with errors.Is.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrInvalidTarget) {
		return echo.NewHTTPError(http.StatusInternalServerError, "invalid upstream target").SetInternal(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return echo.NewHTTPError(http.StatusGatewayTimeout, "upstream request timed out").SetInternal(err)
	}

	if errors.Is(err, context.Canceled) {
		return echo.NewHTTPError(http.StatusBadGateway, "client disconnected").SetInternal(err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream host unreachable").SetInternal(err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return echo.NewHTTPError(http.StatusBadGateway, "upstream connection failed").SetInternal(err)
	}

	return echo.NewHTTPError(http.StatusBadGateway, "upstream request failed").SetInternal(err)
}

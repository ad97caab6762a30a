// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"tired-proxy/internal/client"
	"tired-proxy/internal/config"
	"tired-proxy/internal/model"
)

// ErrInvalidTarget is returned when the rewritten upstream target is not a
// well-formed URL.
var ErrInvalidTarget = errors.New("rewritten upstream target is not a valid URL")

// ProxyService rewrites inbound requests to the upstream and forwards them.
type ProxyService struct {
	client      *client.UpstreamClient
	logger      *slog.Logger
	origin      string // scheme://host[:port] plus any base path, no trailing slash
	rewriteHost bool
}

// NewProxyService creates a ProxyService for the configured upstream.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be an absolute URL", cfg.Upstream.BaseURL)
	}

	origin := u.Scheme + "://" + u.Host + strings.TrimSuffix(u.EscapedPath(), "/")

	return &ProxyService{
		client:      c,
		logger:      logger.With("component", "proxy_service"),
		origin:      origin,
		rewriteHost: cfg.Upstream.RewriteHost,
	}, nil
}

// Forward sends a ProxyRequest to the upstream and returns the response.
// Method, headers and body are forwarded unchanged; only scheme, host and
// port of the target are replaced.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := s.buildUpstreamURL(pr.Path, pr.RawQuery, pr.ForceQuery)
	if err != nil {
		return nil, err
	}

	host := pr.Host
	if s.rewriteHost {
		host = ""
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target", target.String(),
	)

	resp, err := s.client.DoStream(pr.Ctx, &model.UpstreamRequest{
		Method:        pr.Method,
		URL:           target,
		Host:          host,
		Header:        pr.Header.Clone(),
		Body:          pr.Body,
		ContentLength: pr.ContentLength,
	})
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	return resp, nil
}

// buildUpstreamURL concatenates the upstream origin with the preserved
// path and query. The query, and its '?', are appended only when present.
func (s *ProxyService) buildUpstreamURL(path, rawQuery string, forceQuery bool) (*url.URL, error) {
	target := s.origin + path
	if rawQuery != "" || forceQuery {
		target += "?" + rawQuery
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	return u, nil
}

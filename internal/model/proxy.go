// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents an inbound request to be forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the escaped request path, exactly as it will be sent upstream.
	Path string
	// RawQuery is the encoded query without the leading '?'. ForceQuery is
	// set when the request target ended in a bare '?'.
	RawQuery   string
	ForceQuery bool

	Host          string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// UpstreamRequest is a ProxyRequest rewritten to target the upstream.
type UpstreamRequest struct {
	Method        string
	URL           *url.URL
	Host          string // empty means use URL.Host
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Trailer    http.Header
	Body       io.ReadCloser
}

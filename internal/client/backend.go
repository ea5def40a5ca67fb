// Package client provides the outbound HTTP client shared by all backends.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"auth-proxy-go/internal/config"
	"auth-proxy-go/internal/metrics"
	"auth-proxy-go/internal/model"
	"auth-proxy-go/internal/proxyerr"
)

// errBodyTooLarge is wrapped in a TransportError when a backend response
// exceeds upstream.max_response_bytes.
var errBodyTooLarge = errors.New("response body exceeds limit")

// droppedRequestHeaders never leave the proxy. Content-Length is recomputed
// from the body, and Accept-Encoding is left to the transport so responses
// arrive decoded.
var droppedRequestHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
	"Accept-Encoding",
}

// BackendClient sends requests to the Cloud Controller, the auth gateway and UAA.
type BackendClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxBody    int64
}

// NewBackendClient creates a BackendClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable backend metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxBody := cfg.Upstream.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "backend_client"),
		metrics: m,
		maxBody: maxBody,
	}
}

// Forward issues the call described by d and returns the fully read response.
// A non-2xx status is a normal response here; only a call that could not
// complete yields an error, always a *proxyerr.TransportError.
func (c *BackendClient) Forward(ctx context.Context, d model.RequestDescriptor) (*model.BackendResponse, error) {
	u := url.URL{Scheme: d.Scheme, Host: d.Host, Path: d.Path, RawQuery: d.RawQuery}

	var body io.Reader = http.NoBody
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, u.String(), body)
	if err != nil {
		return nil, c.transportError(d, fmt.Errorf("build request: %w", err))
	}
	req.Header = rewriteHeaders(d.Header, d.Host, d.ForwardedHost)
	req.Host = d.Host

	c.logger.Info("outgoing request",
		"backend", d.Backend,
		"method", d.Method,
		"path", d.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(d.Method)
	if c.metrics != nil {
		c.metrics.BackendDuration.WithLabelValues(d.Backend, method).Observe(duration)
	}
	if err != nil {
		return nil, c.transportError(d, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, c.transportError(d, fmt.Errorf("read body: %w", err))
	}
	if int64(len(data)) > c.maxBody {
		return nil, c.transportError(d, errBodyTooLarge)
	}

	if c.metrics != nil {
		c.metrics.BackendResponses.WithLabelValues(d.Backend, method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	c.logger.Debug("backend response",
		"backend", d.Backend,
		"method", d.Method,
		"path", d.Path,
		"status", resp.StatusCode,
		"bytes", len(data),
	)

	return &model.BackendResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *BackendClient) transportError(d model.RequestDescriptor, err error) error {
	return &proxyerr.TransportError{
		Backend: d.Backend,
		Method:  d.Method,
		Path:    d.Path,
		Err:     err,
	}
}

// rewriteHeaders copies src for a call to host. The copy carries Host set to
// the target and X-Forwarded-Host set to the inbound host; src is untouched.
func rewriteHeaders(src http.Header, host, forwardedHost string) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, h := range droppedRequestHeaders {
		dst.Del(h)
	}
	dst.Set("Host", host)
	if forwardedHost != "" {
		dst.Set("X-Forwarded-Host", forwardedHost)
	}
	return dst
}

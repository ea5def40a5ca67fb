package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"auth-proxy-go/internal/client"
	"auth-proxy-go/internal/config"
	"auth-proxy-go/internal/identity"
	"auth-proxy-go/internal/metrics"
	"auth-proxy-go/internal/service"
)

// recordedRequest is what a stub backend saw.
type recordedRequest struct {
	Method        string
	Path          string
	RawQuery      string
	Host          string
	Authorization string
	ForwardedHost string
	Body          string
}

// stubBackend is an httptest server that records every request.
type stubBackend struct {
	srv *httptest.Server

	mu   sync.Mutex
	reqs []recordedRequest
}

func newStubBackend(t *testing.T, h http.HandlerFunc) *stubBackend {
	t.Helper()
	s := &stubBackend{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.reqs = append(s.reqs, recordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			RawQuery:      r.URL.RawQuery,
			Host:          r.Host,
			Authorization: r.Header.Get("Authorization"),
			ForwardedHost: r.Header.Get("X-Forwarded-Host"),
			Body:          string(b),
		})
		s.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *stubBackend) requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.reqs...)
}

func (s *stubBackend) endpoint(t *testing.T) config.BackendConfig {
	t.Helper()
	u, err := url.Parse(s.srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return config.BackendConfig{Host: u.Host, Scheme: u.Scheme}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// testEnv is a fully wired proxy in front of three stub backends.
type testEnv struct {
	echo    *echo.Echo
	metrics *metrics.Metrics
	cc      *stubBackend
	ag      *stubBackend
	uaa     *stubBackend
}

type envOptions struct {
	cc, ag, uaa     http.HandlerFunc
	strictDelete    bool
	metricsDisabled bool
	guard           APIGuard
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, `{}`)
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.cc == nil {
		opts.cc = okHandler
	}
	if opts.ag == nil {
		opts.ag = okHandler
	}
	if opts.uaa == nil {
		opts.uaa = okHandler
	}

	env := &testEnv{
		metrics: metrics.New(),
		cc:      newStubBackend(t, opts.cc),
		ag:      newStubBackend(t, opts.ag),
		uaa:     newStubBackend(t, opts.uaa),
	}

	cfg := &config.Config{
		Backends: config.BackendsConfig{
			CloudController: env.cc.endpoint(t),
			AuthGateway:     env.ag.endpoint(t),
			UAA:             env.uaa.endpoint(t),
		},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:   10,
			IdleConnections:  10,
			MaxResponseBytes: 1 << 20,
		},
		Orchestration: config.OrchestrationConfig{StrictOrgDelete: opts.strictDelete},
		Metrics:       config.MetricsConfig{Enabled: !opts.metricsDisabled, Path: "/metrics"},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := client.NewBackendClient(cfg, logger, env.metrics)
	users := identity.NewResolver(bc, cfg, logger)
	orch := service.NewOrchestrator(bc, users, cfg, logger)

	env.echo = echo.New()
	RegisterRoutes(env.echo,
		NewOrganizationHandler(orch, env.metrics, logger),
		NewHealthHandler(cfg, "test"),
		cfg,
		env.metrics,
		opts.guard,
	)
	return env
}

// do sends an authorized request through the proxy.
func (env *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Host = "auth-proxy.example.com"
	req.Header.Set("Authorization", "bearer test-token")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return serve(env.echo, req)
}

func newRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, http.NoBody)
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"auth-proxy-go/internal/auth"
	"auth-proxy-go/internal/client"
	"auth-proxy-go/internal/config"
	"auth-proxy-go/internal/handler"
	"auth-proxy-go/internal/identity"
	"auth-proxy-go/internal/metrics"
	"auth-proxy-go/internal/middleware"
	"auth-proxy-go/internal/routing"
	"auth-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("auth-proxy"),
		kong.Description("Keeps the Cloud Controller and the auth gateway in step for organization and membership changes."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(appOptions(&cli)).Run()
}

// appOptions is the full dependency graph, shared with the graph test.
func appOptions(cli *config.CLI) fx.Option {
	return fx.Options(
		fx.Provide(
			func() *config.CLI { return cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			fx.Annotate(
				client.NewBackendClient,
				fx.As(new(service.Forwarder)),
				fx.As(new(identity.Forwarder)),
			),
			fx.Annotate(identity.NewResolver, fx.As(new(service.UserResolver))),
			service.NewOrchestrator,
			handler.NewOrganizationHandler,
			handler.NewHealthHandler,
			auth.NewVerifier,
			newAPIGuard,
			routing.NewRegistrar,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			warnConfigPermissions,
			loadTokenKey,
			registerRoutes,
			startServer,
		),
	)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks. Backend calls are
	// bounded by the upstream timeout, so an operation never outlives
	// WriteTimeout by much.
	e.Server.ReadTimeout = 30 * time.Second
	e.Server.WriteTimeout = time.Duration(3*cfg.Upstream.TimeoutSeconds+10) * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

// newAPIGuard returns the bearer token check for /v2, or nil when disabled.
func newAPIGuard(cfg *config.Config, v *auth.Verifier, logger *slog.Logger) handler.APIGuard {
	if !cfg.Auth.Enabled {
		logger.Warn("bearer token verification disabled")
		return nil
	}
	return handler.APIGuard(v.Middleware())
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// loadTokenKey fetches the verification key before the server accepts traffic.
func loadTokenKey(lc fx.Lifecycle, cfg *config.Config, v *auth.Verifier) {
	if !cfg.Auth.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: v.LoadKey,
	})
}

func registerRoutes(lc fx.Lifecycle, cfg *config.Config, r *routing.Registrar) {
	if !cfg.Routing.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: r.Start,
		OnStop:  r.Stop,
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"cloud_controller", cfg.Backends.CloudController.Host,
				"auth_gateway", cfg.Backends.AuthGateway.Host,
				"uaa", cfg.Backends.UAA.Host,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}

package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auth-proxy-go/internal/config"
	"auth-proxy-go/internal/metrics"
)

// APIGuard authenticates requests to the /v2 routes. A nil guard leaves
// them open.
type APIGuard echo.MiddlewareFunc

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, orgs *OrganizationHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics, guard APIGuard) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	v2 := e.Group("/v2")
	if guard != nil {
		v2.Use(echo.MiddlewareFunc(guard))
	}

	v2.POST("/organizations", orgs.CreateOrganization)
	v2.DELETE("/organizations/:org_guid", orgs.DeleteOrganization)

	v2.PUT("/organizations/:org_guid/users/:user_guid", orgs.AddUser)
	v2.DELETE("/organizations/:org_guid/users/:user_guid", orgs.RemoveUser)
	v2.PUT("/users/:user_guid/organizations/:org_guid", orgs.AddUser)
	v2.DELETE("/users/:user_guid/organizations/:org_guid", orgs.RemoveUser)

	v2.PUT("/organizations/:org_guid/users", orgs.AddUserByName)
	v2.DELETE("/organizations/:org_guid/users", orgs.RemoveUserByName)
}

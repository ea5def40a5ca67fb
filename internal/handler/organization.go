package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"auth-proxy-go/internal/metrics"
	"auth-proxy-go/internal/model"
	"auth-proxy-go/internal/service"
)

type operationFunc func(ctx context.Context, req *model.ProxyRequest) (*model.Outcome, error)

// OrganizationHandler serves the organization and membership endpoints.
type OrganizationHandler struct {
	orchestrator *service.Orchestrator
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewOrganizationHandler creates an OrganizationHandler.
// The metrics parameter is optional; pass nil to disable operation metrics.
func NewOrganizationHandler(o *service.Orchestrator, m *metrics.Metrics, logger *slog.Logger) *OrganizationHandler {
	return &OrganizationHandler{
		orchestrator: o,
		metrics:      m,
		logger:       logger.With("component", "organization_handler"),
	}
}

// CreateOrganization handles POST /v2/organizations.
func (h *OrganizationHandler) CreateOrganization(c echo.Context) error {
	return h.handle(c, service.OpCreateOrganization, h.orchestrator.CreateOrganization)
}

// DeleteOrganization handles DELETE /v2/organizations/:org_guid.
func (h *OrganizationHandler) DeleteOrganization(c echo.Context) error {
	return h.handle(c, service.OpDeleteOrganization, h.orchestrator.DeleteOrganization)
}

// AddUser handles PUT on both association routes.
func (h *OrganizationHandler) AddUser(c echo.Context) error {
	return h.handle(c, service.OpAddUser, h.orchestrator.AddUser)
}

// RemoveUser handles DELETE on both association routes.
func (h *OrganizationHandler) RemoveUser(c echo.Context) error {
	return h.handle(c, service.OpRemoveUser, h.orchestrator.RemoveUser)
}

func (h *OrganizationHandler) AddUserByName(c echo.Context) error {
	return h.handle(c, service.OpAddUser, h.orchestrator.AddUserByName)
}

func (h *OrganizationHandler) RemoveUserByName(c echo.Context) error {
	return h.handle(c, service.OpRemoveUser, h.orchestrator.RemoveUserByName)
}

// handle runs one operation and writes its outcome. The operation is detached
// from the inbound context so a client disconnect cannot abort it between the
// Cloud Controller and the auth gateway.
func (h *OrganizationHandler) handle(c echo.Context, op service.Operation, run operationFunc) error {
	pr, err := newProxyRequest(c)
	if err != nil {
		return err
	}

	out, err := run(context.WithoutCancel(c.Request().Context()), pr)
	if err != nil {
		return h.writeError(c, op, err)
	}

	result := metrics.ResultSync
	if out.StatusCode == http.StatusAccepted {
		result = metrics.ResultAsync
	}
	h.observe(op, result)

	if len(out.Body) == 0 {
		return c.NoContent(out.StatusCode)
	}
	return c.JSONBlob(out.StatusCode, out.Body)
}

func (h *OrganizationHandler) observe(op service.Operation, result string) {
	if h.metrics != nil {
		h.metrics.OperationsTotal.WithLabelValues(string(op), result).Inc()
	}
}

// newProxyRequest captures the inbound request. The body is bounded by the
// BodyLimit middleware; its error is returned as is.
func newProxyRequest(c echo.Context) (*model.ProxyRequest, error) {
	req := c.Request()

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}

	return &model.ProxyRequest{
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Host:     req.Host,
		Header:   req.Header.Clone(),
		Body:     body,
		OrgGUID:  c.Param("org_guid"),
		UserGUID: c.Param("user_guid"),
	}, nil
}

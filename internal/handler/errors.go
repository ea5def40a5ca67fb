package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"auth-proxy-go/internal/metrics"
	"auth-proxy-go/internal/proxyerr"
	"auth-proxy-go/internal/service"
)

// bearerPattern matches bearer credentials echoed back in backend error bodies.
var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[^\s"]+`)

// writeError is the single place an operation failure becomes a response.
func (h *OrganizationHandler) writeError(c echo.Context, op service.Operation, err error) error {
	path := c.Request().URL.Path

	var dirty *proxyerr.DirtyError
	if errors.As(err, &dirty) {
		h.logger.Error("backends may be inconsistent",
			"operation", op,
			"subject", dirty.Subject,
			"err", sanitizeError(err),
			"path", path,
		)
		h.observe(op, metrics.ResultDirtyError)
		return c.JSON(http.StatusBadGateway, map[string]any{
			"error":        dirty.Message(),
			"inconsistent": true,
		})
	}

	h.logger.Warn("operation failed",
		"operation", op,
		"err", sanitizeError(err),
		"path", path,
	)
	h.observe(op, metrics.ResultCleanError)
	return writeClean(c, err)
}

// writeClean surfaces a failure that left both backends untouched. A backend
// status is relayed with its original body.
func writeClean(c echo.Context, err error) error {
	var se *proxyerr.StatusError
	if errors.As(err, &se) {
		contentType := se.ContentType
		if contentType == "" {
			contentType = echo.MIMEApplicationJSON
		}
		return c.Blob(se.StatusCode, contentType, se.Body)
	}

	var ve *proxyerr.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": ve.Error()})
	}

	var nf *proxyerr.UserNotFoundError
	if errors.As(err, &nf) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": nf.Error()})
	}

	var me *proxyerr.MalformedResponseError
	if errors.As(err, &me) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "backend returned an unusable response",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "backend request timed out",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "backend host unreachable",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "backend request failed",
	})
}

// sanitizeError redacts bearer tokens from error messages.
func sanitizeError(err error) string {
	return bearerPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

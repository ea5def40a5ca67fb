package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		asError   bool
		wantLevel string
	}{
		{"success", http.StatusCreated, false, "INFO"},
		{"client error", http.StatusNotFound, false, "WARN"},
		{"server error", http.StatusBadGateway, false, "ERROR"},
		{"returned http error", http.StatusUnauthorized, true, "WARN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			e := echo.New()
			e.Use(RequestLogger(logger))
			e.POST("/v2/organizations", func(c echo.Context) error {
				c.Response().Header().Set(echo.HeaderXRequestID, "req-1")
				if tt.asError {
					return echo.NewHTTPError(tt.status, "nope")
				}
				return c.NoContent(tt.status)
			})

			req := httptest.NewRequest(http.MethodPost, "/v2/organizations", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
			}
			if line["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", line["level"], tt.wantLevel)
			}
			if line["component"] != "access_log" {
				t.Errorf("component = %v, want access_log", line["component"])
			}
			if line["status"] != float64(tt.status) {
				t.Errorf("logged status = %v, want %d", line["status"], tt.status)
			}
			if line["request_id"] != "req-1" {
				t.Errorf("request_id = %v, want req-1", line["request_id"])
			}
		})
	}
}

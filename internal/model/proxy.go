// Package model defines shared types for the proxy.
package model

import (
	"net/http"
)

// Backend names, used as log and metric labels.
const (
	BackendCloudController = "cloud_controller"
	BackendAuthGateway     = "auth_gateway"
	BackendUAA             = "uaa"
)

// ProxyRequest is an authenticated inbound request as seen by the orchestrator.
// It is never modified after construction; outbound calls derive new
// RequestDescriptors from it.
type ProxyRequest struct {
	Method   string
	Path     string
	RawQuery string
	// Host is the inbound Host header, forwarded as X-Forwarded-Host.
	Host   string
	Header http.Header
	Body   []byte

	OrgGUID  string
	UserGUID string
}

// Authorization returns the caller's credential.
func (r *ProxyRequest) Authorization() string {
	return r.Header.Get("Authorization")
}

// RequestDescriptor describes one outbound backend call.
type RequestDescriptor struct {
	Backend  string
	Scheme   string
	Host     string
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte

	// ForwardedHost is sent as X-Forwarded-Host when non-empty.
	ForwardedHost string
}

// BackendResponse is a fully read backend response.
type BackendResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Outcome is the client-facing result of one operation.
type Outcome struct {
	StatusCode int
	Body       []byte
}

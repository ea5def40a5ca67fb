// Package service implements the dual-backend organization operations.
//
// Every operation changes the Cloud Controller first and the auth gateway
// mirror second, at most one mutating call each. A failure before the mirror
// call is a proxyerr.CleanError; a failure after the Cloud Controller changed
// but before the mirror caught up is a proxyerr.DirtyError.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"auth-proxy-go/internal/config"
	"auth-proxy-go/internal/model"
)

// Forwarder issues one backend call.
type Forwarder interface {
	Forward(ctx context.Context, d model.RequestDescriptor) (*model.BackendResponse, error)
}

// UserResolver maps a username to a UAA identity.
type UserResolver interface {
	ResolveByUsername(ctx context.Context, username, credential string) (model.UserIdentity, error)
}

// Operation names an orchestrated operation. The value is used in logs,
// metrics and the administrator message of a dirty error.
type Operation string

const (
	OpCreateOrganization Operation = "create organization"
	OpDeleteOrganization Operation = "delete organization"
	OpAddUser            Operation = "add user"
	OpRemoveUser         Operation = "remove user"
)

// syncStatus is the client status when the mirror completed synchronously.
var syncStatus = map[Operation]int{
	OpCreateOrganization: http.StatusCreated,
	OpDeleteOrganization: http.StatusOK,
	OpAddUser:            http.StatusCreated,
	OpRemoveUser:         http.StatusOK,
}

// Orchestrator runs organization and membership operations against the
// Cloud Controller and the auth gateway.
type Orchestrator struct {
	client Forwarder
	users  UserResolver
	logger *slog.Logger

	cloudController config.BackendConfig
	authGateway     config.BackendConfig
	strictDelete    bool
}

// NewOrchestrator creates an Orchestrator from resolved configuration.
func NewOrchestrator(c Forwarder, users UserResolver, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		client:          c,
		users:           users,
		logger:          logger.With("component", "orchestrator"),
		cloudController: cfg.Backends.CloudController,
		authGateway:     cfg.Backends.AuthGateway,
		strictDelete:    cfg.Orchestration.StrictOrgDelete,
	}
}

// recordCall forwards the inbound request unchanged to the Cloud Controller.
func (o *Orchestrator) recordCall(req *model.ProxyRequest) model.RequestDescriptor {
	return model.RequestDescriptor{
		Backend:       model.BackendCloudController,
		Scheme:        o.cloudController.Scheme,
		Host:          o.cloudController.Host,
		Method:        req.Method,
		Path:          req.Path,
		RawQuery:      req.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ForwardedHost: req.Host,
	}
}

// lookupCall is a read-only Cloud Controller query carrying only the credential.
func (o *Orchestrator) lookupCall(req *model.ProxyRequest, path, rawQuery string) model.RequestDescriptor {
	return model.RequestDescriptor{
		Backend:  model.BackendCloudController,
		Scheme:   o.cloudController.Scheme,
		Host:     o.cloudController.Host,
		Method:   http.MethodGet,
		Path:     path,
		RawQuery: rawQuery,
		Header: http.Header{
			"Authorization": {req.Authorization()},
			"Accept":        {"application/json"},
		},
		ForwardedHost: req.Host,
	}
}

// mirrorCall is a bodiless auth gateway call with the inbound headers.
func (o *Orchestrator) mirrorCall(req *model.ProxyRequest, method, path string) model.RequestDescriptor {
	header := req.Header.Clone()
	if header != nil {
		header.Del("Content-Type")
	}
	return model.RequestDescriptor{
		Backend:       model.BackendAuthGateway,
		Scheme:        o.authGateway.Scheme,
		Host:          o.authGateway.Host,
		Method:        method,
		Path:          path,
		Header:        header,
		ForwardedHost: req.Host,
	}
}

func orgPath(orgGUID string) string {
	return fmt.Sprintf("/organizations/%s", orgGUID)
}

func membershipPath(orgGUID, userGUID string) string {
	return fmt.Sprintf("/organizations/%s/users/%s", orgGUID, userGUID)
}

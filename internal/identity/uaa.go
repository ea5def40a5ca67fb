// Package identity resolves usernames to UAA user identities.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"auth-proxy-go/internal/classify"
	"auth-proxy-go/internal/config"
	"auth-proxy-go/internal/model"
	"auth-proxy-go/internal/proxyerr"
)

// Forwarder issues one backend call.
type Forwarder interface {
	Forward(ctx context.Context, d model.RequestDescriptor) (*model.BackendResponse, error)
}

// Resolver looks users up in UAA. Nothing is cached between calls.
type Resolver struct {
	client   Forwarder
	endpoint config.BackendConfig
	logger   *slog.Logger
}

// NewResolver creates a Resolver against the configured UAA host.
func NewResolver(c Forwarder, cfg *config.Config, logger *slog.Logger) *Resolver {
	return &Resolver{
		client:   c,
		endpoint: cfg.Backends.UAA,
		logger:   logger.With("component", "identity_resolver"),
	}
}

// ResolveByUsername returns the identity whose userName equals username,
// authorising the lookup with the caller's credential.
//
// An empty result yields *proxyerr.UserNotFoundError. When UAA returns more
// than one match the first one wins.
func (r *Resolver) ResolveByUsername(ctx context.Context, username, credential string) (model.UserIdentity, error) {
	d := model.RequestDescriptor{
		Backend:  model.BackendUAA,
		Scheme:   r.endpoint.Scheme,
		Host:     r.endpoint.Host,
		Method:   http.MethodGet,
		Path:     "/Users",
		RawQuery: lookupQuery(username),
		Header: http.Header{
			"Authorization": {credential},
			"Accept":        {"application/json"},
		},
	}

	resp, err := r.client.Forward(ctx, d)
	if err != nil {
		return model.UserIdentity{}, err
	}
	if _, err := classify.Check(model.BackendUAA, resp); err != nil {
		return model.UserIdentity{}, err
	}

	var list model.UserList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return model.UserIdentity{}, &proxyerr.MalformedResponseError{Backend: model.BackendUAA, Err: err}
	}
	if len(list.Resources) == 0 {
		return model.UserIdentity{}, &proxyerr.UserNotFoundError{Username: username}
	}
	if len(list.Resources) > 1 {
		r.logger.Warn("username matched several users; using the first",
			"username", username,
			"matches", len(list.Resources),
		)
	}

	user := list.Resources[0]
	if user.ID == "" {
		return model.UserIdentity{}, &proxyerr.MalformedResponseError{
			Backend: model.BackendUAA,
			Err:     fmt.Errorf("user %s has no id", username),
		}
	}
	return user, nil
}

// lookupQuery builds attributes=id,userName&filter=userName+Eq+"<name>".
func lookupQuery(username string) string {
	return "attributes=id,userName&filter=" + url.QueryEscape(fmt.Sprintf("userName Eq %q", username))
}

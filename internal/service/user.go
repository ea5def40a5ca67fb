package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"auth-proxy-go/internal/classify"
	"auth-proxy-go/internal/model"
	"auth-proxy-go/internal/proxyerr"
)

// usernameBody is the by-username payload. The Cloud Controller calls the
// field "username"; "name" is accepted as well.
type usernameBody struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}

// AddUser associates req.UserGUID with req.OrgGUID.
func (o *Orchestrator) AddUser(ctx context.Context, req *model.ProxyRequest) (*model.Outcome, error) {
	return o.changeMembership(ctx, OpAddUser, http.MethodPut, req)
}

// RemoveUser disassociates req.UserGUID from req.OrgGUID.
func (o *Orchestrator) RemoveUser(ctx context.Context, req *model.ProxyRequest) (*model.Outcome, error) {
	return o.changeMembership(ctx, OpRemoveUser, http.MethodDelete, req)
}

// AddUserByName associates the user named in the request body with req.OrgGUID.
func (o *Orchestrator) AddUserByName(ctx context.Context, req *model.ProxyRequest) (*model.Outcome, error) {
	return o.changeMembershipByName(ctx, OpAddUser, http.MethodPut, req)
}

// RemoveUserByName disassociates the user named in the request body from req.OrgGUID.
func (o *Orchestrator) RemoveUserByName(ctx context.Context, req *model.ProxyRequest) (*model.Outcome, error) {
	return o.changeMembershipByName(ctx, OpRemoveUser, http.MethodDelete, req)
}

func (o *Orchestrator) changeMembership(ctx context.Context, op Operation, mirrorMethod string, req *model.ProxyRequest) (*model.Outcome, error) {
	st := &runState{req: req, userGUID: req.UserGUID}
	o.logger.Info("changing membership", "operation", op, "org", req.OrgGUID, "user", req.UserGUID)

	return o.run(ctx, pipeline{
		op:      op,
		subject: req.UserGUID,
		steps: []step{
			{name: "record membership", run: o.recordMembership},
			o.mirrorStep("mirror membership", mirrorMethod, func(st *runState) string {
				return membershipPath(st.req.OrgGUID, st.userGUID)
			}),
		},
	}, st)
}

// changeMembershipByName lets the Cloud Controller validate the username
// first, then resolves it in UAA for the mirror. A failed resolution is
// reported as clean even though the Cloud Controller already changed.
func (o *Orchestrator) changeMembershipByName(ctx context.Context, op Operation, mirrorMethod string, req *model.ProxyRequest) (*model.Outcome, error) {
	username, nameErr := membershipUsername(req.Body)
	st := &runState{req: req, username: username}
	o.logger.Info("changing membership by username", "operation", op, "org", req.OrgGUID, "username", username)

	return o.run(ctx, pipeline{
		op:      op,
		subject: username,
		steps: []step{
			{name: "validate", run: func(context.Context, *runState) error { return nameErr }},
			{name: "record membership", run: o.recordMembership},
			{name: "resolve user", run: o.resolveUser},
			o.mirrorStep("mirror membership", mirrorMethod, func(st *runState) string {
				return membershipPath(st.req.OrgGUID, st.userGUID)
			}),
		},
	}, st)
}

func membershipUsername(body []byte) (string, error) {
	var b usernameBody
	if err := json.Unmarshal(body, &b); err != nil {
		return "", &proxyerr.ValidationError{Field: "body", Reason: "must be a JSON object"}
	}
	name := strings.TrimSpace(b.Username)
	if name == "" {
		name = strings.TrimSpace(b.Name)
	}
	if name == "" {
		return "", &proxyerr.ValidationError{Field: "username", Reason: "is required"}
	}
	return name, nil
}

// recordMembership forwards the membership change to the Cloud Controller;
// its response body becomes the client-facing body.
func (o *Orchestrator) recordMembership(ctx context.Context, st *runState) error {
	resp, err := o.client.Forward(ctx, o.recordCall(st.req))
	if err != nil {
		return err
	}
	if _, err := classify.Check(model.BackendCloudController, resp); err != nil {
		return err
	}
	st.body = resp.Body
	return nil
}

func (o *Orchestrator) resolveUser(ctx context.Context, st *runState) error {
	user, err := o.users.ResolveByUsername(ctx, st.username, st.req.Authorization())
	if err != nil {
		return err
	}
	st.userGUID = user.ID
	return nil
}

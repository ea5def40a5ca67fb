package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"auth-proxy-go/internal/classify"
	"auth-proxy-go/internal/model"
	"auth-proxy-go/internal/proxyerr"
)

type createOrganizationBody struct {
	Name string `json:"name"`
}

// CreateOrganization creates the organization in the Cloud Controller unless
// one with the same name already exists, then links it in the auth gateway.
// A retried create therefore never produces a duplicate.
func (o *Orchestrator) CreateOrganization(ctx context.Context, req *model.ProxyRequest) (*model.Outcome, error) {
	name, nameErr := organizationName(req.Body)
	st := &runState{req: req, orgName: name}

	o.logger.Info("creating organization", "name", name)

	return o.run(ctx, pipeline{
		op:      OpCreateOrganization,
		subject: name,
		steps: []step{
			{name: "validate", run: func(context.Context, *runState) error { return nameErr }},
			{name: "lookup", run: o.lookupOrganization},
			{name: "create", run: o.createOrganization},
			{name: "read guid", dirty: true, run: o.readCreatedOrganization},
			o.mirrorStep("link", http.MethodPut, func(st *runState) string {
				return orgPath(st.org.GUID)
			}),
		},
	}, st)
}

func organizationName(body []byte) (string, error) {
	var b createOrganizationBody
	if err := json.Unmarshal(body, &b); err != nil {
		return "", &proxyerr.ValidationError{Field: "body", Reason: "must be a JSON object"}
	}
	name := strings.TrimSpace(b.Name)
	if name == "" {
		return "", &proxyerr.ValidationError{Field: "name", Reason: "is required"}
	}
	return name, nil
}

// lookupOrganization queries the Cloud Controller for an organization named
// st.orgName and keeps the first match.
func (o *Orchestrator) lookupOrganization(ctx context.Context, st *runState) error {
	query := url.Values{"q": {"name:" + st.orgName}}.Encode()
	resp, err := o.client.Forward(ctx, o.lookupCall(st.req, "/v2/organizations", query))
	if err != nil {
		return err
	}
	if _, err := classify.Check(model.BackendCloudController, resp); err != nil {
		return err
	}

	var list model.OrganizationList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return &proxyerr.MalformedResponseError{Backend: model.BackendCloudController, Err: err}
	}
	if len(list.Resources) == 0 {
		return nil
	}

	org, err := model.ParseOrganization(list.Resources[0])
	if err != nil {
		return &proxyerr.MalformedResponseError{Backend: model.BackendCloudController, Err: err}
	}
	if org.GUID == "" {
		return &proxyerr.MalformedResponseError{
			Backend: model.BackendCloudController,
			Err:     errors.New("organization resource has no guid"),
		}
	}

	o.logger.Info("organization already exists in cloud controller; skipping create",
		"name", st.orgName,
		"guid", org.GUID,
	)
	st.org = org
	st.orgFound = true
	st.body = org.Raw
	return nil
}

func (o *Orchestrator) createOrganization(ctx context.Context, st *runState) error {
	if st.orgFound {
		return nil
	}
	resp, err := o.client.Forward(ctx, o.recordCall(st.req))
	if err != nil {
		return err
	}
	if _, err := classify.Check(model.BackendCloudController, resp); err != nil {
		return err
	}
	st.created = resp
	return nil
}

// readCreatedOrganization extracts the guid of a freshly created
// organization. The Cloud Controller already holds it, so a failure here
// leaves the mirror behind.
func (o *Orchestrator) readCreatedOrganization(_ context.Context, st *runState) error {
	if st.orgFound {
		return nil
	}
	org, err := model.ParseOrganization(st.created.Body)
	if err != nil {
		return &proxyerr.MalformedResponseError{Backend: model.BackendCloudController, Err: err}
	}
	if org.GUID == "" {
		return &proxyerr.MalformedResponseError{
			Backend: model.BackendCloudController,
			Err:     errors.New("created organization has no guid"),
		}
	}

	o.logger.Info("organization created in cloud controller", "name", st.orgName, "guid", org.GUID)
	st.org = org
	st.body = org.Raw
	return nil
}

// DeleteOrganization deletes the organization from the Cloud Controller and
// unlinks it in the auth gateway. Unless strict_org_delete is set, a Cloud
// Controller 404 is tolerated so an already-deleted organization can still be
// unlinked.
func (o *Orchestrator) DeleteOrganization(ctx context.Context, req *model.ProxyRequest) (*model.Outcome, error) {
	st := &runState{req: req}
	o.logger.Info("deleting organization", "guid", req.OrgGUID)

	return o.run(ctx, pipeline{
		op:      OpDeleteOrganization,
		subject: req.OrgGUID,
		steps: []step{
			{name: "delete", run: o.deleteOrganization},
			o.mirrorStep("unlink", http.MethodDelete, func(st *runState) string {
				return orgPath(st.req.OrgGUID)
			}),
		},
	}, st)
}

func (o *Orchestrator) deleteOrganization(ctx context.Context, st *runState) error {
	var tolerated []int
	if !o.strictDelete {
		tolerated = []int{http.StatusNotFound}
	}

	resp, err := o.client.Forward(ctx, o.recordCall(st.req))
	if err != nil {
		return err
	}
	verdict, err := classify.Check(model.BackendCloudController, resp, tolerated...)
	if err != nil {
		return err
	}
	if verdict == classify.Tolerated {
		o.logger.Warn("organization not found in cloud controller; unlinking anyway",
			"guid", st.req.OrgGUID,
			"status", resp.StatusCode,
		)
		return nil
	}
	o.logger.Info("organization deleted from cloud controller", "guid", st.req.OrgGUID)
	return nil
}

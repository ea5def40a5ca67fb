package service

import (
	"context"
	"fmt"
	"net/http"

	"auth-proxy-go/internal/classify"
	"auth-proxy-go/internal/model"
	"auth-proxy-go/internal/proxyerr"
)

// step is one stage of an operation. dirty marks steps that run after the
// Cloud Controller may already have been mutated on the caller's behalf and
// whose failure leaves the mirror behind.
type step struct {
	name  string
	dirty bool
	run   func(ctx context.Context, st *runState) error
}

// runState is owned by a single operation run.
type runState struct {
	req *model.ProxyRequest

	orgName  string
	org      model.Organization
	orgFound bool
	created  *model.BackendResponse

	username string
	userGUID string

	mirror *model.BackendResponse
	body   []byte
}

// pipeline is the ordered step list of one operation run.
type pipeline struct {
	op      Operation
	subject string
	steps   []step
}

// run executes the steps in order. The first failing step's error is wrapped
// exactly once as clean or dirty; on success the mirror response decides
// between the synchronous status and 202.
func (o *Orchestrator) run(ctx context.Context, p pipeline, st *runState) (*model.Outcome, error) {
	for _, s := range p.steps {
		if err := s.run(ctx, st); err != nil {
			o.logger.Debug("step failed",
				"operation", p.op,
				"subject", p.subject,
				"step", s.name,
				"dirty", s.dirty,
			)
			if s.dirty {
				return nil, &proxyerr.DirtyError{Operation: string(p.op), Subject: p.subject, Err: err}
			}
			return nil, &proxyerr.CleanError{Operation: string(p.op), Subject: p.subject, Err: err}
		}
		o.logger.Debug("step complete",
			"operation", p.op,
			"subject", p.subject,
			"step", s.name,
		)
	}

	if st.mirror == nil {
		return nil, fmt.Errorf("%s %s: pipeline finished without a mirror response", p.op, p.subject)
	}

	status := syncStatus[p.op]
	if classify.IsAsync(st.mirror) {
		status = http.StatusAccepted
	}
	return &model.Outcome{StatusCode: status, Body: st.body}, nil
}

// mirrorStep changes the auth gateway and records its response.
func (o *Orchestrator) mirrorStep(name, method string, path func(st *runState) string) step {
	return step{
		name:  name,
		dirty: true,
		run: func(ctx context.Context, st *runState) error {
			resp, err := o.client.Forward(ctx, o.mirrorCall(st.req, method, path(st)))
			if err != nil {
				return err
			}
			if _, err := classify.Check(model.BackendAuthGateway, resp); err != nil {
				return err
			}
			st.mirror = resp
			return nil
		},
	}
}

// Package classify decides what a backend status code means for an operation.
package classify

import (
	"net/http"
	"slices"

	"auth-proxy-go/internal/model"
	"auth-proxy-go/internal/proxyerr"
)

// Verdict is the classification of one backend response.
type Verdict int

const (
	// Success is any 2xx status.
	Success Verdict = iota
	// Tolerated is a non-2xx status the caller explicitly accepted.
	Tolerated
	// Fatal is everything else.
	Fatal
)

func (v Verdict) String() string {
	switch v {
	case Success:
		return "success"
	case Tolerated:
		return "tolerated"
	default:
		return "fatal"
	}
}

// Classify returns the verdict for resp given the caller's tolerated codes.
func Classify(resp *model.BackendResponse, tolerated ...int) Verdict {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Success
	case slices.Contains(tolerated, resp.StatusCode):
		return Tolerated
	default:
		return Fatal
	}
}

// Check classifies resp and, for a Fatal verdict, returns a
// *proxyerr.StatusError carrying the response for propagation.
func Check(backend string, resp *model.BackendResponse, tolerated ...int) (Verdict, error) {
	v := Classify(resp, tolerated...)
	if v != Fatal {
		return v, nil
	}
	return v, &proxyerr.StatusError{
		Backend:     backend,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        resp.Body,
	}
}

// IsAsync reports whether a successful mirror response was only accepted for
// asynchronous processing.
func IsAsync(resp *model.BackendResponse) bool {
	return resp.StatusCode == http.StatusAccepted
}

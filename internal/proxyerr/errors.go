// Package proxyerr defines the failure taxonomy shared by the backend client,
// the orchestrator and the terminal response writer.
//
// Leaf errors describe what went wrong (TransportError, StatusError, ...).
// CleanError and DirtyError wrap a leaf exactly once, at the step that
// produced it, and say whether the mirror may now disagree with the
// Cloud Controller.
package proxyerr

import (
	"errors"
	"fmt"
)

// TransportError is returned when a backend call could not complete at all
// (DNS failure, refused connection, timeout, truncated body).
type TransportError struct {
	Backend string
	Method  string
	Path    string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError carries a backend response whose status was classified as fatal.
type StatusError struct {
	Backend     string
	StatusCode  int
	ContentType string
	Body        []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Backend, e.StatusCode, truncate(e.Body, 256))
}

// MalformedResponseError is returned when a successful backend response
// cannot be decoded into the expected resource.
type MalformedResponseError struct {
	Backend string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned an unusable response: %v", e.Backend, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ValidationError rejects a malformed inbound request before any backend call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// ErrUserNotFound is matched by UserNotFoundError via errors.Is.
var ErrUserNotFound = errors.New("user does not exist")

// UserNotFoundError is returned when a username resolves to no identity.
type UserNotFoundError struct {
	Username string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user %s does not exist", e.Username)
}

func (e *UserNotFoundError) Is(target error) bool { return target == ErrUserNotFound }

// CleanError is a failure that happened before any mirror mutation. The
// backends are still consistent, so the cause may be surfaced to the caller.
type CleanError struct {
	Operation string
	Subject   string
	Err       error
}

func (e *CleanError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Subject, e.Err)
}

func (e *CleanError) Unwrap() error { return e.Err }

// DirtyError is a failure after the Cloud Controller was mutated but before
// the mirror was synchronised. The cause is for the log only.
type DirtyError struct {
	Operation string
	Subject   string
	Err       error
}

func (e *DirtyError) Error() string {
	return fmt.Sprintf("failed to %s %s in auth gateway: %v", e.Operation, e.Subject, e.Err)
}

func (e *DirtyError) Unwrap() error { return e.Err }

// Message is the administrator-facing text returned to the caller.
func (e *DirtyError) Message() string {
	return fmt.Sprintf("Failed to %s %s. Your system may be in inconsistent state. Please contact platform administrator.",
		e.Operation, e.Subject)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

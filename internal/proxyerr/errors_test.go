package proxyerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCleanError_UnwrapsCause(t *testing.T) {
	cause := &StatusError{Backend: "cloud_controller", StatusCode: 409, Body: []byte(`{"code":30002}`)}
	err := fmt.Errorf("handler: %w", &CleanError{Operation: "create organization", Subject: "org-1", Err: cause})

	var clean *CleanError
	if !errors.As(err, &clean) {
		t.Fatal("errors.As(CleanError) = false, want true")
	}
	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatal("errors.As(StatusError) = false, want true")
	}
	if status.StatusCode != 409 {
		t.Errorf("StatusCode = %d, want 409", status.StatusCode)
	}
	var dirty *DirtyError
	if errors.As(err, &dirty) {
		t.Error("errors.As(DirtyError) = true, want false")
	}
}

func TestDirtyError_Message(t *testing.T) {
	err := &DirtyError{
		Operation: "delete organization",
		Subject:   "guid123",
		Err:       &TransportError{Backend: "auth_gateway", Method: "DELETE", Path: "/organizations/guid123", Err: errors.New("connection refused")},
	}

	msg := err.Message()
	if !strings.Contains(msg, "delete organization guid123") {
		t.Errorf("Message() = %q, want operation and subject", msg)
	}
	if !strings.Contains(msg, "inconsistent state") {
		t.Errorf("Message() = %q, want inconsistency warning", msg)
	}
	if strings.Contains(msg, "auth_gateway") {
		t.Errorf("Message() = %q leaks backend detail", msg)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() = %q, want cause detail for the log", err.Error())
	}
}

func TestUserNotFoundError_Is(t *testing.T) {
	err := &CleanError{Operation: "add user", Subject: "alice", Err: &UserNotFoundError{Username: "alice"}}
	if !errors.Is(err, ErrUserNotFound) {
		t.Error("errors.Is(ErrUserNotFound) = false, want true")
	}
}

func TestStatusError_TruncatesBody(t *testing.T) {
	err := &StatusError{Backend: "cloud_controller", StatusCode: 500, Body: []byte(strings.Repeat("x", 1000))}
	if got := len(err.Error()); got > 320 {
		t.Errorf("len(Error()) = %d, want truncated", got)
	}
}

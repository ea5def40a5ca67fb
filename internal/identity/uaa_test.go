package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"auth-proxy-go/internal/client"
	"auth-proxy-go/internal/config"
	"auth-proxy-go/internal/proxyerr"
)

func newTestResolver(t *testing.T, h http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		Backends: config.BackendsConfig{
			UAA: config.BackendConfig{Host: u.Host, Scheme: u.Scheme},
		},
		Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 10},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(client.NewBackendClient(cfg, logger, nil), cfg, logger)
}

func TestResolveByUsername(t *testing.T) {
	var gotFilter, gotAttrs, gotAuth string
	r := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/Users" {
			t.Errorf("path = %q, want /Users", req.URL.Path)
		}
		gotFilter = req.URL.Query().Get("filter")
		gotAttrs = req.URL.Query().Get("attributes")
		gotAuth = req.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resources":[{"id":"user-guid-1","userName":"alice"}],"totalResults":1}`))
	})

	user, err := r.ResolveByUsername(context.Background(), "alice", "bearer token")
	if err != nil {
		t.Fatalf("ResolveByUsername() error = %v", err)
	}
	if user.ID != "user-guid-1" {
		t.Errorf("ID = %q, want %q", user.ID, "user-guid-1")
	}
	if user.Username != "alice" {
		t.Errorf("Username = %q, want %q", user.Username, "alice")
	}
	if gotFilter != `userName Eq "alice"` {
		t.Errorf("filter = %q, want %q", gotFilter, `userName Eq "alice"`)
	}
	if gotAttrs != "id,userName" {
		t.Errorf("attributes = %q, want %q", gotAttrs, "id,userName")
	}
	if gotAuth != "bearer token" {
		t.Errorf("Authorization = %q, want caller credential", gotAuth)
	}
}

func TestResolveByUsername_FirstMatchWins(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"resources":[{"id":"first","userName":"bob"},{"id":"second","userName":"bob"}],"totalResults":2}`))
	})

	user, err := r.ResolveByUsername(context.Background(), "bob", "bearer token")
	if err != nil {
		t.Fatalf("ResolveByUsername() error = %v", err)
	}
	if user.ID != "first" {
		t.Errorf("ID = %q, want %q", user.ID, "first")
	}
}

func TestResolveByUsername_NotFound(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"resources":[],"totalResults":0}`))
	})

	_, err := r.ResolveByUsername(context.Background(), "ghost", "bearer token")
	if !errors.Is(err, proxyerr.ErrUserNotFound) {
		t.Fatalf("error = %v, want ErrUserNotFound", err)
	}
}

func TestResolveByUsername_ErrorStatus(t *testing.T) {
	r := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"insufficient_scope"}`))
	})

	_, err := r.ResolveByUsername(context.Background(), "alice", "bearer token")
	var se *proxyerr.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *proxyerr.StatusError", err)
	}
	if se.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want %d", se.StatusCode, http.StatusForbidden)
	}
}

func TestResolveByUsername_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing id", `{"resources":[{"userName":"alice"}],"totalResults":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestResolver(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := r.ResolveByUsername(context.Background(), "alice", "bearer token")
			var me *proxyerr.MalformedResponseError
			if !errors.As(err, &me) {
				t.Fatalf("error = %v, want *proxyerr.MalformedResponseError", err)
			}
		})
	}
}

func TestLookupQuery(t *testing.T) {
	got := lookupQuery("alice@example.com")
	want := "attributes=id,userName&filter=userName+Eq+%22alice%40example.com%22"
	if got != want {
		t.Errorf("lookupQuery() = %q, want %q", got, want)
	}
}

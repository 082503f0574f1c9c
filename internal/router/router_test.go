package router

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/auth"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/logger"
	"github.com/harmonia-player/harmonia/internal/store"
)

type fakeTransport struct {
	resp  *api.Response
	err   error
	calls int
}

func (f *fakeTransport) Do(_ context.Context, _ *api.Request) (*api.Response, error) {
	f.calls++
	return f.resp, f.err
}

type fakeEmulator struct {
	calls int
}

func (f *fakeEmulator) Handle(_ context.Context, _ *api.Request) *api.Response {
	f.calls++
	return api.OK("emulated")
}

func newTestRouter(t *testing.T, transport *fakeTransport) (*Router, *fakeEmulator, *events.Emitter) {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	session, err := auth.NewManager(store.NewSettingsRepo(db))
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}
	emitter := events.NewEmitter()
	emu := &fakeEmulator{}
	return New(transport, emu, session, emitter, logger.Default()), emu, emitter
}

func TestMatchRoute(t *testing.T) {
	tests := []struct {
		method  string
		path    string
		matched bool
		capable bool
	}{
		{"GET", "/api/libraries", true, true},
		{"GET", "/api/libraries/lib-123", true, true},
		{"POST", "/api/libraries/lib-123/songs", true, true},
		{"DELETE", "/api/playlists/p1/songs/s1", true, true},
		{"GET", "/api/playlists/by-library/lib-1", true, true},
		{"PUT", "/api/player/progress", true, true},
		{"POST", "/api/auth/login", true, false},
		{"GET", "/api/unknown", false, false},
		{"PATCH", "/api/libraries", false, false},
		{"GET", "/api/libraries/a/b/c", false, false},
	}
	for _, tt := range tests {
		matched, capable := matchRoute(tt.method, tt.path)
		if matched != tt.matched || capable != tt.capable {
			t.Errorf("%s %s: expected (%v,%v), got (%v,%v)",
				tt.method, tt.path, tt.matched, tt.capable, matched, capable)
		}
	}
}

func TestDispatch_OfflineCapable(t *testing.T) {
	transport := &fakeTransport{}
	r, emu, _ := newTestRouter(t, transport)
	r.SetOnlineCheck(func() bool { return false })

	resp := r.Dispatch(context.Background(), &api.Request{Method: "GET", Path: "/api/libraries"})
	if !resp.Success || resp.Data != "emulated" {
		t.Errorf("Expected emulated response, got %+v", resp)
	}
	if transport.calls != 0 {
		t.Error("Transport must not be touched while offline")
	}
	if emu.calls != 1 {
		t.Errorf("Expected 1 emulator call, got %d", emu.calls)
	}
}

func TestDispatch_OfflineNotCapable(t *testing.T) {
	transport := &fakeTransport{}
	r, emu, _ := newTestRouter(t, transport)
	r.SetOnlineCheck(func() bool { return false })

	resp := r.Dispatch(context.Background(), &api.Request{Method: "POST", Path: "/api/auth/login"})
	if resp.Status != http.StatusServiceUnavailable || resp.Error != api.ErrRequiresConnection {
		t.Errorf("Expected 503 requires-connection, got %+v", resp)
	}
	if transport.calls != 0 || emu.calls != 0 {
		t.Error("Neither transport nor emulator should run for a non-capable offline request")
	}
}

func TestDispatch_OnlineSuccess(t *testing.T) {
	transport := &fakeTransport{resp: api.OK("from-backend")}
	r, emu, _ := newTestRouter(t, transport)

	resp := r.Dispatch(context.Background(), &api.Request{Method: "GET", Path: "/api/libraries"})
	if resp.Data != "from-backend" {
		t.Errorf("Expected backend response, got %+v", resp)
	}
	if emu.calls != 0 {
		t.Error("Emulator should not run when the backend succeeds")
	}
	if !r.Reachable() {
		t.Error("Successful call must mark backend reachable")
	}
}

func TestDispatch_OnlineTransportFailure(t *testing.T) {
	transport := &fakeTransport{err: errors.New("connection refused")}
	r, emu, emitter := newTestRouter(t, transport)

	var transitions []bool
	emitter.On(events.TopicReachability, func(_ string, payload any) {
		transitions = append(transitions, payload.(events.ReachabilityEvent).Reachable)
	})

	resp := r.Dispatch(context.Background(), &api.Request{Method: "GET", Path: "/api/libraries"})
	if resp.Data != "emulated" {
		t.Errorf("Expected fallback to emulator, got %+v", resp)
	}
	if emu.calls != 1 {
		t.Errorf("Expected 1 emulator call, got %d", emu.calls)
	}
	if r.Reachable() {
		t.Error("Transport failure must mark backend unreachable")
	}
	if len(transitions) != 1 || transitions[0] != false {
		t.Errorf("Expected one unreachable transition, got %v", transitions)
	}

	// A second failing call must not re-emit.
	r.Dispatch(context.Background(), &api.Request{Method: "GET", Path: "/api/libraries"})
	if len(transitions) != 1 {
		t.Errorf("Transition event fired without a state change: %v", transitions)
	}
	// Once unreachable, capable requests short-circuit to the emulator.
	if transport.calls != 1 {
		t.Errorf("Expected no further transport attempts while unreachable, got %d", transport.calls)
	}
}

func TestDispatch_OnlineTransportFailureNotCapable(t *testing.T) {
	transport := &fakeTransport{err: errors.New("connection refused")}
	r, emu, _ := newTestRouter(t, transport)

	resp := r.Dispatch(context.Background(), &api.Request{Method: "POST", Path: "/api/auth/login"})
	if resp.Status != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %+v", resp)
	}
	if emu.calls != 0 {
		t.Error("Emulator must not serve a non-capable route")
	}
}

func TestDispatch_DegradedBackendFallback(t *testing.T) {
	transport := &fakeTransport{resp: api.Fail(http.StatusInternalServerError, "boom")}
	r, emu, _ := newTestRouter(t, transport)

	resp := r.Dispatch(context.Background(), &api.Request{Method: "GET", Path: "/api/libraries"})
	if resp.Data != "emulated" {
		t.Errorf("Expected degraded-backend fallback, got %+v", resp)
	}
	if emu.calls != 1 {
		t.Errorf("Expected 1 emulator call, got %d", emu.calls)
	}
	if !r.Reachable() {
		t.Error("A backend that answered is still reachable")
	}
}

func TestDispatch_BackendFailureNotCapablePassesThrough(t *testing.T) {
	transport := &fakeTransport{resp: api.Fail(http.StatusUnauthorized, "bad credentials")}
	r, emu, _ := newTestRouter(t, transport)

	resp := r.Dispatch(context.Background(), &api.Request{Method: "POST", Path: "/api/auth/login"})
	if resp.Status != http.StatusUnauthorized || resp.Error != "bad credentials" {
		t.Errorf("Expected backend failure passed through, got %+v", resp)
	}
	if emu.calls != 0 {
		t.Error("Emulator must not serve a non-capable route")
	}
}

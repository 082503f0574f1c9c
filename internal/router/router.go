// Package router decides, per request, whether to hit the real backend
// or the local emulation layer, and tracks backend reachability.
package router

import (
	"context"
	"sync"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/auth"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/logger"
)

// Transport performs the real network call. A non-nil error means the
// backend could not be reached at the transport level; backend-level
// failures come back as a Response with a non-2xx status.
type Transport interface {
	Do(ctx context.Context, req *api.Request) (*api.Response, error)
}

// Emulator serves a request from local state.
type Emulator interface {
	Handle(ctx context.Context, req *api.Request) *api.Response
}

type Router struct {
	transport Transport
	emulator  Emulator
	session   *auth.Manager
	events    *events.Emitter
	log       *logger.Logger

	// online reports the platform connectivity hint. Injected so tests
	// can force the offline path.
	online func() bool

	mu        sync.Mutex
	reachable bool
}

func New(transport Transport, emulator Emulator, session *auth.Manager, emitter *events.Emitter, log *logger.Logger) *Router {
	return &Router{
		transport: transport,
		emulator:  emulator,
		session:   session,
		events:    emitter,
		log:       log.WithComponent("router"),
		online:    func() bool { return true },
		reachable: true,
	}
}

// SetOnlineCheck replaces the connectivity hint.
func (r *Router) SetOnlineCheck(fn func() bool) {
	r.online = fn
}

// RecordHealth feeds the result of an out-of-band backend health probe.
// It is how reachability recovers: once marked unreachable, Dispatch
// stops trying the network until a probe succeeds.
func (r *Router) RecordHealth(healthy bool) {
	r.setReachable(healthy)
}

func (r *Router) Reachable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reachable
}

// setReachable is the single writer of reachability state. The event
// fires only on an actual transition.
func (r *Router) setReachable(v bool) {
	r.mu.Lock()
	changed := r.reachable != v
	r.reachable = v
	r.mu.Unlock()

	if changed {
		r.log.Info("Backend reachability changed", "reachable", v)
		r.events.Emit(events.TopicReachability, events.ReachabilityEvent{Reachable: v})
	}
}

// Dispatch routes one request. Connectivity failures never surface as
// errors; callers always get a response envelope.
func (r *Router) Dispatch(ctx context.Context, req *api.Request) *api.Response {
	if req.UserID == "" {
		req.UserID = r.session.UserID()
	}
	_, capable := matchRoute(req.Method, req.Path)

	if !r.online() || !r.Reachable() {
		if capable {
			return r.emulator.Handle(ctx, req)
		}
		return api.Unavailable()
	}

	resp, err := r.transport.Do(ctx, req)
	if err != nil {
		r.setReachable(false)
		r.log.Warn("Backend unreachable", "method", req.Method, "path", req.Path, "error", err)
		if capable {
			return r.emulator.Handle(ctx, req)
		}
		return api.Unavailable()
	}

	r.setReachable(true)
	if resp.Success || !capable {
		return resp
	}

	// Backend answered but rejected a request we can serve locally.
	r.log.Debug("Falling back to local emulation", "method", req.Method, "path", req.Path, "status", resp.Status)
	return r.emulator.Handle(ctx, req)
}

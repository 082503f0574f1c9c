// Package offline serves API requests from local state, producing the
// same response envelopes the backend would.
package offline

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/auth"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/logger"
	"github.com/harmonia-player/harmonia/internal/mediacache"
	"github.com/harmonia-player/harmonia/internal/store"
)

type params map[string]string

type handlerFunc func(ctx context.Context, req *api.Request, p params) *api.Response

type route struct {
	method  string
	pattern string
	fn      handlerFunc
}

type Service struct {
	db      *store.DB
	cache   *mediacache.Cache
	events  *events.Emitter
	session *auth.Manager
	log     *logger.Logger
	now     func() time.Time

	routes []route
}

func NewService(db *store.DB, cache *mediacache.Cache, session *auth.Manager, emitter *events.Emitter, log *logger.Logger) *Service {
	s := &Service{
		db:      db,
		cache:   cache,
		events:  emitter,
		session: session,
		log:     log.WithComponent("offline"),
		now:     time.Now,
	}
	s.routes = []route{
		{"GET", "/api/libraries", s.listLibraries},
		{"POST", "/api/libraries", s.createLibrary},
		{"GET", "/api/libraries/:id", s.getLibrary},
		{"PATCH", "/api/libraries/:id", s.updateLibrary},
		{"DELETE", "/api/libraries/:id", s.deleteLibrary},
		{"GET", "/api/libraries/:id/songs", s.listLibrarySongs},
		{"POST", "/api/libraries/:id/songs", s.uploadSong},

		{"GET", "/api/playlists", s.listPlaylists},
		{"POST", "/api/playlists", s.createPlaylist},
		{"GET", "/api/playlists/:id", s.getPlaylist},
		{"PATCH", "/api/playlists/:id", s.updatePlaylist},
		{"DELETE", "/api/playlists/:id", s.deletePlaylist},
		{"GET", "/api/playlists/:id/songs", s.listPlaylistSongs},
		{"POST", "/api/playlists/:id/songs", s.addPlaylistSong},
		{"PUT", "/api/playlists/:id/songs", s.reorderPlaylistSongs},
		{"DELETE", "/api/playlists/:id/songs/:songId", s.removePlaylistSong},
		{"GET", "/api/playlists/by-library/:libraryId", s.getPlaylistByLibrary},
		{"POST", "/api/playlists/for-library", s.getOrCreateLibraryPlaylist},

		{"GET", "/api/songs/:id", s.getSong},
		{"DELETE", "/api/songs/:id", s.deleteSong},

		{"GET", "/api/player/progress", s.getProgress},
		{"PUT", "/api/player/progress", s.putProgress},
		{"GET", "/api/player/seed", s.getSeed},
		{"GET", "/api/player/preferences", s.getPreferences},
		{"PATCH", "/api/player/preferences", s.updatePreferences},
		{"PUT", "/api/player/preferences", s.updatePreferences},
	}
	return s
}

// Handle dispatches one request. Panics are converted to 500 envelopes
// at this boundary; callers never see an exception.
func (s *Service) Handle(ctx context.Context, req *api.Request) (resp *api.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Handler panic", "method", req.Method, "path", req.Path, "panic", r)
			resp = api.Fail(http.StatusInternalServerError, "internal error")
		}
	}()

	for _, rt := range s.routes {
		if rt.method != req.Method {
			continue
		}
		if p, ok := matchPattern(rt.pattern, req.Path); ok {
			return rt.fn(ctx, req, p)
		}
	}
	return api.Fail(http.StatusNotFound, "not found")
}

func matchPattern(pattern, path string) (params, bool) {
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(pSegs) != len(segs) {
		return nil, false
	}
	p := params{}
	for i, ps := range pSegs {
		if strings.HasPrefix(ps, ":") {
			p[ps[1:]] = segs[i]
			continue
		}
		if ps != segs[i] {
			return nil, false
		}
	}
	return p, true
}

const internalError = "internal error"

func (s *Service) internal(op string, err error) *api.Response {
	s.log.Error("Store operation failed", "op", op, "error", err)
	return api.Fail(http.StatusInternalServerError, internalError)
}

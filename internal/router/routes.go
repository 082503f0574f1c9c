package router

import "strings"

// Route maps a method and path pattern to its offline capability.
// Patterns use :name placeholders that match exactly one segment.
type Route struct {
	Method         string
	Pattern        string
	OfflineCapable bool
}

var routes = []Route{
	{"GET", "/api/libraries", true},
	{"POST", "/api/libraries", true},
	{"GET", "/api/libraries/:id", true},
	{"PATCH", "/api/libraries/:id", true},
	{"DELETE", "/api/libraries/:id", true},
	{"GET", "/api/libraries/:id/songs", true},
	{"POST", "/api/libraries/:id/songs", true},

	{"GET", "/api/playlists", true},
	{"POST", "/api/playlists", true},
	{"GET", "/api/playlists/:id", true},
	{"PATCH", "/api/playlists/:id", true},
	{"DELETE", "/api/playlists/:id", true},
	{"GET", "/api/playlists/:id/songs", true},
	{"POST", "/api/playlists/:id/songs", true},
	{"PUT", "/api/playlists/:id/songs", true},
	{"DELETE", "/api/playlists/:id/songs/:songId", true},
	{"GET", "/api/playlists/by-library/:libraryId", true},
	{"POST", "/api/playlists/for-library", true},

	{"GET", "/api/songs/:id", true},
	{"DELETE", "/api/songs/:id", true},

	{"GET", "/api/player/progress", true},
	{"PUT", "/api/player/progress", true},
	{"GET", "/api/player/seed", true},
	{"GET", "/api/player/preferences", true},
	{"PATCH", "/api/player/preferences", true},
	{"PUT", "/api/player/preferences", true},

	// Account endpoints only make sense against the real backend.
	{"POST", "/api/auth/login", false},
	{"POST", "/api/auth/logout", false},
	{"GET", "/api/auth/me", false},
}

// matchRoute reports whether the request matches a known route and
// whether that route can be served offline. Unknown routes are never
// offline capable.
func matchRoute(method, path string) (matched, capable bool) {
	segs := splitPath(path)
	for _, r := range routes {
		if r.Method != method {
			continue
		}
		if matchSegments(splitPath(r.Pattern), segs) {
			return true, r.OfflineCapable
		}
	}
	return false, false
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) != len(segs) {
		return false
	}
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			continue
		}
		if p != segs[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

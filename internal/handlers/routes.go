package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/downloads"
	"github.com/harmonia-player/harmonia/internal/metadata"
)

func (h *Handler) RegisterRoutes(r chi.Router) {
	// Media blobs and auth are served here; everything else under /api
	// flows through the request router.
	r.Get("/api/health", h.Health)

	r.Get("/api/songs/{id}/stream", h.StreamSong)
	r.Get("/api/songs/{id}/cover", h.SongCover)

	r.Post("/api/auth/login", h.Login)
	r.Post("/api/auth/logout", h.Logout)
	r.Get("/api/auth/me", h.Me)

	r.Post("/api/sync", h.TriggerSync)
	r.Get("/api/downloads", h.DownloadQueue)
	r.Post("/api/downloads/libraries/{id}", h.DownloadLibrary)
	r.Delete("/api/downloads/libraries/{id}", h.CancelLibraryDownloads)
	r.Delete("/api/downloads", h.CancelDownloads)
	r.Get("/api/storage", h.StorageReport)
	r.Post("/api/reset", h.Reset)

	r.HandleFunc("/api/*", h.Proxy)
}

// Proxy forwards a resource request through the request router, which
// picks the backend or the local emulation layer.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	h.writeResponse(w, h.Router.Dispatch(r.Context(), req))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeOK(w, map[string]any{
		"status":    "ok",
		"reachable": h.Router.Reachable(),
	})
}

// StreamSong serves a song's audio from the media cache, falling back to
// a passthrough fetch from the backend for uncached songs.
func (h *Handler) StreamSong(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "id")
	song, err := h.DB.GetSong(songID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if song == nil || song.IsDeleted {
		h.writeError(w, http.StatusNotFound, "song not found")
		return
	}

	mimeType := "application/octet-stream"
	if song.FileHash != "" {
		if f, err := h.DB.GetFile(song.FileHash); err == nil && f != nil {
			mimeType = f.MimeType
		}
	}

	key := fmt.Sprintf(constants.SongStreamURLFormat, songID)
	if blob, size, err := h.Cache.Get(key); err == nil {
		defer blob.Close()
		w.Header().Set("Content-Type", mimeType)
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if _, err := io.Copy(w, blob); err != nil {
			h.Log.Debug("Stream aborted", "song_id", songID, "error", err)
		}
		return
	}

	data, err := h.Streams.FetchSongAudio(r.Context(), songID)
	if err != nil {
		if errors.Is(err, downloads.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "song not found")
			return
		}
		h.writeError(w, http.StatusServiceUnavailable, api.ErrRequiresConnection)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		h.Log.Debug("Stream aborted", "song_id", songID, "error", err)
	}
}

// SongCover serves the cached cover art. Covers are never fetched on
// demand; a cache miss is a plain 404.
func (h *Handler) SongCover(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "id")
	key := fmt.Sprintf(constants.SongCoverURLFormat, songID)
	blob, size, err := h.Cache.Get(key)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "cover not found")
		return
	}
	defer blob.Close()
	data, err := io.ReadAll(blob)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "cover unreadable")
		return
	}
	w.Header().Set("Content-Type", metadata.CoverMIME(data))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	if _, err := w.Write(data); err != nil {
		h.Log.Debug("Cover write aborted", "song_id", songID, "error", err)
	}
}

type loginResult struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// Login forwards credentials to the backend and, on success, installs
// the authenticated session locally.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request")
		return
	}

	resp := h.Router.Dispatch(r.Context(), req)
	if resp.Success {
		var res loginResult
		if err := resp.DecodeData(&res); err != nil || res.UserID == "" {
			h.writeError(w, http.StatusBadGateway, "unexpected login response")
			return
		}
		if err := h.Session.SignIn(res.UserID, res.Token); err != nil {
			h.Log.Error("Failed to persist session", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		h.Log.WithUser(res.UserID).Info("Signed in")
		// Fresh credentials mean pending local work can go out now.
		h.Syncer.SyncNow()
	}
	h.writeResponse(w, resp)
}

// Logout tells the backend best-effort and always reverts to the guest
// session locally.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	req, err := h.buildRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	if resp := h.Router.Dispatch(r.Context(), req); !resp.Success {
		h.Log.Debug("Backend logout failed", "status", resp.Status)
	}

	if err := h.Session.SignOut(); err != nil {
		h.Log.Error("Failed to clear session", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeOK(w, map[string]any{"signed_out": true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	s := h.Session.Current()
	h.writeOK(w, map[string]any{
		"user_id": s.UserID,
		"guest":   s.Guest,
	})
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	h.Syncer.SyncNow()
	h.writeOK(w, map[string]any{"triggered": true})
}

func (h *Handler) DownloadQueue(w http.ResponseWriter, r *http.Request) {
	h.writeOK(w, h.Downloads.Snapshot())
}

func (h *Handler) DownloadLibrary(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "id")
	queued, err := h.Downloads.EnqueueLibrary(libraryID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeOK(w, map[string]any{"queued": queued})
}

func (h *Handler) CancelLibraryDownloads(w http.ResponseWriter, r *http.Request) {
	libraryID := chi.URLParam(r, "id")
	h.writeOK(w, map[string]any{"cancelled": h.Downloads.CancelLibrary(libraryID)})
}

func (h *Handler) CancelDownloads(w http.ResponseWriter, r *http.Request) {
	h.writeOK(w, map[string]any{"cancelled": h.Downloads.CancelAll()})
}

func (h *Handler) StorageReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Quota.Report(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.writeOK(w, report)
}

// Reset wipes all local data: the download queue, the store and the
// media cache. The session is reverted to guest.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.Downloads.CancelAll()
	if err := h.DB.Reset(r.Context()); err != nil {
		h.Log.Error("Failed to reset store", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.Cache.Clear(); err != nil {
		h.Log.Error("Failed to clear media cache", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.Session.SignOut(); err != nil {
		h.Log.Error("Failed to clear session", "error", err)
	}
	h.writeOK(w, map[string]any{"reset": true})
}

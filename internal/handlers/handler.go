// Package handlers is the HTTP surface the UI shell talks to. Resource
// routes are proxied through the request router; media, auth and the
// service control endpoints are handled here directly.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/auth"
	"github.com/harmonia-player/harmonia/internal/downloads"
	"github.com/harmonia-player/harmonia/internal/logger"
	"github.com/harmonia-player/harmonia/internal/mediacache"
	"github.com/harmonia-player/harmonia/internal/quota"
	"github.com/harmonia-player/harmonia/internal/router"
	"github.com/harmonia-player/harmonia/internal/store"
	"github.com/harmonia-player/harmonia/internal/syncer"
)

// maxUploadBytes bounds in-memory multipart parsing for song uploads.
const maxUploadBytes = 256 << 20

type Handler struct {
	Router    *router.Router
	DB        *store.DB
	Cache     *mediacache.Cache
	Session   *auth.Manager
	Syncer    *syncer.Service
	Downloads *downloads.Manager
	Quota     *quota.Monitor
	Streams   StreamSource
	Log       *logger.Logger
}

// StreamSource fetches audio for songs that are not cached locally.
type StreamSource interface {
	FetchSongAudio(ctx context.Context, songID string) ([]byte, error)
}

func (h *Handler) writeResponse(w http.ResponseWriter, resp *api.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Log.Error("Failed to write response", "error", err)
	}
}

func (h *Handler) writeOK(w http.ResponseWriter, data any) {
	h.writeResponse(w, api.OK(data))
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeResponse(w, api.Fail(status, msg))
}

// buildRequest converts an incoming HTTP request into the envelope form
// the request router understands, including multipart uploads.
func (h *Handler) buildRequest(r *http.Request) (*api.Request, error) {
	req := &api.Request{
		Method: r.Method,
		Path:   r.URL.Path,
	}

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, err
		}
		req.Upload = &api.Upload{
			Filename: header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Data:     data,
		}
	case r.Body != nil:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			req.Body = body
		}
	}
	return req, nil
}

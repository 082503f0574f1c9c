package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/auth"
	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/downloads"
	"github.com/harmonia-player/harmonia/internal/logger"
)

// Backend speaks the envelope protocol against the remote server. It is
// the network half behind the request router and the sync engine, and it
// serves the download manager as its audio fetcher.
type Backend struct {
	baseURL string
	client  *Client
	session *auth.Manager
	log     *logger.Logger
}

func NewBackend(baseURL string, client *Client, session *auth.Manager, log *logger.Logger) *Backend {
	if client == nil {
		client = NewClient(nil, 0)
	}
	return &Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		session: session,
		log:     log.WithComponent("backend"),
	}
}

// Do forwards an envelope request over HTTP. A returned error means the
// backend could not be reached at the transport level; an error from the
// backend itself comes back inside the envelope with Success false.
func (b *Backend) Do(ctx context.Context, req *api.Request) (*api.Response, error) {
	httpReq, err := b.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := b.client.Do(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	resp := &api.Response{Status: httpResp.StatusCode}
	if len(body) > 0 {
		if err := json.Unmarshal(body, resp); err != nil {
			return nil, fmt.Errorf("malformed backend response (status %d): %w", httpResp.StatusCode, err)
		}
	}
	resp.Status = httpResp.StatusCode
	return resp, nil
}

func (b *Backend) buildRequest(ctx context.Context, req *api.Request) (*http.Request, error) {
	url := b.baseURL + req.Path

	var httpReq *http.Request
	var err error
	switch {
	case req.Upload != nil:
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, ferr := w.CreateFormFile("file", req.Upload.Filename)
		if ferr != nil {
			return nil, fmt.Errorf("failed to build upload: %w", ferr)
		}
		if _, ferr := part.Write(req.Upload.Data); ferr != nil {
			return nil, fmt.Errorf("failed to build upload: %w", ferr)
		}
		if ferr := w.Close(); ferr != nil {
			return nil, fmt.Errorf("failed to build upload: %w", ferr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, req.Method, url, &buf)
		if err == nil {
			httpReq.Header.Set("Content-Type", w.FormDataContentType())
		}
	case len(req.Body) > 0:
		httpReq, err = http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(req.Body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	default:
		httpReq, err = http.NewRequestWithContext(ctx, req.Method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if token := b.session.Token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

// FetchSongAudio downloads the raw audio bytes for a song. A 404 or 410
// means the song no longer exists server-side and the caller should stop
// asking for it.
func (b *Backend) FetchSongAudio(ctx context.Context, songID string) ([]byte, error) {
	url := b.baseURL + fmt.Sprintf(constants.SongStreamURLFormat, songID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	if token := b.session.Token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := b.client.Do(ctx, httpReq)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusNotFound || httpResp.StatusCode == http.StatusGone:
		return nil, downloads.ErrNotFound
	case httpResp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download failed with status %d", httpResp.StatusCode)
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio stream: %w", err)
	}
	return data, nil
}

// Healthy probes the backend health endpoint with a short deadline. The
// router uses it as its online check.
func (b *Backend) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), constants.HealthCheckTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	httpResp, err := b.client.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer httpResp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1024))
	return httpResp.StatusCode == http.StatusOK
}

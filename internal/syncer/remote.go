// Package syncer converges local state with the backend: dirty records
// are pushed, backend metadata is pulled and merged.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/domain"
)

// ErrGone marks a push conflict: the record no longer exists server
// side. The server is authoritative, so the local copy goes away.
var ErrGone = errors.New("record gone on server")

// Remote is the backend surface the syncer needs. Create calls return
// the server-assigned ID for client-created records.
type Remote interface {
	CreateLibrary(ctx context.Context, lib *domain.Library) (string, error)
	UpdateLibrary(ctx context.Context, lib *domain.Library) error
	DeleteLibrary(ctx context.Context, id string) error

	CreatePlaylist(ctx context.Context, pl *domain.Playlist) (string, error)
	UpdatePlaylist(ctx context.Context, pl *domain.Playlist) error
	DeletePlaylist(ctx context.Context, id string) error

	CreateSong(ctx context.Context, song *domain.Song) (string, error)
	UpdateSong(ctx context.Context, song *domain.Song) error
	DeleteSong(ctx context.Context, id string) error

	AddPlaylistSong(ctx context.Context, link *domain.PlaylistSong) error
	UpdatePlaylistSong(ctx context.Context, link *domain.PlaylistSong) error
	RemovePlaylistSong(ctx context.Context, playlistID, songID string) error

	FetchLibraries(ctx context.Context) ([]*domain.Library, error)
	FetchPlaylists(ctx context.Context) ([]*domain.Playlist, error)
	FetchLibrarySongs(ctx context.Context, libraryID string) ([]*domain.Song, error)
	FetchPlaylistSongs(ctx context.Context, playlistID string) ([]*domain.PlaylistSong, error)
	FetchCachePolicy(ctx context.Context) (string, error)
}

// Transport performs one backend call; same contract as the router's.
type Transport interface {
	Do(ctx context.Context, req *api.Request) (*api.Response, error)
}

// HTTPRemote implements Remote over the shared transport.
type HTTPRemote struct {
	transport Transport
}

func NewHTTPRemote(transport Transport) *HTTPRemote {
	return &HTTPRemote{transport: transport}
}

func (r *HTTPRemote) call(ctx context.Context, method, path string, body any, out any) error {
	req := &api.Request{Method: method, Path: path}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		req.Body = raw
	}

	resp, err := r.transport.Do(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Status == http.StatusNotFound || resp.Status == http.StatusGone {
			return ErrGone
		}
		return fmt.Errorf("backend rejected %s %s: %d %s", method, path, resp.Status, resp.Error)
	}
	if out != nil {
		if err := resp.DecodeData(out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// create posts a record and returns the server-assigned ID.
func (r *HTTPRemote) create(ctx context.Context, path string, body any) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := r.call(ctx, "POST", path, body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("backend returned no id for POST %s", path)
	}
	return out.ID, nil
}

func (r *HTTPRemote) CreateLibrary(ctx context.Context, lib *domain.Library) (string, error) {
	return r.create(ctx, "/api/libraries", lib)
}

func (r *HTTPRemote) UpdateLibrary(ctx context.Context, lib *domain.Library) error {
	return r.call(ctx, "PATCH", "/api/libraries/"+lib.ID, lib, nil)
}

func (r *HTTPRemote) DeleteLibrary(ctx context.Context, id string) error {
	return r.call(ctx, "DELETE", "/api/libraries/"+id, nil, nil)
}

func (r *HTTPRemote) CreatePlaylist(ctx context.Context, pl *domain.Playlist) (string, error) {
	return r.create(ctx, "/api/playlists", pl)
}

func (r *HTTPRemote) UpdatePlaylist(ctx context.Context, pl *domain.Playlist) error {
	return r.call(ctx, "PATCH", "/api/playlists/"+pl.ID, pl, nil)
}

func (r *HTTPRemote) DeletePlaylist(ctx context.Context, id string) error {
	return r.call(ctx, "DELETE", "/api/playlists/"+id, nil, nil)
}

func (r *HTTPRemote) CreateSong(ctx context.Context, song *domain.Song) (string, error) {
	return r.create(ctx, "/api/libraries/"+song.LibraryID+"/songs", song)
}

func (r *HTTPRemote) UpdateSong(ctx context.Context, song *domain.Song) error {
	return r.call(ctx, "PATCH", "/api/songs/"+song.ID, song, nil)
}

func (r *HTTPRemote) DeleteSong(ctx context.Context, id string) error {
	return r.call(ctx, "DELETE", "/api/songs/"+id, nil, nil)
}

func (r *HTTPRemote) AddPlaylistSong(ctx context.Context, link *domain.PlaylistSong) error {
	return r.call(ctx, "POST", "/api/playlists/"+link.PlaylistID+"/songs", link, nil)
}

func (r *HTTPRemote) UpdatePlaylistSong(ctx context.Context, link *domain.PlaylistSong) error {
	return r.call(ctx, "PUT", "/api/playlists/"+link.PlaylistID+"/songs/"+link.SongID, link, nil)
}

func (r *HTTPRemote) RemovePlaylistSong(ctx context.Context, playlistID, songID string) error {
	return r.call(ctx, "DELETE", "/api/playlists/"+playlistID+"/songs/"+songID, nil, nil)
}

func (r *HTTPRemote) FetchLibraries(ctx context.Context) ([]*domain.Library, error) {
	var libs []*domain.Library
	if err := r.call(ctx, "GET", "/api/libraries", nil, &libs); err != nil {
		return nil, err
	}
	return libs, nil
}

func (r *HTTPRemote) FetchPlaylists(ctx context.Context) ([]*domain.Playlist, error) {
	var pls []*domain.Playlist
	if err := r.call(ctx, "GET", "/api/playlists", nil, &pls); err != nil {
		return nil, err
	}
	return pls, nil
}

func (r *HTTPRemote) FetchLibrarySongs(ctx context.Context, libraryID string) ([]*domain.Song, error) {
	var songs []*domain.Song
	if err := r.call(ctx, "GET", "/api/libraries/"+libraryID+"/songs", nil, &songs); err != nil {
		return nil, err
	}
	return songs, nil
}

func (r *HTTPRemote) FetchPlaylistSongs(ctx context.Context, playlistID string) ([]*domain.PlaylistSong, error) {
	var links []*domain.PlaylistSong
	if err := r.call(ctx, "GET", "/api/playlists/"+playlistID+"/songs", nil, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// FetchCachePolicy reads the account-wide cache policy preference.
func (r *HTTPRemote) FetchCachePolicy(ctx context.Context) (string, error) {
	var out struct {
		CachePolicy string `json:"cache_policy"`
	}
	if err := r.call(ctx, "GET", "/api/account/settings", nil, &out); err != nil {
		return "", err
	}
	return out.CachePolicy, nil
}

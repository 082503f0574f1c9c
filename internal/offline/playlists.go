package offline

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/domain"
)

// ensureDefaultPlaylist creates the user's favorites playlist on first
// access.
func (s *Service) ensureDefaultPlaylist(userID string) error {
	pls, err := s.db.ListPlaylistsByUser(userID)
	if err != nil {
		return err
	}
	for _, pl := range pls {
		if pl.IsDefault {
			return nil
		}
	}

	now := s.now()
	pl := &domain.Playlist{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        "Favorites",
		IsDefault:   true,
		IsDeletable: false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	domain.MarkDirty(s.session.Mode(), &pl.SyncMeta, true, now)
	return s.db.CreatePlaylist(pl)
}

// attachPlaylistCover derives the cover from the first song by position.
func (s *Service) attachPlaylistCover(pl *domain.Playlist) {
	links, err := s.db.ListPlaylistSongs(pl.ID)
	if err != nil {
		s.log.Warn("Failed to derive playlist cover", "playlist_id", pl.ID, "error", err)
		return
	}
	for _, link := range links {
		song, err := s.db.GetSong(link.SongID)
		if err != nil || song == nil || song.IsDeleted {
			continue
		}
		pl.CoverSongID = song.ID
		return
	}
}

func (s *Service) ownedPlaylist(id, userID string) (*domain.Playlist, error) {
	pl, err := s.db.GetPlaylist(id)
	if err != nil {
		return nil, err
	}
	if pl == nil || pl.IsDeleted || pl.UserID != userID {
		return nil, nil
	}
	return pl, nil
}

func (s *Service) listPlaylists(_ context.Context, req *api.Request, _ params) *api.Response {
	if err := s.ensureDefaultPlaylist(req.UserID); err != nil {
		return s.internal("ensureDefaultPlaylist", err)
	}
	pls, err := s.db.ListPlaylistsByUser(req.UserID)
	if err != nil {
		return s.internal("ListPlaylistsByUser", err)
	}
	for _, pl := range pls {
		s.attachPlaylistCover(pl)
	}
	return api.OK(pls)
}

type playlistInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (s *Service) createPlaylist(_ context.Context, req *api.Request, _ params) *api.Response {
	var in playlistInput
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return api.Fail(http.StatusBadRequest, "invalid request body")
	}
	if in.Name == nil || *in.Name == "" {
		return api.Fail(http.StatusBadRequest, "name is required")
	}

	now := s.now()
	pl := &domain.Playlist{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Name:        *in.Name,
		IsDeletable: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Description != nil {
		pl.Description = *in.Description
	}
	domain.MarkDirty(s.session.Mode(), &pl.SyncMeta, true, now)

	if err := s.db.CreatePlaylist(pl); err != nil {
		return s.internal("CreatePlaylist", err)
	}
	return api.Created(pl)
}

func (s *Service) getPlaylist(_ context.Context, req *api.Request, p params) *api.Response {
	pl, err := s.ownedPlaylist(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetPlaylist", err)
	}
	if pl == nil {
		return api.Fail(http.StatusNotFound, "playlist not found")
	}
	s.attachPlaylistCover(pl)
	return api.OK(pl)
}

func (s *Service) updatePlaylist(_ context.Context, req *api.Request, p params) *api.Response {
	pl, err := s.ownedPlaylist(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetPlaylist", err)
	}
	if pl == nil {
		return api.Fail(http.StatusNotFound, "playlist not found")
	}

	var in playlistInput
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return api.Fail(http.StatusBadRequest, "invalid request body")
	}
	if in.Name != nil {
		if *in.Name == "" {
			return api.Fail(http.StatusBadRequest, "name is required")
		}
		pl.Name = *in.Name
	}
	if in.Description != nil {
		pl.Description = *in.Description
	}

	now := s.now()
	pl.UpdatedAt = now
	domain.MarkDirty(s.session.Mode(), &pl.SyncMeta, false, now)
	if err := s.db.UpdatePlaylist(pl); err != nil {
		return s.internal("UpdatePlaylist", err)
	}
	s.attachPlaylistCover(pl)
	return api.OK(pl)
}

func (s *Service) deletePlaylist(ctx context.Context, req *api.Request, p params) *api.Response {
	pl, err := s.ownedPlaylist(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetPlaylist", err)
	}
	if pl == nil {
		return api.Fail(http.StatusNotFound, "playlist not found")
	}
	if !pl.IsDeletable {
		return api.Fail(http.StatusForbidden, "playlist is not deletable")
	}

	if s.session.Mode() == domain.ModeAuthenticated {
		err = s.db.SoftDeletePlaylistCascade(ctx, pl.ID, s.now().UnixMilli())
	} else {
		err = s.db.HardDeletePlaylistCascade(ctx, pl.ID)
	}
	if err != nil {
		return s.internal("DeletePlaylistCascade", err)
	}
	return api.OK(nil)
}

func (s *Service) listPlaylistSongs(_ context.Context, req *api.Request, p params) *api.Response {
	pl, err := s.ownedPlaylist(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetPlaylist", err)
	}
	if pl == nil {
		return api.Fail(http.StatusNotFound, "playlist not found")
	}

	links, err := s.db.ListPlaylistSongs(pl.ID)
	if err != nil {
		return s.internal("ListPlaylistSongs", err)
	}
	songs := make([]*domain.Song, 0, len(links))
	for _, link := range links {
		song, err := s.db.GetSong(link.SongID)
		if err != nil {
			return s.internal("GetSong", err)
		}
		if song == nil || song.IsDeleted {
			continue
		}
		songs = append(songs, song)
	}
	return api.OK(songs)
}

type addSongInput struct {
	SongID string `json:"song_id"`
}

// addPlaylistSong appends at max(position)+1.
func (s *Service) addPlaylistSong(ctx context.Context, req *api.Request, p params) *api.Response {
	pl, err := s.ownedPlaylist(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetPlaylist", err)
	}
	if pl == nil {
		return api.Fail(http.StatusNotFound, "playlist not found")
	}

	var in addSongInput
	if err := json.Unmarshal(req.Body, &in); err != nil || in.SongID == "" {
		return api.Fail(http.StatusBadRequest, "song_id is required")
	}

	song, err := s.db.GetSong(in.SongID)
	if err != nil {
		return s.internal("GetSong", err)
	}
	if song == nil || song.IsDeleted {
		return api.Fail(http.StatusNotFound, "song not found")
	}
	if pl.LinkedLibraryID != "" && song.LibraryID != pl.LinkedLibraryID {
		return api.Fail(http.StatusForbidden, "song does not belong to the linked library")
	}

	existing, err := s.db.GetPlaylistSong(pl.ID, song.ID)
	if err != nil {
		return s.internal("GetPlaylistSong", err)
	}
	if existing != nil && !existing.IsDeleted {
		return api.Fail(http.StatusConflict, "song already in playlist")
	}

	max, err := s.db.MaxPlaylistPosition(pl.ID)
	if err != nil {
		return s.internal("MaxPlaylistPosition", err)
	}

	now := s.now()
	link := &domain.PlaylistSong{
		PlaylistID: pl.ID,
		SongID:     song.ID,
		Position:   max + 1,
		AddedAt:    now,
	}
	domain.MarkDirty(s.session.Mode(), &link.SyncMeta, true, now)

	if existing != nil {
		// A tombstoned link is revived at the end of the playlist.
		link.SyncMeta.IsDeleted = false
		err = s.db.UpdatePlaylistSong(link)
	} else {
		err = s.db.AddPlaylistSong(link)
	}
	if err != nil {
		return s.internal("AddPlaylistSong", err)
	}
	if err := s.db.RefreshPlaylistSongCount(pl.ID); err != nil {
		return s.internal("RefreshPlaylistSongCount", err)
	}
	return api.Created(link)
}

type reorderInput struct {
	SongIDs []string `json:"song_ids"`
}

// reorderPlaylistSongs rewrites positions by index. The submitted id set
// must be exactly the current membership.
func (s *Service) reorderPlaylistSongs(ctx context.Context, req *api.Request, p params) *api.Response {
	pl, err := s.ownedPlaylist(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetPlaylist", err)
	}
	if pl == nil {
		return api.Fail(http.StatusNotFound, "playlist not found")
	}

	var in reorderInput
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return api.Fail(http.StatusBadRequest, "invalid request body")
	}

	links, err := s.db.ListPlaylistSongs(pl.ID)
	if err != nil {
		return s.internal("ListPlaylistSongs", err)
	}
	current := make(map[string]bool, len(links))
	for _, link := range links {
		current[link.SongID] = true
	}
	if len(in.SongIDs) != len(current) {
		return api.Fail(http.StatusBadRequest, "song id set does not match playlist membership")
	}
	seen := make(map[string]bool, len(in.SongIDs))
	for _, id := range in.SongIDs {
		if !current[id] || seen[id] {
			return api.Fail(http.StatusBadRequest, "song id set does not match playlist membership")
		}
		seen[id] = true
	}

	dirty := s.session.Mode() == domain.ModeAuthenticated
	if err := s.db.ReorderPlaylistSongs(ctx, pl.ID, in.SongIDs, s.now().UnixMilli(), dirty); err != nil {
		return s.internal("ReorderPlaylistSongs", err)
	}
	return api.OK(nil)
}

func (s *Service) removePlaylistSong(ctx context.Context, req *api.Request, p params) *api.Response {
	pl, err := s.ownedPlaylist(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetPlaylist", err)
	}
	if pl == nil {
		return api.Fail(http.StatusNotFound, "playlist not found")
	}

	link, err := s.db.GetPlaylistSong(pl.ID, p["songId"])
	if err != nil {
		return s.internal("GetPlaylistSong", err)
	}
	if link == nil || link.IsDeleted {
		return api.Fail(http.StatusNotFound, "song not in playlist")
	}

	soft := s.session.Mode() == domain.ModeAuthenticated
	if err := s.db.RemovePlaylistSong(ctx, pl.ID, link.SongID, soft, s.now().UnixMilli()); err != nil {
		return s.internal("RemovePlaylistSong", err)
	}
	return api.OK(nil)
}

func (s *Service) getPlaylistByLibrary(_ context.Context, req *api.Request, p params) *api.Response {
	pl, err := s.db.GetPlaylistByLinkedLibrary(p["libraryId"])
	if err != nil {
		return s.internal("GetPlaylistByLinkedLibrary", err)
	}
	if pl == nil || pl.IsDeleted || pl.UserID != req.UserID {
		return api.Fail(http.StatusNotFound, "playlist not found")
	}
	s.attachPlaylistCover(pl)
	return api.OK(pl)
}

type forLibraryInput struct {
	LibraryID string `json:"library_id"`
}

// getOrCreateLibraryPlaylist returns the playlist linked 1:1 to a
// library, creating it on demand.
func (s *Service) getOrCreateLibraryPlaylist(_ context.Context, req *api.Request, _ params) *api.Response {
	var in forLibraryInput
	if err := json.Unmarshal(req.Body, &in); err != nil || in.LibraryID == "" {
		return api.Fail(http.StatusBadRequest, "library_id is required")
	}

	lib, err := s.ownedLibrary(in.LibraryID, req.UserID)
	if err != nil {
		return s.internal("GetLibrary", err)
	}
	if lib == nil {
		return api.Fail(http.StatusNotFound, "library not found")
	}

	existing, err := s.db.GetPlaylistByLinkedLibrary(lib.ID)
	if err != nil {
		return s.internal("GetPlaylistByLinkedLibrary", err)
	}
	if existing != nil && !existing.IsDeleted {
		s.attachPlaylistCover(existing)
		return api.OK(existing)
	}

	now := s.now()
	pl := &domain.Playlist{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Name:            lib.Name,
		IsDeletable:     true,
		LinkedLibraryID: lib.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	domain.MarkDirty(s.session.Mode(), &pl.SyncMeta, true, now)
	if err := s.db.CreatePlaylist(pl); err != nil {
		return s.internal("CreatePlaylist", err)
	}
	return api.Created(pl)
}

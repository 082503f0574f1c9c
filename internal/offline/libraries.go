package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/domain"
	"github.com/harmonia-player/harmonia/internal/events"
)

// ensureDefaultLibrary creates the user's non-deletable default library
// on first access.
func (s *Service) ensureDefaultLibrary(userID string) error {
	libs, err := s.db.ListLibrariesByUser(userID)
	if err != nil {
		return err
	}
	for _, lib := range libs {
		if lib.IsDefault {
			return nil
		}
	}

	now := s.now()
	lib := &domain.Library{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        "My Music",
		IsDefault:   true,
		IsDeletable: false,
		CachePolicy: domain.CachePolicyInherit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	domain.MarkDirty(s.session.Mode(), &lib.SyncMeta, true, now)
	return s.db.CreateLibrary(lib)
}

// attachLibraryCover derives the cover song (most recently created song
// in the library). Recomputed on every fetch so it never goes stale.
func (s *Service) attachLibraryCover(lib *domain.Library) {
	song, err := s.db.GetLatestSongInLibrary(lib.ID)
	if err != nil {
		s.log.Warn("Failed to derive library cover", "library_id", lib.ID, "error", err)
		return
	}
	if song != nil {
		lib.CoverSongID = song.ID
	}
}

// ownedLibrary loads a library and masks both absence and foreign
// ownership as nil.
func (s *Service) ownedLibrary(id, userID string) (*domain.Library, error) {
	lib, err := s.db.GetLibrary(id)
	if err != nil {
		return nil, err
	}
	if lib == nil || lib.IsDeleted || lib.UserID != userID {
		return nil, nil
	}
	return lib, nil
}

func (s *Service) listLibraries(_ context.Context, req *api.Request, _ params) *api.Response {
	if err := s.ensureDefaultLibrary(req.UserID); err != nil {
		return s.internal("ensureDefaultLibrary", err)
	}
	libs, err := s.db.ListLibrariesByUser(req.UserID)
	if err != nil {
		return s.internal("ListLibrariesByUser", err)
	}
	for _, lib := range libs {
		s.attachLibraryCover(lib)
	}
	return api.OK(libs)
}

type libraryInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	CachePolicy *string `json:"cache_policy"`
}

func (s *Service) createLibrary(_ context.Context, req *api.Request, _ params) *api.Response {
	var in libraryInput
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return api.Fail(http.StatusBadRequest, "invalid request body")
	}
	if in.Name == nil || *in.Name == "" {
		return api.Fail(http.StatusBadRequest, "name is required")
	}

	now := s.now()
	lib := &domain.Library{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Name:        *in.Name,
		IsDeletable: true,
		CachePolicy: domain.CachePolicyInherit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Description != nil {
		lib.Description = *in.Description
	}
	if in.CachePolicy != nil {
		if !validCachePolicy(*in.CachePolicy) {
			return api.Fail(http.StatusBadRequest, "invalid cache policy")
		}
		lib.CachePolicy = *in.CachePolicy
	}
	domain.MarkDirty(s.session.Mode(), &lib.SyncMeta, true, now)

	if err := s.db.CreateLibrary(lib); err != nil {
		return s.internal("CreateLibrary", err)
	}
	return api.Created(lib)
}

func (s *Service) getLibrary(_ context.Context, req *api.Request, p params) *api.Response {
	lib, err := s.ownedLibrary(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetLibrary", err)
	}
	if lib == nil {
		return api.Fail(http.StatusNotFound, "library not found")
	}
	s.attachLibraryCover(lib)
	return api.OK(lib)
}

func (s *Service) updateLibrary(_ context.Context, req *api.Request, p params) *api.Response {
	lib, err := s.ownedLibrary(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetLibrary", err)
	}
	if lib == nil {
		return api.Fail(http.StatusNotFound, "library not found")
	}

	var in libraryInput
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return api.Fail(http.StatusBadRequest, "invalid request body")
	}
	if in.Name != nil {
		if *in.Name == "" {
			return api.Fail(http.StatusBadRequest, "name is required")
		}
		lib.Name = *in.Name
	}
	if in.Description != nil {
		lib.Description = *in.Description
	}
	if in.CachePolicy != nil {
		if !validCachePolicy(*in.CachePolicy) {
			return api.Fail(http.StatusBadRequest, "invalid cache policy")
		}
		lib.CachePolicy = *in.CachePolicy
	}

	now := s.now()
	lib.UpdatedAt = now
	domain.MarkDirty(s.session.Mode(), &lib.SyncMeta, false, now)
	if err := s.db.UpdateLibrary(lib); err != nil {
		return s.internal("UpdateLibrary", err)
	}
	s.attachLibraryCover(lib)
	return api.OK(lib)
}

// deleteLibrary cascades: songs in the library go with it, linked
// playlists are unlinked but survive. Authenticated deletes tombstone
// so the backend hears about them; guest deletes are physical and also
// evict cached media.
func (s *Service) deleteLibrary(ctx context.Context, req *api.Request, p params) *api.Response {
	lib, err := s.ownedLibrary(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetLibrary", err)
	}
	if lib == nil {
		return api.Fail(http.StatusNotFound, "library not found")
	}
	if !lib.IsDeletable {
		return api.Fail(http.StatusForbidden, "library is not deletable")
	}

	if s.session.Mode() == domain.ModeAuthenticated {
		if err := s.db.SoftDeleteLibraryCascade(ctx, lib.ID, s.now().UnixMilli()); err != nil {
			return s.internal("SoftDeleteLibraryCascade", err)
		}
	} else {
		songs, err := s.db.ListSongsByLibrary(lib.ID)
		if err != nil {
			return s.internal("ListSongsByLibrary", err)
		}
		if err := s.db.HardDeleteLibraryCascade(ctx, lib.ID); err != nil {
			return s.internal("HardDeleteLibraryCascade", err)
		}
		for _, song := range songs {
			s.evictSongMedia(song.ID)
		}
	}

	s.events.Emit(events.TopicCacheChanged, events.CacheChangedEvent{LibraryID: lib.ID})
	return api.OK(nil)
}

func (s *Service) listLibrarySongs(_ context.Context, req *api.Request, p params) *api.Response {
	lib, err := s.ownedLibrary(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetLibrary", err)
	}
	if lib == nil {
		return api.Fail(http.StatusNotFound, "library not found")
	}
	songs, err := s.db.ListSongsByLibrary(lib.ID)
	if err != nil {
		return s.internal("ListSongsByLibrary", err)
	}
	return api.OK(songs)
}

// evictSongMedia best-effort drops a song's cached audio and cover.
// Cache failures never fail the owning metadata operation.
func (s *Service) evictSongMedia(songID string) {
	for _, key := range []string{
		fmt.Sprintf(constants.SongStreamURLFormat, songID),
		fmt.Sprintf(constants.SongCoverURLFormat, songID),
	} {
		if err := s.cache.Delete(key); err != nil {
			s.log.Warn("Failed to evict cached media", "song_id", songID, "key", key, "error", err)
		}
	}
}

func validCachePolicy(p string) bool {
	switch p {
	case domain.CachePolicyInherit, domain.CachePolicyEnabled, domain.CachePolicyDisabled:
		return true
	}
	return false
}

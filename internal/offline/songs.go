package offline

import (
	"context"
	"net/http"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/domain"
	"github.com/harmonia-player/harmonia/internal/events"
)

// ownedSong resolves a song through its library's owner. Foreign
// ownership reads as not-found, same as the backend.
func (s *Service) ownedSong(id, userID string) (*domain.Song, error) {
	song, err := s.db.GetSong(id)
	if err != nil {
		return nil, err
	}
	if song == nil || song.IsDeleted {
		return nil, nil
	}
	lib, err := s.db.GetLibrary(song.LibraryID)
	if err != nil {
		return nil, err
	}
	if lib == nil || lib.UserID != userID {
		return nil, nil
	}
	return song, nil
}

func (s *Service) getSong(_ context.Context, req *api.Request, p params) *api.Response {
	song, err := s.ownedSong(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetSong", err)
	}
	if song == nil {
		return api.Fail(http.StatusNotFound, "song not found")
	}
	return api.OK(song)
}

func (s *Service) deleteSong(ctx context.Context, req *api.Request, p params) *api.Response {
	song, err := s.ownedSong(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetSong", err)
	}
	if song == nil {
		return api.Fail(http.StatusNotFound, "song not found")
	}

	if s.session.Mode() == domain.ModeAuthenticated {
		err = s.db.SoftDeleteSongCascade(ctx, song.ID, s.now().UnixMilli())
	} else {
		err = s.db.HardDeleteSongCascade(ctx, song.ID)
	}
	if err != nil {
		return s.internal("DeleteSongCascade", err)
	}

	s.evictSongMedia(song.ID)
	s.events.Emit(events.TopicCacheChanged, events.CacheChangedEvent{
		LibraryID: song.LibraryID,
		SongID:    song.ID,
	})
	return api.OK(nil)
}

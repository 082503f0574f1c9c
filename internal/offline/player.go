package offline

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/domain"
)

func (s *Service) getProgress(_ context.Context, req *api.Request, _ params) *api.Response {
	prog, err := s.db.GetPlayerProgress(req.UserID)
	if err != nil {
		return s.internal("GetPlayerProgress", err)
	}
	if prog == nil {
		return api.Fail(http.StatusNotFound, "no playback progress")
	}
	return api.OK(prog)
}

type progressInput struct {
	SongID      string `json:"song_id"`
	ContextType string `json:"context_type"`
	ContextID   string `json:"context_id"`
	PositionMs  int64  `json:"position_ms"`
}

func (s *Service) putProgress(_ context.Context, req *api.Request, _ params) *api.Response {
	var in progressInput
	if err := json.Unmarshal(req.Body, &in); err != nil || in.SongID == "" {
		return api.Fail(http.StatusBadRequest, "song_id is required")
	}
	switch in.ContextType {
	case "", "playlist", "library":
	default:
		return api.Fail(http.StatusBadRequest, "invalid context type")
	}

	prog := &domain.PlayerProgress{
		UserID:      req.UserID,
		SongID:      in.SongID,
		ContextType: in.ContextType,
		ContextID:   in.ContextID,
		PositionMs:  in.PositionMs,
		UpdatedAt:   s.now(),
	}
	if err := s.db.PutPlayerProgress(prog); err != nil {
		return s.internal("PutPlayerProgress", err)
	}
	return api.OK(prog)
}

// seedResult is the cold-start answer to "what should play".
type seedResult struct {
	Song        *domain.Song `json:"song"`
	ContextType string       `json:"context_type"`
	ContextID   string       `json:"context_id"`
}

// getSeed walks the user's playlists oldest first for the first live
// song, then falls back to libraries. Deterministic for fixed data.
func (s *Service) getSeed(_ context.Context, req *api.Request, _ params) *api.Response {
	pls, err := s.db.ListPlaylistsByUser(req.UserID)
	if err != nil {
		return s.internal("ListPlaylistsByUser", err)
	}
	for _, pl := range pls {
		links, err := s.db.ListPlaylistSongs(pl.ID)
		if err != nil {
			return s.internal("ListPlaylistSongs", err)
		}
		for _, link := range links {
			song, err := s.db.GetSong(link.SongID)
			if err != nil {
				return s.internal("GetSong", err)
			}
			if song != nil && !song.IsDeleted {
				return api.OK(seedResult{Song: song, ContextType: "playlist", ContextID: pl.ID})
			}
		}
	}

	libs, err := s.db.ListLibrariesByUser(req.UserID)
	if err != nil {
		return s.internal("ListLibrariesByUser", err)
	}
	for _, lib := range libs {
		songs, err := s.db.ListSongsByLibrary(lib.ID)
		if err != nil {
			return s.internal("ListSongsByLibrary", err)
		}
		if len(songs) > 0 {
			return api.OK(seedResult{Song: songs[0], ContextType: "library", ContextID: lib.ID})
		}
	}
	return api.Fail(http.StatusNotFound, "nothing to play")
}

func (s *Service) getPreferences(_ context.Context, req *api.Request, _ params) *api.Response {
	prefs, err := s.db.GetPlayerPreferences(req.UserID)
	if err != nil {
		return s.internal("GetPlayerPreferences", err)
	}
	if prefs == nil {
		prefs = &domain.PlayerPreferences{
			UserID:     req.UserID,
			RepeatMode: "off",
			Volume:     1.0,
			UpdatedAt:  s.now(),
		}
	}
	return api.OK(prefs)
}

type preferencesInput struct {
	Shuffle    *bool    `json:"shuffle"`
	RepeatMode *string  `json:"repeat_mode"`
	Volume     *float64 `json:"volume"`
}

func (s *Service) updatePreferences(_ context.Context, req *api.Request, _ params) *api.Response {
	var in preferencesInput
	if err := json.Unmarshal(req.Body, &in); err != nil {
		return api.Fail(http.StatusBadRequest, "invalid request body")
	}

	prefs, err := s.db.GetPlayerPreferences(req.UserID)
	if err != nil {
		return s.internal("GetPlayerPreferences", err)
	}
	if prefs == nil {
		prefs = &domain.PlayerPreferences{UserID: req.UserID, RepeatMode: "off", Volume: 1.0}
	}

	if in.Shuffle != nil {
		prefs.Shuffle = *in.Shuffle
	}
	if in.RepeatMode != nil {
		switch *in.RepeatMode {
		case "off", "one", "all":
			prefs.RepeatMode = *in.RepeatMode
		default:
			return api.Fail(http.StatusBadRequest, "invalid repeat mode")
		}
	}
	if in.Volume != nil {
		if *in.Volume < 0 || *in.Volume > 1 {
			return api.Fail(http.StatusBadRequest, "volume must be between 0 and 1")
		}
		prefs.Volume = *in.Volume
	}

	prefs.UpdatedAt = s.now()
	if err := s.db.PutPlayerPreferences(prefs); err != nil {
		return s.internal("PutPlayerPreferences", err)
	}
	return api.OK(prefs)
}

package offline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/harmonia-player/harmonia/internal/api"
	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/domain"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/metadata"
)

// mimeFromFilename covers uploads whose multipart part carries no
// content type of its own.
func mimeFromFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".flac":
		return constants.MimeTypeFLAC
	case ".mp3":
		return constants.MimeTypeMP3
	case ".m4a", ".mp4":
		return constants.MimeTypeMP4
	case ".ogg":
		return constants.MimeTypeOGG
	default:
		return "application/octet-stream"
	}
}

// uploadSong ingests an audio file into a library. The file is content
// addressed: re-uploading identical bytes into the same library is a
// conflict, into a different library a new song sharing the File record.
func (s *Service) uploadSong(ctx context.Context, req *api.Request, p params) *api.Response {
	lib, err := s.ownedLibrary(p["id"], req.UserID)
	if err != nil {
		return s.internal("GetLibrary", err)
	}
	if lib == nil {
		return api.Fail(http.StatusNotFound, "library not found")
	}
	if req.Upload == nil || len(req.Upload.Data) == 0 {
		return api.Fail(http.StatusBadRequest, "no file provided")
	}

	sum := sha256.Sum256(req.Upload.Data)
	hash := hex.EncodeToString(sum[:])

	dup, err := s.db.GetSongByFileHashInLibrary(lib.ID, hash)
	if err != nil {
		return s.internal("GetSongByFileHashInLibrary", err)
	}
	if dup != nil {
		return api.FailMsg(http.StatusConflict, "duplicate file",
			fmt.Sprintf("this file already exists in the library as %q", dup.Title))
	}

	info := metadata.Probe(req.Upload.Filename, req.Upload.Data)

	now := s.now()
	song := &domain.Song{
		ID:          uuid.New().String(),
		LibraryID:   lib.ID,
		Title:       info.Title,
		Artist:      info.Artist,
		Album:       info.Album,
		TrackNumber: info.TrackNumber,
		FileHash:    hash,
		IsCached:    true,
		CacheSize:   int64(len(req.Upload.Data)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	song.LastCacheCheck = now.UnixMilli()
	domain.MarkDirty(s.session.Mode(), &song.SyncMeta, true, now)

	// Media blobs go in under the canonical URL scheme before the
	// metadata commit, so a committed song always has playable bytes.
	streamKey := fmt.Sprintf(constants.SongStreamURLFormat, song.ID)
	if _, err := s.cache.PutBytes(streamKey, req.Upload.Data); err != nil {
		return s.internal("cache.PutBytes", err)
	}
	if len(info.Cover) > 0 {
		coverKey := fmt.Sprintf(constants.SongCoverURLFormat, song.ID)
		if _, err := s.cache.PutBytes(coverKey, info.Cover); err != nil {
			s.log.Warn("Failed to cache cover art", "song_id", song.ID, "error", err)
		}
	}

	mimeType := req.Upload.MimeType
	if mimeType == "" {
		mimeType = mimeFromFilename(req.Upload.Filename)
	}
	file := &domain.File{
		Hash:      hash,
		Size:      int64(len(req.Upload.Data)),
		MimeType:  mimeType,
		Duration:  int(info.Duration + 0.5),
		CreatedAt: now,
	}
	if err := s.db.CreateSongWithFile(ctx, song, file); err != nil {
		s.evictSongMedia(song.ID)
		return s.internal("CreateSongWithFile", err)
	}

	s.events.Emit(events.TopicCacheChanged, events.CacheChangedEvent{
		LibraryID: lib.ID,
		SongID:    song.ID,
	})
	s.log.WithSong(song.ID, song.Title).Info("Song ingested",
		"library_id", lib.ID, "size", file.Size, "duration", file.Duration)
	return api.Created(song)
}

package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harmonia-player/harmonia/internal/auth"
	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/domain"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/logger"
	"github.com/harmonia-player/harmonia/internal/store"
)

type state int

const (
	stateIdle state = iota
	stateRunning
)

// Result summarizes one push cycle.
type Result struct {
	Pushed  int
	Failed  int
	Dropped int
}

func (r Result) add(o outcome) Result {
	switch o {
	case outcomePushed:
		r.Pushed++
	case outcomeFailed:
		r.Failed++
	case outcomeDropped:
		r.Dropped++
	}
	return r
}

type outcome int

const (
	outcomePushed outcome = iota
	outcomeFailed
	outcomeDropped
)

// Service pushes dirty records and schedules pulls. At most one push
// cycle runs at a time; re-entrant Sync calls return an empty Result.
type Service struct {
	db       *store.DB
	remote   Remote
	session  *auth.Manager
	events   *events.Emitter
	settings *store.SettingsRepo
	log      *logger.Logger

	// reachable is the router's view of the backend; injected so the
	// syncer never initiates calls it knows will fail.
	reachable func() bool
	now       func() time.Time

	mu sync.Mutex
	st state

	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewService(db *store.DB, remote Remote, session *auth.Manager, emitter *events.Emitter, log *logger.Logger) *Service {
	s := &Service{
		db:        db,
		remote:    remote,
		session:   session,
		events:    emitter,
		settings:  store.NewSettingsRepo(db),
		log:       log.WithComponent("syncer"),
		reachable: func() bool { return true },
		now:       time.Now,
		trigger:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	return s
}

// SetReachableCheck wires in the router's reachability view.
func (s *Service) SetReachableCheck(fn func() bool) {
	s.reachable = fn
}

// Start runs the periodic push and pull loops until Stop. A regained
// connection triggers an immediate cycle.
func (s *Service) Start(ctx context.Context) {
	s.events.On(events.TopicReachability, func(_ string, payload any) {
		ev, ok := payload.(events.ReachabilityEvent)
		if ok && ev.Reachable {
			s.SyncNow()
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		pushTicker := time.NewTicker(constants.PushSyncInterval)
		pullTicker := time.NewTicker(constants.PullSyncInterval)
		defer pushTicker.Stop()
		defer pullTicker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-pushTicker.C:
				s.Sync(ctx)
			case <-pullTicker.C:
				if err := s.Pull(ctx); err != nil {
					s.log.Warn("Pull sync failed", "error", err)
				}
			case <-s.trigger:
				s.Sync(ctx)
				if err := s.Pull(ctx); err != nil {
					s.log.Warn("Pull sync failed", "error", err)
				}
			}
		}
	}()
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// SyncNow requests an immediate cycle without blocking the caller.
func (s *Service) SyncNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Sync runs one push cycle. Guards: guest mode, unreachable backend,
// and a cycle already in flight all return an empty Result.
func (s *Service) Sync(ctx context.Context) Result {
	if s.session.Mode() != domain.ModeAuthenticated {
		return Result{}
	}
	if !s.reachable() {
		return Result{}
	}

	s.mu.Lock()
	if s.st == stateRunning {
		s.mu.Unlock()
		return Result{}
	}
	s.st = stateRunning
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.st = stateIdle
		s.mu.Unlock()
	}()

	var res Result
	res = s.pushLibraries(ctx, res)
	res = s.pushSongs(ctx, res)
	res = s.pushPlaylists(ctx, res)
	res = s.pushPlaylistSongs(ctx, res)

	if res != (Result{}) {
		s.log.Info("Push cycle finished", "pushed", res.Pushed, "failed", res.Failed, "dropped", res.Dropped)
		s.events.Emit(events.TopicSyncDone, res)
	}
	return res
}

func (s *Service) pushLibraries(ctx context.Context, res Result) Result {
	libs, err := s.db.ListDirtyLibraries()
	if err != nil {
		s.log.Error("Failed to list dirty libraries", "error", err)
		return res
	}
	for _, lib := range libs {
		res = res.add(s.pushLibrary(ctx, lib))
	}
	return res
}

func (s *Service) pushLibrary(ctx context.Context, lib *domain.Library) outcome {
	switch {
	case lib.IsDeleted:
		if !lib.IsLocalOnly {
			if err := s.remote.DeleteLibrary(ctx, lib.ID); err != nil && !errors.Is(err, ErrGone) {
				return s.recordFailure("library", lib.ID, err, &lib.SyncMeta, func() error { return s.db.UpdateLibrary(lib) })
			}
		}
		if err := s.db.DeleteLibrary(lib.ID); err != nil {
			s.log.Error("Failed to drop pushed tombstone", "library_id", lib.ID, "error", err)
			return outcomeFailed
		}
		return outcomePushed

	case lib.IsLocalOnly:
		serverID, err := s.remote.CreateLibrary(ctx, lib)
		if err != nil {
			return s.recordFailure("library", lib.ID, err, &lib.SyncMeta, func() error { return s.db.UpdateLibrary(lib) })
		}
		if serverID != lib.ID {
			if err := s.db.RemapLibraryID(ctx, lib.ID, serverID); err != nil {
				s.log.Error("Failed to remap library id", "old", lib.ID, "new", serverID, "error", err)
				return outcomeFailed
			}
			lib.ID = serverID
		}
		return s.markSynced(&lib.SyncMeta, func() error { return s.db.UpdateLibrary(lib) })

	default:
		err := s.remote.UpdateLibrary(ctx, lib)
		if errors.Is(err, ErrGone) {
			// Deleted server side; the server wins.
			if err := s.db.HardDeleteLibraryCascade(ctx, lib.ID); err != nil {
				s.log.Error("Failed to drop server-deleted library", "library_id", lib.ID, "error", err)
				return outcomeFailed
			}
			return outcomePushed
		}
		if err != nil {
			return s.recordFailure("library", lib.ID, err, &lib.SyncMeta, func() error { return s.db.UpdateLibrary(lib) })
		}
		return s.markSynced(&lib.SyncMeta, func() error { return s.db.UpdateLibrary(lib) })
	}
}

func (s *Service) pushSongs(ctx context.Context, res Result) Result {
	songs, err := s.db.ListDirtySongs()
	if err != nil {
		s.log.Error("Failed to list dirty songs", "error", err)
		return res
	}
	for _, song := range songs {
		res = res.add(s.pushSong(ctx, song))
	}
	return res
}

func (s *Service) pushSong(ctx context.Context, song *domain.Song) outcome {
	switch {
	case song.IsDeleted:
		if !song.IsLocalOnly {
			if err := s.remote.DeleteSong(ctx, song.ID); err != nil && !errors.Is(err, ErrGone) {
				return s.recordFailure("song", song.ID, err, &song.SyncMeta, func() error { return s.db.UpdateSong(song) })
			}
		}
		if err := s.db.HardDeleteSongCascade(ctx, song.ID); err != nil {
			s.log.Error("Failed to drop pushed tombstone", "song_id", song.ID, "error", err)
			return outcomeFailed
		}
		return outcomePushed

	case song.IsLocalOnly:
		serverID, err := s.remote.CreateSong(ctx, song)
		if err != nil {
			return s.recordFailure("song", song.ID, err, &song.SyncMeta, func() error { return s.db.UpdateSong(song) })
		}
		if serverID != song.ID {
			if err := s.db.RemapSongID(ctx, song.ID, serverID); err != nil {
				s.log.Error("Failed to remap song id", "old", song.ID, "new", serverID, "error", err)
				return outcomeFailed
			}
			song.ID = serverID
		}
		return s.markSynced(&song.SyncMeta, func() error { return s.db.UpdateSong(song) })

	default:
		err := s.remote.UpdateSong(ctx, song)
		if errors.Is(err, ErrGone) {
			if err := s.db.HardDeleteSongCascade(ctx, song.ID); err != nil {
				s.log.Error("Failed to drop server-deleted song", "song_id", song.ID, "error", err)
				return outcomeFailed
			}
			return outcomePushed
		}
		if err != nil {
			return s.recordFailure("song", song.ID, err, &song.SyncMeta, func() error { return s.db.UpdateSong(song) })
		}
		return s.markSynced(&song.SyncMeta, func() error { return s.db.UpdateSong(song) })
	}
}

func (s *Service) pushPlaylists(ctx context.Context, res Result) Result {
	pls, err := s.db.ListDirtyPlaylists()
	if err != nil {
		s.log.Error("Failed to list dirty playlists", "error", err)
		return res
	}
	for _, pl := range pls {
		res = res.add(s.pushPlaylist(ctx, pl))
	}
	return res
}

func (s *Service) pushPlaylist(ctx context.Context, pl *domain.Playlist) outcome {
	switch {
	case pl.IsDeleted:
		if !pl.IsLocalOnly {
			if err := s.remote.DeletePlaylist(ctx, pl.ID); err != nil && !errors.Is(err, ErrGone) {
				return s.recordFailure("playlist", pl.ID, err, &pl.SyncMeta, func() error { return s.db.UpdatePlaylist(pl) })
			}
		}
		if err := s.db.DeletePlaylist(pl.ID); err != nil {
			s.log.Error("Failed to drop pushed tombstone", "playlist_id", pl.ID, "error", err)
			return outcomeFailed
		}
		return outcomePushed

	case pl.IsLocalOnly:
		serverID, err := s.remote.CreatePlaylist(ctx, pl)
		if err != nil {
			return s.recordFailure("playlist", pl.ID, err, &pl.SyncMeta, func() error { return s.db.UpdatePlaylist(pl) })
		}
		if serverID != pl.ID {
			if err := s.db.RemapPlaylistID(ctx, pl.ID, serverID); err != nil {
				s.log.Error("Failed to remap playlist id", "old", pl.ID, "new", serverID, "error", err)
				return outcomeFailed
			}
			pl.ID = serverID
		}
		return s.markSynced(&pl.SyncMeta, func() error { return s.db.UpdatePlaylist(pl) })

	default:
		err := s.remote.UpdatePlaylist(ctx, pl)
		if errors.Is(err, ErrGone) {
			if err := s.db.HardDeletePlaylistCascade(ctx, pl.ID); err != nil {
				s.log.Error("Failed to drop server-deleted playlist", "playlist_id", pl.ID, "error", err)
				return outcomeFailed
			}
			return outcomePushed
		}
		if err != nil {
			return s.recordFailure("playlist", pl.ID, err, &pl.SyncMeta, func() error { return s.db.UpdatePlaylist(pl) })
		}
		return s.markSynced(&pl.SyncMeta, func() error { return s.db.UpdatePlaylist(pl) })
	}
}

func (s *Service) pushPlaylistSongs(ctx context.Context, res Result) Result {
	links, err := s.db.ListDirtyPlaylistSongs()
	if err != nil {
		s.log.Error("Failed to list dirty playlist songs", "error", err)
		return res
	}
	for _, link := range links {
		res = res.add(s.pushPlaylistSong(ctx, link))
	}
	return res
}

func (s *Service) pushPlaylistSong(ctx context.Context, link *domain.PlaylistSong) outcome {
	id := link.PlaylistID + "/" + link.SongID
	switch {
	case link.IsDeleted:
		if !link.IsLocalOnly {
			if err := s.remote.RemovePlaylistSong(ctx, link.PlaylistID, link.SongID); err != nil && !errors.Is(err, ErrGone) {
				return s.recordFailure("playlist_song", id, err, &link.SyncMeta, func() error { return s.db.UpdatePlaylistSong(link) })
			}
		}
		if err := s.db.DeletePlaylistSong(link.PlaylistID, link.SongID); err != nil {
			s.log.Error("Failed to drop pushed tombstone", "link", id, "error", err)
			return outcomeFailed
		}
		return outcomePushed

	case link.IsLocalOnly:
		err := s.remote.AddPlaylistSong(ctx, link)
		if err != nil {
			return s.recordFailure("playlist_song", id, err, &link.SyncMeta, func() error { return s.db.UpdatePlaylistSong(link) })
		}
		return s.markSynced(&link.SyncMeta, func() error { return s.db.UpdatePlaylistSong(link) })

	default:
		err := s.remote.UpdatePlaylistSong(ctx, link)
		if errors.Is(err, ErrGone) {
			if err := s.db.DeletePlaylistSong(link.PlaylistID, link.SongID); err != nil {
				s.log.Error("Failed to drop server-deleted link", "link", id, "error", err)
				return outcomeFailed
			}
			return outcomePushed
		}
		if err != nil {
			return s.recordFailure("playlist_song", id, err, &link.SyncMeta, func() error { return s.db.UpdatePlaylistSong(link) })
		}
		return s.markSynced(&link.SyncMeta, func() error { return s.db.UpdatePlaylistSong(link) })
	}
}

func (s *Service) markSynced(meta *domain.SyncMeta, persist func() error) outcome {
	domain.MarkSynced(meta, s.now())
	if err := persist(); err != nil {
		s.log.Error("Failed to persist synced record", "error", err)
		return outcomeFailed
	}
	return outcomePushed
}

// recordFailure bumps the retry counter. A record that keeps failing is
// dropped from the queue (dirty flag cleared) so one bad record never
// blocks the rest forever.
func (s *Service) recordFailure(kind, id string, cause error, meta *domain.SyncMeta, persist func() error) outcome {
	meta.SyncAttempts++
	meta.SyncError = cause.Error()

	dropped := meta.SyncAttempts >= constants.MaxSyncAttempts
	if dropped {
		meta.IsDirty = false
		s.log.Error("Dropping record after repeated push failures",
			"kind", kind, "id", id, "attempts", meta.SyncAttempts, "error", cause)
	} else {
		s.log.Warn("Push failed, will retry",
			"kind", kind, "id", id, "attempts", meta.SyncAttempts, "error", cause)
	}

	if err := persist(); err != nil {
		s.log.Error("Failed to persist retry state", "kind", kind, "id", id, "error", err)
	}
	if dropped {
		return outcomeDropped
	}
	return outcomeFailed
}

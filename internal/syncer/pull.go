package syncer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/domain"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/store"
)

// Pull refreshes local metadata from the backend if the pull interval
// has elapsed. Use PullNow to bypass the gate.
func (s *Service) Pull(ctx context.Context) error {
	if !s.shouldPull() {
		return nil
	}
	return s.PullNow(ctx)
}

func (s *Service) shouldPull() bool {
	raw, err := s.settings.Get(store.SettingLastPullSync)
	if err != nil || raw == "" {
		return true
	}
	last, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	elapsed := s.now().UnixMilli() - last
	return elapsed >= constants.PullSyncInterval.Milliseconds()
}

// PullNow fetches libraries, playlists and songs, merging them into the
// local store. Incoming songs never clobber local cache bookkeeping.
// Idempotent: pulling the same payload twice leaves the store unchanged.
func (s *Service) PullNow(ctx context.Context) error {
	if s.session.Mode() != domain.ModeAuthenticated {
		return nil
	}
	if !s.reachable() {
		return nil
	}

	libs, err := s.remote.FetchLibraries(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch libraries: %w", err)
	}
	if err := s.db.BulkUpsertLibraries(ctx, libs); err != nil {
		return fmt.Errorf("failed to store libraries: %w", err)
	}

	for _, lib := range libs {
		songs, err := s.remote.FetchLibrarySongs(ctx, lib.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch songs for library %s: %w", lib.ID, err)
		}
		if err := s.mergeSongs(ctx, songs); err != nil {
			return err
		}
		// Server counts may include songs tombstoned locally but not yet
		// pushed; the local count reflects local live rows.
		if err := s.db.RefreshLibrarySongCount(lib.ID); err != nil {
			return fmt.Errorf("failed to refresh song count for library %s: %w", lib.ID, err)
		}
	}

	pls, err := s.remote.FetchPlaylists(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch playlists: %w", err)
	}
	if err := s.db.BulkUpsertPlaylists(ctx, pls); err != nil {
		return fmt.Errorf("failed to store playlists: %w", err)
	}

	for _, pl := range pls {
		links, err := s.remote.FetchPlaylistSongs(ctx, pl.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch songs for playlist %s: %w", pl.ID, err)
		}
		if err := s.db.BulkUpsertPlaylistSongs(ctx, links); err != nil {
			return fmt.Errorf("failed to store playlist songs: %w", err)
		}
	}

	// The account-wide cache policy feeds the download policy chain.
	// Its absence is not worth failing a metadata pull over.
	if policy, err := s.remote.FetchCachePolicy(ctx); err != nil {
		s.log.Warn("Failed to fetch account cache policy", "error", err)
	} else if policy != "" {
		if err := s.settings.Set(store.SettingBackendCachePolicy, policy); err != nil {
			return fmt.Errorf("failed to store account cache policy: %w", err)
		}
	}

	stamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.settings.Set(store.SettingLastPullSync, stamp); err != nil {
		return fmt.Errorf("failed to record pull time: %w", err)
	}

	s.log.Info("Pull sync finished", "libraries", len(libs), "playlists", len(pls))
	s.events.Emit(events.TopicSyncDone, Result{})
	return nil
}

// mergeSongs carries local cache bookkeeping forward onto incoming
// records. A server-provided file hash wins over the local one; the
// cache fields themselves are local-only and always preserved.
func (s *Service) mergeSongs(ctx context.Context, incoming []*domain.Song) error {
	for _, song := range incoming {
		existing, err := s.db.GetSong(song.ID)
		if err != nil {
			return fmt.Errorf("failed to read song %s for merge: %w", song.ID, err)
		}
		if existing == nil {
			continue
		}
		song.IsCached = existing.IsCached
		song.CacheSize = existing.CacheSize
		song.LastCacheCheck = existing.LastCacheCheck
		if song.FileHash == "" {
			song.FileHash = existing.FileHash
		}
	}
	if err := s.db.BulkUpsertSongs(ctx, incoming); err != nil {
		return fmt.Errorf("failed to store songs: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/harmonia-player/harmonia/internal/domain"
)

const playlistSongColumns = `playlist_id, song_id, position, added_at,
	is_dirty, is_deleted, is_local_only, last_modified_at, sync_attempts, sync_error`

func (db *DB) AddPlaylistSong(ps *domain.PlaylistSong) error {
	query := `INSERT INTO playlist_songs (` + playlistSongColumns + `) VALUES (
		:playlist_id, :song_id, :position, :added_at,
		:is_dirty, :is_deleted, :is_local_only, :last_modified_at, :sync_attempts, :sync_error
	)`
	_, err := db.NamedExec(query, ps)
	if err != nil {
		return fmt.Errorf("failed to add playlist song: %w", err)
	}
	return nil
}

func (db *DB) GetPlaylistSong(playlistID, songID string) (*domain.PlaylistSong, error) {
	var ps domain.PlaylistSong
	err := db.Get(&ps, `SELECT `+playlistSongColumns+` FROM playlist_songs
		WHERE playlist_id = ? AND song_id = ?`, playlistID, songID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

func (db *DB) ListPlaylistSongs(playlistID string) ([]*domain.PlaylistSong, error) {
	var links []*domain.PlaylistSong
	err := db.Select(&links, `SELECT `+playlistSongColumns+` FROM playlist_songs
		WHERE playlist_id = ? AND is_deleted = 0 ORDER BY position ASC`, playlistID)
	return links, err
}

// MaxPlaylistPosition returns the highest live position, or -1 for an empty
// playlist, so the next add lands at max+1.
func (db *DB) MaxPlaylistPosition(playlistID string) (int, error) {
	var max sql.NullInt64
	err := db.Get(&max, `SELECT MAX(position) FROM playlist_songs
		WHERE playlist_id = ? AND is_deleted = 0`, playlistID)
	if err != nil {
		return -1, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

func (db *DB) UpdatePlaylistSong(ps *domain.PlaylistSong) error {
	query := `UPDATE playlist_songs SET
		position = :position, added_at = :added_at,
		is_dirty = :is_dirty, is_deleted = :is_deleted, is_local_only = :is_local_only,
		last_modified_at = :last_modified_at, sync_attempts = :sync_attempts, sync_error = :sync_error
	WHERE playlist_id = :playlist_id AND song_id = :song_id`

	result, err := db.NamedExec(query, ps)
	if err != nil {
		return fmt.Errorf("failed to update playlist song: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("playlist song (%s, %s) not found", ps.PlaylistID, ps.SongID)
	}
	return nil
}

func (db *DB) DeletePlaylistSong(playlistID, songID string) error {
	_, err := db.Exec(`DELETE FROM playlist_songs WHERE playlist_id = ? AND song_id = ?`, playlistID, songID)
	return err
}

// ReorderPlaylistSongs rewrites position by index for the given song order
// and refreshes the playlist song count, in one transaction. The caller has
// already validated that orderedSongIDs is a permutation of membership.
func (db *DB) ReorderPlaylistSongs(ctx context.Context, playlistID string, orderedSongIDs []string, now int64, dirty bool) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		for idx, songID := range orderedSongIDs {
			if _, err := tx.Exec(`UPDATE playlist_songs
				SET position = ?, is_dirty = ?, last_modified_at = ?
				WHERE playlist_id = ? AND song_id = ?`, idx, dirty, now, playlistID, songID); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`UPDATE playlists SET song_count =
			(SELECT COUNT(*) FROM playlist_songs WHERE playlist_id = ? AND is_deleted = 0)
		WHERE id = ?`, playlistID, playlistID)
		return err
	})
}

// RemovePlaylistSong removes (or tombstones) a link and refreshes the
// playlist song count atomically.
func (db *DB) RemovePlaylistSong(ctx context.Context, playlistID, songID string, soft bool, now int64) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if soft {
			if _, err := tx.Exec(`UPDATE playlist_songs SET is_deleted = 1, is_dirty = 1, last_modified_at = ?
				WHERE playlist_id = ? AND song_id = ?`, now, playlistID, songID); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(`DELETE FROM playlist_songs WHERE playlist_id = ? AND song_id = ?`, playlistID, songID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`UPDATE playlists SET song_count =
			(SELECT COUNT(*) FROM playlist_songs WHERE playlist_id = ? AND is_deleted = 0),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, playlistID, playlistID); err != nil {
			return err
		}
		return nil
	})
}

func (db *DB) ListDirtyPlaylistSongs() ([]*domain.PlaylistSong, error) {
	var links []*domain.PlaylistSong
	err := db.Select(&links, `SELECT `+playlistSongColumns+` FROM playlist_songs
		WHERE is_dirty = 1 ORDER BY last_modified_at ASC`)
	return links, err
}

func (db *DB) BulkUpsertPlaylistSongs(ctx context.Context, links []*domain.PlaylistSong) error {
	if len(links) == 0 {
		return nil
	}
	query := `INSERT INTO playlist_songs (` + playlistSongColumns + `) VALUES (
		:playlist_id, :song_id, :position, :added_at,
		:is_dirty, :is_deleted, :is_local_only, :last_modified_at, :sync_attempts, :sync_error
	) ON CONFLICT(playlist_id, song_id) DO UPDATE SET
		position = excluded.position, added_at = excluded.added_at,
		is_dirty = excluded.is_dirty, is_deleted = excluded.is_deleted,
		is_local_only = excluded.is_local_only, last_modified_at = excluded.last_modified_at,
		sync_attempts = excluded.sync_attempts, sync_error = excluded.sync_error`

	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		for _, ps := range links {
			if _, err := tx.NamedExec(query, ps); err != nil {
				return fmt.Errorf("failed to upsert playlist song (%s, %s): %w", ps.PlaylistID, ps.SongID, err)
			}
		}
		return nil
	})
}

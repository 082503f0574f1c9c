package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/harmonia-player/harmonia/internal/domain"
)

const playlistColumns = `id, user_id, name, description, song_count, is_default, is_deletable,
	linked_library_id, created_at, updated_at,
	is_dirty, is_deleted, is_local_only, last_modified_at, sync_attempts, sync_error`

func (db *DB) CreatePlaylist(pl *domain.Playlist) error {
	query := `INSERT INTO playlists (` + playlistColumns + `) VALUES (
		:id, :user_id, :name, :description, :song_count, :is_default, :is_deletable,
		:linked_library_id, :created_at, :updated_at,
		:is_dirty, :is_deleted, :is_local_only, :last_modified_at, :sync_attempts, :sync_error
	)`
	_, err := db.NamedExec(query, pl)
	if err != nil {
		return fmt.Errorf("failed to create playlist: %w", err)
	}
	return nil
}

func (db *DB) GetPlaylist(id string) (*domain.Playlist, error) {
	var pl domain.Playlist
	err := db.Get(&pl, `SELECT `+playlistColumns+` FROM playlists WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pl, nil
}

// ListPlaylistsByUser returns live playlists oldest-first; the player seed
// walk depends on this ordering.
func (db *DB) ListPlaylistsByUser(userID string) ([]*domain.Playlist, error) {
	var pls []*domain.Playlist
	err := db.Select(&pls, `SELECT `+playlistColumns+` FROM playlists
		WHERE user_id = ? AND is_deleted = 0 ORDER BY created_at ASC`, userID)
	return pls, err
}

func (db *DB) GetPlaylistByLinkedLibrary(libID string) (*domain.Playlist, error) {
	var pl domain.Playlist
	err := db.Get(&pl, `SELECT `+playlistColumns+` FROM playlists
		WHERE linked_library_id = ? AND is_deleted = 0 LIMIT 1`, libID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pl, nil
}

func (db *DB) UpdatePlaylist(pl *domain.Playlist) error {
	pl.UpdatedAt = time.Now()
	query := `UPDATE playlists SET
		user_id = :user_id, name = :name, description = :description, song_count = :song_count,
		is_default = :is_default, is_deletable = :is_deletable, linked_library_id = :linked_library_id,
		updated_at = :updated_at,
		is_dirty = :is_dirty, is_deleted = :is_deleted, is_local_only = :is_local_only,
		last_modified_at = :last_modified_at, sync_attempts = :sync_attempts, sync_error = :sync_error
	WHERE id = :id`

	result, err := db.NamedExec(query, pl)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("playlist %s not found", pl.ID)
	}
	return nil
}

func (db *DB) DeletePlaylist(id string) error {
	_, err := db.Exec("DELETE FROM playlists WHERE id = ?", id)
	return err
}

// HardDeletePlaylistCascade removes a playlist and its song links in one
// transaction. Guest mode only.
func (db *DB) HardDeletePlaylistCascade(ctx context.Context, id string) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`DELETE FROM playlist_songs WHERE playlist_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM playlists WHERE id = ?`, id)
		return err
	})
}

// SoftDeletePlaylistCascade tombstones a playlist and its song links.
func (db *DB) SoftDeletePlaylistCascade(ctx context.Context, id string, now int64) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`UPDATE playlist_songs SET is_deleted = 1, is_dirty = 1, last_modified_at = ? WHERE playlist_id = ?`, now, id); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE playlists SET is_deleted = 1, is_dirty = 1, last_modified_at = ? WHERE id = ?`, now, id)
		return err
	})
}

func (db *DB) ListDirtyPlaylists() ([]*domain.Playlist, error) {
	var pls []*domain.Playlist
	err := db.Select(&pls, `SELECT `+playlistColumns+` FROM playlists
		WHERE is_dirty = 1 ORDER BY last_modified_at ASC`)
	return pls, err
}

func (db *DB) BulkUpsertPlaylists(ctx context.Context, pls []*domain.Playlist) error {
	if len(pls) == 0 {
		return nil
	}
	query := `INSERT INTO playlists (` + playlistColumns + `) VALUES (
		:id, :user_id, :name, :description, :song_count, :is_default, :is_deletable,
		:linked_library_id, :created_at, :updated_at,
		:is_dirty, :is_deleted, :is_local_only, :last_modified_at, :sync_attempts, :sync_error
	) ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id, name = excluded.name, description = excluded.description,
		song_count = excluded.song_count, is_default = excluded.is_default,
		is_deletable = excluded.is_deletable, linked_library_id = excluded.linked_library_id,
		updated_at = excluded.updated_at,
		is_dirty = excluded.is_dirty, is_deleted = excluded.is_deleted,
		is_local_only = excluded.is_local_only, last_modified_at = excluded.last_modified_at,
		sync_attempts = excluded.sync_attempts, sync_error = excluded.sync_error`

	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		for _, pl := range pls {
			if _, err := tx.NamedExec(query, pl); err != nil {
				return fmt.Errorf("failed to upsert playlist %s: %w", pl.ID, err)
			}
		}
		return nil
	})
}

// RemapPlaylistID rewrites a locally-generated playlist ID to its
// server-assigned ID across every referencing table in one transaction.
func (db *DB) RemapPlaylistID(ctx context.Context, oldID, newID string) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`UPDATE playlists SET id = ? WHERE id = ?`, newID, oldID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE playlist_songs SET playlist_id = ? WHERE playlist_id = ?`, newID, oldID); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE player_progress SET context_id = ? WHERE context_type = 'playlist' AND context_id = ?`, newID, oldID)
		return err
	})
}

// RefreshPlaylistSongCount recomputes song_count from live links.
func (db *DB) RefreshPlaylistSongCount(id string) error {
	_, err := db.Exec(`UPDATE playlists SET song_count =
		(SELECT COUNT(*) FROM playlist_songs WHERE playlist_id = ? AND is_deleted = 0)
	WHERE id = ?`, id, id)
	return err
}

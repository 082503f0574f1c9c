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

const songColumns = `id, library_id, title, artist, album, track_number, file_hash,
	is_cached, cache_size, last_cache_check, created_at, updated_at,
	is_dirty, is_deleted, is_local_only, last_modified_at, sync_attempts, sync_error`

const songInsertValues = `:id, :library_id, :title, :artist, :album, :track_number, :file_hash,
	:is_cached, :cache_size, :last_cache_check, :created_at, :updated_at,
	:is_dirty, :is_deleted, :is_local_only, :last_modified_at, :sync_attempts, :sync_error`

func (db *DB) CreateSong(song *domain.Song) error {
	query := `INSERT INTO songs (` + songColumns + `) VALUES (` + songInsertValues + `)`
	_, err := db.NamedExec(query, song)
	if err != nil {
		return fmt.Errorf("failed to create song: %w", err)
	}
	return nil
}

func (db *DB) GetSong(id string) (*domain.Song, error) {
	var song domain.Song
	err := db.Get(&song, `SELECT `+songColumns+` FROM songs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &song, nil
}

func (db *DB) ListSongsByLibrary(libID string) ([]*domain.Song, error) {
	var songs []*domain.Song
	err := db.Select(&songs, `SELECT `+songColumns+` FROM songs
		WHERE library_id = ? AND is_deleted = 0 ORDER BY created_at ASC`, libID)
	return songs, err
}

// GetLatestSongInLibrary returns the most-recently-created live song; it is
// the library's derived cover.
func (db *DB) GetLatestSongInLibrary(libID string) (*domain.Song, error) {
	var song domain.Song
	err := db.Get(&song, `SELECT `+songColumns+` FROM songs
		WHERE library_id = ? AND is_deleted = 0
		ORDER BY created_at DESC, id DESC LIMIT 1`, libID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// GetSongByFileHashInLibrary finds a live song referencing the given file
// within a library. Used for duplicate-upload detection.
func (db *DB) GetSongByFileHashInLibrary(libID, hash string) (*domain.Song, error) {
	var song domain.Song
	err := db.Get(&song, `SELECT `+songColumns+` FROM songs
		WHERE library_id = ? AND file_hash = ? AND is_deleted = 0 LIMIT 1`, libID, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &song, nil
}

func (db *DB) UpdateSong(song *domain.Song) error {
	song.UpdatedAt = time.Now()
	query := `UPDATE songs SET
		library_id = :library_id, title = :title, artist = :artist, album = :album,
		track_number = :track_number, file_hash = :file_hash,
		is_cached = :is_cached, cache_size = :cache_size, last_cache_check = :last_cache_check,
		updated_at = :updated_at,
		is_dirty = :is_dirty, is_deleted = :is_deleted, is_local_only = :is_local_only,
		last_modified_at = :last_modified_at, sync_attempts = :sync_attempts, sync_error = :sync_error
	WHERE id = :id`

	result, err := db.NamedExec(query, song)
	if err != nil {
		return fmt.Errorf("failed to update song: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("song %s not found", song.ID)
	}
	return nil
}

func (db *DB) DeleteSong(id string) error {
	_, err := db.Exec("DELETE FROM songs WHERE id = ?", id)
	return err
}

// HardDeleteSongCascade removes a song, its playlist links, and drops the
// file refcount (deleting the file record at zero) in one transaction.
// The owning library's song count is refreshed in the same transaction.
func (db *DB) HardDeleteSongCascade(ctx context.Context, id string) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		var libID string
		err := tx.Get(&libID, `SELECT library_id FROM songs WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM playlist_songs WHERE song_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE files SET ref_count = ref_count - 1
			WHERE hash = (SELECT file_hash FROM songs WHERE id = ? AND file_hash != '')`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM files WHERE ref_count <= 0`); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM songs WHERE id = ?`, id); err != nil {
			return err
		}
		return refreshLibrarySongCountTx(tx, libID)
	})
}

// SoftDeleteSongCascade tombstones a song and its playlist links.
// The owning library's song count is refreshed in the same transaction.
func (db *DB) SoftDeleteSongCascade(ctx context.Context, id string, now int64) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		var libID string
		err := tx.Get(&libID, `SELECT library_id FROM songs WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE playlist_songs SET is_deleted = 1, is_dirty = 1, last_modified_at = ? WHERE song_id = ?`, now, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE songs SET is_deleted = 1, is_dirty = 1, last_modified_at = ? WHERE id = ?`, now, id); err != nil {
			return err
		}
		return refreshLibrarySongCountTx(tx, libID)
	})
}

func refreshLibrarySongCountTx(tx *sqlx.Tx, libID string) error {
	_, err := tx.Exec(`UPDATE libraries SET song_count =
		(SELECT COUNT(*) FROM songs WHERE library_id = ? AND is_deleted = 0)
	WHERE id = ?`, libID, libID)
	return err
}

func (db *DB) ListDirtySongs() ([]*domain.Song, error) {
	var songs []*domain.Song
	err := db.Select(&songs, `SELECT `+songColumns+` FROM songs
		WHERE is_dirty = 1 ORDER BY last_modified_at ASC`)
	return songs, err
}

func (db *DB) ListUncachedSongsByLibrary(libID string) ([]*domain.Song, error) {
	var songs []*domain.Song
	err := db.Select(&songs, `SELECT `+songColumns+` FROM songs
		WHERE library_id = ? AND is_deleted = 0 AND is_cached = 0 ORDER BY created_at ASC`, libID)
	return songs, err
}

func (db *DB) ListCachedSongs() ([]*domain.Song, error) {
	var songs []*domain.Song
	err := db.Select(&songs, `SELECT `+songColumns+` FROM songs
		WHERE is_cached = 1 AND is_deleted = 0`)
	return songs, err
}

// SetSongCacheStatus records cache state without touching sync flags: cache
// status is device-local and must never make a record dirty.
func (db *DB) SetSongCacheStatus(id string, cached bool, size int64, checkedAt int64) error {
	_, err := db.Exec(`UPDATE songs SET is_cached = ?, cache_size = ?, last_cache_check = ? WHERE id = ?`,
		cached, size, checkedAt, id)
	return err
}

func (db *DB) BulkUpsertSongs(ctx context.Context, songs []*domain.Song) error {
	if len(songs) == 0 {
		return nil
	}
	query := `INSERT INTO songs (` + songColumns + `) VALUES (` + songInsertValues + `)
	ON CONFLICT(id) DO UPDATE SET
		library_id = excluded.library_id, title = excluded.title, artist = excluded.artist,
		album = excluded.album, track_number = excluded.track_number, file_hash = excluded.file_hash,
		is_cached = excluded.is_cached, cache_size = excluded.cache_size,
		last_cache_check = excluded.last_cache_check, updated_at = excluded.updated_at,
		is_dirty = excluded.is_dirty, is_deleted = excluded.is_deleted,
		is_local_only = excluded.is_local_only, last_modified_at = excluded.last_modified_at,
		sync_attempts = excluded.sync_attempts, sync_error = excluded.sync_error`

	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		for _, song := range songs {
			if _, err := tx.NamedExec(query, song); err != nil {
				return fmt.Errorf("failed to upsert song %s: %w", song.ID, err)
			}
		}
		return nil
	})
}

// RemapSongID rewrites a locally-generated song ID to its server-assigned ID
// across every referencing table in one transaction.
func (db *DB) RemapSongID(ctx context.Context, oldID, newID string) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`UPDATE songs SET id = ? WHERE id = ?`, newID, oldID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE playlist_songs SET song_id = ? WHERE song_id = ?`, newID, oldID); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE player_progress SET song_id = ? WHERE song_id = ?`, newID, oldID)
		return err
	})
}

// CreateSongWithFile ingests an uploaded song: upserts the dedup file record
// (bumping its refcount), inserts the song, and refreshes the library song
// count, all in one transaction.
func (db *DB) CreateSongWithFile(ctx context.Context, song *domain.Song, file *domain.File) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExec(`INSERT INTO files (hash, size, mime_type, duration, ref_count, created_at)
			VALUES (:hash, :size, :mime_type, :duration, 1, :created_at)
			ON CONFLICT(hash) DO UPDATE SET ref_count = ref_count + 1`, file); err != nil {
			return fmt.Errorf("failed to upsert file %s: %w", file.Hash, err)
		}
		if _, err := tx.NamedExec(`INSERT INTO songs (`+songColumns+`) VALUES (`+songInsertValues+`)`, song); err != nil {
			return fmt.Errorf("failed to insert song: %w", err)
		}
		return refreshLibrarySongCountTx(tx, song.LibraryID)
	})
}

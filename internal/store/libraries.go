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

const libraryColumns = `id, user_id, name, description, song_count, is_default, is_deletable,
	cache_policy, created_at, updated_at,
	is_dirty, is_deleted, is_local_only, last_modified_at, sync_attempts, sync_error`

func (db *DB) CreateLibrary(lib *domain.Library) error {
	query := `INSERT INTO libraries (` + libraryColumns + `) VALUES (
		:id, :user_id, :name, :description, :song_count, :is_default, :is_deletable,
		:cache_policy, :created_at, :updated_at,
		:is_dirty, :is_deleted, :is_local_only, :last_modified_at, :sync_attempts, :sync_error
	)`
	_, err := db.NamedExec(query, lib)
	if err != nil {
		return fmt.Errorf("failed to create library: %w", err)
	}
	return nil
}

// GetLibrary returns a library regardless of tombstone state. Callers that
// serve reads filter deleted records themselves.
func (db *DB) GetLibrary(id string) (*domain.Library, error) {
	var lib domain.Library
	err := db.Get(&lib, `SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lib, nil
}

func (db *DB) ListLibrariesByUser(userID string) ([]*domain.Library, error) {
	var libs []*domain.Library
	err := db.Select(&libs, `SELECT `+libraryColumns+` FROM libraries
		WHERE user_id = ? AND is_deleted = 0 ORDER BY created_at ASC`, userID)
	return libs, err
}

func (db *DB) UpdateLibrary(lib *domain.Library) error {
	lib.UpdatedAt = time.Now()
	query := `UPDATE libraries SET
		user_id = :user_id, name = :name, description = :description, song_count = :song_count,
		is_default = :is_default, is_deletable = :is_deletable, cache_policy = :cache_policy,
		updated_at = :updated_at,
		is_dirty = :is_dirty, is_deleted = :is_deleted, is_local_only = :is_local_only,
		last_modified_at = :last_modified_at, sync_attempts = :sync_attempts, sync_error = :sync_error
	WHERE id = :id`

	result, err := db.NamedExec(query, lib)
	if err != nil {
		return fmt.Errorf("failed to update library: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("library %s not found", lib.ID)
	}
	return nil
}

func (db *DB) DeleteLibrary(id string) error {
	_, err := db.Exec("DELETE FROM libraries WHERE id = ?", id)
	return err
}

func (db *DB) ListDirtyLibraries() ([]*domain.Library, error) {
	var libs []*domain.Library
	err := db.Select(&libs, `SELECT `+libraryColumns+` FROM libraries
		WHERE is_dirty = 1 ORDER BY last_modified_at ASC`)
	return libs, err
}

func (db *DB) BulkUpsertLibraries(ctx context.Context, libs []*domain.Library) error {
	if len(libs) == 0 {
		return nil
	}
	query := `INSERT INTO libraries (` + libraryColumns + `) VALUES (
		:id, :user_id, :name, :description, :song_count, :is_default, :is_deletable,
		:cache_policy, :created_at, :updated_at,
		:is_dirty, :is_deleted, :is_local_only, :last_modified_at, :sync_attempts, :sync_error
	) ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id, name = excluded.name, description = excluded.description,
		song_count = excluded.song_count, is_default = excluded.is_default,
		is_deletable = excluded.is_deletable, cache_policy = excluded.cache_policy,
		updated_at = excluded.updated_at,
		is_dirty = excluded.is_dirty, is_deleted = excluded.is_deleted,
		is_local_only = excluded.is_local_only, last_modified_at = excluded.last_modified_at,
		sync_attempts = excluded.sync_attempts, sync_error = excluded.sync_error`

	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		for _, lib := range libs {
			if _, err := tx.NamedExec(query, lib); err != nil {
				return fmt.Errorf("failed to upsert library %s: %w", lib.ID, err)
			}
		}
		return nil
	})
}

// SoftDeleteLibraryCascade tombstones a library and all its songs and
// unlinks any playlist pointing at it, as one transaction. Authenticated
// users only; the tombstones are pushed by the sync service.
func (db *DB) SoftDeleteLibraryCascade(ctx context.Context, libID string, now int64) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`UPDATE libraries SET is_deleted = 1, is_dirty = 1, last_modified_at = ? WHERE id = ?`, now, libID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE songs SET is_deleted = 1, is_dirty = 1, last_modified_at = ? WHERE library_id = ?`, now, libID); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE playlists SET linked_library_id = '', is_dirty = 1, last_modified_at = ? WHERE linked_library_id = ?`, now, libID)
		return err
	})
}

// HardDeleteLibraryCascade physically removes a library, its songs and their
// playlist links, and unlinks dependent playlists. Guest mode only.
func (db *DB) HardDeleteLibraryCascade(ctx context.Context, libID string) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`DELETE FROM playlist_songs WHERE song_id IN (SELECT id FROM songs WHERE library_id = ?)`, libID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE files SET ref_count = ref_count - 1
			WHERE hash IN (SELECT file_hash FROM songs WHERE library_id = ? AND file_hash != '')`, libID); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM files WHERE ref_count <= 0`); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM songs WHERE library_id = ?`, libID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE playlists SET linked_library_id = '' WHERE linked_library_id = ?`, libID); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM libraries WHERE id = ?`, libID)
		return err
	})
}

// RemapLibraryID rewrites a locally-generated library ID to its
// server-assigned ID across every referencing table in one transaction, so
// no dangling references exist even if the process dies right after.
func (db *DB) RemapLibraryID(ctx context.Context, oldID, newID string) error {
	return db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`UPDATE libraries SET id = ? WHERE id = ?`, newID, oldID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE songs SET library_id = ? WHERE library_id = ?`, newID, oldID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE playlists SET linked_library_id = ? WHERE linked_library_id = ?`, newID, oldID); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE player_progress SET context_id = ? WHERE context_type = 'library' AND context_id = ?`, newID, oldID)
		return err
	})
}

// RefreshLibrarySongCount recomputes song_count from live (non-tombstoned) songs.
func (db *DB) RefreshLibrarySongCount(libID string) error {
	_, err := db.Exec(`UPDATE libraries SET song_count =
		(SELECT COUNT(*) FROM songs WHERE library_id = ? AND is_deleted = 0)
	WHERE id = ?`, libID, libID)
	return err
}

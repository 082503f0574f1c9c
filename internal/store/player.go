package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/harmonia-player/harmonia/internal/domain"
)

func (db *DB) GetPlayerPreferences(userID string) (*domain.PlayerPreferences, error) {
	var prefs domain.PlayerPreferences
	err := db.Get(&prefs, `SELECT user_id, shuffle, repeat_mode, volume, updated_at
		FROM player_preferences WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prefs, nil
}

func (db *DB) PutPlayerPreferences(prefs *domain.PlayerPreferences) error {
	prefs.UpdatedAt = time.Now()
	_, err := db.NamedExec(`INSERT INTO player_preferences (user_id, shuffle, repeat_mode, volume, updated_at)
		VALUES (:user_id, :shuffle, :repeat_mode, :volume, :updated_at)
		ON CONFLICT(user_id) DO UPDATE SET
			shuffle = excluded.shuffle, repeat_mode = excluded.repeat_mode,
			volume = excluded.volume, updated_at = excluded.updated_at`, prefs)
	return err
}

func (db *DB) GetPlayerProgress(userID string) (*domain.PlayerProgress, error) {
	var prog domain.PlayerProgress
	err := db.Get(&prog, `SELECT user_id, song_id, context_type, context_id, position_ms, updated_at
		FROM player_progress WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prog, nil
}

func (db *DB) PutPlayerProgress(prog *domain.PlayerProgress) error {
	prog.UpdatedAt = time.Now()
	_, err := db.NamedExec(`INSERT INTO player_progress (user_id, song_id, context_type, context_id, position_ms, updated_at)
		VALUES (:user_id, :song_id, :context_type, :context_id, :position_ms, :updated_at)
		ON CONFLICT(user_id) DO UPDATE SET
			song_id = excluded.song_id, context_type = excluded.context_type,
			context_id = excluded.context_id, position_ms = excluded.position_ms,
			updated_at = excluded.updated_at`, prog)
	return err
}

package store

import (
	"database/sql"
	"errors"
	"time"
)

// SettingsRepo is the device-local key-value store. Settings are never
// synced to the backend.
type SettingsRepo struct {
	db *DB
}

func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

func (r *SettingsRepo) Get(key string) (string, error) {
	var value string
	err := r.db.Get(&value, "SELECT value FROM settings WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SettingsRepo) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	return err
}

func (r *SettingsRepo) Delete(key string) error {
	_, err := r.db.Exec("DELETE FROM settings WHERE key = ?", key)
	return err
}

const (
	SettingSession            = "session"
	SettingLastPullSync       = "last_pull_sync"
	SettingCachePolicyGlobal  = "cache_policy"
	SettingCachePolicyLibrary = "cache_policy:" // + library ID
	SettingAutoDownloadTiming = "auto_download_timing"

	// Mirror of the server's account-wide cache policy, written by pull
	// sync and read as the last layer of the download policy chain.
	SettingBackendCachePolicy = "backend_cache_policy"
)

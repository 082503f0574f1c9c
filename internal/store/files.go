package store

import (
	"database/sql"
	"errors"

	"github.com/harmonia-player/harmonia/internal/domain"
)

func (db *DB) GetFile(hash string) (*domain.File, error) {
	var f domain.File
	err := db.Get(&f, `SELECT hash, size, mime_type, duration, ref_count, created_at
		FROM files WHERE hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}


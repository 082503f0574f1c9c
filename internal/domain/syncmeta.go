package domain

import "time"

// SyncMode says whether local writes have a remote to converge with.
type SyncMode int

const (
	// ModeGuest means there is no remote account; records are never dirty
	// and deletes are physical.
	ModeGuest SyncMode = iota
	// ModeAuthenticated means dirty records are pushed to the backend.
	ModeAuthenticated
)

func (m SyncMode) String() string {
	if m == ModeAuthenticated {
		return "authenticated"
	}
	return "guest"
}

// SyncMeta carries the per-record sync-tracking fields mixed into every
// synced entity. The mark functions below are the only writers; they touch
// nothing outside this struct, so content fields survive verbatim.
type SyncMeta struct {
	IsDirty        bool   `json:"-" db:"is_dirty"`
	IsDeleted      bool   `json:"-" db:"is_deleted"`
	IsLocalOnly    bool   `json:"-" db:"is_local_only"`
	LastModifiedAt int64  `json:"-" db:"last_modified_at"` // unix millis, logical clock
	SyncAttempts   int    `json:"-" db:"sync_attempts"`
	SyncError      string `json:"-" db:"sync_error"`
}

// MarkDirty flags a record as needing a push. Guest records are never dirty:
// there is no remote to converge with, so only the logical clock advances.
func MarkDirty(mode SyncMode, m *SyncMeta, isNew bool, now time.Time) {
	m.LastModifiedAt = now.UnixMilli()
	if mode != ModeAuthenticated {
		return
	}
	m.IsDirty = true
	if isNew {
		m.IsLocalOnly = true
	}
}

// MarkDeleted tombstones a record. For authenticated users the tombstone is
// also dirty so the deletion gets pushed; guest deletes are handled
// physically by the caller.
func MarkDeleted(mode SyncMode, m *SyncMeta, now time.Time) {
	m.IsDeleted = true
	if mode == ModeAuthenticated {
		m.IsDirty = true
		m.LastModifiedAt = now.UnixMilli()
	}
}

// MarkSynced clears all pending sync state. Idempotent beyond the timestamp.
func MarkSynced(m *SyncMeta, now time.Time) {
	m.IsDirty = false
	m.IsDeleted = false
	m.IsLocalOnly = false
	m.SyncAttempts = 0
	m.SyncError = ""
	m.LastModifiedAt = now.UnixMilli()
}

package domain

import (
	"time"
)

// Library is a user-owned collection of songs. Every user has exactly one
// default, non-deletable library, created on first access.
type Library struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	SongCount   int       `json:"song_count" db:"song_count"`
	IsDefault   bool      `json:"is_default" db:"is_default"`
	IsDeletable bool      `json:"is_deletable" db:"is_deletable"`
	CachePolicy string    `json:"cache_policy" db:"cache_policy"` // inherit, enabled, disabled
	CoverSongID string    `json:"cover_song_id,omitempty" db:"-"` // derived on fetch, never stored
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	SyncMeta
}

// Playlist is an ordered collection of songs. A playlist may be linked 1:1 to
// a library ("library playlist"). Every user has exactly one default
// favorites playlist.
type Playlist struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Name            string    `json:"name" db:"name"`
	Description     string    `json:"description" db:"description"`
	SongCount       int       `json:"song_count" db:"song_count"`
	IsDefault       bool      `json:"is_default" db:"is_default"`
	IsDeletable     bool      `json:"is_deletable" db:"is_deletable"`
	LinkedLibraryID string    `json:"linked_library_id,omitempty" db:"linked_library_id"`
	CoverSongID     string    `json:"cover_song_id,omitempty" db:"-"` // derived on fetch, never stored
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
	SyncMeta
}

// Song is a piece of audio metadata belonging to exactly one library. Its
// identity is independent of its File: two songs may reference the same file.
type Song struct {
	ID             string    `json:"id" db:"id"`
	LibraryID      string    `json:"library_id" db:"library_id"`
	Title          string    `json:"title" db:"title"`
	Artist         string    `json:"artist" db:"artist"`
	Album          string    `json:"album" db:"album"`
	TrackNumber    int       `json:"track_number" db:"track_number"`
	FileHash       string    `json:"file_hash,omitempty" db:"file_hash"`
	IsCached       bool      `json:"is_cached" db:"is_cached"`
	CacheSize      int64     `json:"cache_size" db:"cache_size"`
	LastCacheCheck int64     `json:"last_cache_check" db:"last_cache_check"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
	SyncMeta
}

// File is a content-addressed record for one physical audio blob,
// referenced by one or more songs. RefCount drives cache garbage collection.
type File struct {
	Hash      string    `json:"hash" db:"hash"`
	Size      int64     `json:"size" db:"size"`
	MimeType  string    `json:"mime_type" db:"mime_type"`
	Duration  int       `json:"duration" db:"duration"` // seconds
	RefCount  int       `json:"ref_count" db:"ref_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PlaylistSong links a song into a playlist at a position. Positions are
// assigned contiguously on add but may be left gapped after removals.
type PlaylistSong struct {
	PlaylistID string    `json:"playlist_id" db:"playlist_id"`
	SongID     string    `json:"song_id" db:"song_id"`
	Position   int       `json:"position" db:"position"`
	AddedAt    time.Time `json:"added_at" db:"added_at"`
	SyncMeta
}

// PlayerPreferences is a per-user singleton, authoritative locally only in
// guest mode.
type PlayerPreferences struct {
	UserID     string    `json:"user_id" db:"user_id"`
	Shuffle    bool      `json:"shuffle" db:"shuffle"`
	RepeatMode string    `json:"repeat_mode" db:"repeat_mode"` // off, one, all
	Volume     float64   `json:"volume" db:"volume"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// PlayerProgress tracks the current song and position within a playback
// context (a playlist or a library).
type PlayerProgress struct {
	UserID      string    `json:"user_id" db:"user_id"`
	SongID      string    `json:"song_id" db:"song_id"`
	ContextType string    `json:"context_type" db:"context_type"` // playlist, library
	ContextID   string    `json:"context_id" db:"context_id"`
	PositionMs  int64     `json:"position_ms" db:"position_ms"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CachePolicy values for libraries and local overrides.
const (
	CachePolicyInherit  = "inherit"
	CachePolicyEnabled  = "enabled"
	CachePolicyDisabled = "disabled"
)

// Timing values controlling when auto-downloads are allowed.
const (
	TimingOff      = "off"
	TimingWifiOnly = "wifi-only"
	TimingAlways   = "always"
)

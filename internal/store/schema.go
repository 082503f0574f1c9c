package store

const Schema = `
CREATE TABLE IF NOT EXISTS libraries (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	song_count INTEGER NOT NULL DEFAULT 0,
	is_default BOOLEAN NOT NULL DEFAULT 0,
	is_deletable BOOLEAN NOT NULL DEFAULT 1,
	cache_policy TEXT NOT NULL DEFAULT 'inherit',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,

	-- Sync tracking
	is_dirty BOOLEAN NOT NULL DEFAULT 0,
	is_deleted BOOLEAN NOT NULL DEFAULT 0,
	is_local_only BOOLEAN NOT NULL DEFAULT 0,
	last_modified_at INTEGER NOT NULL DEFAULT 0,
	sync_attempts INTEGER NOT NULL DEFAULT 0,
	sync_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_libraries_user ON libraries(user_id);
CREATE INDEX IF NOT EXISTS idx_libraries_dirty ON libraries(is_dirty) WHERE is_dirty = 1;

CREATE TABLE IF NOT EXISTS playlists (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	song_count INTEGER NOT NULL DEFAULT 0,
	is_default BOOLEAN NOT NULL DEFAULT 0,
	is_deletable BOOLEAN NOT NULL DEFAULT 1,
	linked_library_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,

	is_dirty BOOLEAN NOT NULL DEFAULT 0,
	is_deleted BOOLEAN NOT NULL DEFAULT 0,
	is_local_only BOOLEAN NOT NULL DEFAULT 0,
	last_modified_at INTEGER NOT NULL DEFAULT 0,
	sync_attempts INTEGER NOT NULL DEFAULT 0,
	sync_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_playlists_user ON playlists(user_id);
CREATE INDEX IF NOT EXISTS idx_playlists_linked_library ON playlists(linked_library_id);

CREATE TABLE IF NOT EXISTS songs (
	id TEXT PRIMARY KEY,
	library_id TEXT NOT NULL,
	title TEXT NOT NULL,
	artist TEXT NOT NULL DEFAULT '',
	album TEXT NOT NULL DEFAULT '',
	track_number INTEGER NOT NULL DEFAULT 0,
	file_hash TEXT NOT NULL DEFAULT '',

	-- Local-only cache status, never pushed and never clobbered by pulls
	is_cached BOOLEAN NOT NULL DEFAULT 0,
	cache_size INTEGER NOT NULL DEFAULT 0,
	last_cache_check INTEGER NOT NULL DEFAULT 0,

	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,

	is_dirty BOOLEAN NOT NULL DEFAULT 0,
	is_deleted BOOLEAN NOT NULL DEFAULT 0,
	is_local_only BOOLEAN NOT NULL DEFAULT 0,
	last_modified_at INTEGER NOT NULL DEFAULT 0,
	sync_attempts INTEGER NOT NULL DEFAULT 0,
	sync_error TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_songs_library ON songs(library_id);
CREATE INDEX IF NOT EXISTS idx_songs_file_hash ON songs(file_hash);
CREATE INDEX IF NOT EXISTS idx_songs_dirty ON songs(is_dirty) WHERE is_dirty = 1;

CREATE TABLE IF NOT EXISTS files (
	hash TEXT PRIMARY KEY,
	size INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT '',
	duration INTEGER NOT NULL DEFAULT 0,
	ref_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS playlist_songs (
	playlist_id TEXT NOT NULL,
	song_id TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	added_at DATETIME DEFAULT CURRENT_TIMESTAMP,

	is_dirty BOOLEAN NOT NULL DEFAULT 0,
	is_deleted BOOLEAN NOT NULL DEFAULT 0,
	is_local_only BOOLEAN NOT NULL DEFAULT 0,
	last_modified_at INTEGER NOT NULL DEFAULT 0,
	sync_attempts INTEGER NOT NULL DEFAULT 0,
	sync_error TEXT NOT NULL DEFAULT '',

	PRIMARY KEY (playlist_id, song_id)
);

CREATE INDEX IF NOT EXISTS idx_playlist_songs_song ON playlist_songs(song_id);

CREATE TABLE IF NOT EXISTS player_preferences (
	user_id TEXT PRIMARY KEY,
	shuffle BOOLEAN NOT NULL DEFAULT 0,
	repeat_mode TEXT NOT NULL DEFAULT 'off',
	volume REAL NOT NULL DEFAULT 1.0,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS player_progress (
	user_id TEXT PRIMARY KEY,
	song_id TEXT NOT NULL DEFAULT '',
	context_type TEXT NOT NULL DEFAULT '',
	context_id TEXT NOT NULL DEFAULT '',
	position_ms INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

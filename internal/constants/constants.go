// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort        = "8090"
	DefaultDBPath      = "harmonia.db"
	DefaultCacheDir    = "harmonia-cache"
	DefaultBackendURL  = "http://127.0.0.1:8000"
	DefaultHTTPTimeout = 30 * time.Second
	HealthCheckTimeout = 3 * time.Second
)

// Sync defaults
const (
	PushSyncInterval  = 30 * time.Second
	PullSyncInterval  = 5 * time.Minute
	MaxSyncAttempts   = 5
	DefaultRetryCount = 3
	DefaultRetryBase  = 1 * time.Second
)

// Download manager defaults
const (
	DownloadConcurrency  = 3
	DownloadPollInterval = 500 * time.Millisecond
)

// Storage quota
const (
	DefaultQuotaBytes  = 2 << 30 // 2 GiB
	QuotaWarnPercent   = 80.0
	QuotaCriticalPct   = 90.0
	AvgCoverSizeBytes  = 64 * 1024
	AvgRecordSizeBytes = 2 * 1024
)

// Guest mode
const (
	GuestUserID = "guest"
)

// MIME types
const (
	MimeTypeFLAC = "audio/flac"
	MimeTypeMP3  = "audio/mpeg"
	MimeTypeMP4  = "audio/mp4"
	MimeTypeOGG  = "audio/ogg"
	MimeTypeJPEG = "image/jpeg"
)

// File permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Canonical media cache URL scheme. The same keys are used whether a blob
// came from a local upload or a network download.
const (
	SongStreamURLFormat = "/api/songs/%s/stream"
	SongCoverURLFormat  = "/api/songs/%s/cover"
)

// Package quota reports media cache storage usage against the
// configured budget, with a per-category breakdown.
package quota

import (
	"context"
	"fmt"

	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/mediacache"
	"github.com/harmonia-player/harmonia/internal/store"
)

// Estimate is the raw usage/quota pair. Persistent reports whether the
// storage survives eviction pressure; for an on-disk cache it does.
type Estimate struct {
	UsageBytes int64 `json:"usage_bytes"`
	QuotaBytes int64 `json:"quota_bytes"`
	Persistent bool  `json:"persistent"`
}

// Estimator abstracts where the usage numbers come from, so tests can
// feed fixed values.
type Estimator interface {
	Estimate(ctx context.Context) (Estimate, error)
}

// CacheEstimator measures the media cache directory on disk.
type CacheEstimator struct {
	cache *mediacache.Cache
	quota int64
}

func NewCacheEstimator(cache *mediacache.Cache, quotaBytes int64) *CacheEstimator {
	return &CacheEstimator{cache: cache, quota: quotaBytes}
}

func (e *CacheEstimator) Estimate(_ context.Context) (Estimate, error) {
	usage, err := e.cache.Size()
	if err != nil {
		return Estimate{}, fmt.Errorf("failed to measure cache usage: %w", err)
	}
	return Estimate{UsageBytes: usage, QuotaBytes: e.quota, Persistent: true}, nil
}

type Level string

const (
	LevelNone     Level = "none"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// WarnLevel classifies usage against the fixed thresholds.
func WarnLevel(usage, quota int64) Level {
	if quota <= 0 {
		return LevelNone
	}
	pct := float64(usage) / float64(quota) * 100
	switch {
	case pct >= constants.QuotaCriticalPct:
		return LevelCritical
	case pct >= constants.QuotaWarnPercent:
		return LevelWarning
	}
	return LevelNone
}

// Breakdown splits usage by category. Audio uses per-song cached sizes
// when known; covers and metadata fall back to fixed per-item averages.
type Breakdown struct {
	AudioBytes    int64 `json:"audio_bytes"`
	CoverBytes    int64 `json:"cover_bytes"`
	MetadataBytes int64 `json:"metadata_bytes"`
}

// Report is the full quota picture handed to the UI.
type Report struct {
	Estimate
	Percent   float64   `json:"percent"`
	Level     Level     `json:"level"`
	Breakdown Breakdown `json:"breakdown"`
}

type Monitor struct {
	db        *store.DB
	estimator Estimator
}

func NewMonitor(db *store.DB, estimator Estimator) *Monitor {
	return &Monitor{db: db, estimator: estimator}
}

func (m *Monitor) Report(ctx context.Context) (*Report, error) {
	est, err := m.estimator.Estimate(ctx)
	if err != nil {
		return nil, err
	}

	bd, err := m.breakdown()
	if err != nil {
		return nil, err
	}

	var pct float64
	if est.QuotaBytes > 0 {
		pct = float64(est.UsageBytes) / float64(est.QuotaBytes) * 100
	}
	return &Report{
		Estimate:  est,
		Percent:   pct,
		Level:     WarnLevel(est.UsageBytes, est.QuotaBytes),
		Breakdown: bd,
	}, nil
}

func (m *Monitor) breakdown() (Breakdown, error) {
	songs, err := m.db.ListCachedSongs()
	if err != nil {
		return Breakdown{}, fmt.Errorf("failed to list cached songs: %w", err)
	}

	var bd Breakdown
	for _, song := range songs {
		if song.CacheSize > 0 {
			bd.AudioBytes += song.CacheSize
		}
		bd.CoverBytes += constants.AvgCoverSizeBytes
		bd.MetadataBytes += constants.AvgRecordSizeBytes
	}
	return bd, nil
}

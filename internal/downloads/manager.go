// Package downloads feeds the media cache: a bounded worker pool pulls
// song audio from the backend for libraries whose cache policy allows it.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/domain"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/logger"
	"github.com/harmonia-player/harmonia/internal/mediacache"
	"github.com/harmonia-player/harmonia/internal/store"
)

// ErrNotFound marks a permanent download failure; the task is dropped
// without retry.
var ErrNotFound = errors.New("song not found on server")

// Fetcher retrieves one song's audio bytes from the backend.
type Fetcher interface {
	FetchSongAudio(ctx context.Context, songID string) ([]byte, error)
}

type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

type Task struct {
	SongID    string
	LibraryID string
	Status    Status
	Attempts  int
	Error     string
}

type Manager struct {
	db       *store.DB
	cache    *mediacache.Cache
	fetcher  Fetcher
	events   *events.Emitter
	settings *store.SettingsRepo
	log      *logger.Logger

	policies []PolicySource

	// onWifi reports the connectivity class for the wifi-only timing
	// policy. Defaults to true: a desktop deployment has no metered
	// distinction.
	onWifi func() bool

	// quotaOK reports whether cache usage leaves room for more
	// downloads. Checked at enqueue and at dequeue.
	quotaOK func() bool

	retryBase time.Duration
	sleep     func(time.Duration)

	mu     sync.Mutex
	queue  []*Task
	active int

	kick chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewManager(db *store.DB, cache *mediacache.Cache, fetcher Fetcher, emitter *events.Emitter, log *logger.Logger) *Manager {
	settings := store.NewSettingsRepo(db)
	m := &Manager{
		db:        db,
		cache:     cache,
		fetcher:   fetcher,
		events:    emitter,
		settings:  settings,
		log:       log.WithComponent("downloads"),
		onWifi:    func() bool { return true },
		quotaOK:   func() bool { return true },
		retryBase: constants.DefaultRetryBase,
		sleep:     time.Sleep,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
	m.policies = []PolicySource{
		localLibraryOverride(settings),
		localGlobalOverride(settings),
		backendLibrarySetting(db),
		backendGlobalSetting(settings),
	}
	return m
}

// SetWifiCheck wires in a connectivity-class probe.
func (m *Manager) SetWifiCheck(fn func() bool) {
	m.onWifi = fn
}

// SetQuotaCheck wires in a storage headroom check. Tasks stay queued
// while the check fails; they are not discarded.
func (m *Manager) SetQuotaCheck(fn func() bool) {
	m.quotaOK = fn
}

// PolicyFor resolves the effective cache policy for a library.
func (m *Manager) PolicyFor(libraryID string) string {
	return resolvePolicy(m.policies, libraryID)
}

// timingAllows consults the auto-download timing setting. Checked both
// at enqueue and at dequeue: conditions can change while queued.
func (m *Manager) timingAllows() bool {
	v, err := m.settings.Get(store.SettingAutoDownloadTiming)
	if err != nil || v == "" {
		v = domain.TimingWifiOnly
	}
	switch v {
	case domain.TimingOff:
		return false
	case domain.TimingWifiOnly:
		return m.onWifi()
	case domain.TimingAlways:
		return true
	}
	return false
}

// Enqueue queues one song if policy and timing allow it and it is not
// already cached or queued. Reports whether the task was accepted.
func (m *Manager) Enqueue(songID, libraryID string) bool {
	if m.PolicyFor(libraryID) != domain.CachePolicyEnabled {
		return false
	}
	if !m.timingAllows() {
		return false
	}
	if !m.quotaOK() {
		m.log.Warn("storage quota critical, refusing download", "song_id", songID)
		return false
	}
	if m.cache.Exists(fmt.Sprintf(constants.SongStreamURLFormat, songID)) {
		return false
	}

	m.mu.Lock()
	for _, t := range m.queue {
		if t.SongID == songID && (t.Status == StatusQueued || t.Status == StatusDownloading) {
			m.mu.Unlock()
			return false
		}
	}
	m.queue = append(m.queue, &Task{SongID: songID, LibraryID: libraryID, Status: StatusQueued})
	m.mu.Unlock()

	m.kickDispatcher()
	return true
}

// EnqueueLibrary queues every uncached song in a library.
func (m *Manager) EnqueueLibrary(libraryID string) (int, error) {
	songs, err := m.db.ListUncachedSongsByLibrary(libraryID)
	if err != nil {
		return 0, fmt.Errorf("failed to list uncached songs: %w", err)
	}
	queued := 0
	for _, song := range songs {
		if m.Enqueue(song.ID, libraryID) {
			queued++
		}
	}
	return queued, nil
}

// CancelLibrary discards not-yet-started tasks for one library.
// In-flight downloads are left to finish.
func (m *Manager) CancelLibrary(libraryID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelQueuedLocked(func(t *Task) bool { return t.LibraryID == libraryID })
}

// CancelAll discards every not-yet-started task.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelQueuedLocked(func(*Task) bool { return true })
}

func (m *Manager) cancelQueuedLocked(match func(*Task) bool) int {
	cancelled := 0
	kept := m.queue[:0]
	for _, t := range m.queue {
		if t.Status == StatusQueued && match(t) {
			t.Status = StatusCancelled
			cancelled++
			continue
		}
		kept = append(kept, t)
	}
	m.queue = kept
	return cancelled
}

// Snapshot returns a copy of the current queue, in-flight tasks included.
func (m *Manager) Snapshot() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, len(m.queue))
	for i, t := range m.queue {
		out[i] = *t
	}
	return out
}

func (m *Manager) kickDispatcher() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Start runs the dispatcher until Stop.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(constants.DownloadPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-m.kick:
			}
			m.dispatch(ctx)
		}
	}()
}

func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// dispatch starts queued tasks up to the concurrency cap.
func (m *Manager) dispatch(ctx context.Context) {
	if !m.timingAllows() {
		return
	}
	if !m.quotaOK() {
		return
	}

	for {
		m.mu.Lock()
		if m.active >= constants.DownloadConcurrency {
			m.mu.Unlock()
			return
		}
		var next *Task
		for _, t := range m.queue {
			if t.Status == StatusQueued {
				next = t
				break
			}
		}
		if next == nil {
			m.mu.Unlock()
			return
		}
		next.Status = StatusDownloading
		m.active++
		m.mu.Unlock()

		m.wg.Add(1)
		go func(t *Task) {
			defer m.wg.Done()
			m.run(ctx, t)
			m.mu.Lock()
			m.active--
			m.removeLocked(t)
			m.mu.Unlock()
			m.kickDispatcher()
		}(next)
	}
}

func (m *Manager) removeLocked(task *Task) {
	for i, t := range m.queue {
		if t == task {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) setTaskState(task *Task, status Status, attempts int, errStr string) {
	m.mu.Lock()
	task.Status = status
	task.Attempts = attempts
	task.Error = errStr
	m.mu.Unlock()
}

// run downloads one song, retrying transient failures with linear
// backoff. Permanent failures are dropped immediately.
func (m *Manager) run(ctx context.Context, task *Task) {
	attempts := 0
	for {
		data, err := m.fetcher.FetchSongAudio(ctx, task.SongID)
		if err == nil {
			m.finish(task, attempts, data)
			return
		}
		if errors.Is(err, ErrNotFound) {
			m.setTaskState(task, StatusFailed, attempts, err.Error())
			m.log.Warn("Dropping permanently failed download", "song_id", task.SongID, "error", err)
			return
		}

		attempts++
		if attempts >= constants.DefaultRetryCount {
			m.setTaskState(task, StatusFailed, attempts, err.Error())
			m.log.Warn("Download failed after retries",
				"song_id", task.SongID, "attempts", attempts, "error", err)
			return
		}
		m.setTaskState(task, StatusDownloading, attempts, err.Error())
		m.log.Debug("Transient download failure, retrying",
			"song_id", task.SongID, "attempt", attempts, "error", err)
		m.sleep(time.Duration(attempts) * m.retryBase)
	}
}

func (m *Manager) finish(task *Task, attempts int, data []byte) {
	key := fmt.Sprintf(constants.SongStreamURLFormat, task.SongID)
	size, err := m.cache.PutBytes(key, data)
	if err != nil {
		m.setTaskState(task, StatusFailed, attempts, err.Error())
		m.log.Error("Failed to cache downloaded audio", "song_id", task.SongID, "error", err)
		return
	}
	if err := m.db.SetSongCacheStatus(task.SongID, true, size, time.Now().UnixMilli()); err != nil {
		m.log.Error("Failed to record cache status", "song_id", task.SongID, "error", err)
	}
	m.setTaskState(task, StatusDone, attempts, "")

	m.events.Emit(events.TopicCacheChanged, events.CacheChangedEvent{
		LibraryID: task.LibraryID,
		SongID:    task.SongID,
	})
}

// Reconcile re-checks cache bookkeeping against the blobs actually on
// disk; an interrupted download leaves a song marked cached with no
// bytes behind it.
func (m *Manager) Reconcile(ctx context.Context) error {
	songs, err := m.db.ListCachedSongs()
	if err != nil {
		return fmt.Errorf("failed to list cached songs: %w", err)
	}
	repaired := 0
	for _, song := range songs {
		key := fmt.Sprintf(constants.SongStreamURLFormat, song.ID)
		if m.cache.Exists(key) {
			continue
		}
		if err := m.db.SetSongCacheStatus(song.ID, false, 0, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to reset cache status for %s: %w", song.ID, err)
		}
		m.Enqueue(song.ID, song.LibraryID)
		repaired++
	}
	if repaired > 0 {
		m.log.Info("Reconciled interrupted downloads", "repaired", repaired)
	}
	return nil
}

package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/harmonia-player/harmonia/internal/auth"
	"github.com/harmonia-player/harmonia/internal/constants"
	"github.com/harmonia-player/harmonia/internal/domain"
	"github.com/harmonia-player/harmonia/internal/events"
	"github.com/harmonia-player/harmonia/internal/logger"
	"github.com/harmonia-player/harmonia/internal/store"
)

// fakeRemote records calls and assigns server ids of the form srv-N.
type fakeRemote struct {
	mu        sync.Mutex
	nextID    int
	createErr error
	updateErr error

	created []string
	updated []string
	deleted []string

	libraries   []*domain.Library
	playlists   []*domain.Playlist
	songs       map[string][]*domain.Song
	links       map[string][]*domain.PlaylistSong
	cachePolicy string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		songs: map[string][]*domain.Song{},
		links: map[string][]*domain.PlaylistSong{},
	}
}

func (f *fakeRemote) assign(kind, localID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.created = append(f.created, kind+":"+localID)
	return id, nil
}

func (f *fakeRemote) update(kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, kind+":"+id)
	return nil
}

func (f *fakeRemote) remove(kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, kind+":"+id)
	return nil
}

func (f *fakeRemote) CreateLibrary(_ context.Context, lib *domain.Library) (string, error) {
	return f.assign("library", lib.ID)
}
func (f *fakeRemote) UpdateLibrary(_ context.Context, lib *domain.Library) error {
	return f.update("library", lib.ID)
}
func (f *fakeRemote) DeleteLibrary(_ context.Context, id string) error {
	return f.remove("library", id)
}
func (f *fakeRemote) CreatePlaylist(_ context.Context, pl *domain.Playlist) (string, error) {
	return f.assign("playlist", pl.ID)
}
func (f *fakeRemote) UpdatePlaylist(_ context.Context, pl *domain.Playlist) error {
	return f.update("playlist", pl.ID)
}
func (f *fakeRemote) DeletePlaylist(_ context.Context, id string) error {
	return f.remove("playlist", id)
}
func (f *fakeRemote) CreateSong(_ context.Context, song *domain.Song) (string, error) {
	return f.assign("song", song.ID)
}
func (f *fakeRemote) UpdateSong(_ context.Context, song *domain.Song) error {
	return f.update("song", song.ID)
}
func (f *fakeRemote) DeleteSong(_ context.Context, id string) error {
	return f.remove("song", id)
}
func (f *fakeRemote) AddPlaylistSong(_ context.Context, link *domain.PlaylistSong) error {
	return f.update("link-add", link.PlaylistID+"/"+link.SongID)
}
func (f *fakeRemote) UpdatePlaylistSong(_ context.Context, link *domain.PlaylistSong) error {
	return f.update("link", link.PlaylistID+"/"+link.SongID)
}
func (f *fakeRemote) RemovePlaylistSong(_ context.Context, playlistID, songID string) error {
	return f.remove("link", playlistID+"/"+songID)
}
func (f *fakeRemote) FetchLibraries(_ context.Context) ([]*domain.Library, error) {
	return f.libraries, nil
}
func (f *fakeRemote) FetchPlaylists(_ context.Context) ([]*domain.Playlist, error) {
	return f.playlists, nil
}
func (f *fakeRemote) FetchLibrarySongs(_ context.Context, libraryID string) ([]*domain.Song, error) {
	return f.songs[libraryID], nil
}
func (f *fakeRemote) FetchPlaylistSongs(_ context.Context, playlistID string) ([]*domain.PlaylistSong, error) {
	return f.links[playlistID], nil
}
func (f *fakeRemote) FetchCachePolicy(_ context.Context) (string, error) {
	return f.cachePolicy, nil
}

func setupSyncer(t *testing.T) (*Service, *store.DB, *fakeRemote) {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	session, err := auth.NewManager(store.NewSettingsRepo(db))
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}
	if err := session.SignIn("user-1", "token-1"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	remote := newFakeRemote()
	svc := NewService(db, remote, session, events.NewEmitter(), logger.Default())
	return svc, db, remote
}

func dirtyPlaylist(id, name string) *domain.Playlist {
	now := time.Now()
	pl := &domain.Playlist{
		ID: id, UserID: "user-1", Name: name, IsDeletable: true,
		CreatedAt: now, UpdatedAt: now,
	}
	domain.MarkDirty(domain.ModeAuthenticated, &pl.SyncMeta, true, now)
	return pl
}

// Scenario: a playlist created offline gets a server id on sync, its
// flags clear, and rows referencing the old id are rewritten.
func TestSync_LocalOnlyPlaylistGetsServerID(t *testing.T) {
	svc, db, _ := setupSyncer(t)
	ctx := context.Background()

	pl := dirtyPlaylist("local-pl", "Road Trip")
	if err := db.CreatePlaylist(pl); err != nil {
		t.Fatal(err)
	}
	link := &domain.PlaylistSong{PlaylistID: "local-pl", SongID: "song-1", AddedAt: time.Now()}
	if err := db.AddPlaylistSong(link); err != nil {
		t.Fatal(err)
	}

	res := svc.Sync(ctx)
	if res.Pushed == 0 || res.Failed != 0 {
		t.Fatalf("Unexpected result: %+v", res)
	}

	if old, _ := db.GetPlaylist("local-pl"); old != nil {
		t.Error("Old client id still present after remap")
	}
	synced, _ := db.GetPlaylist("srv-1")
	if synced == nil {
		t.Fatal("Playlist missing under server id")
	}
	if synced.IsDirty || synced.IsLocalOnly || synced.Name != "Road Trip" {
		t.Errorf("Expected clean synced playlist, got %+v", synced)
	}
	if moved, _ := db.GetPlaylistSong("srv-1", "song-1"); moved == nil {
		t.Error("Playlist link not rewritten to server id")
	}
}

func TestSync_GuestModeIsNoOp(t *testing.T) {
	svc, db, remote := setupSyncer(t)
	if err := svc.session.SignOut(); err != nil {
		t.Fatal(err)
	}
	if err := db.CreatePlaylist(dirtyPlaylist("p1", "P")); err != nil {
		t.Fatal(err)
	}

	res := svc.Sync(context.Background())
	if res != (Result{}) {
		t.Errorf("Expected empty result in guest mode, got %+v", res)
	}
	if len(remote.created) != 0 {
		t.Error("Guest sync must not touch the remote")
	}
}

func TestSync_UnreachableIsNoOp(t *testing.T) {
	svc, db, remote := setupSyncer(t)
	svc.SetReachableCheck(func() bool { return false })
	if err := db.CreatePlaylist(dirtyPlaylist("p1", "P")); err != nil {
		t.Fatal(err)
	}

	if res := svc.Sync(context.Background()); res != (Result{}) {
		t.Errorf("Expected empty result while unreachable, got %+v", res)
	}
	if len(remote.created) != 0 {
		t.Error("Unreachable sync must not touch the remote")
	}
}

func TestSync_RetryCounterDropsAfterMax(t *testing.T) {
	svc, db, remote := setupSyncer(t)
	remote.createErr = errors.New("backend exploded")
	ctx := context.Background()

	if err := db.CreatePlaylist(dirtyPlaylist("p1", "P")); err != nil {
		t.Fatal(err)
	}

	for i := 1; i < constants.MaxSyncAttempts; i++ {
		res := svc.Sync(ctx)
		if res.Failed != 1 {
			t.Fatalf("Cycle %d: expected 1 failed, got %+v", i, res)
		}
		pl, _ := db.GetPlaylist("p1")
		if pl.SyncAttempts != i || pl.SyncError == "" || !pl.IsDirty {
			t.Fatalf("Cycle %d: unexpected retry state %+v", i, pl.SyncMeta)
		}
	}

	res := svc.Sync(ctx)
	if res.Dropped != 1 {
		t.Fatalf("Expected drop on attempt %d, got %+v", constants.MaxSyncAttempts, res)
	}
	pl, _ := db.GetPlaylist("p1")
	if pl.IsDirty {
		t.Error("Dropped record must leave the queue")
	}
	if pl.Name != "P" {
		t.Error("Dropping must not destroy the record itself")
	}
}

func TestSync_ServerDeletedRecordRemovedLocally(t *testing.T) {
	svc, db, remote := setupSyncer(t)
	remote.updateErr = ErrGone
	ctx := context.Background()

	pl := dirtyPlaylist("srv-9", "Stale")
	pl.IsLocalOnly = false // known to the server, locally modified
	if err := db.CreatePlaylist(pl); err != nil {
		t.Fatal(err)
	}

	res := svc.Sync(ctx)
	if res.Pushed != 1 {
		t.Fatalf("Expected conflict handled as pushed, got %+v", res)
	}
	if got, _ := db.GetPlaylist("srv-9"); got != nil {
		t.Error("Server-deleted record must be removed locally")
	}
}

func TestSync_ReentrantCallReturnsEmpty(t *testing.T) {
	svc, _, _ := setupSyncer(t)

	svc.mu.Lock()
	svc.st = stateRunning
	svc.mu.Unlock()

	if res := svc.Sync(context.Background()); res != (Result{}) {
		t.Errorf("Expected empty result while running, got %+v", res)
	}
}

func TestPull_PreservesLocalCacheFields(t *testing.T) {
	svc, db, remote := setupSyncer(t)
	ctx := context.Background()

	now := time.Now()
	lib := &domain.Library{ID: "lib-1", UserID: "user-1", Name: "Lib", CachePolicy: domain.CachePolicyInherit, CreatedAt: now, UpdatedAt: now}
	if err := db.CreateLibrary(lib); err != nil {
		t.Fatal(err)
	}
	local := &domain.Song{
		ID: "s1", LibraryID: "lib-1", Title: "Old Title",
		FileHash: "localhash", IsCached: true, CacheSize: 12345, LastCacheCheck: 777,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := db.CreateSong(local); err != nil {
		t.Fatal(err)
	}

	remote.libraries = []*domain.Library{{ID: "lib-1", UserID: "user-1", Name: "Lib", CachePolicy: domain.CachePolicyInherit, CreatedAt: now, UpdatedAt: now}}
	remote.songs["lib-1"] = []*domain.Song{
		{ID: "s1", LibraryID: "lib-1", Title: "New Title", CreatedAt: now, UpdatedAt: now},
	}

	if err := svc.PullNow(ctx); err != nil {
		t.Fatalf("PullNow failed: %v", err)
	}

	got, _ := db.GetSong("s1")
	if got.Title != "New Title" {
		t.Errorf("Server metadata must win, got title %q", got.Title)
	}
	if !got.IsCached || got.CacheSize != 12345 || got.LastCacheCheck != 777 {
		t.Errorf("Cache fields clobbered: %+v", got)
	}
	if got.FileHash != "localhash" {
		t.Errorf("Local file hash must survive when server omits one, got %q", got.FileHash)
	}

	// A server-provided hash wins.
	remote.songs["lib-1"][0].FileHash = "serverhash"
	if err := svc.PullNow(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetSong("s1")
	if got.FileHash != "serverhash" {
		t.Errorf("Expected server hash to win, got %q", got.FileHash)
	}
}

func TestPull_Idempotent(t *testing.T) {
	svc, db, remote := setupSyncer(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	remote.libraries = []*domain.Library{{ID: "lib-1", UserID: "user-1", Name: "Lib", CachePolicy: domain.CachePolicyInherit, CreatedAt: now, UpdatedAt: now}}
	remote.songs["lib-1"] = []*domain.Song{
		{ID: "s1", LibraryID: "lib-1", Title: "Song", CreatedAt: now, UpdatedAt: now},
	}

	if err := svc.PullNow(ctx); err != nil {
		t.Fatal(err)
	}
	first, _ := db.GetSong("s1")

	if err := svc.PullNow(ctx); err != nil {
		t.Fatal(err)
	}
	second, _ := db.GetSong("s1")

	if *first != *second {
		t.Errorf("Pull is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	libs, _ := db.ListLibrariesByUser("user-1")
	if len(libs) != 1 {
		t.Errorf("Expected 1 library after repeated pulls, got %d", len(libs))
	}
}

func TestPull_GatedByInterval(t *testing.T) {
	svc, _, remote := setupSyncer(t)
	ctx := context.Background()

	base := time.Now()
	svc.now = func() time.Time { return base }

	if err := svc.Pull(ctx); err != nil {
		t.Fatal(err)
	}
	remote.libraries = []*domain.Library{{ID: "late", UserID: "user-1", Name: "Late", CachePolicy: domain.CachePolicyInherit, CreatedAt: base, UpdatedAt: base}}

	// Within the interval the gate holds.
	svc.now = func() time.Time { return base.Add(time.Minute) }
	if err := svc.Pull(ctx); err != nil {
		t.Fatal(err)
	}
	if libs, _ := svc.db.ListLibrariesByUser("user-1"); len(libs) != 0 {
		t.Error("Pull ran inside the gating interval")
	}

	// Past the interval it pulls again.
	svc.now = func() time.Time { return base.Add(constants.PullSyncInterval + time.Second) }
	if err := svc.Pull(ctx); err != nil {
		t.Fatal(err)
	}
	if libs, _ := svc.db.ListLibrariesByUser("user-1"); len(libs) != 1 {
		t.Error("Pull did not run after the gating interval elapsed")
	}
}

func TestPull_MirrorsAccountCachePolicy(t *testing.T) {
	svc, db, remote := setupSyncer(t)
	remote.cachePolicy = domain.CachePolicyEnabled

	if err := svc.PullNow(context.Background()); err != nil {
		t.Fatalf("PullNow: %v", err)
	}

	settings := store.NewSettingsRepo(db)
	got, err := settings.Get(store.SettingBackendCachePolicy)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != domain.CachePolicyEnabled {
		t.Errorf("Expected mirrored policy %q, got %q", domain.CachePolicyEnabled, got)
	}

	// A server with no opinion must not clobber the stored mirror.
	remote.cachePolicy = ""
	if err := svc.PullNow(context.Background()); err != nil {
		t.Fatalf("PullNow: %v", err)
	}
	if got, _ := settings.Get(store.SettingBackendCachePolicy); got != domain.CachePolicyEnabled {
		t.Errorf("Empty server policy clobbered the mirror: %q", got)
	}
}

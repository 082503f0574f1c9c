package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/harmonia-player/harmonia/internal/domain"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() {
		if cErr := db.Close(); cErr != nil {
			t.Logf("db.Close error: %v", cErr)
		}
	})
	return db
}

func testLibrary(id, userID string) *domain.Library {
	return &domain.Library{
		ID:          id,
		UserID:      userID,
		Name:        "Test Library",
		CachePolicy: domain.CachePolicyInherit,
		IsDeletable: true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func testSong(id, libID string) *domain.Song {
	return &domain.Song{
		ID:        id,
		LibraryID: libID,
		Title:     "Test Song " + id,
		Artist:    "Test Artist",
		Album:     "Test Album",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestDB_Libraries(t *testing.T) {
	db := setupTestDB(t)

	lib := testLibrary("lib-1", "user-1")
	if err := db.CreateLibrary(lib); err != nil {
		t.Fatalf("CreateLibrary failed: %v", err)
	}

	fetched, err := db.GetLibrary("lib-1")
	if err != nil {
		t.Fatalf("GetLibrary failed: %v", err)
	}
	if fetched == nil || fetched.Name != "Test Library" {
		t.Errorf("Expected library name %q, got %+v", "Test Library", fetched)
	}

	fetched.Name = "Renamed"
	domain.MarkDirty(domain.ModeAuthenticated, &fetched.SyncMeta, false, time.Now())
	if err := db.UpdateLibrary(fetched); err != nil {
		t.Fatalf("UpdateLibrary failed: %v", err)
	}

	dirty, err := db.ListDirtyLibraries()
	if err != nil {
		t.Fatalf("ListDirtyLibraries failed: %v", err)
	}
	if len(dirty) != 1 || dirty[0].Name != "Renamed" {
		t.Errorf("Expected 1 dirty library named Renamed, got %d", len(dirty))
	}

	libs, err := db.ListLibrariesByUser("user-1")
	if err != nil {
		t.Fatalf("ListLibrariesByUser failed: %v", err)
	}
	if len(libs) != 1 {
		t.Errorf("Expected 1 library for user-1, got %d", len(libs))
	}

	missing, err := db.GetLibrary("nope")
	if err != nil {
		t.Fatalf("GetLibrary(missing) errored: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for missing library, got %+v", missing)
	}
}

func TestDB_SoftDeleteLibraryCascade(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.CreateLibrary(testLibrary("lib-1", "user-1")); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		if err := db.CreateSong(testSong(id, "lib-1")); err != nil {
			t.Fatal(err)
		}
	}
	linked := &domain.Playlist{ID: "pl-1", UserID: "user-1", Name: "Linked", LinkedLibraryID: "lib-1", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := db.CreatePlaylist(linked); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UnixMilli()
	if err := db.SoftDeleteLibraryCascade(ctx, "lib-1", now); err != nil {
		t.Fatalf("SoftDeleteLibraryCascade failed: %v", err)
	}

	lib, _ := db.GetLibrary("lib-1")
	if lib == nil || !lib.IsDeleted || !lib.IsDirty {
		t.Errorf("Expected tombstoned dirty library, got %+v", lib)
	}
	for _, id := range []string{"s1", "s2", "s3"} {
		song, _ := db.GetSong(id)
		if song == nil || !song.IsDeleted {
			t.Errorf("Expected song %s tombstoned, got %+v", id, song)
		}
	}
	pl, _ := db.GetPlaylist("pl-1")
	if pl == nil || pl.LinkedLibraryID != "" {
		t.Errorf("Expected playlist unlinked, got %+v", pl)
	}
	if pl.IsDeleted {
		t.Error("Linked playlist must be unlinked, not deleted")
	}
}

func TestDB_HardDeleteLibraryCascade(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.CreateLibrary(testLibrary("lib-1", "guest")); err != nil {
		t.Fatal(err)
	}
	song := testSong("s1", "lib-1")
	song.FileHash = "abc"
	file := &domain.File{Hash: "abc", Size: 10, MimeType: "audio/mpeg", CreatedAt: time.Now()}
	if err := db.CreateSongWithFile(ctx, song, file); err != nil {
		t.Fatal(err)
	}

	if err := db.HardDeleteLibraryCascade(ctx, "lib-1"); err != nil {
		t.Fatalf("HardDeleteLibraryCascade failed: %v", err)
	}

	if lib, _ := db.GetLibrary("lib-1"); lib != nil {
		t.Errorf("Expected library physically removed, got %+v", lib)
	}
	if s, _ := db.GetSong("s1"); s != nil {
		t.Errorf("Expected song physically removed, got %+v", s)
	}
	if f, _ := db.GetFile("abc"); f != nil {
		t.Errorf("Expected unreferenced file removed, got %+v", f)
	}
}

func TestDB_RemapSongID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.CreateSong(testSong("local-1", "lib-1")); err != nil {
		t.Fatal(err)
	}
	ps := &domain.PlaylistSong{PlaylistID: "pl-1", SongID: "local-1", Position: 0, AddedAt: time.Now()}
	if err := db.AddPlaylistSong(ps); err != nil {
		t.Fatal(err)
	}
	if err := db.PutPlayerProgress(&domain.PlayerProgress{UserID: "user-1", SongID: "local-1"}); err != nil {
		t.Fatal(err)
	}

	if err := db.RemapSongID(ctx, "local-1", "srv-9"); err != nil {
		t.Fatalf("RemapSongID failed: %v", err)
	}

	if s, _ := db.GetSong("local-1"); s != nil {
		t.Error("Old song ID still present after remap")
	}
	if s, _ := db.GetSong("srv-9"); s == nil {
		t.Error("New song ID missing after remap")
	}
	link, _ := db.GetPlaylistSong("pl-1", "srv-9")
	if link == nil {
		t.Error("Playlist link not rewritten to new song ID")
	}
	prog, _ := db.GetPlayerProgress("user-1")
	if prog == nil || prog.SongID != "srv-9" {
		t.Errorf("Player progress not rewritten, got %+v", prog)
	}
}

func TestDB_PlaylistSongs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	pl := &domain.Playlist{ID: "pl-1", UserID: "u", Name: "P", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := db.CreatePlaylist(pl); err != nil {
		t.Fatal(err)
	}

	max, err := db.MaxPlaylistPosition("pl-1")
	if err != nil {
		t.Fatal(err)
	}
	if max != -1 {
		t.Errorf("Expected max position -1 for empty playlist, got %d", max)
	}

	for i, id := range []string{"a", "b", "c"} {
		ps := &domain.PlaylistSong{PlaylistID: "pl-1", SongID: id, Position: i, AddedAt: time.Now()}
		if err := db.AddPlaylistSong(ps); err != nil {
			t.Fatal(err)
		}
	}

	max, _ = db.MaxPlaylistPosition("pl-1")
	if max != 2 {
		t.Errorf("Expected max position 2, got %d", max)
	}

	if err := db.ReorderPlaylistSongs(ctx, "pl-1", []string{"c", "a", "b"}, time.Now().UnixMilli(), true); err != nil {
		t.Fatalf("ReorderPlaylistSongs failed: %v", err)
	}
	links, _ := db.ListPlaylistSongs("pl-1")
	if len(links) != 3 {
		t.Fatalf("Expected 3 links, got %d", len(links))
	}
	order := []string{links[0].SongID, links[1].SongID, links[2].SongID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], order[i])
		}
	}

	if err := db.RemovePlaylistSong(ctx, "pl-1", "a", false, 0); err != nil {
		t.Fatalf("RemovePlaylistSong failed: %v", err)
	}
	fetched, _ := db.GetPlaylist("pl-1")
	if fetched.SongCount != 2 {
		t.Errorf("Expected song_count 2 after removal, got %d", fetched.SongCount)
	}
}

func TestDB_Reset(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.CreateLibrary(testLibrary("lib-1", "u")); err != nil {
		t.Fatal(err)
	}
	settings := NewSettingsRepo(db)
	if err := settings.Set("k", "v"); err != nil {
		t.Fatal(err)
	}

	if err := db.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	if lib, _ := db.GetLibrary("lib-1"); lib != nil {
		t.Error("Library survived Reset")
	}
	if v, _ := settings.Get("k"); v != "" {
		t.Error("Setting survived Reset")
	}
}

func TestDB_SetSongCacheStatusDoesNotDirty(t *testing.T) {
	db := setupTestDB(t)

	if err := db.CreateSong(testSong("s1", "lib-1")); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSongCacheStatus("s1", true, 12345, time.Now().UnixMilli()); err != nil {
		t.Fatalf("SetSongCacheStatus failed: %v", err)
	}

	song, _ := db.GetSong("s1")
	if !song.IsCached || song.CacheSize != 12345 {
		t.Errorf("Cache status not recorded: %+v", song)
	}
	if song.IsDirty {
		t.Error("Cache status update must not mark the song dirty")
	}
}

func TestSettingsRepo(t *testing.T) {
	db := setupTestDB(t)
	r := NewSettingsRepo(db)

	if v, err := r.Get("missing"); err != nil || v != "" {
		t.Errorf("Expected empty value for missing key, got %q err %v", v, err)
	}
	if err := r.Set("timing", "wifi-only"); err != nil {
		t.Fatal(err)
	}
	if err := r.Set("timing", "always"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Get("timing"); v != "always" {
		t.Errorf("Expected overwritten value always, got %q", v)
	}
	if err := r.Delete("timing"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Get("timing"); v != "" {
		t.Errorf("Expected deleted key to read empty, got %q", v)
	}
}

func TestDB_RunInTxRollback(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := db.RunInTx(ctx, func(tx *sqlx.Tx) error {
		if _, execErr := tx.Exec(`UPDATE libraries SET name = 'changed'`); execErr != nil {
			return execErr
		}
		if _, execErr := tx.Exec(`INSERT INTO settings (key, value) VALUES ('tx-key', 'tx-val')`); execErr != nil {
			return execErr
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected fn error to surface, got %v", err)
	}

	if v, _ := NewSettingsRepo(db).Get("tx-key"); v != "" {
		t.Errorf("Expected rollback to discard insert, got %q", v)
	}
}

package domain

import (
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMarkDirty_Authenticated(t *testing.T) {
	var m SyncMeta

	MarkDirty(ModeAuthenticated, &m, false, testNow)
	if !m.IsDirty {
		t.Error("expected IsDirty=true")
	}
	if m.IsLocalOnly {
		t.Error("expected IsLocalOnly=false for non-new record")
	}
	if m.LastModifiedAt != testNow.UnixMilli() {
		t.Errorf("expected LastModifiedAt %d, got %d", testNow.UnixMilli(), m.LastModifiedAt)
	}

	var fresh SyncMeta
	MarkDirty(ModeAuthenticated, &fresh, true, testNow)
	if !fresh.IsLocalOnly {
		t.Error("expected IsLocalOnly=true for new record")
	}
}

func TestMarkDirty_GuestNeverDirty(t *testing.T) {
	cases := []struct {
		name  string
		prior SyncMeta
		isNew bool
	}{
		{"fresh", SyncMeta{}, false},
		{"fresh new", SyncMeta{}, true},
		{"previously deleted", SyncMeta{IsDeleted: true}, false},
	}

	for _, tc := range cases {
		m := tc.prior
		MarkDirty(ModeGuest, &m, tc.isNew, testNow)
		if m.IsDirty {
			t.Errorf("%s: guest MarkDirty set IsDirty", tc.name)
		}
		if m.IsLocalOnly {
			t.Errorf("%s: guest MarkDirty set IsLocalOnly", tc.name)
		}
	}
}

func TestMarkDeleted(t *testing.T) {
	var m SyncMeta
	MarkDeleted(ModeAuthenticated, &m, testNow)
	if !m.IsDeleted {
		t.Error("expected IsDeleted=true")
	}
	if !m.IsDirty {
		t.Error("expected IsDirty=true for authenticated delete")
	}

	var g SyncMeta
	MarkDeleted(ModeGuest, &g, testNow)
	if !g.IsDeleted {
		t.Error("expected IsDeleted=true for guest delete")
	}
	if g.IsDirty {
		t.Error("guest MarkDeleted set IsDirty")
	}
}

// Sync always wins over pending local flags, and content fields are
// untouched by the whole mark sequence.
func TestMarkSynced_WinsOverPendingFlags(t *testing.T) {
	song := Song{
		ID:        "song-1",
		LibraryID: "lib-1",
		Title:     "Blue in Green",
		Artist:    "Miles Davis",
	}

	MarkDeleted(ModeAuthenticated, &song.SyncMeta, testNow)
	MarkDirty(ModeAuthenticated, &song.SyncMeta, true, testNow)
	MarkSynced(&song.SyncMeta, testNow)

	if song.IsDirty || song.IsDeleted || song.IsLocalOnly {
		t.Errorf("expected all flags cleared, got %+v", song.SyncMeta)
	}
	if song.ID != "song-1" || song.Title != "Blue in Green" || song.Artist != "Miles Davis" {
		t.Errorf("content fields changed: %+v", song)
	}
}

func TestMarkSynced_Idempotent(t *testing.T) {
	m := SyncMeta{IsDirty: true, IsDeleted: true, IsLocalOnly: true, SyncAttempts: 3, SyncError: "boom"}
	MarkSynced(&m, testNow)
	first := m
	MarkSynced(&m, testNow)
	if m != first {
		t.Errorf("second MarkSynced changed state: %+v vs %+v", m, first)
	}
}

package mediacache

import (
	"io"
	"os"
	"strings"
	"testing"
)

func setupCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return c
}

func TestCache_PutGet(t *testing.T) {
	c := setupCache(t)

	n, err := c.Put("/api/songs/s1/stream", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if n != int64(len("audio-bytes")) {
		t.Errorf("Expected %d bytes written, got %d", len("audio-bytes"), n)
	}

	r, size, err := c.Get("/api/songs/s1/stream")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer r.Close()
	if size != n {
		t.Errorf("Expected size %d, got %d", n, size)
	}
	data, _ := io.ReadAll(r)
	if string(data) != "audio-bytes" {
		t.Errorf("Expected audio-bytes, got %q", data)
	}
}

func TestCache_MissingEntry(t *testing.T) {
	c := setupCache(t)

	if c.Exists("/api/songs/nope/stream") {
		t.Error("Exists reported true for missing entry")
	}
	if _, _, err := c.Get("/api/songs/nope/stream"); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestCache_DeleteIdempotent(t *testing.T) {
	c := setupCache(t)

	if _, err := c.PutBytes("k", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if c.Exists("k") {
		t.Error("Entry survived Delete")
	}
	if err := c.Delete("k"); err != nil {
		t.Errorf("Second Delete should be a no-op, got %v", err)
	}
}

func TestCache_ClearAndSize(t *testing.T) {
	c := setupCache(t)

	c.PutBytes("a", []byte("12345"))
	c.PutBytes("b", []byte("678"))

	size, err := c.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if size != 8 {
		t.Errorf("Expected total size 8, got %d", size)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	size, _ = c.Size()
	if size != 0 {
		t.Errorf("Expected empty cache after Clear, got %d bytes", size)
	}
	if c.Exists("a") || c.Exists("b") {
		t.Error("Entries survived Clear")
	}
}

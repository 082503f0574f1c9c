// Package mediacache stores downloaded media blobs on disk, keyed by the
// canonical URL the player would fetch them from. Keys are hashed so URL
// characters never leak into the filesystem.
package mediacache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/harmonia-player/harmonia/internal/constants"
)

type Cache struct {
	root string
}

func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, constants.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Cache{root: root}, nil
}

func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	// Two-level fanout keeps directory listings manageable.
	return filepath.Join(c.root, name[:2], name)
}

// Put streams the blob to a temp file first so a crash mid-write never
// leaves a truncated entry behind.
func (c *Cache) Put(key string, r io.Reader) (int64, error) {
	dst := c.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), constants.DirPermissions); err != nil {
		return 0, fmt.Errorf("failed to create cache subdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to commit cache entry: %w", err)
	}
	return n, nil
}

func (c *Cache) PutBytes(key string, data []byte) (int64, error) {
	return c.Put(key, bytes.NewReader(data))
}

// Get opens the cached blob. Returns os.ErrNotExist when missing.
func (c *Cache) Get(key string) (io.ReadCloser, int64, error) {
	f, err := os.Open(c.path(key))
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (c *Cache) Exists(key string) bool {
	_, err := os.Stat(c.path(key))
	return err == nil
}

// Delete is idempotent. Removing an absent entry is not an error.
func (c *Cache) Delete(key string) error {
	err := os.Remove(c.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Clear drops every cached blob but keeps the root directory.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("failed to list cache dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
	}
	return nil
}

// Size walks the cache and sums entry sizes. Partial temp files are
// skipped; they are not committed entries.
func (c *Cache) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Base(path)[0] == '.' {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure cache: %w", err)
	}
	return total, nil
}

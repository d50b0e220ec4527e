// Package cache is a file-based TTL store for prior search results. Each
// entry is one file named by a content hash of its key; the TTL sidecar is
// the file's modification time, so entries survive restarts and are shared
// by every pipeline in the process.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultTTL = 6 * time.Hour

// Key derives the stable cache key for a (lat, lng, zoom, keyword) search.
// Coordinates are rounded to 4 decimal places so near-duplicate cells
// coalesce onto the same entry.
func Key(lat, lng float64, zoom int, keyword string) string {
	raw := fmt.Sprintf("%.4f:%.4f:%d:%s", lat, lng, zoom, strings.ToLower(keyword))
	sum := md5.Sum([]byte(raw))

	return hex.EncodeToString(sum[:])
}

// Store is a TTL-keyed file cache.
type Store struct {
	dir string
	ttl time.Duration
}

func New(dir string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	return &Store{dir: dir, ttl: ttl}, nil
}

// Get returns the cached value for key, or false on a miss. An expired entry
// is removed and reported as a miss.
func (s *Store) Get(key string) ([]byte, bool) {
	path := s.path(key)

	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	if time.Since(info.ModTime()) > s.ttl {
		_ = os.Remove(path)

		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	return data, true
}

// Set stores value under key. Failures are swallowed: the cache is an
// optimization, never a correctness dependency.
func (s *Store) Set(key string, value []byte) {
	path := s.path(key)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return
	}

	_ = os.Rename(tmp, path)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	key := Key(40.12345678, -74.98765432, 14, "Coffee Shops")

	// Keyword case does not split the cache.
	assert.Equal(t, key, Key(40.12345678, -74.98765432, 14, "coffee shops"))

	// Coordinates differing past the 4th decimal coalesce.
	assert.Equal(t, key, Key(40.12345111, -74.98765999, 14, "coffee shops"))

	// A different zoom is a different entry.
	assert.NotEqual(t, key, Key(40.12345678, -74.98765432, 15, "coffee shops"))

	assert.Len(t, key, 32)
}

func TestStoreRoundtrip(t *testing.T) {
	store, err := New(t.TempDir(), time.Hour)
	require.NoError(t, err)

	key := Key(1, 2, 14, "pizza")

	_, ok := store.Get(key)
	assert.False(t, ok)

	store.Set(key, []byte(`[{"name":"Mario's"}]`))

	data, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, `[{"name":"Mario's"}]`, string(data))
}

func TestStoreExpiry(t *testing.T) {
	dir := t.TempDir()

	store, err := New(dir, time.Hour)
	require.NoError(t, err)

	key := Key(1, 2, 14, "pizza")
	store.Set(key, []byte(`[]`))

	// Age the entry past its TTL.
	stale := time.Now().Add(-2 * time.Hour)
	path := filepath.Join(dir, key+".json")
	require.NoError(t, os.Chtimes(path, stale, stale))

	_, ok := store.Get(key)
	assert.False(t, ok)

	// The expired file is gone.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStoreDefaultTTL(t *testing.T) {
	store, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, store.ttl)
}

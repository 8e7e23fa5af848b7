// Copyright 2023 Crosslane
// SPDX-License-Identifier: LGPL-3.0-only

package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslane/relayer/bridge/storage"
)

func TestMemoryStore(t *testing.T) {
	store := storage.NewMemoryStore()

	_, ok, err := store.Get([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Insert([]byte("a"), []byte{1, 2}))
	value, ok, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, value)

	// mutating the returned slice must not leak into the store
	value[0] = 9
	value, _, _ = store.Get([]byte("a"))
	assert.Equal(t, []byte{1, 2}, value)

	require.NoError(t, store.Remove([]byte("a")))
	_, ok, err = store.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLevelDBStore(t *testing.T) {
	path := t.TempDir() + "/ledger"
	store, err := storage.NewLevelDBStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Insert([]byte("a"), []byte{1, 2}))
	require.NoError(t, store.Close())

	// state survives a reopen
	store, err = storage.NewLevelDBStore(path)
	require.NoError(t, err)
	defer store.Close()

	value, ok, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2}, value)

	require.NoError(t, store.Remove([]byte("a")))
	_, ok, err = store.Get([]byte("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLevelDBStoreInMemory(t *testing.T) {
	store, err := storage.NewLevelDBStore("")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert([]byte("k"), []byte("v")))
	value, ok, err := store.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestOverlayBuffersWrites(t *testing.T) {
	base := storage.NewMemoryStore()
	require.NoError(t, base.Insert([]byte("kept"), []byte("old")))

	overlay := storage.NewOverlay(base)
	require.NoError(t, overlay.Insert([]byte("new"), []byte("value")))
	require.NoError(t, overlay.Remove([]byte("kept")))

	// base is untouched until Commit
	_, ok, err := base.Get([]byte("new"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, _ = base.Get([]byte("kept"))
	assert.True(t, ok)

	// the overlay itself sees its own writes
	value, ok, err := overlay.Get([]byte("new"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), value)
	_, ok, err = overlay.Get([]byte("kept"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, overlay.Commit())

	value, ok, err = base.Get([]byte("new"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), value)
	_, ok, _ = base.Get([]byte("kept"))
	assert.False(t, ok)
}

func TestOverlayInsertAfterRemove(t *testing.T) {
	base := storage.NewMemoryStore()
	require.NoError(t, base.Insert([]byte("k"), []byte("one")))

	overlay := storage.NewOverlay(base)
	require.NoError(t, overlay.Remove([]byte("k")))
	require.NoError(t, overlay.Insert([]byte("k"), []byte("two")))
	require.NoError(t, overlay.Commit())

	value, ok, err := base.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("two"), value)
}

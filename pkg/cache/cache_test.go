package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stoday/simplechat/pkg/chat"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := New(t.TempDir())

	conversations := []chat.Conversation{
		{ID: 2, Title: "Second", UpdatedAt: "2026-08-30T10:00:00Z"},
		{ID: 1, Title: "First", UpdatedAt: "2026-08-29T10:00:00Z"},
	}
	require.NoError(t, store.Save(conversations))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, int64(2), loaded[0].ID)
	require.Equal(t, "Second", loaded[0].Title)
}

func TestLoadMissingSnapshotReturnsNil(t *testing.T) {
	store := New(t.TempDir())

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	store := New(dir)

	require.NoError(t, store.Save([]chat.Conversation{{ID: 1, Title: "One"}}))

	_, err := os.Stat(filepath.Join(dir, "conversations.json"))
	require.NoError(t, err)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	store := New(t.TempDir())

	require.NoError(t, store.Save([]chat.Conversation{{ID: 1, Title: "Old"}}))
	require.NoError(t, store.Save([]chat.Conversation{{ID: 2, Title: "New"}}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "New", loaded[0].Title)
}

func TestLoadCorruptSnapshotErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conversations.json"), []byte("{broken"), 0o644))

	_, err := New(dir).Load()
	require.Error(t, err)
}

func TestClientSideFlagsAreNotPersisted(t *testing.T) {
	store := New(t.TempDir())

	require.NoError(t, store.Save([]chat.Conversation{{ID: 1, Title: "One", Active: true, Offline: true}}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.False(t, loaded[0].Active)
	require.False(t, loaded[0].Offline)
}

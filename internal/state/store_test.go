package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveAndLoad(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store := NewFileStore(tmpDir)
	ctx := context.Background()

	syncTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	original := &SyncState{
		Revision:     "abc123def456",
		LastSyncTime: &syncTime,
		LastOutcome:  "success",
		CycleCount:   42,
	}

	require.NoError(t, store.Save(ctx, original))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	t.Parallel()

	store := NewFileStore(t.TempDir())
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SyncState{}, loaded)
}

func TestFileStoreLoadCorruptFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, StateFileName), []byte("{not json"), 0600))

	store := NewFileStore(tmpDir)
	_, err := store.Load(context.Background())
	require.Error(t, err)
}

func TestFileStoreCreatesDirectory(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "deeper", "state")
	store := NewFileStore(nested)

	require.NoError(t, store.Save(context.Background(), &SyncState{Revision: "r1"}))

	info, err := os.Stat(filepath.Join(nested, StateFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStoreSaveOverwritesAtomically(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store := NewFileStore(tmpDir)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &SyncState{Revision: "old", InProgress: true}))
	require.NoError(t, store.Save(ctx, &SyncState{Revision: "new"}))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", loaded.Revision)
	assert.False(t, loaded.InProgress)

	// No leftover temp file after a successful save.
	_, err = os.Stat(filepath.Join(tmpDir, StateFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

// Package state persists sync state across daemon restarts.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// StateFileName is the name of the state file
	StateFileName = "state.json"
)

// SyncState is the persisted record of the last sync. The revision is
// written only after a full mirror apply, so a state file restored after a
// crash never claims content the mirror does not hold.
type SyncState struct {
	// Revision is the last committed revision
	Revision string `json:"revision,omitempty"`

	// LastSyncTime is the timestamp of the last completed cycle
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`

	// LastOutcome records how the last cycle ended
	LastOutcome string `json:"lastOutcome,omitempty"`

	// LastError holds the error of the last failed cycle
	LastError string `json:"lastError,omitempty"`

	// InProgress marks a cycle that started but has not recorded an
	// outcome yet. Found set on startup, it means the previous run was
	// interrupted.
	InProgress bool `json:"inProgress,omitempty"`

	// CycleCount is the number of cycles run since the state file was created
	CycleCount uint64 `json:"cycleCount,omitempty"`
}

// Store defines the interface for sync state persistence
type Store interface {
	// Save writes the sync state to persistent storage
	Save(ctx context.Context, state *SyncState) error

	// Load reads the sync state from persistent storage.
	// Returns an empty SyncState if no state exists yet (first run).
	Load(ctx context.Context) (*SyncState, error)
}

// fileStore implements Store using the local filesystem
type fileStore struct {
	path string
}

// NewFileStore creates a file-based state store rooted at dir
func NewFileStore(dir string) Store {
	return &fileStore{
		path: filepath.Join(dir, StateFileName),
	}
}

// Save writes the sync state to a JSON file
func (f *fileStore) Save(_ context.Context, state *SyncState) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Marshal state to JSON with pretty printing for readability
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state data: %w", err)
	}

	// Write to temporary file first for atomic operation
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, f.path); err != nil {
		// Clean up temp file on error
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

// Load reads the sync state from a JSON file.
// Returns an empty SyncState if the file doesn't exist.
func (f *fileStore) Load(_ context.Context) (*SyncState, error) {
	// #nosec G304 -- path is constructed from the configured state directory
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist - this is OK for first run
			return &SyncState{}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state data: %w", err)
	}

	return &state, nil
}

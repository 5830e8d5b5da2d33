package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// stateFile is the on-disk envelope for a persisted EntryState.
type stateFile struct {
	Version int        `json:"version"`
	Entries EntryState `json:"entries"`
}

const stateFileVersion = 1

// Store persists EntryState as a JSON snapshot file so calendar identity
// survives restarts. Without it every restart would re-add all current
// events as duplicates.
type Store struct {
	path string
}

// NewStore creates a Store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted state. A missing file is not an error and yields
// an empty state, so first runs start from scratch.
func (s *Store) Load() (EntryState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return EntryState{}, nil
		}
		return nil, fmt.Errorf("read calendar state: %w", err)
	}

	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode calendar state: %w", err)
	}
	if file.Entries == nil {
		return EntryState{}, nil
	}
	return file.Entries, nil
}

// Save writes the state atomically: the snapshot goes to a temp file in the
// same directory and is renamed over the previous one, so a crash mid-write
// never leaves a truncated state file.
func (s *Store) Save(state EntryState) error {
	data, err := json.MarshalIndent(stateFile{Version: stateFileVersion, Entries: state}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode calendar state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".calendar-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write calendar state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace calendar state: %w", err)
	}
	return nil
}

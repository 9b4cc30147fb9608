// Package persist implements the atomic write-temp-then-rename
// discipline every persisted file in the engine follows: each stateful
// component owns exactly one JSON file and re-serializes through an
// AtomicWriter on every externally-visible mutation.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriter serializes a single component's state to one file on
// disk, guaranteeing that readers never observe a half-written file: it
// writes to a temp file in the same directory and renames over the live
// path, so a partial write never replaces good data.
type AtomicWriter struct {
	path string
}

// NewAtomicWriter returns a writer for the given file path, creating its
// parent directory if necessary.
func NewAtomicWriter(path string) (*AtomicWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &AtomicWriter{path: path}, nil
}

// WriteJSON marshals v and atomically replaces the live file.
func (w *AtomicWriter) WriteJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	// Every exit path below either renames tmpPath over w.path or removes
	// it; a partial write never replaces the live file.
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return fmt.Errorf("failed to rename temp file into place: %w", err)
	}
	return nil
}

// ReadJSON loads and unmarshals the file into v. A missing or empty
// file is not an error: v is left unmodified and ok is false so the
// caller can start empty.
func ReadJSON(path string, v interface{}) (ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return true, nil
}

// Package status publishes a periodic JSON snapshot of the runtime state for
// the terminal monitor and other local readers.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
)

// FileName is the snapshot file name inside the runtime directory.
const FileName = "status.json"

type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: strings.TrimSpace(path)}
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Read() (Snapshot, error) {
	if s == nil || s.path == "" {
		return Snapshot{}, errors.New("status path is empty")
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return Snapshot{}, err
	}
	var out Snapshot
	if err := json.Unmarshal(b, &out); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return out, nil
}

// Write replaces the snapshot file atomically. Writers on the same path are
// serialized through a sidecar lock file.
func (s *Store) Write(snap Snapshot) error {
	if s == nil || s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir status dir: %w", err)
	}

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("lock status: %w", err)
	}
	defer unlock()

	if snap.UpdatedAt == "" {
		snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := renameio.WriteFile(s.path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("replace status: %w", err)
	}
	return nil
}

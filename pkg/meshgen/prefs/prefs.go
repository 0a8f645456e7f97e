// Package prefs persists the last-used inputs and parameters as a small
// flat JSON document.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/meshgen/pkg/meshgen/params"
)

// ErrCorrupt is returned by Load when the file exists but cannot be decoded.
// The returned preferences are the defaults in that case.
var ErrCorrupt = errors.New("preferences file is corrupt")

// Preferences is what is remembered between sessions.
type Preferences struct {
	LastInput string `json:"input_path" yaml:"input_path"`
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	params.Params `yaml:",inline"`

	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Default returns preferences with default parameters and no paths.
func Default() Preferences {
	return Preferences{Params: params.Default()}
}

// Store reads and writes preferences at a fixed path.
type Store struct {
	path string
}

// New returns a store for the given file path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("preferences path cannot be empty")
	}
	return &Store{path: path}, nil
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the preferences. A missing file yields the defaults without
// error. Values outside their valid range are pulled back into range.
func (s *Store) Load() (Preferences, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("read preferences: %w", err)
	}

	p := Default()
	if err := json.Unmarshal(data, &p); err != nil {
		return Default(), fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	p.Normalize()
	return p, nil
}

// Save writes p atomically, creating the parent directory if needed.
func (s *Store) Save(p Preferences) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preferences dir: %w", err)
	}

	p.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".preferences-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close preferences: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename preferences: %w", err)
	}
	return nil
}

// Reset removes the file. Removing a missing file is not an error.
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove preferences: %w", err)
	}
	return nil
}

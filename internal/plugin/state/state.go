// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

// Package state persists each plugin's enabled flag across host restarts.
package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
)

// CodeStateIO is the oops code for persisted-state read/write failures.
// Callers downgrade these to warnings; a transition already made in
// memory is never rolled back because persistence failed.
const CodeStateIO = "STATE_IO"

// Filename is the backing file name under the data directory.
const Filename = "plugins.json"

// Store is a durable mapping of plugin name to enabled flag, backed by a
// single JSON file. Absence of an entry means "enabled by default";
// presence with false suppresses auto-enable at discovery time.
//
// Every mutation is a read-modify-write of the whole file, serialized by
// an internal lock so concurrent transitions on unrelated plugins cannot
// lose updates.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by dir/plugins.json.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, Filename)}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the full mapping. A missing backing file is an empty
// mapping (fresh install), not an error.
func (s *Store) Load() (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// SetEnabled records the enabled flag for a plugin.
func (s *Store) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	m[name] = enabled
	return s.writeLocked(m)
}

// Remove deletes a plugin's entry. Removing an absent entry is a no-op.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := m[name]; !ok {
		return nil
	}
	delete(m, name)
	return s.writeLocked(m)
}

func (s *Store) loadLocked() (map[string]bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]bool), nil
		}
		return nil, oops.Code(CodeStateIO).With("operation", "read").With("path", s.path).Wrap(err)
	}

	m := make(map[string]bool)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, oops.Code(CodeStateIO).With("operation", "parse").With("path", s.path).Wrap(err)
	}
	return m, nil
}

// writeLocked writes the mapping atomically: temp file in the same
// directory, then rename over the target.
func (s *Store) writeLocked(m map[string]bool) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return oops.Code(CodeStateIO).With("operation", "marshal").Wrap(err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Code(CodeStateIO).With("operation", "mkdir").With("path", dir).Wrap(err)
	}

	tmp, err := os.CreateTemp(dir, Filename+".tmp-*")
	if err != nil {
		return oops.Code(CodeStateIO).With("operation", "write").With("path", s.path).Wrap(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		os.Remove(tmpName)
		return oops.Code(CodeStateIO).With("operation", "write").With("path", s.path).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return oops.Code(CodeStateIO).With("operation", "close").With("path", s.path).Wrap(err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return oops.Code(CodeStateIO).With("operation", "rename").With("path", s.path).Wrap(err)
	}
	return nil
}

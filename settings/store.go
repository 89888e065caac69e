package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// file is the on-disk layout of the settings file.
type file struct {
	Printers []PrinterConfig `json:"printers"`
}

// Store is a JSON-file backed list of printer settings indexed by slot.
type Store struct {
	mu       sync.RWMutex
	path     string
	printers []PrinterConfig
}

// Open loads the settings file at path, creating it with n default slots
// if it does not exist. A file with fewer than n slots is padded with
// defaults; extra slots are kept but not reported by Printers.
func Open(path string, n int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating settings directory: %w", err)
		}
	}

	s := &Store{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Fresh install.
	case err != nil:
		return nil, fmt.Errorf("reading settings: %w", err)
	default:
		var f file
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing settings %s: %w", path, err)
		}
		s.printers = f.Printers
	}

	missing := len(s.printers) < n
	for len(s.printers) < n {
		s.printers = append(s.printers, Default())
	}
	if missing {
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Printers returns a copy of the first n printer settings.
func (s *Store) Printers(n int) []PrinterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.printers) {
		n = len(s.printers)
	}
	out := make([]PrinterConfig, n)
	copy(out, s.printers[:n])
	return out
}

// Get returns the settings of slot i.
func (s *Store) Get(i int) (PrinterConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.printers) {
		return PrinterConfig{}, false
	}
	return s.printers[i], true
}

// Set replaces the settings of slot i and persists the file.
func (s *Store) Set(i int, c PrinterConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.printers) {
		return fmt.Errorf("printer index %d out of range [0,%d)", i, len(s.printers))
	}
	s.printers[i] = c
	return s.save()
}

// save writes the file atomically. Callers hold mu or own s exclusively.
func (s *Store) save() error {
	data, err := json.MarshalIndent(file{Printers: s.printers}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

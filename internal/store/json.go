package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// DefaultPath is the record file written when none is configured.
const DefaultPath = "output.json"

// JSONStore implements crawler.RecordSink on a single JSON file.
type JSONStore struct {
	mu      sync.Mutex
	path    string
	records []crawler.PostRecord
}

// New opens the store. Records already in path are kept so the previous
// run stays readable until the next Reset; a missing file is created as an
// empty array.
func New(path string) (*JSONStore, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create record dir: %w", err)
		}
	}
	s := &JSONStore{path: path}
	records, err := Load(path)
	switch {
	case err == nil:
		s.records = records
		return s, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file the store writes.
func (s *JSONStore) Path() string {
	return s.path
}

// Append adds a record and rewrites the file.
func (s *JSONStore) Append(_ context.Context, record crawler.PostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	if err := s.flush(); err != nil {
		s.records = s.records[:len(s.records)-1]
		return err
	}
	return nil
}

// Reset drops every record and truncates the file. It is called when a new
// run starts.
func (s *JSONStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	return s.flush()
}

// Records returns a copy of the stored records in append order.
func (s *JSONStore) Records() []crawler.PostRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.PostRecord(nil), s.records...)
}

// Len reports how many records are stored.
func (s *JSONStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// flush must be called with mu held.
func (s *JSONStore) flush() error {
	records := s.records
	if records == nil {
		records = []crawler.PostRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	return writeAtomic(s.path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Load reads a record file written by JSONStore.
func Load(path string) ([]crawler.PostRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	var records []crawler.PostRecord
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

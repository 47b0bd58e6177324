// Package local archives run artifacts under a directory on disk.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore writes artifacts below a base directory.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and checks that it is writable.
func New(baseDir string) (*BlobStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create archive directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat archive directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("archive path %s is not a directory", baseDir)
	}

	scratch, err := os.CreateTemp(baseDir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("archive directory is not writable: %w", err)
	}
	_ = scratch.Close()
	if err := os.Remove(scratch.Name()); err != nil {
		return nil, fmt.Errorf("remove scratch file: %w", err)
	}
	return &BlobStore{baseDir: baseDir}, nil
}

// PutObject writes data to name below the base directory and returns a
// file:// URI. Names escaping the base directory are rejected.
func (s *BlobStore) PutObject(_ context.Context, name, _ string, data []byte) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	base := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(base, name))
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("object name %q escapes archive directory", name)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", full, err)
	}
	return "file://" + full, nil
}

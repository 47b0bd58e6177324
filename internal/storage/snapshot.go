// Package storage archives run artifacts (the record file and the alert
// report) to a blob store once a crawl finishes.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// BlobStore writes a single object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// Snapshotter uploads run artifacts under a dated, per-run prefix.
type Snapshotter struct {
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// NewSnapshotter wraps store. prefix may be empty.
func NewSnapshotter(store BlobStore, prefix string, logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{store: store, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// ObjectName returns the object key for file within a run:
// {prefix}/{yyyy}/{mm}/{dd}/{runID}/{base(file)}.
func (s *Snapshotter) ObjectName(runID string, startedAt time.Time, file string) string {
	parts := []string{startedAt.Format("2006/01/02"), runID, filepath.Base(file)}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

// Upload copies each file to the store. Missing files are skipped; other
// failures are joined so one bad artifact does not block the rest.
func (s *Snapshotter) Upload(ctx context.Context, runID string, startedAt time.Time, files ...string) ([]string, error) {
	var (
		uris []string
		errs []error
	)
	for _, file := range files {
		if file == "" {
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				s.logger.Debug("snapshot source missing", zap.String("file", file))
				continue
			}
			errs = append(errs, fmt.Errorf("read %s: %w", file, err))
			continue
		}
		name := s.ObjectName(runID, startedAt, file)
		uri, err := s.store.PutObject(ctx, name, contentType(file), data)
		if err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", name, err))
			continue
		}
		s.logger.Info("snapshot uploaded", zap.String("uri", uri), zap.Int("bytes", len(data)))
		uris = append(uris, uri)
	}
	return uris, errors.Join(errs...)
}

func contentType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

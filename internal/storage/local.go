package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Local stores artifacts as files in a directory.
type Local struct {
	dir    string
	logger *zap.Logger
}

// NewLocal creates a local directory store.
func NewLocal(dir string, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{dir: dir, logger: logger}
}

// Put writes data to a temporary file and hard-links it into place, so the
// artifact appears complete or not at all and an existing one is never
// replaced.
func (l *Local) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}
	dst := filepath.Join(l.dir, name)

	tmp, err := os.CreateTemp(l.dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close report: %w", err)
	}

	if err := os.Link(tmp.Name(), dst); err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: %s", ErrExists, dst)
		}
		return "", fmt.Errorf("failed to install report: %w", err)
	}
	l.logger.Info("report stored", zap.String("path", dst), zap.Int("bytes", len(data)))
	return dst, nil
}

// Latest returns the newest artifact in the directory.
func (l *Local) Latest(ctx context.Context) (string, []byte, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to list reports: %w", err)
	}

	latest := ""
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if name > latest {
			latest = name
		}
	}
	if latest == "" {
		return "", nil, ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(l.dir, latest))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read report: %w", err)
	}
	return latest, data, nil
}

// Package storage persists finished reports as immutable, timestamp-named
// artifacts.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"regaudit/internal/config"
)

var (
	// ErrExists means an artifact with the same name is already stored.
	// Artifacts are never overwritten.
	ErrExists = errors.New("report artifact already exists")
	// ErrNotFound means no artifact has been stored yet.
	ErrNotFound = errors.New("no report artifact found")
)

// Storage stores report artifacts.
type Storage interface {
	// Put stores data under name and returns its location. It fails with
	// ErrExists rather than replace an existing artifact.
	Put(ctx context.Context, name string, data []byte) (string, error)
	// Latest returns the name and content of the artifact whose name sorts
	// last.
	Latest(ctx context.Context) (string, []byte, error)
}

// New creates the storage configured in cfg.
func New(ctx context.Context, cfg config.ReportsConfig, logger *zap.Logger) (Storage, error) {
	switch cfg.Storage {
	case "", "local":
		return NewLocal(cfg.Dir, logger), nil
	case "s3":
		return NewS3(ctx, S3Config{Bucket: cfg.S3Bucket, Region: cfg.S3Region, Prefix: cfg.S3Prefix}, logger)
	default:
		return nil, fmt.Errorf("unknown report storage %q", cfg.Storage)
	}
}

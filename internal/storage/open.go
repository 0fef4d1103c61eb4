package storage

import (
	"context"
	"fmt"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/config"
)

// Open builds the snapshot archive named by cfg.Backend. "multi" writes to S3
// first and falls back to the local filesystem.
func Open(ctx context.Context, cfg config.StorageConfig, s3cfg config.S3Config) (*MultiStore, error) {
	switch cfg.Backend {
	case "fs":
		fs, err := NewFSStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return NewMultiStore(fs), nil
	case "s3":
		s3, err := New(ctx, s3cfg, "s3-default")
		if err != nil {
			return nil, err
		}
		return NewMultiStore(s3), nil
	case "multi":
		s3, err := New(ctx, s3cfg, "s3-default")
		if err != nil {
			return nil, err
		}
		fs, err := NewFSStore(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return NewMultiStore(s3, fs), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

package storage

import (
	"context"

	appconfig "github.com/fedutinova/finsight/internal/config"
)

func NewStorage(ctx context.Context, cfg appconfig.Config) (Storage, error) {
	switch cfg.StorageMode {
	case "s3", "aws":
		return NewS3Storage(ctx, cfg)
	case "local", "filesystem":
		return NewLocalStorage(cfg.LocalStorageDir), nil
	default:
		return NewLocalStorage(cfg.LocalStorageDir), nil
	}
}

func GetStorageType(cfg appconfig.Config) string {
	switch cfg.StorageMode {
	case "s3", "aws":
		return "AWS S3"
	case "local", "filesystem":
		return "Local Filesystem"
	default:
		return "Local Filesystem (default)"
	}
}

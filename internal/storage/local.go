package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fedutinova/finsight/internal/common"
)

type LocalStorage struct {
	baseDir string
}

func NewLocalStorage(baseDir string) *LocalStorage {
	return &LocalStorage{baseDir: baseDir}
}

func (s *LocalStorage) SaveArtifact(ctx context.Context, fileID string, content io.Reader) (string, error) {
	key := ArtifactKey(fileID)
	path := filepath.Join(s.baseDir, key)

	// the namespace is created lazily; no precondition that baseDir exists
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return "", common.WrapStorage("create storage directory", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", common.WrapStorage("create artifact file", err)
	}

	n, err := io.Copy(f, content)
	if err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", common.WrapStorage("write artifact", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", common.WrapStorage("close artifact", err)
	}

	slog.Info("artifact saved to local storage", "key", key, "path", path, "size", n)
	return key, nil
}

func (s *LocalStorage) OpenArtifact(ctx context.Context, key string) (io.ReadCloser, error) {
	path := filepath.Join(s.baseDir, filepath.Base(key))

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s: %w", key, common.ErrNotFound)
		}
		return nil, common.WrapStorage("open artifact", err)
	}
	return f, nil
}

func (s *LocalStorage) DeleteArtifact(ctx context.Context, key string) error {
	path := filepath.Join(s.baseDir, filepath.Base(key))

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return common.WrapStorage("delete artifact", err)
	}

	slog.Info("artifact deleted from local storage", "key", key)
	return nil
}

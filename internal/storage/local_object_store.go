package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type LocalObjectStore struct {
	baseDir string
}

var _ ObjectStore = (*LocalObjectStore)(nil)

func NewLocalObjectStore(dir string) (*LocalObjectStore, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	return &LocalObjectStore{baseDir: baseDir}, nil
}

func (s *LocalObjectStore) EnsureBucket(ctx context.Context) error {
	if err := os.MkdirAll(s.baseDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", s.baseDir, err)
	}
	return nil
}

// fullpath resolves key under baseDir. Keys whose cleaned path would escape
// the base directory (absolute paths, ".." segments) are rejected.
func (s *LocalObjectStore) fullpath(key string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(key, "/"))
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidObjectKey, key)
	}
	return filepath.Join(s.baseDir, rel), nil
}

func (s *LocalObjectStore) PutObject(ctx context.Context, key string, data io.Reader) error {
	path, err := s.fullpath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", s.baseDir, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s/%s: %w", s.baseDir, key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return fmt.Errorf("failed to write file %s/%s: %w", s.baseDir, key, err)
	}

	return nil
}

func (s *LocalObjectStore) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.fullpath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, s.baseDir, key)
		}
		return nil, fmt.Errorf("failed to open file %s/%s: %w", s.baseDir, key, err)
	}
	return f, nil
}

package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore persists report artifacts. Assembly itself is pure; only this
// persistence step touches storage.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, uri string) ([]byte, error)
}

// FSBlobStore stores artifacts on the local filesystem under a root
// directory, addressed as file:// URIs.
type FSBlobStore struct {
	root string
}

func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact dir: %w", err)
	}
	return &FSBlobStore{root: abs}, nil
}

func (s *FSBlobStore) Put(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(s.root, filepath.Clean("/"+key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact subdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return "file://" + path, nil
}

func (s *FSBlobStore) Get(_ context.Context, uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "file://")
	if !strings.HasPrefix(path, s.root) {
		return nil, fmt.Errorf("artifact %q outside store root", uri)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

var _ BlobStore = (*FSBlobStore)(nil)

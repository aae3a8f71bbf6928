package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FilesystemStore keeps objects under <root>/<bucket>/<key>. The HTTP server
// publishes that directory, so URL builds links by plain concatenation.
type FilesystemStore struct {
	root    string
	bucket  string
	baseURL string
}

// NewFilesystemStore creates the bucket directory if needed.
func NewFilesystemStore(root, bucket, publicBaseURL string) (*FilesystemStore, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return nil, fmt.Errorf("invalid bucket name %q", bucket)
	}
	dir := filepath.Join(root, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}
	return &FilesystemStore{
		root:    root,
		bucket:  bucket,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Dir returns the directory that holds the bucket's objects.
func (s *FilesystemStore) Dir() string { return filepath.Join(s.root, s.bucket) }

// Bucket returns the bucket name.
func (s *FilesystemStore) Bucket() string { return s.bucket }

// Put writes data atomically: a temp file in the target directory is renamed
// into place. The content type is implied by the key's extension when served.
func (s *FilesystemStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Get opens the object for reading.
func (s *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// URL returns the public address of key.
func (s *FilesystemStore) URL(key string) string {
	return s.baseURL + "/" + s.bucket + "/" + key
}

// path maps key to a file inside the bucket directory.
func (s *FilesystemStore) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", ErrInvalidKey
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.Dir(), filepath.FromSlash(clean)), nil
}

// Package storage implements the public object store that holds raw and
// processed images. Objects are addressed by slash-separated keys such as
// "fb/raw/<sender>/<file>" and are readable by anyone holding their URL.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Key prefixes for stored images.
const (
	RawPrefix       = "fb/raw"
	ProcessedPrefix = "fb/processed"
)

var (
	// ErrNotFound is returned by Get for missing objects.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for empty keys or keys escaping the bucket.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectStore stores public objects.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	URL(key string) string
}

// RawKey returns the key for an inbound image. Underscores are stripped from
// the whole key.
func RawKey(senderID, filename string) string {
	return strings.ReplaceAll(RawPrefix+"/"+senderID+"/"+filename, "_", "")
}

// ProcessedKey returns the key for a masked image.
func ProcessedKey(senderID, filename string) string {
	return ProcessedPrefix + "/" + senderID + "/" + filename
}

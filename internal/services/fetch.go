package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Fetcher downloads images over HTTP with a size cap.
type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// NewFetcher returns a Fetcher with the given request timeout and size cap.
func NewFetcher(timeout time.Duration, maxBytes int64) *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: timeout}, MaxBytes: maxBytes}
}

// Fetch returns the body of a GET on rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: %d", ErrFetchStatus, resp.StatusCode)
	}

	r := io.Reader(resp.Body)
	if f.MaxBytes > 0 {
		r = io.LimitReader(resp.Body, f.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, ErrImageTooLarge
	}
	return data, nil
}

// FilenameFromURL returns the last path segment of rawURL with any query
// string removed.
func FilenameFromURL(rawURL string) string {
	s := rawURL
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// SenderFromURL returns the parent path segment of a stored image URL,
// which is the sender id.
func SenderFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	dir := path.Dir(strings.TrimSuffix(u.Path, "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return path.Base(dir)
}

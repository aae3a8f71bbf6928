package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-person-blocker/internal/repo"
	"github.com/tbourn/go-person-blocker/internal/storage"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// ----- Fake messenger -----

type sent struct {
	to    string
	text  string
	image string
}

type fakeMessenger struct {
	mu       sync.Mutex
	name     string
	sent     []sent
	imageErr error
}

func (m *fakeMessenger) SendText(_ context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sent{to: to, text: text})
	return nil
}

func (m *fakeMessenger) SendImage(_ context.Context, to, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.imageErr != nil {
		return m.imageErr
	}
	m.sent = append(m.sent, sent{to: to, image: url})
	return nil
}

func (m *fakeMessenger) SenderName(context.Context, string) string { return m.name }

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.image == "" {
			out = append(out, s.text)
		}
	}
	return out
}

func (m *fakeMessenger) images() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.sent {
		if s.image != "" {
			out = append(out, s.image)
		}
	}
	return out
}

// ----- Fake fetcher -----

type fakeFetcher struct {
	data map[string][]byte
	err  error
	hits []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.hits = append(f.hits, url)
	if f.err != nil {
		return nil, f.err
	}
	if b, ok := f.data[url]; ok {
		return b, nil
	}
	return []byte("image-bytes"), nil
}

// ----- In-memory object store -----

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memStore) Put(_ context.Context, key string, data []byte, ct string) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	s.types[key] = ct
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *memStore) URL(key string) string { return "http://files.test/bucket/" + key }

var errBoom = errors.New("boom")

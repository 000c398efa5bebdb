package blob

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements Store in memory for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
	}
}

func (s *MemoryStore) SignUpload(ctx context.Context, key string) (*SignedURL, error) {
	return &SignedURL{
		URL:       fmt.Sprintf("memory://upload/%s", key),
		ExpiresAt: time.Now().Add(uploadURLTTL),
	}, nil
}

func (s *MemoryStore) SignDownload(ctx context.Context, key string, ttl time.Duration) (*SignedURL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.objects[key]; !ok {
		return nil, ErrObjectNotFound
	}

	return &SignedURL{
		URL:       fmt.Sprintf("memory://download/%s", key),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (s *MemoryStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = buf
	return nil
}

func (s *MemoryStore) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[key]
	return ok, nil
}

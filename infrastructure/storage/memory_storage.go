package storage

import (
	"context"
	"sync"

	"canvassync/application/ports"
	"canvassync/pkg/errors"
)

// MemoryStorage keeps values in process memory.
// With a positive quota it rejects writes that would push the total size of keys and values past it.
type MemoryStorage struct {
	mu         sync.RWMutex
	data       map[string]string
	quotaBytes int
}

// NewMemoryStorage creates an in-memory storage; quotaBytes of zero means unlimited
func NewMemoryStorage(quotaBytes int) *MemoryStorage {
	return &MemoryStorage{
		data:       make(map[string]string),
		quotaBytes: quotaBytes,
	}
}

// Get returns the stored value
func (s *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores a value
func (s *MemoryStorage) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quotaBytes > 0 {
		size := len(key) + len(value)
		for k, v := range s.data {
			if k != key {
				size += len(k) + len(v)
			}
		}
		if size > s.quotaBytes {
			return errors.NewQuotaExceededError("memory", ports.ErrQuotaExceeded)
		}
	}
	s.data[key] = value
	return nil
}

// Remove deletes a key
func (s *MemoryStorage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Len returns the number of stored keys
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

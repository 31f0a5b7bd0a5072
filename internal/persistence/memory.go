package persistence

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore is an in-process Store used in tests and as a fallback when no
// backing store is configured. Values vanish with the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// GetString retrieves a string value.
func (s *MemoryStore) GetString(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.values[key]
	return val, ok, nil
}

// SetString stores a string value.
func (s *MemoryStore) SetString(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// GetFloat retrieves a double value.
func (s *MemoryStore) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	raw, ok, err := s.GetString(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// SetFloat stores a double value.
func (s *MemoryStore) SetFloat(ctx context.Context, key string, value float64) error {
	return s.SetString(ctx, key, strconv.FormatFloat(value, 'f', -1, 64))
}

// Delete removes keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// Len reports how many keys are stored. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

var _ Store = (*MemoryStore)(nil)

package persistence

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend keeps buckets in memory. A non-zero quota caps the total
// size of all stored values.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	quota  int
	writes int
}

// NewMemoryBackend creates a memory backend; quota <= 0 means unlimited
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.quota > 0 {
		used := 0
		for k, v := range m.data {
			if k != key {
				used += len(v)
			}
		}
		if used+len(value) > m.quota {
			return fmt.Errorf("memory backend: %d bytes over %d: %w", used+len(value), m.quota, ErrQuotaExceeded)
		}
	}

	m.data[key] = append([]byte(nil), value...)
	m.writes++
	return nil
}

// Writes counts successful Set calls
func (m *MemoryBackend) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }

package blobd

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend keeps blobs in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs []Blob
	byID  map[string]int
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{byID: make(map[string]int)}
}

// Create implements Backend.
func (m *MemoryBackend) Create(ctx context.Context, b Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[b.ID]; ok {
		return fmt.Errorf("blob %s already exists", b.ID)
	}
	m.byID[b.ID] = len(m.blobs)
	m.blobs = append(m.blobs, b)
	return nil
}

// Latest implements Backend.
func (m *MemoryBackend) Latest(ctx context.Context, name string) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.blobs) - 1; i >= 0; i-- {
		if name == "" || m.blobs[i].Name == name {
			return m.blobs[i], nil
		}
	}
	return Blob{}, ErrNotFound
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, id string) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byID[id]
	if !ok {
		return Blob{}, ErrNotFound
	}
	return m.blobs[i], nil
}

// Len returns the number of stored blobs.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}

package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps slots in process memory. Contexts sharing one
// MemoryBackend behave like tabs sharing a browser origin's storage.
type MemoryBackend struct {
	mu     sync.RWMutex
	slots  map[string][]byte
	bus    *bus
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		slots: make(map[string][]byte),
		bus:   newBus(),
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrBackendClosed
	}
	v, ok := m.slots[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryBackend) Put(ctx context.Context, key string, value []byte, origin string) error {
	if key == "" {
		return ErrEmptyKey
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrBackendClosed
	}
	m.slots[key] = stored
	m.mu.Unlock()

	m.bus.publish(Change{Key: key, Value: stored, Origin: origin})
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key, origin string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrBackendClosed
	}
	delete(m.slots, key)
	m.mu.Unlock()

	m.bus.publish(Change{Key: key, Deleted: true, Origin: origin})
	return nil
}

func (m *MemoryBackend) Watch(key, origin string, fn func(Change)) func() {
	return m.bus.add(key, origin, fn)
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.bus.clear()
	return nil
}

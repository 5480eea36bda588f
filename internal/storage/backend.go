package storage

import (
	"context"
	"sync"
)

// Change describes a write to a storage key.
type Change struct {
	Key string
	// Value is nil when the key was deleted.
	Value   []byte
	Deleted bool
	// Origin identifies the execution context that made the write.
	Origin string
}

// Backend is a durable key/value medium shared by every execution context
// that uses it. Writes are last-writer-wins with no merging.
//
// Watch reports changes to key made by any origin other than the watcher's
// own; a context is never notified of its own writes. Implementations
// deliver writes made through the same backend handle over an in-process
// bus immediately after the write returns, and rely on the medium's native
// notification only for writes made through other handles (other
// processes).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, origin string) error
	Delete(ctx context.Context, key, origin string) error
	Watch(key, origin string, fn func(Change)) (cancel func())
	Close() error
}

type busWatcher struct {
	key    string
	origin string
	fn     func(Change)
}

// bus is the in-process half of change notification.
type bus struct {
	mu       sync.RWMutex
	next     int
	watchers map[int]busWatcher
}

func newBus() *bus {
	return &bus{watchers: make(map[int]busWatcher)}
}

func (b *bus) add(key, origin string, fn func(Change)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.watchers[id] = busWatcher{key: key, origin: origin, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.watchers, id)
			b.mu.Unlock()
		})
	}
}

// publish runs matching callbacks on the caller's goroutine, outside the lock.
func (b *bus) publish(c Change) {
	b.mu.RLock()
	targets := make([]func(Change), 0, len(b.watchers))
	for _, w := range b.watchers {
		if w.key == c.Key && w.origin != c.Origin {
			targets = append(targets, w.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(c)
	}
}

func (b *bus) clear() {
	b.mu.Lock()
	b.watchers = make(map[int]busWatcher)
	b.mu.Unlock()
}

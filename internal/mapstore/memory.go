package mapstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value    []byte
	deadline time.Time
}

// MemoryBackend is a process-local Backend for tests and single-node use.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

// live returns the entry for key, dropping it if its deadline has passed.
// Callers hold mu.
func (b *MemoryBackend) live(key string) (memoryEntry, bool) {
	e, ok := b.items[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !b.now().Before(e.deadline) {
		delete(b.items, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (b *MemoryBackend) SetNX(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.live(key); ok {
		return false, nil
	}
	b.items[key] = memoryEntry{
		value:    append([]byte(nil), val...),
		deadline: b.now().Add(ttl),
	}
	return true, nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.live(key)
	if !ok {
		return nil, ErrMissing
	}
	return append([]byte(nil), e.value...), nil
}

func (b *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.live(key); ok {
		e.deadline = b.now().Add(ttl)
		b.items[key] = e
	}
	return nil
}

func (b *MemoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.items, key)
	return nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }

package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend 는 프로세스 메모리에 보관하는 backend 이다 (테스트, CLI dry-run).
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Put(ctx context.Context, key string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(body))
	copy(cp, body)

	b.mu.Lock()
	b.objects[key] = cp
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Get(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.objects[key]
	return v, ok
}

// Keys 는 저장된 key 를 정렬해서 반환한다.
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *MemoryBackend) Close() error { return nil }

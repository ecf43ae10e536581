package local

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is a process-local Store. Contents die with the process.
// Read and write failures can be injected to exercise degradation paths.
type MemoryStore struct {
	mu        sync.RWMutex
	data      map[string][]byte
	readFail  error
	writeFail error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// FailReads makes every subsequent Get and Keys fail with err (nil clears).
func (m *MemoryStore) FailReads(err error) {
	m.mu.Lock()
	m.readFail = err
	m.mu.Unlock()
}

// FailWrites makes every subsequent Set and Delete fail with err (nil clears).
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	m.writeFail = err
	m.mu.Unlock()
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.readFail != nil {
		return nil, ReadError("Get", m.readFail)
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return slices.Clone(v), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeFail != nil {
		return WriteError("Set", m.writeFail)
	}
	m.data[key] = slices.Clone(value)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeFail != nil {
		return WriteError("Delete", m.writeFail)
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.readFail != nil {
		return nil, ReadError("Keys", m.readFail)
	}
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) Close() error { return nil }

package checkpoint

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
)

type memoryEntry struct {
	value   []byte
	version Version
}

// MemoryStore is a process-local Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	counter uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, NoVersion, fmt.Errorf("checkpoint %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), entry.value...), entry.version, nil
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, expected Version) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.entries[key].version
	if current != expected {
		return NoVersion, fernerrors.NewCASMismatchError(key, string(expected), string(current))
	}

	m.counter++
	next := Version(strconv.FormatUint(m.counter, 10))
	m.entries[key] = memoryEntry{value: append([]byte(nil), value...), version: next}
	return next, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string, expected Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	if expected != NoVersion && entry.version != expected {
		return fernerrors.NewCASMismatchError(key, string(expected), string(entry.version))
	}
	delete(m.entries, key)
	return nil
}

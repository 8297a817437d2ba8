package storage

import (
	"context"
	"net/http"
	"sync"
)

// MemoryStore is an in-memory ContentStore for tests and dry runs. It keeps
// every write in order.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Write
	writes  []Write
	// Status overrides the status returned for a key.
	Status map[string]int
	// Errors overrides the error returned for a key. Each entry is consumed
	// by one call, so a slice of length n fails the first n attempts.
	Errors map[string][]error
}

// Write is one recorded Put.
type Write struct {
	Key     string
	Data    []byte
	Headers http.Header
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Write), Status: map[string]int{}, Errors: map[string][]error{}}
}

// Put implements ContentStore.
func (m *MemoryStore) Put(_ context.Context, key string, data []byte, headers http.Header) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if errs := m.Errors[key]; len(errs) > 0 {
		m.Errors[key] = errs[1:]
		m.writes = append(m.writes, Write{Key: key})
		return 0, errs[0]
	}
	w := Write{Key: key, Data: append([]byte(nil), data...), Headers: headers.Clone()}
	m.writes = append(m.writes, w)
	if status, ok := m.Status[key]; ok {
		return status, nil
	}
	m.objects[key] = w
	return http.StatusOK, nil
}

// Writes returns every Put attempt in call order.
func (m *MemoryStore) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Write(nil), m.writes...)
}

// Object returns the stored write for key.
func (m *MemoryStore) Object(key string) (Write, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.objects[key]
	return w, ok
}

// Keys returns the number of distinct keys stored.
func (m *MemoryStore) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
